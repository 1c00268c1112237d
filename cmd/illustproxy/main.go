// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

// illustproxy starts an HTTP server that serves original illustration images
// by ID, looking up image URLs with the app API.
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/PaulARoy/azurestoragecache"
	"github.com/die-net/lrucache"
	"github.com/die-net/lrucache/twotier"
	"github.com/gomodule/redigo/redis"
	"github.com/gorilla/mux"
	"github.com/gregjones/httpcache/diskcache"
	rediscache "github.com/gregjones/httpcache/redis"
	"github.com/peterbourgon/diskv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"willnorris.com/go/illustproxy"
	"willnorris.com/go/illustproxy/internal/gcscache"
	"willnorris.com/go/illustproxy/internal/s3cache"
	"willnorris.com/go/illustproxy/internal/ttldiskcache"
	"willnorris.com/go/illustproxy/third_party/envy"
)

const defaultMemorySize = 100

var addr = flag.String("addr", "localhost:8080", "TCP address to listen on")
var cache tieredCache
var refreshToken secretValue
var clientID secretValue
var clientSecret secretValue
var hashSecret secretValue
var apiURL = flag.String("apiURL", illustproxy.DefaultAPIURL, "base URL of the app API")
var oauthURL = flag.String("oauthURL", illustproxy.DefaultOAuthURL, "URL of the OAuth token endpoint")
var userAgent = flag.String("userAgent", illustproxy.DefaultUserAgent, "User-Agent sent when fetching images")
var referer = flag.String("referer", illustproxy.DefaultReferer, "Referer sent when fetching images")
var metadataMaxAge = flag.Duration("metadataMaxAge", illustproxy.DefaultMetadataMaxAge, "how long illustration metadata is cached")
var timeout = flag.Duration("timeout", 0, "time limit for requests served by this proxy")
var cacheCleanup = flag.String("cacheCleanup", "@every 1h", "cron schedule for removing expired entries from file caches with a ttl")
var metricsPath = flag.String("metricsPath", "/metrics", "path to serve prometheus metrics on, empty to disable")
var verbose = flag.Bool("verbose", false, "print verbose logging messages")

// ttlCaches are the file caches with a ttl created by parseCache.
var ttlCaches []*ttldiskcache.TTLDiskCache

func init() {
	flag.Var(&cache, "cache", "location to cache API responses and images")
	flag.Var(&refreshToken, "refreshToken", "OAuth refresh token, or file containing it prefixed with '@'")
	flag.Var(&clientID, "clientID", "OAuth client ID, or file containing it prefixed with '@'")
	flag.Var(&clientSecret, "clientSecret", "OAuth client secret, or file containing it prefixed with '@'")
	flag.Var(&hashSecret, "hashSecret", "OAuth hash secret, or file containing it prefixed with '@'")
}

func main() {
	envy.Parse("ILLUSTPROXY")
	flag.Parse()

	if refreshToken == "" || clientID == "" || clientSecret == "" {
		log.Fatal("refreshToken, clientID and clientSecret must be set")
	}

	p := illustproxy.NewProxy(nil, cache.Cache)
	p.Tokens.URL = *oauthURL
	p.Tokens.RefreshToken = string(refreshToken)
	p.Tokens.ClientID = string(clientID)
	p.Tokens.ClientSecret = string(clientSecret)
	p.Tokens.HashSecret = string(hashSecret)

	if *metadataMaxAge != illustproxy.DefaultMetadataMaxAge {
		p.Metadata = illustproxy.NewMetadataClient(p.Tokens.Client.Transport, cache.Cache, *metadataMaxAge)
	}
	p.Metadata.BaseURL = *apiURL
	p.Images.UserAgent = *userAgent
	p.Images.Referer = *referer

	p.Timeout = *timeout
	p.Verbose = *verbose

	if len(ttlCaches) > 0 && *cacheCleanup != "" {
		c := cron.New()
		_, err := c.AddFunc(*cacheCleanup, func() {
			for _, tc := range ttlCaches {
				tc.CleanupExpired()
			}
		})
		if err != nil {
			log.Fatalf("error parsing cacheCleanup schedule: %v", err)
		}
		c.Start()
		defer c.Stop()
	}

	r := mux.NewRouter().SkipClean(true).UseEncodedPath()
	if *metricsPath != "" {
		r.Handle(*metricsPath, promhttp.Handler())
	}
	r.PathPrefix("/").Handler(p)

	server := &http.Server{
		Addr:    *addr,
		Handler: r,

		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	fmt.Printf("illustproxy listening on %s\n", server.Addr)
	log.Fatal(server.ListenAndServe())
}

// secretValue is a flag value that is either given directly, or read from a
// file when prefixed with '@'.
type secretValue string

func (s *secretValue) String() string {
	if s == nil || *s == "" {
		return ""
	}
	return "<redacted>"
}

func (s *secretValue) Set(value string) error {
	if strings.HasPrefix(value, "@") {
		b, err := os.ReadFile(strings.TrimPrefix(value, "@"))
		if err != nil {
			return fmt.Errorf("error reading secret file: %w", err)
		}
		value = string(b)
	}
	*s = secretValue(strings.TrimSpace(value))
	return nil
}

// tieredCache allows specifying multiple caches via flags, which will create
// tiered caches using the twotier package.
type tieredCache struct {
	illustproxy.Cache
}

func (tc *tieredCache) String() string {
	return fmt.Sprint(*tc)
}

func (tc *tieredCache) Set(value string) error {
	for _, v := range strings.Fields(value) {
		c, err := parseCache(v)
		if err != nil {
			return err
		}

		if tc.Cache == nil {
			tc.Cache = c
		} else {
			tc.Cache = twotier.New(tc.Cache, c)
		}
	}
	return nil
}

// parseCache parses c returns the specified Cache implementation.
func parseCache(c string) (illustproxy.Cache, error) {
	if c == "" {
		return nil, nil
	}

	if c == "memory" {
		c = fmt.Sprintf("memory:%d", defaultMemorySize)
	}

	u, err := url.Parse(c)
	if err != nil {
		return nil, fmt.Errorf("error parsing cache flag: %w", err)
	}

	switch u.Scheme {
	case "azure":
		return azurestoragecache.New("", "", u.Host)
	case "gcs":
		ttl, err := parseTTL(u)
		if err != nil {
			return nil, err
		}
		return gcscache.New(u.Host, strings.TrimPrefix(u.Path, "/"), ttl)
	case "memory":
		return lruCache(u.Opaque)
	case "redis":
		conn, err := redis.DialURL(u.String(), redis.DialPassword(os.Getenv("REDIS_PASSWORD")))
		if err != nil {
			return nil, err
		}
		return rediscache.NewWithClient(conn), nil
	case "s3":
		return s3cache.New(u.String())
	case "file":
		ttl, err := parseTTL(u)
		if err != nil {
			return nil, err
		}
		if ttl > 0 {
			tc := ttldiskcache.New(u.Path, ttl)
			ttlCaches = append(ttlCaches, tc)
			return tc, nil
		}
		return diskCache(u.Path), nil
	default:
		return diskCache(c), nil
	}
}

// parseTTL returns the duration in the "ttl" query parameter of u, if any.
func parseTTL(u *url.URL) (time.Duration, error) {
	v := u.Query().Get("ttl")
	if v == "" {
		return 0, nil
	}
	ttl, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid cache ttl %q: %w", v, err)
	}
	return ttl, nil
}

// lruCache creates an LRU Cache with the specified options of the form
// "maxSize:maxAge".  maxSize is specified in megabytes, maxAge is a duration.
func lruCache(options string) (*lrucache.LruCache, error) {
	parts := strings.SplitN(options, ":", 2)
	size, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return nil, err
	}

	var age time.Duration
	if len(parts) > 1 {
		age, err = time.ParseDuration(parts[1])
		if err != nil {
			return nil, err
		}
	}

	return lrucache.New(size*1e6, int64(age.Seconds())), nil
}

func diskCache(path string) *diskcache.Cache {
	d := diskv.New(diskv.Options{
		BasePath: path,

		// For file "c0ffee", store file as "c0/ff/c0ffee"
		Transform: func(s string) []string { return []string{s[0:2], s[2:4]} },
	})
	return diskcache.NewWithDiskv(d)
}
