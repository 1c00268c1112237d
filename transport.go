// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

package illustproxy

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gregjones/httpcache"
)

// newCachingClient returns an http.Client whose responses are stored in c.
// Responses are fetched with t, which must not be nil.
func newCachingClient(t http.RoundTripper, c Cache) *http.Client {
	if c == nil {
		c = NopCache
	}
	return &http.Client{
		Transport: &httpcache.Transport{
			Transport:           t,
			Cache:               c,
			MarkCachedResponses: true,
		},
	}
}

// fromCache reports whether resp was served from the response cache.
func fromCache(resp *http.Response) bool {
	return resp.Header.Get(httpcache.XFromCache) == "1"
}

// SanitizingTransport is an implementation of http.RoundTripper that
// rewrites API responses before they reach the response cache.  Session
// cookies are dropped so they are never persisted, and the response is
// given a fixed freshness window regardless of what the API sent.
type SanitizingTransport struct {
	// Transport is the underlying http.RoundTripper used to make requests.
	Transport http.RoundTripper

	// MaxAge is the freshness window applied to every 2xx response; other
	// responses are marked no-store.  If zero, caching headers sent by the
	// API are left untouched.
	MaxAge time.Duration

	now func() time.Time
}

// RoundTrip implements the http.RoundTripper interface.
func (t *SanitizingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.Transport.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	resp.Header.Del("Set-Cookie")

	// the cache key does not include credentials, so entries must not be
	// partitioned by them either.
	if vary := resp.Header.Values("Vary"); len(vary) > 0 {
		resp.Header.Del("Vary")
		for _, v := range vary {
			for _, field := range strings.Split(v, ",") {
				field = strings.TrimSpace(field)
				if field != "" && !strings.EqualFold(field, "Authorization") {
					resp.Header.Add("Vary", field)
				}
			}
		}
	}

	if t.MaxAge > 0 && (resp.StatusCode < 200 || resp.StatusCode > 299) {
		// error responses are not cached
		resp.Header.Set("Cache-Control", "no-store")
		resp.Header.Del("Expires")
		resp.Header.Del("Pragma")
	} else if t.MaxAge > 0 {
		resp.Header.Set("Cache-Control", fmt.Sprintf("max-age=%d", int(t.MaxAge.Seconds())))
		resp.Header.Del("Expires")
		resp.Header.Del("Pragma")
		// freshness is computed from the Date header
		if resp.Header.Get("Date") == "" {
			now := time.Now
			if t.now != nil {
				now = t.now
			}
			resp.Header.Set("Date", now().UTC().Format(http.TimeFormat))
		}
	}

	return resp, nil
}
