// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

// Package caddy provides IllustProxy as a Caddy module.
package caddy

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	caddy "github.com/caddyserver/caddy/v2"
	"github.com/caddyserver/caddy/v2/caddyconfig/httpcaddyfile"
	"github.com/caddyserver/caddy/v2/modules/caddyhttp"
	"github.com/die-net/lrucache"
	"github.com/gregjones/httpcache/diskcache"
	"github.com/peterbourgon/diskv"
	"go.uber.org/zap"
	"willnorris.com/go/illustproxy"
)

func init() {
	caddy.RegisterModule(IllustProxy{})
	httpcaddyfile.RegisterHandlerDirective("illustproxy", parseCaddyfile)
}

type IllustProxy struct {
	Cache string `json:"cache,omitempty"`

	RefreshToken string `json:"refresh_token,omitempty"`
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
	HashSecret   string `json:"hash_secret,omitempty"`

	APIURL    string         `json:"api_url,omitempty"`
	UserAgent string         `json:"user_agent,omitempty"`
	Timeout   caddy.Duration `json:"timeout,omitempty"`
	Verbose   bool           `json:"verbose,omitempty"`

	logger *zap.Logger
	proxy  *illustproxy.Proxy
}

// interface guard
var (
	_ caddy.Provisioner           = (*IllustProxy)(nil)
	_ caddy.Validator             = (*IllustProxy)(nil)
	_ caddyhttp.MiddlewareHandler = (*IllustProxy)(nil)
)

// CaddyModule returns the Caddy module information.
func (IllustProxy) CaddyModule() caddy.ModuleInfo {
	return caddy.ModuleInfo{
		ID:  "http.handlers.illustproxy",
		New: func() caddy.Module { return new(IllustProxy) },
	}
}

func (p *IllustProxy) Provision(ctx caddy.Context) error {
	p.logger = ctx.Logger()
	cache, err := parseCache(p.Cache)
	if err != nil {
		return err
	}

	p.proxy = illustproxy.NewProxy(nil, cache)
	p.proxy.Tokens.RefreshToken = p.RefreshToken
	p.proxy.Tokens.ClientID = p.ClientID
	p.proxy.Tokens.ClientSecret = p.ClientSecret
	p.proxy.Tokens.HashSecret = p.HashSecret
	if p.APIURL != "" {
		p.proxy.Metadata.BaseURL = p.APIURL
	}
	if p.UserAgent != "" {
		p.proxy.Images.UserAgent = p.UserAgent
	}
	p.proxy.Timeout = time.Duration(p.Timeout)
	p.proxy.Logger = zap.NewStdLog(p.logger)
	p.proxy.Verbose = p.Verbose
	return nil
}

// Validate ensures the credentials needed to call the API are present.
func (p *IllustProxy) Validate() error {
	if p.RefreshToken == "" || p.ClientID == "" || p.ClientSecret == "" {
		return errors.New("illustproxy: refresh_token, client_id and client_secret are required")
	}
	return nil
}

func (p *IllustProxy) ServeHTTP(w http.ResponseWriter, r *http.Request, _ caddyhttp.Handler) error {
	p.proxy.ServeHTTP(w, r)
	return nil
}

func parseCaddyfile(h httpcaddyfile.Helper) (caddyhttp.MiddlewareHandler, error) {
	p := new(IllustProxy)

	h.Next() // consume the directive name
	for nesting := h.Nesting(); h.NextBlock(nesting); {
		key := h.Val()
		if !h.NextArg() {
			return nil, h.ArgErr()
		}
		val := h.Val()

		switch key {
		case "cache":
			p.Cache = val
		case "refresh_token":
			p.RefreshToken = val
		case "client_id":
			p.ClientID = val
		case "client_secret":
			p.ClientSecret = val
		case "hash_secret":
			p.HashSecret = val
		case "api_url":
			p.APIURL = val
		case "user_agent":
			p.UserAgent = val
		case "timeout":
			d, err := caddy.ParseDuration(val)
			if err != nil {
				return nil, h.Errf("invalid timeout %q: %v", val, err)
			}
			p.Timeout = caddy.Duration(d)
		case "verbose":
			p.Verbose, _ = strconv.ParseBool(val)
		default:
			return nil, h.Errf("unrecognized illustproxy option %q", key)
		}
	}
	return p, nil
}

// parseCache parses c returns the specified Cache implementation.
func parseCache(c string) (illustproxy.Cache, error) {
	const defaultMemorySize = 100

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
	case "memory":
		size, err := strconv.ParseInt(strings.SplitN(u.Opaque, ":", 2)[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid memory cache size: %w", err)
		}
		return lrucache.New(size*1e6, 0), nil
	case "file":
		return diskCache(u.Path), nil
	default:
		return diskCache(c), nil
	}
}

func diskCache(path string) *diskcache.Cache {
	d := diskv.New(diskv.Options{
		BasePath: path,

		// For file "c0ffee", store file as "c0/ff/c0ffee"
		Transform: func(s string) []string { return []string{s[0:2], s[2:4]} },
	})
	return diskcache.NewWithDiskv(d)
}
