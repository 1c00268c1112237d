// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/die-net/lrucache"
	"github.com/die-net/lrucache/twotier"
	"github.com/gregjones/httpcache/diskcache"
	"willnorris.com/go/illustproxy/internal/ttldiskcache"
)

func TestParseCache(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		value   string
		check   func(interface{}) bool
		wantErr bool
	}{
		{"", func(c interface{}) bool { return c == nil }, false},
		{"memory", func(c interface{}) bool { _, ok := c.(*lrucache.LruCache); return ok }, false},
		{"memory:50:1h", func(c interface{}) bool { _, ok := c.(*lrucache.LruCache); return ok }, false},
		{dir, func(c interface{}) bool { _, ok := c.(*diskcache.Cache); return ok }, false},
		{"file://" + dir, func(c interface{}) bool { _, ok := c.(*diskcache.Cache); return ok }, false},
		{"file://" + dir + "?ttl=24h", func(c interface{}) bool { _, ok := c.(*ttldiskcache.TTLDiskCache); return ok }, false},
		{"file://" + dir + "?ttl=soon", nil, true},
		{"memory:lots", nil, true},
		{"memory:50:forever", nil, true},
		{"s3://us-west-2/bucket/prefix?ttl=1h", func(c interface{}) bool { return c != nil }, false},
	}

	for _, tt := range tests {
		c, err := parseCache(tt.value)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseCache(%q) returned nil error, want error", tt.value)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseCache(%q) returned error: %v", tt.value, err)
			continue
		}
		if !tt.check(c) {
			t.Errorf("parseCache(%q) returned unexpected cache %T", tt.value, c)
		}
	}
}

func TestParseCache_registersTTLCaches(t *testing.T) {
	ttlCaches = nil
	defer func() { ttlCaches = nil }()

	if _, err := parseCache("file://" + t.TempDir() + "?ttl=1h"); err != nil {
		t.Fatalf("parseCache returned error: %v", err)
	}
	if got := len(ttlCaches); got != 1 {
		t.Errorf("registered %d ttl caches, want 1", got)
	}
}

func TestTieredCache(t *testing.T) {
	var tc tieredCache
	if err := tc.Set("memory " + t.TempDir()); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}
	if _, ok := tc.Cache.(*twotier.TwoTier); !ok {
		t.Errorf("tieredCache.Cache is %T, want *twotier.TwoTier", tc.Cache)
	}
}

func TestLRUCache(t *testing.T) {
	c, err := lruCache("1:1m")
	if err != nil {
		t.Fatalf("lruCache returned error: %v", err)
	}
	c.Set("key", []byte("value"))
	if got, ok := c.Get("key"); !ok || string(got) != "value" {
		t.Errorf("Get returned (%q, %v), want (%q, true)", got, ok, "value")
	}
}

func TestSecretValue(t *testing.T) {
	file := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(file, []byte("from-file\n"), 0600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		value   string
		want    secretValue
		wantErr bool
	}{
		{"plain", "plain", false},
		{" padded ", "padded", false},
		{"@" + file, "from-file", false},
		{"@" + file + ".missing", "", true},
	}

	for _, tt := range tests {
		var s secretValue
		err := s.Set(tt.value)
		if (err != nil) != tt.wantErr {
			t.Errorf("Set(%q) returned error %v, wantErr %v", tt.value, err, tt.wantErr)
			continue
		}
		if s != tt.want {
			t.Errorf("Set(%q) stored %q, want %q", tt.value, s, tt.want)
		}
	}

	// secrets are never printed
	s := secretValue("hunter2")
	if got := s.String(); got != "<redacted>" {
		t.Errorf("String() returned %q, want %q", got, "<redacted>")
	}
}

func TestParseTTL(t *testing.T) {
	tests := []struct {
		url  string
		want time.Duration
	}{
		{"gcs://bucket/prefix", 0},
		{"gcs://bucket/prefix?ttl=90m", 90 * time.Minute},
	}

	for _, tt := range tests {
		u, err := url.Parse(tt.url)
		if err != nil {
			t.Fatalf("url.Parse(%q) returned error: %v", tt.url, err)
		}
		got, err := parseTTL(u)
		if err != nil {
			t.Errorf("parseTTL(%q) returned error: %v", tt.url, err)
		}
		if got != tt.want {
			t.Errorf("parseTTL(%q) returned %v, want %v", tt.url, got, tt.want)
		}
	}
}
