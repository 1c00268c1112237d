// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

package illustproxy

import (
	"testing"

	"github.com/gregjones/httpcache"
)

// any Cache can back an httpcache.Transport.
var _ httpcache.Cache = Cache(nil)

func TestNopCache(t *testing.T) {
	NopCache.Set("http://api.test/v1/illust/detail?illust_id=1", []byte("response"))

	if data, ok := NopCache.Get("http://api.test/v1/illust/detail?illust_id=1"); ok || data != nil {
		t.Errorf("NopCache.Get returned (%q, %v), want (nil, false)", data, ok)
	}

	NopCache.Delete("http://api.test/v1/illust/detail?illust_id=1")
}

func TestNewCachingClient_nilCache(t *testing.T) {
	c := newCachingClient(rawTransport("HTTP/1.1 200 OK\nContent-Length: 2\n\nok"), nil)
	tr, ok := c.Transport.(*httpcache.Transport)
	if !ok {
		t.Fatalf("client transport is %T, want *httpcache.Transport", c.Transport)
	}
	if tr.Cache != NopCache {
		t.Errorf("client cache is %v, want NopCache", tr.Cache)
	}
	if !tr.MarkCachedResponses {
		t.Error("cached responses are not marked")
	}
}
