// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

package ttldiskcache

import (
	"os"
	"sync"
	"testing"
	"time"
)

func TestTTLDiskCache(t *testing.T) {
	now := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	cache := New(t.TempDir(), time.Hour)
	cache.now = func() time.Time { return now }

	// keys are URLs, which are not valid file names
	const key = "http://img.test/img-original/img/2020/01/01/1_p0.png"

	t.Run("Basic Set and Get", func(t *testing.T) {
		data := []byte("test-data")

		cache.Set(key, data)
		got, exists := cache.Get(key)
		if !exists {
			t.Error("expected data to exist in cache")
		}
		if string(got) != string(data) {
			t.Errorf("got %q, want %q", got, data)
		}
	})

	t.Run("Expiration", func(t *testing.T) {
		cache.Set(key, []byte("expiring-data"))
		now = now.Add(2 * time.Hour)

		if _, exists := cache.Get(key); exists {
			t.Error("expected data to be expired")
		}

		metaPath := cache.metadataPath(metadataName(key))
		if _, err := os.Stat(metaPath); !os.IsNotExist(err) {
			t.Error("expected metadata file to be deleted")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		cache.Set(key, []byte("delete-data"))
		cache.Delete(key)

		if _, exists := cache.Get(key); exists {
			t.Error("expected data to be deleted")
		}

		metaPath := cache.metadataPath(metadataName(key))
		if _, err := os.Stat(metaPath); !os.IsNotExist(err) {
			t.Error("expected metadata file to be deleted")
		}
	})

	t.Run("Cleanup Expired", func(t *testing.T) {
		keys := []string{"http://a.test/expire1", "http://a.test/expire2", "http://a.test/valid"}
		for _, key := range keys {
			cache.Set(key, []byte(key+"-data"))
		}

		now = now.Add(2 * time.Hour)

		// refresh one entry
		cache.Set(keys[2], []byte("valid-data"))

		cache.CleanupExpired()

		for _, key := range keys[:2] {
			if _, err := os.Stat(cache.metadataPath(metadataName(key))); !os.IsNotExist(err) {
				t.Errorf("expected metadata for %s to be cleaned up", key)
			}
			// bypass expiry checks to confirm the data itself is gone
			if _, exists := cache.Cache.Get(key); exists {
				t.Errorf("expected %s to be cleaned up", key)
			}
		}

		if _, exists := cache.Get(keys[2]); !exists {
			t.Error("expected valid entry to still exist")
		}
	})
}

func TestTTLDiskCacheNoTTL(t *testing.T) {
	now := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	cache := New(t.TempDir(), 0)
	cache.now = func() time.Time { return now }

	cache.Set("key", []byte("value"))
	now = now.Add(24 * 365 * time.Hour)
	cache.CleanupExpired()

	if got, exists := cache.Get("key"); !exists || string(got) != "value" {
		t.Errorf("Get returned (%q, %v), want (%q, true)", got, exists, "value")
	}
}

func TestTTLDiskCacheConcurrency(t *testing.T) {
	cache := New(t.TempDir(), time.Second)

	const goroutines = 10
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key := "http://img.test/concurrent"
			cache.Set(key, []byte("concurrent-data"))
			cache.Get(key)
			cache.Delete(key)
			cache.CleanupExpired()
		}()
	}
	wg.Wait()
}
