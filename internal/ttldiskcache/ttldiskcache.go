// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

// Package ttldiskcache provides a disk cache implementation with TTL support.
//
// Values are stored by an httpcache diskcache.  Alongside each value, a small
// metadata file records the original key and when the value expires, so that
// expired values can be found and removed by CleanupExpired.
package ttldiskcache

import (
	"bytes"
	"crypto/md5"
	"encoding/gob"
	"encoding/hex"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gregjones/httpcache/diskcache"
	"github.com/peterbourgon/diskv"
)

// metadata records the expiry of a single cached value.
type metadata struct {
	Key        string
	ExpiryTime time.Time
}

// TTLDiskCache wraps the standard disk cache with TTL support
type TTLDiskCache struct {
	*diskcache.Cache
	ttl         time.Duration
	metadataDir string
	mu          sync.RWMutex

	now func() time.Time
}

// New creates a new TTLDiskCache with the specified base path and TTL.  A
// TTL of zero keeps values until they are deleted.
func New(basePath string, ttl time.Duration) *TTLDiskCache {
	d := diskv.New(diskv.Options{
		BasePath: basePath,
		// For file "c0ffee", store file as "c0/ff/c0ffee"
		Transform: func(s string) []string { return []string{s[0:2], s[2:4]} },
	})

	metadataDir := filepath.Join(basePath, "_metadata")
	if err := os.MkdirAll(metadataDir, 0755); err != nil {
		log.Printf("error creating metadata directory: %v", err)
	}

	return &TTLDiskCache{
		Cache:       diskcache.NewWithDiskv(d),
		ttl:         ttl,
		metadataDir: metadataDir,
	}
}

// Get retrieves data from the cache if it exists and hasn't expired
func (c *TTLDiskCache) Get(key string) ([]byte, bool) {
	c.mu.RLock()
	meta, err := c.loadMetadata(metadataName(key))
	if err == nil && c.expired(meta) {
		c.mu.RUnlock()
		c.Delete(key)
		return nil, false
	}
	data, ok := c.Cache.Get(key)
	c.mu.RUnlock()

	return data, ok
}

// Set stores data in the cache with the configured TTL
func (c *TTLDiskCache) Set(key string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ttl > 0 {
		meta := metadata{Key: key, ExpiryTime: c.clock().Add(c.ttl)}
		if err := c.saveMetadata(metadataName(key), meta); err != nil {
			log.Printf("error saving cache metadata: %v", err)
			return
		}
	}

	c.Cache.Set(key, data)
}

// Delete removes data from both the cache and its metadata
func (c *TTLDiskCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Cache.Delete(key)
	c.deleteMetadata(metadataName(key))
}

// CleanupExpired removes all expired entries from the cache
func (c *TTLDiskCache) CleanupExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := os.ReadDir(c.metadataDir)
	if err != nil {
		log.Printf("error reading metadata directory: %v", err)
		return
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".meta" {
			continue
		}
		name = strings.TrimSuffix(name, ".meta")

		meta, err := c.loadMetadata(name)
		if err != nil {
			continue
		}
		if c.expired(meta) {
			c.Cache.Delete(meta.Key)
			c.deleteMetadata(name)
		}
	}
}

func (c *TTLDiskCache) expired(meta metadata) bool {
	return !meta.ExpiryTime.IsZero() && c.clock().After(meta.ExpiryTime)
}

func (c *TTLDiskCache) clock() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now()
}

// metadataName returns the file name, without extension, of the metadata
// for key.  Keys are URLs and cannot be used as file names directly.
func metadataName(key string) string {
	h := md5.New()
	_, _ = io.WriteString(h, key)
	return hex.EncodeToString(h.Sum(nil))
}

func (c *TTLDiskCache) metadataPath(name string) string {
	return filepath.Join(c.metadataDir, name+".meta")
}

func (c *TTLDiskCache) saveMetadata(name string, meta metadata) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(meta); err != nil {
		return err
	}

	return os.WriteFile(c.metadataPath(name), buf.Bytes(), 0644)
}

func (c *TTLDiskCache) loadMetadata(name string) (metadata, error) {
	var meta metadata

	data, err := os.ReadFile(c.metadataPath(name))
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("error reading cache metadata: %v", err)
		}
		return meta, err
	}

	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&meta); err != nil {
		log.Printf("error decoding cache metadata: %v", err)
		return meta, err
	}

	return meta, nil
}

func (c *TTLDiskCache) deleteMetadata(name string) {
	if err := os.Remove(c.metadataPath(name)); err != nil && !os.IsNotExist(err) {
		log.Printf("error deleting cache metadata: %v", err)
	}
}
