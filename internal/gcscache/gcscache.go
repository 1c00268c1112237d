// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

// Package gcscache provides an httpcache.Cache implementation that stores
// cached responses on Google Cloud Storage, with optional expiry.
package gcscache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log"
	"path"
	"time"

	"cloud.google.com/go/storage"
)

var ctx = context.Background()

// objectHandle is the subset of *storage.ObjectHandle used by the cache.
type objectHandle interface {
	NewReader(ctx context.Context) (io.ReadCloser, error)
	NewWriter(ctx context.Context) io.WriteCloser
	Delete(ctx context.Context) error
}

// bucketHandle is the subset of *storage.BucketHandle used by the cache.
type bucketHandle interface {
	Object(name string) objectHandle
}

type gcsBucket struct{ *storage.BucketHandle }

func (b gcsBucket) Object(name string) objectHandle {
	return gcsObject{b.BucketHandle.Object(name)}
}

type gcsObject struct{ *storage.ObjectHandle }

func (o gcsObject) NewReader(ctx context.Context) (io.ReadCloser, error) {
	return o.ObjectHandle.NewReader(ctx)
}

func (o gcsObject) NewWriter(ctx context.Context) io.WriteCloser {
	return o.ObjectHandle.NewWriter(ctx)
}

// cacheEntry is the stored form of a cached response.  ExpiryTime is zero
// for entries that never expire.
type cacheEntry struct {
	Data       []byte    `json:"data"`
	ExpiryTime time.Time `json:"expiry_time,omitempty"`
}

type cache struct {
	bucket bucketHandle
	prefix string
	ttl    time.Duration

	now func() time.Time
}

func (c *cache) Get(key string) ([]byte, bool) {
	r, err := c.object(key).NewReader(ctx)
	if err != nil {
		if !errors.Is(err, storage.ErrObjectNotExist) {
			log.Printf("error reading from gcs: %v", err)
		}
		return nil, false
	}
	defer r.Close()

	value, err := io.ReadAll(r)
	if err != nil {
		log.Printf("error reading from gcs: %v", err)
		return nil, false
	}
	if len(value) == 0 {
		return nil, false
	}

	var entry cacheEntry
	if err := json.Unmarshal(value, &entry); err != nil {
		log.Printf("error decoding gcs cache entry: %v", err)
		return nil, false
	}
	if !entry.ExpiryTime.IsZero() && c.clock().After(entry.ExpiryTime) {
		c.Delete(key)
		return nil, false
	}

	return entry.Data, true
}

func (c *cache) Set(key string, value []byte) {
	entry := cacheEntry{Data: value}
	if c.ttl > 0 {
		entry.ExpiryTime = c.clock().Add(c.ttl)
	}
	data, err := json.Marshal(entry)
	if err != nil {
		log.Printf("error encoding gcs cache entry: %v", err)
		return
	}

	w := c.object(key).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		log.Printf("error writing to gcs: %v", err)
	}
	if err := w.Close(); err != nil {
		log.Printf("error closing gcs object writer: %v", err)
	}
}

func (c *cache) Delete(key string) {
	if err := c.object(key).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		log.Printf("error deleting gcs object: %v", err)
	}
}

func (c *cache) object(key string) objectHandle {
	name := path.Join(c.prefix, keyToFilename(key))
	return c.bucket.Object(name)
}

func (c *cache) clock() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now()
}

func keyToFilename(key string) string {
	h := md5.New()
	_, _ = io.WriteString(h, key)
	return hex.EncodeToString(h.Sum(nil))
}

// New constructs a Cache storing files in the specified GCS bucket.  If prefix
// is not empty, objects will be prefixed with that path.  Entries older than
// ttl are treated as misses; a ttl of zero keeps entries forever.
// Credentials should be specified using one of the mechanisms supported for
// Application Default Credentials (see https://cloud.google.com/docs/authentication/production)
func New(bucket, prefix string, ttl time.Duration) (*cache, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, err
	}

	c := NewWithBucket(gcsBucket{client.Bucket(bucket)}, prefix)
	c.ttl = ttl
	return c, nil
}

// NewWithBucket constructs a Cache using the provided bucket handle.
func NewWithBucket(bucket bucketHandle, prefix string) *cache {
	return &cache{
		bucket: bucket,
		prefix: prefix,
	}
}
