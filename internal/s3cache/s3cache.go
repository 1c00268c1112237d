// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

// Package s3cache provides an httpcache.Cache implementation that stores
// cached responses on Amazon S3, or any S3-compatible service, with optional
// expiry.
package s3cache

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
)

// cacheEntry is the stored form of a cached response.  ExpiryTime is zero
// for entries that never expire.
type cacheEntry struct {
	Data       []byte    `json:"data"`
	ExpiryTime time.Time `json:"expiry_time,omitempty"`
}

type cache struct {
	s3iface.S3API
	bucket, prefix string
	ttl            time.Duration

	now func() time.Time
}

// objectKey returns the S3 object key used to store the value for key.
func (c *cache) objectKey(key string) string {
	return path.Join(c.prefix, keyToFilename(key))
}

func (c *cache) Get(key string) ([]byte, bool) {
	objKey := c.objectKey(key)
	resp, err := c.GetObject(&s3.GetObjectInput{
		Bucket: &c.bucket,
		Key:    &objKey,
	})
	if err != nil {
		var aerr awserr.Error
		if !errors.As(err, &aerr) || aerr.Code() != s3.ErrCodeNoSuchKey {
			log.Printf("error fetching from s3: %v", err)
		}
		return nil, false
	}
	defer resp.Body.Close()

	var entry cacheEntry
	if err := json.NewDecoder(resp.Body).Decode(&entry); err != nil {
		log.Printf("error decoding s3 cache entry: %v", err)
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
		log.Printf("error encoding s3 cache entry: %v", err)
		return
	}

	objKey := c.objectKey(key)
	_, err = c.PutObject(&s3.PutObjectInput{
		Body:   aws.ReadSeekCloser(bytes.NewReader(data)),
		Bucket: &c.bucket,
		Key:    &objKey,
	})
	if err != nil {
		log.Printf("error writing to s3: %v", err)
	}
}

func (c *cache) Delete(key string) {
	objKey := c.objectKey(key)
	_, err := c.DeleteObject(&s3.DeleteObjectInput{
		Bucket: &c.bucket,
		Key:    &objKey,
	})
	if err != nil {
		log.Printf("error deleting from s3: %v", err)
	}
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

// New constructs a cache configured using the provided URL string.  URL
// should be of the form: "s3://region/bucket/optional-path-prefix".
//
// The following query parameters are supported:
//
//	ttl               how long entries are kept, as a duration ("24h")
//	endpoint          endpoint of an S3-compatible service
//	disableSSL        "1" to connect to endpoint over plain HTTP
//	s3ForcePathStyle  "1" to use path style bucket addressing
func New(s string) (*cache, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, err
	}

	region := u.Host
	parts := strings.SplitN(strings.TrimPrefix(u.Path, "/"), "/", 2)
	bucket := parts[0]
	if bucket == "" {
		return nil, fmt.Errorf("s3 cache URL %q has no bucket", s)
	}
	var prefix string
	if len(parts) > 1 {
		prefix = parts[1]
	}

	var ttl time.Duration
	if v := u.Query().Get("ttl"); v != "" {
		ttl, err = time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid s3 cache ttl: %w", err)
		}
	}

	config := aws.NewConfig().WithRegion(region)

	// allow overriding some additional config options, mostly useful when
	// working with s3-compatible services other than AWS.
	if v := u.Query().Get("endpoint"); v != "" {
		config = config.WithEndpoint(v)
	}
	if v := u.Query().Get("disableSSL"); v == "1" {
		config = config.WithDisableSSL(true)
	}
	if v := u.Query().Get("s3ForcePathStyle"); v == "1" {
		config = config.WithS3ForcePathStyle(true)
	}

	sess, err := session.NewSession(config)
	if err != nil {
		return nil, err
	}

	return &cache{
		S3API:  s3.New(sess),
		bucket: bucket,
		prefix: prefix,
		ttl:    ttl,
	}, nil
}
