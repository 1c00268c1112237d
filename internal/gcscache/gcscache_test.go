// Copyright 2013 The imageproxy authors.
// SPDX-License-Identifier: Apache-2.0

package gcscache

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"cloud.google.com/go/storage"
)

// mockObjectHandle implements objectHandle for testing
type mockObjectHandle struct {
	data      []byte
	exists    bool
	readErr   error
	writeErr  error
	deleteErr error
}

func (m *mockObjectHandle) NewReader(ctx context.Context) (io.ReadCloser, error) {
	if m.readErr != nil {
		return nil, m.readErr
	}
	if !m.exists {
		return nil, storage.ErrObjectNotExist
	}
	return io.NopCloser(bytes.NewReader(m.data)), nil
}

func (m *mockObjectHandle) NewWriter(ctx context.Context) io.WriteCloser {
	return &mockWriter{obj: m}
}

func (m *mockObjectHandle) Delete(ctx context.Context) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	if !m.exists {
		return storage.ErrObjectNotExist
	}
	m.exists = false
	m.data = nil
	return nil
}

// mockWriter implements io.WriteCloser for testing.  Data becomes visible
// on the object when the writer is closed, as with GCS.
type mockWriter struct {
	obj *mockObjectHandle
	buf bytes.Buffer
}

func (w *mockWriter) Write(p []byte) (n int, err error) {
	if w.obj.writeErr != nil {
		return 0, w.obj.writeErr
	}
	return w.buf.Write(p)
}

func (w *mockWriter) Close() error {
	if w.obj.writeErr != nil {
		return w.obj.writeErr
	}
	w.obj.data = w.buf.Bytes()
	w.obj.exists = true
	return nil
}

// mockBucketHandle implements bucketHandle for testing
type mockBucketHandle struct {
	objects map[string]*mockObjectHandle
}

func (b *mockBucketHandle) Object(name string) objectHandle {
	if b.objects == nil {
		b.objects = make(map[string]*mockObjectHandle)
	}
	if obj, exists := b.objects[name]; exists {
		return obj
	}
	obj := &mockObjectHandle{}
	b.objects[name] = obj
	return obj
}

func TestCache(t *testing.T) {
	now := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	bucket := &mockBucketHandle{}
	c := NewWithBucket(bucket, "test-prefix")
	c.ttl = time.Hour
	c.now = func() time.Time { return now }

	const key = "http://img.test/1_p0.png"
	data := []byte("HTTP/1.1 200 OK\r\n\r\nimage")

	if _, ok := c.Get(key); ok {
		t.Errorf("Get returned ok = true before Set")
	}

	c.Set(key, data)
	if _, ok := bucket.objects["test-prefix/"+keyToFilename(key)]; !ok {
		t.Errorf("object not stored under hashed name")
	}
	got, ok := c.Get(key)
	if !ok || !bytes.Equal(got, data) {
		t.Errorf("Get returned (%q, %v), want (%q, true)", got, ok, data)
	}

	now = now.Add(2 * time.Hour)
	if _, ok := c.Get(key); ok {
		t.Errorf("Get returned ok = true for expired entry")
	}
	if obj := bucket.objects["test-prefix/"+keyToFilename(key)]; obj.exists {
		t.Errorf("expired object was not deleted")
	}
}

func TestCacheWithoutTTL(t *testing.T) {
	now := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	bucket := &mockBucketHandle{}
	c := NewWithBucket(bucket, "")
	c.now = func() time.Time { return now }

	c.Set("key", []byte("value"))
	if _, ok := bucket.objects[keyToFilename("key")]; !ok {
		t.Errorf("object not stored at bucket root")
	}

	now = now.Add(24 * 365 * time.Hour)
	if got, ok := c.Get("key"); !ok || string(got) != "value" {
		t.Errorf("Get returned (%q, %v), want (%q, true)", got, ok, "value")
	}
}

func TestCacheMisses(t *testing.T) {
	tests := []struct {
		name string
		obj  *mockObjectHandle
	}{
		{"empty object", &mockObjectHandle{data: []byte{}, exists: true}},
		{"corrupt object", &mockObjectHandle{data: []byte("not json"), exists: true}},
		{"read error", &mockObjectHandle{readErr: errors.New("read failed")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bucket := &mockBucketHandle{
				objects: map[string]*mockObjectHandle{
					"p/" + keyToFilename("key"): tt.obj,
				},
			}
			c := NewWithBucket(bucket, "p")
			data, ok := c.Get("key")
			if data != nil || ok {
				t.Errorf("Get returned (%q, %v), want (nil, false)", data, ok)
			}
		})
	}
}

func TestCacheSetWriteError(t *testing.T) {
	obj := &mockObjectHandle{writeErr: errors.New("write failed")}
	bucket := &mockBucketHandle{
		objects: map[string]*mockObjectHandle{keyToFilename("key"): obj},
	}
	c := NewWithBucket(bucket, "")

	c.Set("key", []byte("value")) // must not panic
	if obj.exists {
		t.Errorf("object exists after failed write")
	}
}

func TestCacheDelete(t *testing.T) {
	bucket := &mockBucketHandle{}
	c := NewWithBucket(bucket, "")

	c.Set("key", []byte("value"))
	c.Delete("key")
	if _, ok := c.Get("key"); ok {
		t.Errorf("Get returned ok = true after Delete")
	}

	// deleting a missing object is not an error
	c.Delete("missing")
}

func TestKeyToFilename(t *testing.T) {
	// md5("http://img.test/1_p0.png") is stable and hex encoded
	got := keyToFilename("http://img.test/1_p0.png")
	if len(got) != 32 {
		t.Errorf("keyToFilename returned %q, want 32 hex characters", got)
	}
	if got != keyToFilename("http://img.test/1_p0.png") {
		t.Errorf("keyToFilename is not deterministic")
	}
	if got == keyToFilename("http://img.test/1_p1.png") {
		t.Errorf("keyToFilename returned the same name for different keys")
	}
}
