// Package blobstore stores treatment attachments. It defines the Store
// interface, an in-memory implementation for tests and development, and an
// S3-compatible implementation for deployed environments.
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	ErrBlobNotFound    = errors.New("blob not found")
	ErrFileTooLarge    = errors.New("file exceeds maximum allowed size")
	ErrMissingFileName = errors.New("file name is required")
	ErrBlobExists      = errors.New("blob already exists")
)

// DefaultMaxBytes bounds a single attachment when no limit is configured (10 MB).
const DefaultMaxBytes = 10 * 1024 * 1024

// Object describes a stored blob.
type Object struct {
	Key         string    `json:"key"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Hash        string    `json:"hash"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store is the contract for attachment backends. Keys are caller-chosen and
// create-only: Put on an existing key fails with ErrBlobExists.
type Store interface {
	Put(ctx context.Context, key, contentType string, content io.Reader) (*Object, error)
	Get(ctx context.Context, key string) (io.ReadCloser, *Object, error)
	Delete(ctx context.Context, key string) error
}

// Key builds an object key under prefix, keeping only the base name of the
// client-supplied file name.
func Key(prefix, id, fileName string) string {
	name := fileName
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		}
		return '_'
	}, name)
	return strings.Trim(prefix, "/") + "/" + id + "/" + name
}

// readLimited buffers content up to maxBytes and returns it with its
// hex-encoded SHA-256.
func readLimited(content io.Reader, maxBytes int64) ([]byte, string, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	data, err := io.ReadAll(io.LimitReader(content, maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("reading content: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, "", ErrFileTooLarge
	}
	return data, fmt.Sprintf("%x", sha256.Sum256(data)), nil
}

type storedBlob struct {
	object  Object
	content []byte
}

// Memory is a thread-safe in-memory Store.
type Memory struct {
	mu       sync.RWMutex
	blobs    map[string]*storedBlob
	maxBytes int64
	now      func() time.Time
}

func NewMemory(maxBytes int64) *Memory {
	return &Memory{
		blobs:    make(map[string]*storedBlob),
		maxBytes: maxBytes,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Memory) Put(_ context.Context, key, contentType string, content io.Reader) (*Object, error) {
	if key == "" || strings.HasSuffix(key, "/") {
		return nil, ErrMissingFileName
	}
	data, hash, err := readLimited(content, s.maxBytes)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[key]; ok {
		return nil, ErrBlobExists
	}
	obj := Object{
		Key:         key,
		ContentType: contentType,
		Size:        int64(len(data)),
		Hash:        hash,
		CreatedAt:   s.now(),
	}
	s.blobs[key] = &storedBlob{object: obj, content: data}
	return &obj, nil
}

func (s *Memory) Get(_ context.Context, key string) (io.ReadCloser, *Object, error) {
	s.mu.RLock()
	blob, ok := s.blobs[key]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, ErrBlobNotFound
	}
	obj := blob.object
	return io.NopCloser(bytes.NewReader(blob.content)), &obj, nil
}

func (s *Memory) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[key]; !ok {
		return ErrBlobNotFound
	}
	delete(s.blobs, key)
	return nil
}

// Keys lists stored keys in order.
func (s *Memory) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.blobs))
	for k := range s.blobs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
