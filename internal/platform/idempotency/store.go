// Package idempotency replays responses of retried write requests that carry
// an Idempotency-Key header, so a client retrying a timed-out admit or
// discharge does not run the transition twice.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// DefaultTTL is how long a completed response is replayed.
const DefaultTTL = 24 * time.Hour

// lockTTL bounds how long an in-flight reservation blocks retries if the
// holder dies without releasing it.
const lockTTL = time.Minute

// Entry is a cached response.
type Entry struct {
	Method     string      `json:"method"`
	Path       string      `json:"path"`
	StatusCode int         `json:"status_code"`
	Headers    http.Header `json:"headers,omitempty"`
	Body       []byte      `json:"body"`
	CreatedAt  time.Time   `json:"created_at"`
}

// Store persists entries and in-flight reservations. Implementations must be
// safe for concurrent use.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Set(ctx context.Context, key string, e *Entry, ttl time.Duration) error
	// Reserve marks key as in flight. It reports false when another request
	// already holds it.
	Reserve(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// ErrNotFound is returned by Get for unknown or expired keys.
var ErrNotFound = errors.New("idempotency key not found")

// Memory is an in-memory Store with lazy expiry.
type Memory struct {
	mu       sync.Mutex
	entries  map[string]memoryEntry
	inflight map[string]time.Time
	now      func() time.Time
}

type memoryEntry struct {
	entry     Entry
	expiresAt time.Time
}

func NewMemory() *Memory {
	return &Memory{
		entries:  make(map[string]memoryEntry),
		inflight: make(map[string]time.Time),
		now:      time.Now,
	}
}

func (s *Memory) Get(_ context.Context, key string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	me, ok := s.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	if s.now().After(me.expiresAt) {
		delete(s.entries, key)
		return nil, ErrNotFound
	}
	cp := me.entry
	cp.Headers = me.entry.Headers.Clone()
	cp.Body = append([]byte(nil), me.entry.Body...)
	return &cp, nil
}

func (s *Memory) Set(_ context.Context, key string, e *Entry, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	cp.Headers = e.Headers.Clone()
	cp.Body = append([]byte(nil), e.Body...)
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.now()
	}
	s.entries[key] = memoryEntry{entry: cp, expiresAt: cp.CreatedAt.Add(ttl)}
	return nil
}

func (s *Memory) Reserve(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if until, ok := s.inflight[key]; ok && s.now().Before(until) {
		return false, nil
	}
	s.inflight[key] = s.now().Add(lockTTL)
	return true, nil
}

func (s *Memory) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, key)
	return nil
}

// Redis stores entries as JSON strings and reservations via SETNX, so
// replicas behind a load balancer share one view.
type Redis struct {
	client *redis.Client
	prefix string
}

func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "idempotency:"
	}
	return &Redis{client: client, prefix: prefix}
}

func (s *Redis) Get(ctx context.Context, key string) (*Entry, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode idempotency entry: %w", err)
	}
	return &e, nil
}

func (s *Redis) Set(ctx context.Context, key string, e *Entry, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode idempotency entry: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *Redis) Reserve(ctx context.Context, key string) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.prefix+"lock:"+key, 1, lockTTL).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %s: %w", key, err)
	}
	return ok, nil
}

func (s *Redis) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+"lock:"+key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}
