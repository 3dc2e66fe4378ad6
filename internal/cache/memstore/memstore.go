// Package memstore is an in-process cache store for single-node and development runs.
package memstore

import (
	"context"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dabbsLondon/pivot-experiment/internal/core/observability"
)

const shardCount = 16 // power of two

type entry struct {
	val     []byte
	expires time.Time // zero means no expiry
}

// Store spreads keys over LRU shards by xxhash. Expired entries are evicted lazily on read.
type Store struct {
	shards [shardCount]*lru.Cache[string, entry]
	now    func() time.Time
}

type Option func(*Store)

// WithClock overrides the time source used for TTLs.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a store holding at most capacity entries in total.
func New(capacity int, opts ...Option) (*Store, error) {
	if capacity <= 0 {
		capacity = 10000
	}
	per := max(capacity/shardCount, 1)

	s := &Store{now: time.Now}
	for i := range s.shards {
		c, err := lru.New[string, entry](per)
		if err != nil {
			return nil, fmt.Errorf("memstore shard: %w", err)
		}
		s.shards[i] = c
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func (s *Store) pick(key string) *lru.Cache[string, entry] {
	return s.shards[xxhash.Sum64String(key)&(shardCount-1)]
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		observability.ObserveCacheOp("get", err, time.Since(start).Seconds())
		return nil, false, fmt.Errorf("memstore get: %w", err)
	}
	sh := s.pick(key)
	e, ok := sh.Get(key)
	if ok && !e.expires.IsZero() && !s.now().Before(e.expires) {
		sh.Remove(key)
		ok = false
	}
	observability.ObserveCacheOp("get", nil, time.Since(start).Seconds())
	if !ok {
		return nil, false, nil
	}
	return e.val, true, nil
}

// Set stores a copy of val. A non-positive ttl stores without expiry.
func (s *Store) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		observability.ObserveCacheOp("set", err, time.Since(start).Seconds())
		return fmt.Errorf("memstore set: %w", err)
	}
	e := entry{val: append([]byte(nil), val...)}
	if ttl > 0 {
		e.expires = s.now().Add(ttl)
	}
	s.pick(key).Add(key, e)
	observability.ObserveCacheOp("set", nil, time.Since(start).Seconds())
	return nil
}

func (s *Store) Del(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("memstore del: %w", err)
	}
	for _, k := range keys {
		s.pick(k).Remove(k)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("memstore ping: %w", err)
	}
	return nil
}

// Len counts entries including any expired ones not yet read.
func (s *Store) Len() int {
	n := 0
	for _, sh := range s.shards {
		n += sh.Len()
	}
	return n
}

func (s *Store) Close() error {
	for _, sh := range s.shards {
		sh.Purge()
	}
	return nil
}
