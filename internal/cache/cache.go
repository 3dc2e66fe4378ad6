// Package cache defines the key/value store used for cached responses and the
// payload codec that writes them.
package cache

import (
	"context"
	"time"
)

// Store is a TTL-bound byte store. Get reports a missing key as found=false with a nil error.
// Implementations must be safe for concurrent use.
type Store interface {
	Get(ctx context.Context, key string) (val []byte, found bool, err error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Ping(ctx context.Context) error
	Close() error
}
