// Package cache is a small string key-value cache with Redis and in-process adapters.
package cache

import (
	"context"
	"time"
)

// Cache is the contract the rest of the service relies on. Implementations are
// safe for concurrent use.
type Cache interface {
	// Get returns ErrMiss when the key is absent or expired.
	Get(ctx context.Context, key string) (string, error)
	// Set stores value at key. A ttl <= 0 keeps the key until evicted.
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

// ErrMiss signals a cache miss as opposed to a transport failure.
var ErrMiss = errMiss{}

type errMiss struct{}

func (e errMiss) Error() string { return "cache: miss" }
