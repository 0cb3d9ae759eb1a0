package cache

import (
	"context"
	"errors"
	"time"
)

// Provider defines the cache operations needed by the rule store and the event
// archive. List operations back the archive; the key/value operations back the
// cache-aside layer in front of the document store.
type Provider interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	LPush(ctx context.Context, key string, values ...[]byte) error
	LRange(ctx context.Context, key string, start, stop int64) ([][]byte, error)
	Close() error
}

// ErrCacheMiss signals that a cache key was not found.
var ErrCacheMiss = errors.New("cache miss")

// NoopProvider implements Provider but never stores data. Used when no cache
// backend is configured.
type NoopProvider struct{}

// Get always returns ErrCacheMiss.
func (NoopProvider) Get(context.Context, string) ([]byte, error) {
	return nil, ErrCacheMiss
}

// Set discards the value and returns nil.
func (NoopProvider) Set(context.Context, string, []byte, time.Duration) error {
	return nil
}

// Del is a no-op for the noop cache.
func (NoopProvider) Del(context.Context, string) error { return nil }

// LPush discards the values and returns nil.
func (NoopProvider) LPush(context.Context, string, ...[]byte) error { return nil }

// LRange always returns an empty list.
func (NoopProvider) LRange(context.Context, string, int64, int64) ([][]byte, error) {
	return nil, nil
}

// Close is a no-op.
func (NoopProvider) Close() error { return nil }
