package cache

import (
	"context"
	"errors"
	"time"
)

// Provider defines the TTL key-value operations needed by the service.
// Correlation state (alerts, incident membership) lives exclusively behind
// this interface; nothing in-process retains it across workflow runs.
type Provider interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Del(ctx context.Context, key string) error
	// SetAdd adds members to the set at key and refreshes the set's TTL,
	// giving incident membership its sliding expiry window.
	SetAdd(ctx context.Context, key string, members []string, ttl time.Duration) error
	SetMembers(ctx context.Context, key string) ([]string, error)
	// MultiGet returns one entry per key; missing keys yield a nil slice.
	MultiGet(ctx context.Context, keys []string) ([][]byte, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Close() error
}

// ErrCacheMiss signals that a key was not found or has expired.
var ErrCacheMiss = errors.New("cache miss")

// NoopProvider implements Provider but never stores data.
type NoopProvider struct{}

// Get always returns ErrCacheMiss.
func (NoopProvider) Get(context.Context, string) ([]byte, error) {
	return nil, ErrCacheMiss
}

// Set discards the value and returns nil.
func (NoopProvider) Set(context.Context, string, []byte, time.Duration) error {
	return nil
}

// SetNX pretends to store the value and reports success.
func (NoopProvider) SetNX(context.Context, string, []byte, time.Duration) (bool, error) {
	return true, nil
}

// Del is a no-op for the noop cache.
func (NoopProvider) Del(context.Context, string) error { return nil }

// SetAdd discards the members.
func (NoopProvider) SetAdd(context.Context, string, []string, time.Duration) error {
	return nil
}

// SetMembers always returns an empty set.
func (NoopProvider) SetMembers(context.Context, string) ([]string, error) {
	return nil, nil
}

// MultiGet returns a nil value for every key.
func (NoopProvider) MultiGet(_ context.Context, keys []string) ([][]byte, error) {
	return make([][]byte, len(keys)), nil
}

// Expire is a no-op.
func (NoopProvider) Expire(context.Context, string, time.Duration) error { return nil }

// Close is a no-op.
func (NoopProvider) Close() error { return nil }
