package notifcache

import (
	"context"
	"time"
)

// Store is the key-value surface the notification cache needs: TTL-bound
// puts, prefix listing, and TTL-bound list append. RedisStore backs it in
// production; MemoryStore serves single-node deployments and tests.
type Store interface {
	// Put stores a value under key, expiring after ttl.
	Put(ctx context.Context, key, value string, ttl time.Duration) error

	// ListByPrefix returns all unexpired values whose keys start with
	// prefix. Order is unspecified.
	ListByPrefix(ctx context.Context, prefix string) ([]string, error)

	// PushList appends a value to the list at key and resets the list's
	// expiry to ttl.
	PushList(ctx context.Context, key, value string, ttl time.Duration) error

	// GetList returns all elements of the list at key, oldest first.
	// An expired or missing list returns an empty slice.
	GetList(ctx context.Context, key string) ([]string, error)

	// HealthCheck verifies the store is reachable.
	HealthCheck(ctx context.Context) error

	// Close releases store resources.
	Close() error
}
