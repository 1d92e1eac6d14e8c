// Package cache defines the key-value cache port. The inbound path uses it
// to remember dispatch results by CloudEvent id.
package cache

import (
	"context"
	"time"
)

// Cache stores opaque values with a TTL. Implementations must make a Set
// visible to a subsequent Get from the same goroutine.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
