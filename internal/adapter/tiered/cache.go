// Package tiered combines a process-local cache with a shared one.
package tiered

import (
	"context"
	"log/slog"
	"time"

	"github.com/Jonathan7758/linkc-platform-sub000/internal/logger"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/port/cache"
)

// Cache reads L1 then L2, backfilling L1 on an L2 hit, and writes both.
// L2 failures degrade to L1-only operation and are logged, never returned,
// so a shared-store outage cannot block inbound handling.
type Cache struct {
	l1       cache.Cache
	l2       cache.Cache
	l1Expire time.Duration
	log      *slog.Logger
}

// New creates a tiered cache. l1Expire bounds how long L2 backfills live in L1.
func New(l1, l2 cache.Cache, l1Expire time.Duration, log *slog.Logger) *Cache {
	return &Cache{l1: l1, l2: l2, l1Expire: l1Expire, log: logger.Component(log, "cache")}
}

// Get checks L1, then L2.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, found, err := c.l1.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if found {
		return val, true, nil
	}

	val, found, err = c.l2.Get(ctx, key)
	if err != nil {
		c.log.Warn("l2 cache get failed", "key", key, "error", err)
		return nil, false, nil
	}
	if !found {
		return nil, false, nil
	}
	if err := c.l1.Set(ctx, key, val, c.l1Expire); err != nil {
		c.log.Debug("l1 backfill failed", "key", key, "error", err)
	}
	return val, true, nil
}

// Set writes L1 and then L2.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.l1.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	if err := c.l2.Set(ctx, key, value, ttl); err != nil {
		c.log.Warn("l2 cache set failed", "key", key, "error", err)
	}
	return nil
}

// Delete removes the key from both levels.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.l1.Delete(ctx, key); err != nil {
		return err
	}
	if err := c.l2.Delete(ctx, key); err != nil {
		c.log.Warn("l2 cache delete failed", "key", key, "error", err)
	}
	return nil
}
