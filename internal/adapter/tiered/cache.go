// Package tiered layers the in-process report cache over a shared one.
package tiered

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/andrei-shtanakov/agent-builder-tester/internal/port/cache"
)

// Cache reads L1 then L2, copying L2 hits into L1. L2 is best effort: its
// errors are logged and read as misses. Concurrent L1 misses on one key
// share a single L2 lookup.
type Cache struct {
	l1          cache.Cache
	l2          cache.Cache
	backfillTTL time.Duration
	lookups     singleflight.Group
}

// New layers l1 over l2; l2 may be nil. L2 hits are kept in L1 for
// backfillTTL.
func New(l1, l2 cache.Cache, backfillTTL time.Duration) *Cache {
	return &Cache{l1: l1, l2: l2, backfillTTL: backfillTTL}
}

type lookup struct {
	val   []byte
	found bool
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, found, err := c.l1.Get(ctx, key)
	if err != nil || found || c.l2 == nil {
		return val, found, err
	}

	res, _, _ := c.lookups.Do(key, func() (any, error) {
		val, found, err := c.l2.Get(ctx, key)
		if err != nil {
			slog.WarnContext(ctx, "shared report cache read failed", "key", key, "error", err)
			return lookup{}, nil
		}
		if found {
			_ = c.l1.Set(ctx, key, val, c.backfillTTL)
		}
		return lookup{val: val, found: found}, nil
	})
	l := res.(lookup)
	return l.val, l.found, nil
}

func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.l1.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	if c.l2 != nil {
		if err := c.l2.Set(ctx, key, value, ttl); err != nil {
			slog.WarnContext(ctx, "shared report cache write failed", "key", key, "error", err)
		}
	}
	return nil
}

// Delete clears both levels. An L2 failure is returned so a stale shared
// entry is not silently kept.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.l1.Delete(ctx, key); err != nil {
		return err
	}
	if c.l2 == nil {
		return nil
	}
	return c.l2.Delete(ctx, key)
}
