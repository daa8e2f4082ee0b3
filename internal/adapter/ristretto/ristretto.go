// Package ristretto is the in-process report cache, bounded by payload bytes.
package ristretto

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// avgReportBytes sizes the admission counters: ristretto wants roughly ten
// counters per entry it expects to hold.
const avgReportBytes = 1 << 10

// Cache holds encoded reports. An entry costs its key plus its value.
type Cache struct {
	c *ristretto.Cache[string, []byte]
}

// New returns a cache holding at most maxBytes of keys and values. Values
// smaller than 4 KiB are raised to 4 KiB.
func New(maxBytes int64) (*Cache, error) {
	maxBytes = max(maxBytes, 4<<10)
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters:        max(maxBytes/avgReportBytes*10, 100),
		MaxCost:            maxBytes,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{c: c}, nil
}

func (c *Cache) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := c.c.Get(key)
	return v, ok, nil
}

// Set stores value for ttl; ttl <= 0 keeps it until evicted. The admission
// policy may decline an entry, which reads as a later miss rather than an
// error. Set waits for ristretto's write buffer so an admitted value is
// visible to the next Get.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	c.c.SetWithTTL(key, value, int64(len(key)+len(value)), ttl)
	c.c.Wait()
	return nil
}

func (c *Cache) Delete(_ context.Context, key string) error {
	c.c.Del(key)
	return nil
}

// Close stops ristretto's background goroutines.
func (c *Cache) Close() {
	c.c.Close()
}
