// Package natskv is the shared L2 report cache on a JetStream KV bucket.
package natskv

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// stampLen prefixes every stored value with its expiry in Unix nanoseconds.
// Zero means the bucket TTL alone applies.
const stampLen = 8

// Cache stores report snapshots in JetStream KV. The bucket TTL bounds every
// entry; shorter per-key TTLs are enforced on read.
type Cache struct {
	kv  jetstream.KeyValue
	now func() time.Time
}

// New wraps an existing bucket.
func New(kv jetstream.KeyValue) *Cache {
	return &Cache{kv: kv, now: time.Now}
}

// Open creates or updates bucket with ttl as its maximum entry age.
func Open(ctx context.Context, js jetstream.JetStream, bucket string, ttl time.Duration) (*Cache, error) {
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "analytics report cache",
		TTL:         ttl,
		History:     1,
	})
	if err != nil {
		return nil, fmt.Errorf("kv bucket %s: %w", bucket, err)
	}
	return New(kv), nil
}

// encodeKey maps report keys, which contain ':' and timestamps, onto the KV
// key alphabet.
func encodeKey(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}

func stamp(value []byte, expires time.Time) []byte {
	out := make([]byte, stampLen+len(value))
	if !expires.IsZero() {
		binary.BigEndian.PutUint64(out, uint64(expires.UnixNano()))
	}
	copy(out[stampLen:], value)
	return out
}

// unstamp returns the payload, or false when raw is malformed or expired.
func unstamp(raw []byte, now time.Time) ([]byte, bool) {
	if len(raw) < stampLen {
		return nil, false
	}
	if exp := int64(binary.BigEndian.Uint64(raw)); exp != 0 && now.UnixNano() >= exp {
		return nil, false
	}
	return raw[stampLen:], true
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	entry, err := c.kv.Get(ctx, encodeKey(key))
	switch {
	case errors.Is(err, jetstream.ErrKeyNotFound):
		return nil, false, nil
	case err != nil:
		return nil, false, fmt.Errorf("kv get: %w", err)
	}
	v, ok := unstamp(entry.Value(), c.now())
	return v, ok, nil
}

// Set stores value. A positive ttl shorter than the bucket's expires the
// entry early.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expires time.Time
	if ttl > 0 {
		expires = c.now().Add(ttl)
	}
	if _, err := c.kv.Put(ctx, encodeKey(key), stamp(value, expires)); err != nil {
		return fmt.Errorf("kv put: %w", err)
	}
	return nil
}

// Delete is a no-op for missing keys.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.kv.Delete(ctx, encodeKey(key)); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("kv delete: %w", err)
	}
	return nil
}
