// Package cache provides the in-process TTL cache used for runtime probes
// and server configuration lookups.
package cache

import (
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

const defaultMaxEntries = 4096

// Cache is a string-keyed TTL cache backed by ristretto. Every entry costs 1,
// so the capacity is expressed in entries. Ristretto may refuse an admission
// under contention; callers treat a miss as "recompute".
type Cache[V any] struct {
	c   *ristretto.Cache[string, V]
	ttl time.Duration
}

// New creates a cache whose entries expire after ttl. A zero ttl keeps entries
// until they are deleted or the cache is cleared.
func New[V any](ttl time.Duration) (*Cache[V], error) {
	return NewWithCapacity[V](ttl, defaultMaxEntries)
}

func NewWithCapacity[V any](ttl time.Duration, maxEntries int64) (*Cache[V], error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, V]{
		NumCounters:        maxEntries * 10,
		MaxCost:            maxEntries,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}
	return &Cache[V]{c: c, ttl: ttl}, nil
}

func (c *Cache[V]) Get(key string) (V, bool) {
	return c.c.Get(key)
}

// Set stores value and waits for the write buffer so a following Get sees it.
func (c *Cache[V]) Set(key string, value V) {
	c.c.SetWithTTL(key, value, 1, c.ttl)
	c.c.Wait()
}

// GetOrCompute returns the cached value for key or stores the result of fn.
func (c *Cache[V]) GetOrCompute(key string, fn func() V) V {
	if v, ok := c.Get(key); ok {
		return v
	}
	v := fn()
	c.Set(key, v)
	return v
}

func (c *Cache[V]) Delete(key string) {
	c.c.Del(key)
}

// Clear drops every entry.
func (c *Cache[V]) Clear() {
	c.c.Clear()
}

func (c *Cache[V]) Close() {
	c.c.Close()
}
