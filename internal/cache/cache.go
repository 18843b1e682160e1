// Package cache provides the TTL cache and single-flight layer shared by all
// read paths. At most one computation runs per key at a time; concurrent
// callers for the same key wait for the in-flight result instead of
// recomputing it.
package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/quarklabs/chainrisk/internal/core/domain"
	"github.com/quarklabs/chainrisk/internal/metrics"
)

// ComputeFunc produces the value for a key on cache miss.
type ComputeFunc func(ctx context.Context) (any, error)

// Cache wraps a TTL store with single-flight deduplication.
type Cache struct {
	store *gocache.Cache
	group singleflight.Group
}

// New creates a cache. cleanupInterval controls how often expired entries are
// swept from the store.
func New(defaultTTL, cleanupInterval time.Duration) *Cache {
	return &Cache{
		store: gocache.New(defaultTTL, cleanupInterval),
	}
}

type flightResult struct {
	val       any
	fromStore bool
}

// GetOrCompute returns the value for key, computing it with fn on a miss.
// cached reports whether the value was served without running fn on behalf
// of this caller (store hit, or piggybacked on another caller's flight).
// A failed computation is never stored; the next call recomputes.
func (c *Cache) GetOrCompute(
	ctx context.Context,
	key string,
	ttl time.Duration,
	fn ComputeFunc,
) (any, bool, error) {
	ns := Namespace(key)

	if v, ok := c.store.Get(key); ok {
		metrics.CacheHits.WithLabelValues(ns).Inc()
		return v, true, nil
	}
	metrics.CacheMisses.WithLabelValues(ns).Inc()

	// Only one queued closure executes per key; executed tells us whether
	// it was ours. The executing closure runs on the first caller's ctx.
	var executed bool
	ch := c.group.DoChan(key, func() (any, error) {
		executed = true
		// Another flight may have stored the value while we queued.
		if v, ok := c.store.Get(key); ok {
			return flightResult{val: v, fromStore: true}, nil
		}
		v, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		c.store.Set(key, v, ttl)
		return flightResult{val: v}, nil
	})

	select {
	case <-ctx.Done():
		return nil, false, fmt.Errorf("%w: %v", domain.ErrTimeout, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		fr := res.Val.(flightResult)
		cached := !executed || fr.fromStore
		if cached {
			metrics.SingleFlightShared.WithLabelValues(ns).Inc()
		}
		return fr.val, cached, nil
	}
}

// Invalidate removes the stored entry for key. An in-flight computation for
// the key is not interrupted; its callers still receive their result.
func (c *Cache) Invalidate(key string) {
	c.store.Delete(key)
}

// InvalidatePrefix removes every stored entry whose key starts with prefix.
func (c *Cache) InvalidatePrefix(prefix string) {
	for k := range c.store.Items() {
		if strings.HasPrefix(k, prefix) {
			c.store.Delete(k)
		}
	}
}

// Key joins parts into a namespaced cache key.
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}

// Namespace extracts the leading namespace of a key ("risk:eth:0xabc" -> "risk").
func Namespace(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return key
}
