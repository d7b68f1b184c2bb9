package bookmeta

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// Cache is a bounded key/value store for resolver results.
type Cache[V any] interface {
	Get(key string) (V, bool)
	Set(key string, value V)
	// Invalidate drops every entry.
	Invalidate()
}

// LRUCache is a capacity and TTL bounded Cache.
type LRUCache[V any] struct {
	lru *expirable.LRU[string, V]
}

// NewLRUCache returns a cache holding at most size entries for at most ttl.
func NewLRUCache[V any](size int, ttl time.Duration) *LRUCache[V] {
	return &LRUCache[V]{lru: expirable.NewLRU[string, V](size, nil, ttl)}
}

func (c *LRUCache[V]) Get(key string) (V, bool) { return c.lru.Get(key) }
func (c *LRUCache[V]) Set(key string, value V)  { c.lru.Add(key, value) }
func (c *LRUCache[V]) Invalidate()              { c.lru.Purge() }

// Len returns the number of live entries.
func (c *LRUCache[V]) Len() int { return c.lru.Len() }

// CacheKey returns a stable digest of the call arguments.
func CacheKey(op string, args ...any) string {
	payload, err := json.Marshal(append([]any{op}, args...))
	if err != nil {
		// Arguments are plain strings in practice.
		payload = []byte(op + "\x00unmarshalable")
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

type cachedResult struct {
	Meta  BookMetadata
	Found bool
}

// CachingResolver memoizes another Resolver. Errors are not cached.
// Concurrent misses for the same file share one lookup.
type CachingResolver struct {
	next   Resolver
	cache  Cache[cachedResult]
	flight singleflight.Group
}

// NewCachingResolver wraps next with an LRU cache of the given bounds.
func NewCachingResolver(next Resolver, size int, ttl time.Duration) *CachingResolver {
	return &CachingResolver{next: next, cache: NewLRUCache[cachedResult](size, ttl)}
}

// Resolve implements Resolver.
func (c *CachingResolver) Resolve(ctx context.Context, absPath string) (BookMetadata, bool, error) {
	key := CacheKey("resolve", absPath)
	if hit, ok := c.cache.Get(key); ok {
		return hit.Meta, hit.Found, nil
	}
	v, err, _ := c.flight.Do(key, func() (any, error) {
		meta, found, err := c.next.Resolve(ctx, absPath)
		if err != nil {
			return nil, err
		}
		res := cachedResult{Meta: meta, Found: found}
		c.cache.Set(key, res)
		return res, nil
	})
	if err != nil {
		return BookMetadata{}, false, err
	}
	res := v.(cachedResult)
	return res.Meta, res.Found, nil
}

// Invalidate drops all cached lookups, e.g. after the library database changed.
func (c *CachingResolver) Invalidate() {
	c.cache.Invalidate()
}

var (
	_ Resolver            = (*CachingResolver)(nil)
	_ Cache[cachedResult] = (*LRUCache[cachedResult])(nil)
)
