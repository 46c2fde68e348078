// Package cache provides a size-bounded, time-expiring in-process cache.
package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	DefaultSize = 1024
	DefaultTTL  = 5 * time.Minute
)

// TTL is safe for concurrent use. Entries expire ttl after they were added
// and the least recently used entry is evicted once size is reached.
type TTL[K comparable, V any] struct {
	lru *expirable.LRU[K, V]
}

func NewTTL[K comparable, V any](size int, ttl time.Duration) *TTL[K, V] {
	if size <= 0 {
		size = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &TTL[K, V]{lru: expirable.NewLRU[K, V](size, nil, ttl)}
}

func (c *TTL[K, V]) Get(key K) (V, bool) { return c.lru.Get(key) }

// Peek reads without touching recency.
func (c *TTL[K, V]) Peek(key K) (V, bool) { return c.lru.Peek(key) }

func (c *TTL[K, V]) Add(key K, value V) { c.lru.Add(key, value) }

func (c *TTL[K, V]) Remove(key K) bool { return c.lru.Remove(key) }

// RemoveFunc drops every key for which match returns true and reports how
// many were removed.
func (c *TTL[K, V]) RemoveFunc(match func(K) bool) int {
	n := 0
	for _, k := range c.lru.Keys() {
		if match(k) && c.lru.Remove(k) {
			n++
		}
	}
	return n
}

// Each calls fn for every live entry without touching recency.
func (c *TTL[K, V]) Each(fn func(K, V)) {
	for _, k := range c.lru.Keys() {
		if v, ok := c.lru.Peek(k); ok {
			fn(k, v)
		}
	}
}

// Values returns the live entries, oldest first.
func (c *TTL[K, V]) Values() []V { return c.lru.Values() }

func (c *TTL[K, V]) Len() int { return c.lru.Len() }

func (c *TTL[K, V]) Purge() { c.lru.Purge() }
