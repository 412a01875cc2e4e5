// Package cache provides a bounded key/value cache with optional expiry.
package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const defaultSize = 1024

// TTL is a size-bounded LRU cache whose entries expire after a fixed TTL.
// A zero TTL keeps entries until they are evicted by size. Safe for
// concurrent use.
type TTL[K comparable, V any] struct {
	lru *expirable.LRU[K, V]
}

// New builds a cache holding at most size entries.
func New[K comparable, V any](size int, ttl time.Duration) *TTL[K, V] {
	if size <= 0 {
		size = defaultSize
	}
	return &TTL[K, V]{lru: expirable.NewLRU[K, V](size, nil, ttl)}
}

// Get returns the cached value for key.
func (c *TTL[K, V]) Get(key K) (V, bool) {
	return c.lru.Get(key)
}

// Add stores value under key, evicting the oldest entry when full.
func (c *TTL[K, V]) Add(key K, value V) {
	c.lru.Add(key, value)
}

// Len returns the number of live entries.
func (c *TTL[K, V]) Len() int {
	return c.lru.Len()
}

// Purge drops every entry.
func (c *TTL[K, V]) Purge() {
	c.lru.Purge()
}
