// Copyright 2024 The graphdrive Authors. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package ttlcache implements a cache with a fixed TTL. The TTL for an
// item starts decreasing each time the item is added to the cache.
//
// There is no active garbage collection but expired items are deleted
// from the cache upon new 'Get' calls. This is a lazy strategy that
// does not prevent memory leaks.
package ttlcache

import (
	"sync"
	"time"
)

type cacheValue[V any] struct {
	value      V
	expiration time.Time
}

// Cache is a TTL cache from K to V. Safe for concurrent use.
type Cache[K comparable, V any] struct {
	mu    sync.Mutex
	cache map[K]cacheValue[V]
	ttl   time.Duration
}

// New returns an empty cache whose items expire ttl after insertion.
func New[K comparable, V any](ttl time.Duration) *Cache[K, V] {
	return &Cache[K, V]{
		cache: map[K]cacheValue[V]{},
		ttl:   ttl,
	}
}

// Get returns the value stored under key, if present and not expired.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.cache[key]
	if ok && v.expiration.After(time.Now()) {
		return v.value, true
	}
	if ok {
		delete(c.cache, key) // key is expired - delete it.
	}
	var zero V
	return zero, false
}

// Set stores value under key, resetting the key's TTL.
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	c.cache[key] = cacheValue[V]{
		value:      value,
		expiration: time.Now().Add(c.ttl),
	}
	c.mu.Unlock()
}

// Delete removes key from the cache, if present.
func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	delete(c.cache, key)
	c.mu.Unlock()
}
