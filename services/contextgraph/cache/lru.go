// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cache provides the bounded LRU used by the graph store and the
// per-index traversal cache.
//
// Eviction is strict least-recently-used and deterministic: for a given
// sequence of Get/Set calls the same keys are evicted in the same order.
package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
)

// DefaultCapacity is used when a non-positive capacity is requested.
const DefaultCapacity = 100

// Stats is a point-in-time snapshot of LRU counters.
type Stats struct {
	// Hits is the number of successful Get calls.
	Hits int64 `json:"hits"`

	// Misses is the number of Get calls that found nothing.
	Misses int64 `json:"misses"`

	// Evictions is the number of entries dropped for capacity.
	Evictions int64 `json:"evictions"`

	// Size is the current number of entries.
	Size int `json:"size"`

	// Capacity is the maximum number of entries.
	Capacity int `json:"capacity"`

	// Peak is the largest size observed since creation or last Purge.
	Peak int `json:"peak"`
}

// HitRate returns hits / (hits + misses), or 0 when there were no lookups.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// EvictFunc is called after an entry is evicted for capacity.
// It runs with the cache lock held and must not call back into the cache.
type EvictFunc[K comparable, V any] func(key K, value V)

// LRU is a thread-safe, fixed-capacity LRU cache.
//
// Description:
//
//	Evicts the least recently used entry when capacity is reached. Uses
//	container/list for O(1) access and eviction. Values are stored as-is;
//	callers that share cached values across goroutines must treat them as
//	immutable.
//
// Thread Safety: All methods are safe for concurrent use.
//
// Performance:
//
//	| Operation | Complexity |
//	|-----------|------------|
//	| Get       | O(1)       |
//	| Peek      | O(1)       |
//	| Set       | O(1)       |
//	| Delete    | O(1)       |
//	| Purge     | O(n)       |
type LRU[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	items    map[K]*list.Element
	order    *list.List // Front = most recent, Back = least recent
	peak     int
	onEvict  EvictFunc[K, V]

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

type lruEntry[K comparable, V any] struct {
	key   K
	value V
}

// Option configures an LRU.
type Option[K comparable, V any] func(*LRU[K, V])

// WithEvictFunc registers a callback for capacity evictions.
func WithEvictFunc[K comparable, V any](fn EvictFunc[K, V]) Option[K, V] {
	return func(c *LRU[K, V]) {
		c.onEvict = fn
	}
}

// New creates an LRU with the given capacity.
//
// Inputs:
//   - capacity: Maximum number of entries. <= 0 uses DefaultCapacity.
//   - opts: Optional configuration.
//
// Outputs:
//   - *LRU[K, V]: The cache. Never nil.
//
// Example:
//
//	c := cache.New[string, *graph.Index](3)
//	c.Set(key, idx)
//	if idx, ok := c.Get(key); ok {
//	    // use idx
//	}
func New[K comparable, V any](capacity int, opts ...Option[K, V]) *LRU[K, V] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c := &LRU[K, V]{
		capacity: capacity,
		items:    make(map[K]*list.Element, capacity),
		order:    list.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get retrieves a value and marks it most recently used.
//
// Outputs:
//   - V: The value (zero value if not found).
//   - bool: True if the key was found.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.order.MoveToFront(elem)
		c.hits.Add(1)
		return elem.Value.(*lruEntry[K, V]).value, true
	}

	c.misses.Add(1)
	var zero V
	return zero, false
}

// Peek retrieves a value without touching recency or counters.
func (c *LRU[K, V]) Peek(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		return elem.Value.(*lruEntry[K, V]).value, true
	}
	var zero V
	return zero, false
}

// Set adds or updates a value and marks it most recently used.
//
// Description:
//
//	If the key exists its value is replaced in place. Otherwise the
//	least recently used entry is evicted when the cache is full.
//
// Outputs:
//   - bool: True if an entry was evicted to make room.
func (c *LRU[K, V]) Set(key K, value V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.order.MoveToFront(elem)
		elem.Value.(*lruEntry[K, V]).value = value
		return false
	}

	evicted := false
	if c.order.Len() >= c.capacity {
		evicted = c.evictOldest()
	}

	elem := c.order.PushFront(&lruEntry[K, V]{key: key, value: value})
	c.items[key] = elem
	if n := c.order.Len(); n > c.peak {
		c.peak = n
	}
	return evicted
}

// Delete removes a key.
//
// Outputs:
//   - bool: True if the key was found and removed.
func (c *LRU[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
		return true
	}
	return false
}

// Purge clears all entries and resets counters.
func (c *LRU[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[K]*list.Element, c.capacity)
	c.order.Init()
	c.peak = 0
	c.hits.Store(0)
	c.misses.Store(0)
	c.evictions.Store(0)
}

// Len returns the number of entries.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Capacity returns the maximum number of entries.
func (c *LRU[K, V]) Capacity() int {
	return c.capacity
}

// Keys returns keys from most to least recently used.
func (c *LRU[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]K, 0, c.order.Len())
	for e := c.order.Front(); e != nil; e = e.Next() {
		keys = append(keys, e.Value.(*lruEntry[K, V]).key)
	}
	return keys
}

// Stats returns a snapshot of the cache counters.
func (c *LRU[K, V]) Stats() Stats {
	c.mu.Lock()
	size, peak := c.order.Len(), c.peak
	c.mu.Unlock()

	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Size:      size,
		Capacity:  c.capacity,
		Peak:      peak,
	}
}

// evictOldest removes the least recently used entry.
// Caller must hold the lock.
func (c *LRU[K, V]) evictOldest() bool {
	elem := c.order.Back()
	if elem == nil {
		return false
	}
	entry := c.removeElement(elem)
	c.evictions.Add(1)
	if c.onEvict != nil {
		c.onEvict(entry.key, entry.value)
	}
	return true
}

// removeElement removes an element from both the list and map.
// Caller must hold the lock.
func (c *LRU[K, V]) removeElement(elem *list.Element) *lruEntry[K, V] {
	c.order.Remove(elem)
	entry := elem.Value.(*lruEntry[K, V])
	delete(c.items, entry.key)
	return entry
}
