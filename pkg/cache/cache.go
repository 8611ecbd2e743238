// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package cache provides the TTL-bounded key/value store used for the token
// revocation list and for web-resource lookups.
//
// Entries carry an absolute expiry. A nil or negative TTL means the entry
// never expires. Expired entries are removed by an opportunistic sweep on
// Get; memory between sweeps is not bounded, but an expired entry is never
// returned.
package cache

import (
	"sync"
	"time"
)

// Cache is a concurrent TTL key/value store.
type Cache[V any] interface {
	// Put stores value under key. ttl nil or negative means never expire.
	Put(key string, value V, ttl *time.Duration)
	// Get sweeps expired entries and returns the live value for key.
	Get(key string) (V, bool)
	// Delete removes key and returns the value it held, if any.
	Delete(key string) (V, bool)
	// Len returns the number of stored entries, including ones that have
	// expired but not yet been swept.
	Len() int
}

// TTL returns a pointer to d, for use with Put.
func TTL(d time.Duration) *time.Duration {
	return &d
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
	forever   bool
}

func (e entry[V]) expired(now time.Time) bool {
	return !e.forever && e.expiresAt.Before(now)
}

// Local is an in-process Cache.
type Local[V any] struct {
	mu      sync.Mutex
	entries map[string]entry[V]
	now     func() time.Time
	metrics *Metrics
}

// Option configures a Local cache.
type Option[V any] func(*Local[V])

// WithClock replaces the time source.
func WithClock[V any](now func() time.Time) Option[V] {
	return func(c *Local[V]) {
		c.now = now
	}
}

// WithMetrics records cache activity on m.
func WithMetrics[V any](m *Metrics) Option[V] {
	return func(c *Local[V]) {
		c.metrics = m
	}
}

// NewLocal creates an empty Local cache.
func NewLocal[V any](opts ...Option[V]) *Local[V] {
	c := &Local[V]{
		entries: make(map[string]entry[V]),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Put implements Cache.
func (c *Local[V]) Put(key string, value V, ttl *time.Duration) {
	e := entry[V]{value: value}
	if ttl == nil || *ttl < 0 {
		e.forever = true
	} else {
		e.expiresAt = c.now().Add(*ttl)
	}

	c.mu.Lock()
	c.entries[key] = e
	size := len(c.entries)
	c.mu.Unlock()

	c.metrics.put(size)
}

// Get implements Cache.
func (c *Local[V]) Get(key string) (V, bool) {
	now := c.now()

	c.mu.Lock()
	evicted := 0
	for k, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, k)
			evicted++
		}
	}
	e, ok := c.entries[key]
	size := len(c.entries)
	c.mu.Unlock()

	c.metrics.evict(evicted, size)
	if !ok {
		c.metrics.miss()
		var zero V
		return zero, false
	}
	c.metrics.hit()
	return e.value, true
}

// Delete implements Cache.
func (c *Local[V]) Delete(key string) (V, bool) {
	c.mu.Lock()
	e, ok := c.entries[key]
	delete(c.entries, key)
	size := len(c.entries)
	c.mu.Unlock()

	c.metrics.del(size)
	if !ok || e.expired(c.now()) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Len implements Cache.
func (c *Local[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
