// Gametable - Realtime Presence and Room Fan-out for Tabletop Sessions
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gametable

package authz

import (
	"strings"
	"sync"
	"time"
)

// keySep separates the request fields in a cache key. Object ids contain
// '/' and ':' so neither can be used.
const keySep = "\x00"

// enforcementCache caches authorization decisions for a fixed TTL.
type enforcementCache struct {
	ttl      time.Duration
	mu       sync.RWMutex
	items    map[string]cacheItem
	stopChan chan struct{}
	stopOnce sync.Once
}

type cacheItem struct {
	allowed   bool
	expiresAt time.Time
}

func newEnforcementCache(ttl time.Duration) *enforcementCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	c := &enforcementCache{
		ttl:      ttl,
		items:    make(map[string]cacheItem),
		stopChan: make(chan struct{}),
	}
	go c.cleanup()
	return c
}

func cacheKey(subject, object, action string) string {
	return subject + keySep + object + keySep + action
}

func (c *enforcementCache) get(subject, object, action string) (allowed, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, found := c.items[cacheKey(subject, object, action)]
	if !found || time.Now().After(item.expiresAt) {
		return false, false
	}
	return item.allowed, true
}

func (c *enforcementCache) set(subject, object, action string, allowed bool) {
	c.mu.Lock()
	c.items[cacheKey(subject, object, action)] = cacheItem{
		allowed:   allowed,
		expiresAt: time.Now().Add(c.ttl),
	}
	size := len(c.items)
	c.mu.Unlock()
	AuthzCacheSize.Set(float64(size))
}

// invalidateSubject drops every decision cached for subject.
func (c *enforcementCache) invalidateSubject(subject string) {
	prefix := subject + keySep
	c.mu.Lock()
	for key := range c.items {
		if strings.HasPrefix(key, prefix) {
			delete(c.items, key)
		}
	}
	size := len(c.items)
	c.mu.Unlock()
	AuthzCacheSize.Set(float64(size))
}

func (c *enforcementCache) clear() {
	c.mu.Lock()
	c.items = make(map[string]cacheItem)
	c.mu.Unlock()
	AuthzCacheSize.Set(0)
}

func (c *enforcementCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// cleanup periodically evicts expired items until stop is called.
func (c *enforcementCache) cleanup() {
	ticker := time.NewTicker(c.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopChan:
			return
		case <-ticker.C:
			c.evictExpired(time.Now())
		}
	}
}

func (c *enforcementCache) evictExpired(now time.Time) {
	c.mu.Lock()
	evicted := 0
	for key, item := range c.items {
		if now.After(item.expiresAt) {
			delete(c.items, key)
			evicted++
		}
	}
	size := len(c.items)
	c.mu.Unlock()

	AuthzCacheEvictionsTotal.Add(float64(evicted))
	AuthzCacheSize.Set(float64(size))
}

// stop is idempotent.
func (c *enforcementCache) stop() {
	c.stopOnce.Do(func() {
		close(c.stopChan)
	})
}
