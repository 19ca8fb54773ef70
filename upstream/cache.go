package upstream

import (
	"sync"
	"time"

	"github.com/pypigo/pypigo"
)

type cacheEntry struct {
	releases []pypigo.UpstreamRelease
	expires  time.Time
}

// timedCache is a small TTL cache for release listings. Expired entries are
// dropped lazily on read and on write.
type timedCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry
}

func newTimedCache(ttl time.Duration) *timedCache {
	return &timedCache{ttl: ttl, entries: make(map[string]cacheEntry)}
}

func (c *timedCache) get(name string) ([]pypigo.UpstreamRelease, bool) {
	if c.ttl < 0 {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[name]
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expires) {
		delete(c.entries, name)
		return nil, false
	}
	return entry.releases, true
}

func (c *timedCache) put(name string, releases []pypigo.UpstreamRelease) {
	if c.ttl < 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for key, entry := range c.entries {
		if now.After(entry.expires) {
			delete(c.entries, key)
		}
	}
	c.entries[name] = cacheEntry{releases: releases, expires: now.Add(c.ttl)}
}
