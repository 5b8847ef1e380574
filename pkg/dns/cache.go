// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package dns

import (
	"strings"
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// Entry is one cached A record.
type Entry struct {
	IPv4     string
	ExpireAt time.Time
}

// Cache stores resolved addresses per hostname and drops them once their
// record TTL has passed. Expired entries are pruned lazily on read.
type Cache struct {
	mu      sync.Mutex
	clock   clock.PassiveClock
	entries map[string][]Entry

	// Metrics for observability
	hits   uint64
	misses uint64
}

// NewCache creates an empty cache reading time from clk.
func NewCache(clk clock.PassiveClock) *Cache {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Cache{
		clock:   clk,
		entries: make(map[string][]Entry),
	}
}

// Get returns the live addresses for host in answer order. Entries with
// ExpireAt <= now are removed first; a host left with no entries is a miss.
func (c *Cache) Get(host string) ([]string, bool) {
	key := cacheKey(host)
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	live := c.entries[key][:0:0]
	for _, e := range c.entries[key] {
		if e.ExpireAt.After(now) {
			live = append(live, e)
		}
	}
	if len(live) == 0 {
		delete(c.entries, key)
		c.misses++
		return nil, false
	}
	c.entries[key] = live
	c.hits++

	addrs := make([]string, len(live))
	for i, e := range live {
		addrs[i] = e.IPv4
	}
	return addrs, true
}

// Set replaces the cached entries for host.
func (c *Cache) Set(host string, entries []Entry) {
	key := cacheKey(host)

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(entries) == 0 {
		delete(c.entries, key)
		return
	}
	c.entries[key] = append([]Entry(nil), entries...)
}

// Entries returns a copy of the raw entries for host, expired or not.
func (c *Cache) Entries(host string) []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Entry(nil), c.entries[cacheKey(host)]...)
}

// Invalidate clears the entire cache.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string][]Entry)
}

// Stats returns cache performance statistics
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return CacheStats{
		Hits:    c.hits,
		Misses:  c.misses,
		Entries: len(c.entries),
		HitRate: calculateHitRate(c.hits, c.misses),
	}
}

// CacheStats provides visibility into cache performance
type CacheStats struct {
	Hits    uint64  // Number of lookups answered from the cache
	Misses  uint64  // Number of lookups that needed the network
	Entries int     // Number of hostnames currently cached
	HitRate float64 // Cache hit rate (0.0 to 1.0)
}

func calculateHitRate(hits, misses uint64) float64 {
	total := hits + misses
	if total == 0 {
		return 0.0
	}
	return float64(hits) / float64(total)
}

func cacheKey(host string) string {
	return strings.ToLower(strings.TrimSuffix(host, "."))
}
