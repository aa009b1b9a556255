// Package cache is an in-memory, fingerprint-keyed response cache with TTL
// expiry. Entries expire lazily at lookup; a periodic sweep bounds memory.
// The cache is an optimization only: every miss falls through to dispatch.
package cache

import (
	"sync"
	"sync/atomic"
	"time"
)

const shardCount = 16

// Cache maps request fingerprints to cached responses. Keys are sharded so
// unrelated fingerprints do not contend on one lock.
type Cache struct {
	shards [shardCount]shard
	ttl    time.Duration
	hits   atomic.Int64
	misses atomic.Int64

	now func() time.Time
}

type shard struct {
	mu      sync.Mutex
	entries map[string]entry
}

type entry struct {
	payload   []byte
	createdAt time.Time
	ttl       time.Duration
}

// New creates a Cache with the given default TTL.
func New(ttl time.Duration) *Cache {
	c := &Cache{ttl: ttl, now: time.Now}
	for i := range c.shards {
		c.shards[i].entries = make(map[string]entry)
	}
	return c
}

func (c *Cache) shard(fingerprint string) *shard {
	// Fingerprints are hex digests: decoding the leading digit spreads
	// keys across all 16 shards. Raw byte values would leave the shards
	// above 9 unused.
	if fingerprint == "" {
		return &c.shards[0]
	}
	b := fingerprint[0]
	switch {
	case b >= '0' && b <= '9':
		b -= '0'
	case b >= 'a' && b <= 'f':
		b = b - 'a' + 10
	default:
		b %= shardCount
	}
	return &c.shards[b]
}

// Lookup returns the cached payload for a fingerprint, or false on a miss.
// An expired entry counts as a miss and is dropped.
func (c *Cache) Lookup(fingerprint string) ([]byte, bool) {
	s := c.shard(fingerprint)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[fingerprint]
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	if c.now().Sub(e.createdAt) > e.ttl {
		delete(s.entries, fingerprint)
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return e.payload, true
}

// Store saves a response payload under a fingerprint with the default TTL.
// A later store for the same fingerprint overwrites the earlier one.
func (c *Cache) Store(fingerprint string, payload []byte) {
	c.StoreTTL(fingerprint, payload, c.ttl)
}

// StoreTTL saves a payload with an explicit TTL.
func (c *Cache) StoreTTL(fingerprint string, payload []byte, ttl time.Duration) {
	s := c.shard(fingerprint)
	s.mu.Lock()
	s.entries[fingerprint] = entry{payload: payload, createdAt: c.now(), ttl: ttl}
	s.mu.Unlock()
}

// Sweep removes expired entries from every shard and returns the number
// removed.
func (c *Cache) Sweep() int {
	now := c.now()
	removed := 0
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		for k, e := range s.entries {
			if now.Sub(e.createdAt) > e.ttl {
				delete(s.entries, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Stats reports entry count and hit/miss counters.
func (c *Cache) Stats() (entries int, hits, misses int64) {
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		entries += len(s.entries)
		s.mu.Unlock()
	}
	return entries, c.hits.Load(), c.misses.Load()
}
