// ABOUTME: Thread-safe TTL cache of seen room event ids.
// ABOUTME: Guards the relay against replayed events on sync reconnect.

package dedupe

import (
	"sync"
	"time"
)

// entry pairs a cached key with the time it was marked.
type entry struct {
	key  string
	when time.Time
}

// Cache is a TTL-based, size-limited set of seen keys. The room transport
// may redeliver events after a reconnect; marking each processed event id
// here keeps redeliveries from reaching the companion twice.
type Cache struct {
	mu      sync.Mutex
	seen    map[string]time.Time
	order   []entry // insertion order, oldest first
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a cache with the given TTL and maximum size. A background
// goroutine prunes expired entries once a minute.
func New(ttl time.Duration, maxSize int) *Cache {
	c := &Cache{
		seen:    make(map[string]time.Time),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.pruneLoop()
	return c
}

// Check reports whether key has been seen within the TTL.
func (c *Cache) Check(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	when, ok := c.seen[key]
	return ok && time.Since(when) < c.ttl
}

// CheckAndMark atomically checks whether key was seen and marks it if not.
// Returns true if the key was already seen (a duplicate).
func (c *Cache) CheckAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if when, ok := c.seen[key]; ok && time.Since(when) < c.ttl {
		return true
	}
	c.markLocked(key)
	return false
}

// Mark records key as seen.
func (c *Cache) Mark(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markLocked(key)
}

func (c *Cache) markLocked(key string) {
	if len(c.seen) >= c.maxSize {
		c.evictLocked(1)
	}
	now := time.Now()
	c.seen[key] = now
	c.order = append(c.order, entry{key: key, when: now})
}

// evictLocked drops the n oldest live entries, skipping queue entries whose
// key was since re-marked with a newer timestamp.
func (c *Cache) evictLocked(n int) {
	for n > 0 && len(c.order) > 0 {
		head := c.order[0]
		c.order = c.order[1:]
		if when, ok := c.seen[head.key]; ok && when.Equal(head.when) {
			delete(c.seen, head.key)
			n--
		}
	}
}

func (c *Cache) pruneLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.prune()
		case <-c.done:
			return
		}
	}
}

func (c *Cache) prune() {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := time.Now().Add(-c.ttl)
	var kept []entry
	for _, e := range c.order {
		when, ok := c.seen[e.key]
		if !ok || !when.Equal(e.when) {
			continue // stale queue entry
		}
		if when.Before(cutoff) {
			delete(c.seen, e.key)
			continue
		}
		kept = append(kept, e)
	}
	c.order = kept
}

// Close stops the background pruner. Safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
