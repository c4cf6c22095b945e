// ABOUTME: TTL-bounded cache of recently ingested message IDs
// ABOUTME: Fast-path duplicate suppression ahead of the store upsert

package dedupe

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"
)

const sweepInterval = time.Minute

type entry struct {
	seenAt  time.Time
	element *list.Element
}

// Cache tracks canonical message IDs seen within a sliding window. It
// sits in front of the store so reconnect storms and long-poll replays
// are rejected without touching the database; the store upsert remains
// the correctness backstop once entries age out. Insertion order is
// kept in a linked list for O(1) capacity eviction.
type Cache struct {
	mu     sync.RWMutex
	recent map[string]*entry
	order  *list.List
	window time.Duration
	cap    int
	hits   atomic.Int64
	done   chan struct{}
	closed bool
}

// New creates a cache that remembers IDs for the given window, holding
// at most cap entries. A background goroutine sweeps expired entries.
func New(window time.Duration, cap int) *Cache {
	c := &Cache{
		recent: make(map[string]*entry),
		order:  list.New(),
		window: window,
		cap:    cap,
		done:   make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Observe atomically records an ID and reports whether it was already
// present and unexpired. True means duplicate: the caller skips the
// message entirely.
func (c *Cache) Observe(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.recent[id]; ok && time.Since(e.seenAt) < c.window {
		c.hits.Add(1)
		return true
	}

	c.recordLocked(id)
	return false
}

// Contains reports whether an ID is present and unexpired, without
// recording it.
func (c *Cache) Contains(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.recent[id]
	return ok && time.Since(e.seenAt) < c.window
}

// Hits reports how many duplicates Observe has rejected.
func (c *Cache) Hits() int64 {
	return c.hits.Load()
}

// Len reports the number of tracked IDs, including expired entries not
// yet swept.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.recent)
}

// recordLocked inserts or refreshes an ID. Must be called with mu held.
func (c *Cache) recordLocked(id string) {
	now := time.Now()

	if e, ok := c.recent[id]; ok {
		e.seenAt = now
		c.order.MoveToBack(e.element)
		return
	}

	if len(c.recent) >= c.cap {
		c.evictOldestLocked()
	}

	elem := c.order.PushBack(id)
	c.recent[id] = &entry{seenAt: now, element: elem}
}

func (c *Cache) evictOldestLocked() {
	front := c.order.Front()
	if front == nil {
		return
	}
	id, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.recent, id)
}

func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for id, e := range c.recent {
		if now.Sub(e.seenAt) > c.window {
			c.order.Remove(e.element)
			delete(c.recent, id)
		}
	}
}

// Close stops the sweep goroutine. Safe to call more than once.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
