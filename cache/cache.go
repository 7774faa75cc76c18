// Package cache keeps recently extracted chapter responses in memory.
package cache

import (
	"encoding/hex"
	"sync"
	"time"

	"lukechampine.com/blake3"

	"github.com/use-agent/lnfetch/models"
)

const (
	sweepInterval = 5 * time.Minute
	entryTTL      = time.Hour
)

type entry struct {
	response  *models.ChapterResponse
	createdAt time.Time
}

// Cache is an in-memory cache for chapter responses. It is safe for
// concurrent use.
type Cache struct {
	mu         sync.RWMutex
	store      map[string]*entry
	maxEntries int
	now        func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a Cache holding at most maxEntries responses. A background
// goroutine evicts entries older than an hour until Close is called.
func New(maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	c := &Cache{
		store:      make(map[string]*entry),
		maxEntries: maxEntries,
		now:        time.Now,
		stop:       make(chan struct{}),
	}

	go c.cleanupLoop()
	return c
}

// Key derives the cache key for a chapter URL and output format.
func Key(url, outputFormat string) string {
	sum := blake3.Sum256([]byte(url + "|" + outputFormat))
	return hex.EncodeToString(sum[:])
}

// Get returns a cached response younger than maxAgeMs milliseconds.
// maxAgeMs <= 0 disables the lookup.
func (c *Cache) Get(key string, maxAgeMs int) (*models.ChapterResponse, bool) {
	if maxAgeMs <= 0 {
		return nil, false
	}

	c.mu.RLock()
	e, ok := c.store[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}

	if c.now().Sub(e.createdAt) > time.Duration(maxAgeMs)*time.Millisecond {
		return nil, false
	}
	return e.response, true
}

// Set stores a successful response. At capacity, an arbitrary entry is
// evicted to make room.
func (c *Cache) Set(key string, resp *models.ChapterResponse) {
	if resp == nil || !resp.Success {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.store[key]; !exists && len(c.store) >= c.maxEntries {
		for k := range c.store {
			delete(c.store, k)
			break
		}
	}

	c.store[key] = &entry{response: resp, createdAt: c.now()}
}

// Len returns the number of cached responses.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.store)
}

// Close stops the eviction goroutine.
func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Cache) cleanupLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *Cache) sweep() {
	cutoff := c.now().Add(-entryTTL)
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.store {
		if e.createdAt.Before(cutoff) {
			delete(c.store, k)
		}
	}
}
