package docstore

import (
	"sync"
	"time"

	"github.com/nowtrending/nowtrending/internal/trends"
)

// Clock returns the current time. Injected so tests control cache age.
type Clock func() time.Time

// Cache holds the last loaded or saved document for a bounded time.
// Construct one per process and share it between handlers.
type Cache struct {
	mu       sync.RWMutex
	doc      *trends.Document
	storedAt time.Time
	ttl      time.Duration
	now      Clock
}

// NewCache creates a cache with the given freshness window. A nil clock
// means time.Now.
func NewCache(ttl time.Duration, now Clock) *Cache {
	if now == nil {
		now = time.Now
	}
	return &Cache{ttl: ttl, now: now}
}

// Get returns a private copy of the cached document if it is still fresh.
func (c *Cache) Get() (*trends.Document, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.doc == nil || c.now().Sub(c.storedAt) >= c.ttl {
		return nil, false
	}
	return c.doc.Clone(), true
}

// Set stores a copy of doc and restarts the freshness window.
func (c *Cache) Set(doc *trends.Document) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.doc = doc.Clone()
	c.storedAt = c.now()
}

// Invalidate drops the cached document.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.doc = nil
	c.storedAt = time.Time{}
}

// Age reports how old the cached document is, and false when empty.
func (c *Cache) Age() (time.Duration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.doc == nil {
		return 0, false
	}
	return c.now().Sub(c.storedAt), true
}
