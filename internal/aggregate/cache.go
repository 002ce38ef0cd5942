package aggregate

import (
	"log/slog"
	"sync"
	"time"

	"github.com/groblegark/arbiter/internal/model"
)

// DefaultTTL is how long an assessment stays cached.
const DefaultTTL = 300 * time.Second

// Cache holds computed assessments by session ID. Entries expire after the
// TTL; a background reaper evicts them so the map cannot grow without bound.
type Cache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]cacheEntry
	gens    map[string]uint64
	now     func() time.Time

	reaperStop chan struct{}
	reaperDone chan struct{}
}

type cacheEntry struct {
	assessment *model.Assessment
	expires    time.Time
}

// NewCache creates a cache. A non-positive ttl selects DefaultTTL.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		gens:    make(map[string]uint64),
		now:     time.Now,
	}
}

// Get returns a copy of the cached assessment if it has not expired.
func (c *Cache) Get(sessionID string) (*model.Assessment, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[sessionID]
	if !ok || !c.now().Before(e.expires) {
		return nil, false
	}
	cp := *e.assessment
	return &cp, true
}

// Generation returns the invalidation count of sessionID. Read it before
// computing an assessment and hand it to Put.
func (c *Cache) Generation(sessionID string) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gens[sessionID]
}

// Put stores a for its session unless the session was invalidated since
// gen was read. It reports whether a was stored.
func (c *Cache) Put(a *model.Assessment, gen uint64) bool {
	cp := *a
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[a.SessionID] != gen {
		return false
	}
	c.entries[a.SessionID] = cacheEntry{assessment: &cp, expires: c.now().Add(c.ttl)}
	return true
}

// Invalidate drops the entry for sessionID and bumps its generation so an
// assessment computed before the call is not cached.
func (c *Cache) Invalidate(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, sessionID)
	c.gens[sessionID]++
}

// Len returns the number of entries, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// StartReaper launches a goroutine that evicts expired entries every
// interval (the TTL when interval is zero). Call Stop to shut it down.
func (c *Cache) StartReaper(interval time.Duration) {
	if interval <= 0 {
		interval = c.ttl
	}
	c.reaperStop = make(chan struct{})
	c.reaperDone = make(chan struct{})
	go c.reapLoop(interval)
}

// Stop shuts down the reaper.
func (c *Cache) Stop() {
	if c.reaperStop != nil {
		close(c.reaperStop)
		<-c.reaperDone
		c.reaperStop = nil
		c.reaperDone = nil
	}
}

func (c *Cache) reapLoop(interval time.Duration) {
	defer close(c.reaperDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.reaperStop:
			return
		case <-ticker.C:
			if n := c.sweep(); n > 0 {
				slog.Debug("assessment cache: evicted expired entries", "count", n)
			}
		}
	}
}

func (c *Cache) sweep() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for id, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, id)
			n++
		}
	}
	return n
}
