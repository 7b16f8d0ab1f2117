package cache

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/apiflow/backend/internal/domain/pipeline"
)

type tokenEntry struct {
	token     pipeline.CachedToken
	retainTil time.Time
}

// InMemoryTokenCache implements pipeline.TokenCache with a map guarded by a
// RWMutex. Entries are dropped once their retention ttl passes; a
// background loop sweeps stale entries until Close is called.
type InMemoryTokenCache struct {
	clock     clockwork.Clock
	mu        sync.RWMutex
	entries   map[string]tokenEntry
	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewInMemoryTokenCache creates the cache and starts its sweep loop.
func NewInMemoryTokenCache(clock clockwork.Clock, sweepInterval time.Duration) *InMemoryTokenCache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if sweepInterval <= 0 {
		sweepInterval = 5 * time.Minute
	}
	c := &InMemoryTokenCache{
		clock:    clock,
		entries:  make(map[string]tokenEntry),
		stopChan: make(chan struct{}),
	}
	c.wg.Add(1)
	go c.sweepLoop(sweepInterval)
	return c
}

// Get returns the token stored under key if its retention has not passed.
func (c *InMemoryTokenCache) Get(_ context.Context, key string) (pipeline.CachedToken, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok || !c.clock.Now().Before(e.retainTil) {
		return pipeline.CachedToken{}, false, nil
	}
	return e.token, true, nil
}

// Set stores token for ttl.
func (c *InMemoryTokenCache) Set(_ context.Context, key string, token pipeline.CachedToken, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = tokenEntry{token: token, retainTil: c.clock.Now().Add(ttl)}
	return nil
}

// Delete removes key.
func (c *InMemoryTokenCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)
	return nil
}

// Len returns the number of stored entries, stale ones included.
func (c *InMemoryTokenCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close stops the sweep loop. Safe to call multiple times.
func (c *InMemoryTokenCache) Close() error {
	c.closeOnce.Do(func() {
		close(c.stopChan)
		c.wg.Wait()
	})
	return nil
}

func (c *InMemoryTokenCache) sweepLoop(interval time.Duration) {
	defer c.wg.Done()

	ticker := c.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopChan:
			return
		case <-ticker.Chan():
			c.sweep()
		}
	}
}

func (c *InMemoryTokenCache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	for key, e := range c.entries {
		if !now.Before(e.retainTil) {
			delete(c.entries, key)
		}
	}
}

var _ pipeline.TokenCache = (*InMemoryTokenCache)(nil)
