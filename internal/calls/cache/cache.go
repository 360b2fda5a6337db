// Package cache provides the short-lived in-process result cache that lets
// call waiters observe webhook-delivered outcomes without hitting the store.
// The persistent store remains the source of truth; entries here only shave
// latency off the webhook-or-poll race.
package cache

import (
	"sync"
	"time"

	"vetline_backend/internal/calls/domain"
)

const (
	defaultTTL             = 10 * time.Minute
	defaultJanitorInterval = time.Minute
)

type entry struct {
	outcome   domain.Outcome
	expiresAt time.Time
}

// ResultCache maps a platform call identifier to its (possibly partial)
// outcome. Safe for concurrent use by in-flight call waiters and the inbound
// completion listener; entries are independent so a single RWMutex suffices.
type ResultCache struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttl     time.Duration
	done    chan struct{}
	once    sync.Once
}

// New creates a cache with the default TTL and starts the eviction janitor.
func New() *ResultCache {
	return NewWithTTL(defaultTTL, defaultJanitorInterval)
}

// NewWithTTL creates a cache with explicit TTL and janitor interval.
func NewWithTTL(ttl, janitorInterval time.Duration) *ResultCache {
	c := &ResultCache{
		entries: make(map[string]entry),
		ttl:     ttl,
		done:    make(chan struct{}),
	}
	go c.janitor(janitorInterval)
	return c
}

// Set stores the outcome for a platform call id. A terminal outcome is never
// overwritten by a non-terminal one; later terminal writes for the same id
// are no-ops so the first result wins here just as it does in the store.
func (c *ResultCache) Set(callID string, outcome domain.Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[callID]; ok && existing.outcome.Status.IsTerminal() {
		return
	}
	c.entries[callID] = entry{outcome: outcome, expiresAt: time.Now().Add(c.ttl)}
}

// Get returns the cached outcome for a call id, if present and unexpired.
func (c *ResultCache) Get(callID string) (domain.Outcome, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[callID]
	if !ok || time.Now().After(e.expiresAt) {
		return domain.Outcome{}, false
	}
	return e.outcome, true
}

// GetTerminal returns the cached outcome only when it is terminal.
func (c *ResultCache) GetTerminal(callID string) (domain.Outcome, bool) {
	outcome, ok := c.Get(callID)
	if !ok || !outcome.Status.IsTerminal() {
		return domain.Outcome{}, false
	}
	return outcome, true
}

// Delete removes an entry once its waiter has consumed it.
func (c *ResultCache) Delete(callID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, callID)
}

// Len returns the number of live entries (expired entries may be counted
// until the janitor's next sweep).
func (c *ResultCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close stops the eviction janitor.
func (c *ResultCache) Close() {
	c.once.Do(func() { close(c.done) })
}

func (c *ResultCache) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for id, e := range c.entries {
				if now.After(e.expiresAt) {
					delete(c.entries, id)
				}
			}
			c.mu.Unlock()
		}
	}
}
