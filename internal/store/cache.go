package store

import (
	"context"
	"strings"
	"sync"
	"time"
)

// PersonaLister is the read side of the persona reference table.
type PersonaLister interface {
	ListPersonas(ctx context.Context) ([]Persona, error)
}

// PersonaCache is a read-through TTL cache over the persona table. Personas
// are immutable reference data, so serving a stale set is always safe: on a
// read error past expiry the last-known-good set is returned, and callers
// never see an error.
type PersonaCache struct {
	source PersonaLister
	ttl    time.Duration
	now    func() time.Time

	mu        sync.RWMutex
	cached    []Persona
	fetchedAt time.Time
}

func NewPersonaCache(source PersonaLister, ttl time.Duration) *PersonaCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &PersonaCache{source: source, ttl: ttl, now: time.Now}
}

// Personas returns the cached set, refreshing it on expiry. Never errors:
// a failed refresh falls back to the previous cache, or an empty list when
// nothing was ever loaded.
func (c *PersonaCache) Personas(ctx context.Context) []Persona {
	c.mu.RLock()
	fresh := c.cached != nil && c.now().Sub(c.fetchedAt) < c.ttl
	cached := c.cached
	c.mu.RUnlock()
	if fresh {
		return cached
	}

	loaded, err := c.source.ListPersonas(ctx)
	if err != nil {
		c.mu.RLock()
		defer c.mu.RUnlock()
		if c.cached != nil {
			return c.cached
		}
		return []Persona{}
	}

	c.mu.Lock()
	c.cached = loaded
	c.fetchedAt = c.now()
	c.mu.Unlock()
	return loaded
}

// ByID looks up a persona within the cached set.
func (c *PersonaCache) ByID(ctx context.Context, id string) (Persona, bool) {
	for _, p := range c.Personas(ctx) {
		if p.ID == id {
			return p, true
		}
	}
	return Persona{}, false
}

// ByName looks up a persona by case-insensitive name within the cached set.
func (c *PersonaCache) ByName(ctx context.Context, name string) (Persona, bool) {
	for _, p := range c.Personas(ctx) {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return Persona{}, false
}
