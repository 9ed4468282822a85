package memory

import (
	"context"
	"sync"
	"time"

	"github.com/DMarby/imageservice-client/cache"
)

type entry struct {
	data    []byte
	expires time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expires.IsZero() && !now.Before(e.expires)
}

// Provider implements a simple in-memory cache with per-entry expiry
type Provider struct {
	cache map[string]entry
	mutex sync.RWMutex
}

// New returns a new Provider instance
func New() *Provider {
	return &Provider{
		cache: make(map[string]entry),
	}
}

// Get returns an object from the cache if it exists and has not expired
func (p *Provider) Get(ctx context.Context, key string) (data []byte, err error) {
	p.mutex.RLock()
	e, exists := p.cache[key]
	p.mutex.RUnlock()

	if !exists {
		return nil, cache.ErrNotFound
	}

	if e.expired(time.Now()) {
		p.mutex.Lock()
		// Re-check, the entry may have been replaced since it was read
		if current, ok := p.cache[key]; ok && current.expired(time.Now()) {
			delete(p.cache, key)
		}
		p.mutex.Unlock()

		return nil, cache.ErrNotFound
	}

	return e.data, nil
}

// Set adds an object to the cache
func (p *Provider) Set(ctx context.Context, key string, data []byte, ttl time.Duration) (err error) {
	e := entry{data: data}
	if ttl > 0 {
		e.expires = time.Now().Add(ttl)
	}

	p.mutex.Lock()
	p.cache[key] = e
	p.mutex.Unlock()

	return nil
}

// Shutdown shuts down the cache
func (p *Provider) Shutdown() {}
