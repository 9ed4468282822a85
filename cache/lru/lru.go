// Package lru provides a size bounded in-process cache.
package lru

import (
	"context"
	"time"

	"github.com/DMarby/imageservice-client/cache"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

type entry struct {
	data    []byte
	expires time.Time
}

// Provider implements a size bounded cache that evicts the least recently used entries.
// maxAge caps the lifetime of every entry, while the ttl passed to Set may shorten it.
type Provider struct {
	lru *expirable.LRU[string, entry]
}

// New returns a new Provider holding at most size entries, each living at most maxAge (0 for no cap)
func New(size int, maxAge time.Duration) *Provider {
	return &Provider{
		lru: expirable.NewLRU[string, entry](size, nil, maxAge),
	}
}

// Get returns an object from the cache if it exists and has not expired
func (p *Provider) Get(ctx context.Context, key string) (data []byte, err error) {
	e, ok := p.lru.Get(key)
	if !ok {
		return nil, cache.ErrNotFound
	}

	if !e.expires.IsZero() && !time.Now().Before(e.expires) {
		p.lru.Remove(key)
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

	p.lru.Add(key, e)
	return nil
}

// Len returns the number of entries in the cache, including expired ones not yet evicted
func (p *Provider) Len() int {
	return p.lru.Len()
}

// Shutdown purges the cache
func (p *Provider) Shutdown() {
	p.lru.Purge()
}
