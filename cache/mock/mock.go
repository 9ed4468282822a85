package mock

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/DMarby/imageservice-client/cache"
)

// Provider is a mock cache that records calls.
// Keys containing "geterror" fail on Get, keys containing "seterror" fail on Set.
type Provider struct {
	mu   sync.Mutex
	data map[string][]byte
	ttls map[string]time.Duration

	gets map[string]int
	sets map[string]int
}

// New returns a new mock Provider, preloaded with the given entries
func New(entries map[string]string) *Provider {
	p := &Provider{
		data: make(map[string][]byte),
		ttls: make(map[string]time.Duration),
		gets: make(map[string]int),
		sets: make(map[string]int),
	}

	for k, v := range entries {
		p.data[k] = []byte(v)
	}

	return p
}

// Get returns an object from the cache if it exists
func (p *Provider) Get(ctx context.Context, key string) (data []byte, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.gets[key]++

	if strings.Contains(key, "geterror") {
		return nil, fmt.Errorf("geterror")
	}

	data, ok := p.data[key]
	if !ok {
		return nil, cache.ErrNotFound
	}

	return data, nil
}

// Set adds an object to the cache
func (p *Provider) Set(ctx context.Context, key string, data []byte, ttl time.Duration) (err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.sets[key]++

	if strings.Contains(key, "seterror") {
		return fmt.Errorf("seterror")
	}

	p.data[key] = data
	p.ttls[key] = ttl
	return nil
}

// Shutdown shuts down the cache
func (p *Provider) Shutdown() {}

// Gets returns how many times Get was called for key
func (p *Provider) Gets(key string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gets[key]
}

// Sets returns how many times Set was called for key
func (p *Provider) Sets(key string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sets[key]
}

// TTL returns the ttl key was last stored with
func (p *Provider) TTL(key string) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ttls[key]
}

// Value returns the stored value for key, and whether it exists
func (p *Provider) Value(key string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.data[key]
	return string(v), ok
}
