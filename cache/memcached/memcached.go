// Package memcached provides a cache backed by one or more memcached servers.
package memcached

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/DMarby/imageservice-client/cache"
	"github.com/DMarby/imageservice-client/tracing"
	"github.com/bradfitz/gomemcache/memcache"
	"github.com/twmb/murmur3"
)

const (
	// Keys longer than this are rejected by memcached
	maxKeyLength = 250
	// Relative expirations above 30 days are interpreted as unix timestamps by memcached
	maxRelativeExpiration = 30 * 24 * time.Hour
)

// Provider implements a memcached cache
type Provider struct {
	client *memcache.Client
	tracer *tracing.Tracer
}

// New returns a new Provider instance using a fixed list of servers
func New(tracer *tracing.Tracer, timeout time.Duration, maxIdleConns int, addresses ...string) (*Provider, error) {
	if len(addresses) == 0 {
		return nil, fmt.Errorf("no memcached servers given")
	}

	var servers memcache.ServerList
	if err := servers.SetServers(addresses...); err != nil {
		return nil, err
	}

	client := memcache.NewFromSelector(&servers)
	client.Timeout = timeout
	client.MaxIdleConns = maxIdleConns

	return &Provider{
		client: client,
		tracer: tracer,
	}, nil
}

// Get returns an object from the cache if it exists
func (p *Provider) Get(ctx context.Context, key string) (data []byte, err error) {
	_, span := p.tracer.Start(ctx, "memcached.Get")
	defer span.End()

	item, err := p.client.Get(Key(key))
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return nil, cache.ErrNotFound
		}
		return nil, err
	}

	return item.Value, nil
}

// Set adds an object to the cache
func (p *Provider) Set(ctx context.Context, key string, data []byte, ttl time.Duration) (err error) {
	_, span := p.tracer.Start(ctx, "memcached.Set")
	defer span.End()

	return p.client.Set(&memcache.Item{
		Key:        Key(key),
		Value:      data,
		Expiration: expiration(ttl, time.Now()),
	})
}

// Shutdown shuts down the cache
func (p *Provider) Shutdown() {
	_ = p.client.Close()
}

// Key returns a memcached safe version of key.
// Keys that are too long or contain whitespace or control characters are replaced by their murmur3 hash.
func Key(key string) string {
	if len(key) <= maxKeyLength && validKey(key) {
		return key
	}

	h1, h2 := murmur3.StringSum128(key)
	return fmt.Sprintf("murmur3:%016x%016x", h1, h2)
}

func validKey(key string) bool {
	for i := 0; i < len(key); i++ {
		if key[i] <= ' ' || key[i] == 0x7f {
			return false
		}
	}
	return true
}

func expiration(ttl time.Duration, now time.Time) int32 {
	switch {
	case ttl <= 0:
		return 0
	case ttl < time.Second:
		return 1
	case ttl > maxRelativeExpiration:
		return int32(now.Add(ttl).Unix())
	default:
		return int32(ttl / time.Second)
	}
}
