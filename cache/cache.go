package cache

import (
	"context"
	"errors"
	"time"

	"github.com/DMarby/imageservice-client/logger"
	"github.com/DMarby/imageservice-client/tracing"
	"golang.org/x/sync/singleflight"
)

// Provider is an interface for getting and setting cached objects
type Provider interface {
	// Get returns ErrNotFound if the key does not exist or has expired
	Get(ctx context.Context, key string) (data []byte, err error)
	// Set stores data under key for ttl, a ttl <= 0 never expires
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) (err error)
	Shutdown()
}

// Has reports whether key exists in the cache
func Has(ctx context.Context, p Provider, key string) (bool, error) {
	_, err := p.Get(ctx, key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// LoaderFunc is a function for loading data into a cache
type LoaderFunc func(ctx context.Context, key string) (data []byte, err error)

// Auto is a read-through cache that loads objects that don't exist using a per-call loader
type Auto struct {
	Provider    Provider
	Tracer      *tracing.Tracer
	Log         *logger.Logger
	lookupGroup singleflight.Group
}

// Get returns an object from the cache if it exists, otherwise it loads it, stores it for ttl and returns it.
// Empty cached objects count as a miss.
// cached reports whether the object came from the cache.
func (a *Auto) Get(ctx context.Context, key string, ttl time.Duration, loader LoaderFunc) (data []byte, cached bool, err error) {
	ctx, span := a.Tracer.Start(ctx, "cache.Auto.Get")
	defer span.End()

	data, err = a.Provider.Get(ctx, key)
	switch {
	case err == nil && len(data) > 0:
		return data, true, nil
	case err != nil && !errors.Is(err, ErrNotFound):
		// A broken cache degrades to a miss
		a.Log.Warnw("error reading from cache", "key", key, "error", err)
	}

	// Use singleflight to avoid concurrent requests for the same key.
	// The shared load outlives any single caller, each caller only waits as long as its own ctx allows.
	loadCtx := context.WithoutCancel(ctx)
	results := a.lookupGroup.DoChan(key, func() (interface{}, error) {
		data, err := loader(loadCtx, key)
		if err != nil {
			return nil, err
		}

		if err := a.Provider.Set(loadCtx, key, data, ttl); err != nil {
			a.Log.Warnw("error writing to cache", "key", key, "error", err)
		}

		return data, nil
	})

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case result := <-results:
		if result.Err != nil {
			return nil, false, result.Err
		}

		data, _ = result.Val.([]byte)
		return data, false, nil
	}
}

// Errors
var (
	ErrNotFound = errors.New("not found in cache")
)
