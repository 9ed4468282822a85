// Package selector builds the imageservice.Service for a configuration
package selector

import (
	"context"
	"fmt"
	"net/http"

	"github.com/DMarby/imageservice-client/cache"
	"github.com/DMarby/imageservice-client/cache/memory"
	"github.com/DMarby/imageservice-client/config"
	"github.com/DMarby/imageservice-client/imageservice"
	"github.com/DMarby/imageservice-client/imageservice/local"
	"github.com/DMarby/imageservice-client/imageservice/remote"
	"github.com/DMarby/imageservice-client/logger"
	"github.com/DMarby/imageservice-client/storage"
	"github.com/DMarby/imageservice-client/storage/file"
	"github.com/DMarby/imageservice-client/storage/spaces"
	"github.com/DMarby/imageservice-client/tracing"
	"github.com/DMarby/imageservice-client/transport"
)

// Dependencies are the collaborators shared by the adapters
type Dependencies struct {
	// Cache for hosting urls, an in-memory cache is used if nil
	Cache cache.Provider
	// HTTPClient overrides the client built from the configuration
	HTTPClient *http.Client

	Log    *logger.Logger
	Tracer *tracing.Tracer
}

// New returns the adapter selected by cfg.Adapter
func New(ctx context.Context, cfg config.Config, deps Dependencies) (imageservice.Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Adapter {
	case config.AdapterImageService:
		return newRemote(ctx, cfg, deps)
	case config.AdapterLocal:
		store, err := Storage(cfg.Disk)
		if err != nil {
			return nil, err
		}

		return local.New(store, deps.Log, deps.Tracer), nil
	default:
		return nil, fmt.Errorf("%w: unknown adapter %q", imageservice.ErrInvalidConfig, cfg.Adapter)
	}
}

func newRemote(ctx context.Context, cfg config.Config, deps Dependencies) (*remote.Adapter, error) {
	client := deps.HTTPClient
	if client == nil {
		var err error
		client, err = transport.NewHTTPClient(ctx, cfg.Transport(), deps.Tracer)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", imageservice.ErrInvalidConfig, err)
		}
	}

	cacheProvider := deps.Cache
	if cacheProvider == nil {
		cacheProvider = memory.New()
	}

	return remote.New(client, cacheProvider, remote.Config{
		BaseURL:      cfg.BaseURL,
		Container:    cfg.Container,
		CacheTTL:     cfg.CacheTTL,
		Concurrency:  cfg.Concurrency,
		AllowedRoots: cfg.AllowedRoots,
	}, deps.Log, deps.Tracer)
}

// Storage returns the storage provider for a disk configuration
func Storage(disk config.Disk) (storage.Provider, error) {
	switch disk.Driver {
	case config.DriverFile:
		store, err := file.New(disk.Path, disk.URL)
		if err != nil {
			return nil, fmt.Errorf("%w: disk path: %w", imageservice.ErrInvalidConfig, err)
		}
		return store, nil
	case config.DriverSpaces:
		store, err := spaces.New(disk.Space, disk.Endpoint, disk.Region, disk.AccessKey, disk.SecretKey, disk.URL, disk.ForcePathStyle)
		if err != nil {
			return nil, fmt.Errorf("%w: spaces: %w", imageservice.ErrInvalidConfig, err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("%w: unknown disk driver %q", imageservice.ErrInvalidConfig, disk.Driver)
	}
}
