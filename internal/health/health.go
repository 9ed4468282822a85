package health

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/DMarby/imageservice-client/cache"
	"github.com/DMarby/imageservice-client/imageservice"
	"github.com/DMarby/imageservice-client/logger"
	"github.com/DMarby/imageservice-client/storage"
)

const checkInterval = 10 * time.Second
const checkTimeout = 8 * time.Second

// Key used to probe the cache and the storage, it is never written
const probeKey = "healthcheck"

// Checker is a periodic health checker
type Checker struct {
	Ctx     context.Context
	Service imageservice.Service
	ImageID string // Image ID to get from the image service. Only needed for checking the image service health
	Cache   cache.Provider
	Storage storage.Provider
	status  Status
	mutex   sync.RWMutex
	Log     *logger.Logger
}

// Status contains the healtcheck status
type Status struct {
	Healthy bool   `json:"healthy"`
	Cache   string `json:"cache,omitempty"`
	Service string `json:"service,omitempty"`
	Storage string `json:"storage,omitempty"`
}

// Run starts the health checker
func (c *Checker) Run() {
	ticker := time.NewTicker(checkInterval)
	go func() {
		for {
			select {
			case <-ticker.C:
				c.runCheck()
			case <-c.Ctx.Done():
				ticker.Stop()
				return
			}
		}
	}()

	c.runCheck()
}

// Status returns the status of the health checks
func (c *Checker) Status() Status {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return c.status
}

func (c *Checker) unknownStatus(healthy bool) Status {
	status := Status{
		Healthy: healthy,
	}
	if c.Cache != nil {
		status.Cache = "unknown"
	}
	if c.checksService() {
		status.Service = "unknown"
	}
	if c.Storage != nil {
		status.Storage = "unknown"
	}
	return status
}

func (c *Checker) checksService() bool {
	return c.Service != nil && c.ImageID != ""
}

func (c *Checker) runCheck() {
	ctx, cancel := context.WithTimeout(c.Ctx, checkTimeout)
	defer cancel()

	channel := make(chan Status, 1)
	go func() {
		c.check(ctx, channel)
	}()

	select {
	case <-ctx.Done():
		c.mutex.Lock()
		c.status = c.unknownStatus(false)
		c.mutex.Unlock()
		c.Log.Errorw("healthcheck timed out")
	case status, ok := <-channel:
		if !ok {
			status = c.unknownStatus(false)
		}

		c.mutex.Lock()
		c.status = status
		c.mutex.Unlock()
		if !status.Healthy {
			c.Log.Errorw("healthcheck error",
				"status", status,
			)
		}
	}
}

func (c *Checker) check(ctx context.Context, channel chan Status) {
	defer close(channel)

	if ctx.Err() != nil {
		return
	}

	status := c.unknownStatus(true)

	if c.Cache != nil {
		if _, err := c.Cache.Get(ctx, probeKey); !errors.Is(err, cache.ErrNotFound) {
			status.Healthy = false
			status.Cache = "unhealthy"
		} else {
			status.Cache = "healthy"
		}
	}

	if ctx.Err() != nil {
		return
	}

	if c.checksService() {
		if _, err := c.Service.Get(ctx, c.ImageID); err != nil {
			status.Healthy = false
			status.Service = "unhealthy"
		} else {
			status.Service = "healthy"
		}
	}

	if ctx.Err() != nil {
		return
	}

	if c.Storage != nil {
		if _, err := storage.Exists(ctx, c.Storage, probeKey); err != nil {
			status.Healthy = false
			status.Storage = "unhealthy"
		} else {
			status.Storage = "healthy"
		}
	}

	channel <- status
}
