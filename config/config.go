// Package config holds the fully resolved configuration of the image service client
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/DMarby/imageservice-client/imageservice"
	"github.com/DMarby/imageservice-client/transport"
)

// Adapters
const (
	AdapterImageService = "imageservice"
	AdapterLocal        = "local"
)

// Disk drivers for the local adapter
const (
	DriverFile   = "file"
	DriverSpaces = "spaces"
)

// Disk configures the storage used by the local adapter
type Disk struct {
	Driver string

	// file
	Path string
	// Public base url of stored objects
	URL string

	// spaces
	Space          string
	Endpoint       string
	Region         string
	AccessKey      string
	SecretKey      string
	ForcePathStyle bool
}

// Config is the configuration of the image service client
type Config struct {
	Adapter string

	BaseURL         string
	Auth            transport.Auth
	AuthURL         string
	AuthKey         string
	AuthSecret      string
	AuthToken       string
	AuthTokenSecret string
	Container       string

	Disk Disk

	CacheTTL     time.Duration
	Concurrency  int
	Timeout      time.Duration
	AllowedRoots []string
}

// Validate checks that the configuration is complete for the selected adapter.
// All problems are reported, wrapped in imageservice.ErrInvalidConfig.
func (c *Config) Validate() error {
	var errs []error
	problem := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch c.Adapter {
	case AdapterImageService:
		if c.BaseURL == "" {
			problem("missing base url")
		}
		if c.Container == "" {
			problem("missing container")
		}

		switch c.Auth {
		case "", transport.AuthNone:
		case transport.AuthOAuth1:
			if c.AuthKey == "" || c.AuthSecret == "" {
				problem("oauth1 requires an auth key and secret")
			}
		case transport.AuthOAuth2:
			if c.AuthURL == "" && c.AuthToken == "" {
				problem("oauth2 requires an auth url or token")
			}
		default:
			problem("unknown auth %q", c.Auth)
		}
	case AdapterLocal:
		switch c.Disk.Driver {
		case DriverFile:
			if c.Disk.Path == "" {
				problem("missing disk path")
			}
		case DriverSpaces:
			if c.Disk.Space == "" {
				problem("missing disk space")
			}
		default:
			problem("unknown disk driver %q", c.Disk.Driver)
		}
	default:
		problem("unknown adapter %q", c.Adapter)
	}

	if c.CacheTTL < 0 {
		problem("negative cache ttl")
	}
	if c.Concurrency < 0 {
		problem("negative concurrency")
	}
	if c.Timeout < 0 {
		problem("negative timeout")
	}

	if len(errs) == 0 {
		return nil
	}

	return fmt.Errorf("%w: %w", imageservice.ErrInvalidConfig, errors.Join(errs...))
}

// Transport returns the http client settings for the image service adapter
func (c *Config) Transport() transport.Config {
	return transport.Config{
		Auth:            c.Auth,
		AuthURL:         c.AuthURL,
		Key:             c.AuthKey,
		Secret:          c.AuthSecret,
		Token:           c.AuthToken,
		TokenSecret:     c.AuthTokenSecret,
		Timeout:         c.Timeout,
		MaxConnsPerHost: c.Concurrency,
	}
}
