package selector_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/DMarby/imageservice-client/cache/mock"
	"github.com/DMarby/imageservice-client/config"
	"github.com/DMarby/imageservice-client/imageservice"
	"github.com/DMarby/imageservice-client/imageservice/selector"
	"github.com/DMarby/imageservice-client/logger"
	"github.com/DMarby/imageservice-client/tracing/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew(t *testing.T) {
	log := logger.New(zap.FatalLevel)
	defer log.Sync()

	deps := selector.Dependencies{
		Cache:  mock.New(nil),
		Log:    log,
		Tracer: test.Tracer(log),
	}
	ctx := context.Background()

	tests := []struct {
		name string
		cfg  config.Config
		kind imageservice.Kind
	}{
		{"image service", config.Config{Adapter: config.AdapterImageService, BaseURL: "http://localhost", Container: "test"}, imageservice.KindRemote},
		{"image service oauth2", config.Config{Adapter: config.AdapterImageService, BaseURL: "http://localhost", Container: "test", Auth: "oauth2", AuthToken: "token"}, imageservice.KindRemote},
		{"local file", config.Config{Adapter: config.AdapterLocal, Disk: config.Disk{Driver: config.DriverFile, Path: t.TempDir(), URL: "http://localhost"}}, imageservice.KindLocal},
		{"local spaces", config.Config{Adapter: config.AdapterLocal, Disk: config.Disk{Driver: config.DriverSpaces, Space: "images", Endpoint: "https://ams3.digitaloceanspaces.com", AccessKey: "key", SecretKey: "secret"}}, imageservice.KindLocal},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			service, err := selector.New(ctx, tc.cfg, deps)
			require.NoError(t, err)
			assert.Equal(t, tc.kind, service.Kind())
		})
	}

	t.Run("without cache", func(t *testing.T) {
		service, err := selector.New(ctx, config.Config{Adapter: config.AdapterImageService, BaseURL: "http://localhost", Container: "test"}, selector.Dependencies{Log: log, Tracer: test.Tracer(log)})
		require.NoError(t, err)
		assert.Equal(t, imageservice.KindRemote, service.Kind())
	})
}

func TestNewInvalid(t *testing.T) {
	log := logger.New(zap.FatalLevel)
	defer log.Sync()

	deps := selector.Dependencies{Cache: mock.New(nil), Log: log, Tracer: test.Tracer(log)}

	tests := []struct {
		name string
		cfg  config.Config
	}{
		{"unknown adapter", config.Config{Adapter: "ftp"}},
		{"missing container", config.Config{Adapter: config.AdapterImageService, BaseURL: "http://localhost"}},
		{"invalid base url", config.Config{Adapter: config.AdapterImageService, BaseURL: "localhost", Container: "test"}},
		{"missing disk path", config.Config{Adapter: config.AdapterLocal, Disk: config.Disk{Driver: config.DriverFile, Path: filepath.Join(t.TempDir(), "missing")}}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := selector.New(context.Background(), tc.cfg, deps)
			assert.ErrorIs(t, err, imageservice.ErrInvalidConfig)
		})
	}
}
