package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/DMarby/imageservice-client/cache"
	"github.com/DMarby/imageservice-client/cache/lru"
	"github.com/DMarby/imageservice-client/cache/memcached"
	"github.com/DMarby/imageservice-client/cache/memory"
	"github.com/DMarby/imageservice-client/cache/redis"
	"github.com/DMarby/imageservice-client/config"
	"github.com/DMarby/imageservice-client/imageservice"
	"github.com/DMarby/imageservice-client/imageservice/remote"
	"github.com/DMarby/imageservice-client/imageservice/selector"
	"github.com/DMarby/imageservice-client/logger"
	"github.com/DMarby/imageservice-client/tracing"
	"github.com/DMarby/imageservice-client/transport"

	"github.com/jamiealquiza/envy"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const serviceName = "image-service-client"

// Comandline flags
var (
	// Global
	loglevel      = zap.LevelFlag("log-level", zap.WarnLevel, "log level (default \"warn\") (debug, info, warn, error, dpanic, panic, fatal)")
	enableTracing = flag.Bool("tracing", false, "export traces over OTLP, configured through the OTEL_EXPORTER_OTLP_* environment variables")

	// Adapter
	adapter = flag.String("adapter", config.AdapterImageService, "which adapter to use (imageservice, local)")

	// Adapter - Image service
	baseURL         = flag.String("base-url", "", "image service base url")
	container       = flag.String("container", "", "image service container (system name)")
	auth            = flag.String("auth", string(transport.AuthNone), "image service authentication (none, oauth1, oauth2)")
	authURL         = flag.String("auth-url", "", "oauth2 token url for the client credentials grant")
	authKey         = flag.String("auth-key", "", "oauth1 consumer key or oauth2 client id")
	authSecret      = flag.String("auth-secret", "", "oauth1 consumer secret or oauth2 client secret")
	authToken       = flag.String("auth-token", "", "oauth1 token or static oauth2 bearer token")
	authTokenSecret = flag.String("auth-token-secret", "", "oauth1 token secret")
	concurrency     = flag.Int("concurrency", remote.DefaultConcurrency, "maximum concurrent hosting url requests")
	timeout         = flag.Duration("timeout", transport.DefaultTimeout, "image service request timeout")
	allowedRoots    = flag.String("allowed-roots", os.TempDir(), "comma separated directories files may be stored from")

	// Adapter - Local
	diskDriver         = flag.String("disk", config.DriverFile, "which disk to use for the local adapter (file, spaces)")
	diskPath           = flag.String("disk-file-path", "./storage", "path to the file disk")
	diskURL            = flag.String("disk-url", "http://localhost:8080", "public base url of stored images")
	diskSpace          = flag.String("disk-spaces-space", "", "digitalocean space to use")
	diskEndpoint       = flag.String("disk-spaces-endpoint", "", "spaces endpoint")
	diskRegion         = flag.String("disk-spaces-region", "", "spaces region")
	diskAccessKey      = flag.String("disk-spaces-access-key", "", "spaces access key")
	diskSecretKey      = flag.String("disk-spaces-secret-key", "", "spaces secret key")
	diskForcePathStyle = flag.Bool("disk-spaces-force-path-style", false, "use path style urls for spaces")

	// Cache
	cacheBackend = flag.String("cache", "memory", "which cache backend to use (memory, lru, redis, memcached)")
	cacheTTL     = flag.Duration("cache-ttl", remote.DefaultCacheTTL, "how long hosting urls are cached")

	// Cache - LRU
	cacheLRUSize = flag.Int("cache-lru-size", 10000, "maximum number of cached hosting urls")

	// Cache - Redis
	cacheRedisAddress  = flag.String("cache-redis-address", "redis://127.0.0.1:6379", "redis address, may contain authentication details")
	cacheRedisPoolSize = flag.Int("cache-redis-pool-size", 10, "redis connection pool size")

	// Cache - Memcached
	cacheMemcachedAddresses    = flag.String("cache-memcached-addresses", "127.0.0.1:11211", "comma separated memcached addresses")
	cacheMemcachedTimeout      = flag.Duration("cache-memcached-timeout", time.Second, "memcached operation timeout")
	cacheMemcachedMaxIdleConns = flag.Int("cache-memcached-max-idle-conns", 10, "memcached idle connections per address")

	// Hosting url parameters
	maxWidth      = flag.Int("max-width", 0, "maximum width of the rendered image")
	maxHeight     = flag.Int("max-height", 0, "maximum height of the rendered image")
	cropX         = flag.Int("crop-x", 0, "crop rectangle x offset")
	cropY         = flag.Int("crop-y", 0, "crop rectangle y offset")
	cropWidth     = flag.Int("crop-width", 0, "crop rectangle width")
	cropHeight    = flag.Int("crop-height", 0, "crop rectangle height")
	expireMinutes = flag.Int("expire-minutes", 0, "how long the hosting url should be cached, in minutes")

	// Serve
	listen             = flag.String("listen", ":8080", "listen address for serving local images")
	metricsListen      = flag.String("metrics-listen", "127.0.0.1:8082", "metrics listen address")
	healthCheckImageID = flag.String("health-check-image-id", "", "image ID to request from the image service to check its health")
)

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), `Usage: %s [flags] <command> [arguments]

Commands:
  store <path>             store a file and print the image
  get <id>                 print an image
  delete <id>              delete an image
  list                     list the images in the container (image service only)
  url <id>                 print the hosting url of an image
  urls <id>...             print the hosting urls of several images
  load <id> <destination>  download an image
  serve                    serve local images, metrics and health checks

Flags:
`, os.Args[0])
	flag.PrintDefaults()
}

func main() {
	// Parse environment variables
	envy.Parse("IMAGESERVICE")

	// Parse commandline flags
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	// Initialize the logger, stdout is reserved for command output
	log := logger.NewWithOutput(*loglevel, zapcore.Lock(os.Stderr), zapcore.Lock(os.Stderr))
	defer log.Sync()

	// Set GOMAXPROCS
	maxprocs.Set(maxprocs.Logger(log.Debugf))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize tracing
	tracer := tracing.NewNoop(log, serviceName)
	if *enableTracing {
		var err error
		tracer, err = tracing.New(ctx, log, serviceName)
		if err != nil {
			log.Fatalf("error initializing tracing: %s", err)
		}
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		tracer.Shutdown(shutdownCtx)
	}()

	// Initialize the cache
	cacheProvider, err := setupCache(ctx, tracer)
	if err != nil {
		log.Fatalf("error initializing cache: %s", err)
	}
	defer cacheProvider.Shutdown()

	// Initialize the image service
	cfg := buildConfig()
	service, err := selector.New(ctx, cfg, selector.Dependencies{
		Cache:  cacheProvider,
		Log:    log,
		Tracer: tracer,
	})
	if err != nil {
		log.Fatalf("error initializing image service: %s", err)
	}

	cli := &CLI{
		Service: service,
		Params:  buildParams(),
		Out:     os.Stdout,
		Serve: func(ctx context.Context) error {
			return serve(ctx, log, tracer, cfg, service, cacheProvider)
		},
	}

	if err := cli.Run(ctx, flag.Args()); err != nil {
		log.Sync()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildConfig() config.Config {
	return config.Config{
		Adapter:         *adapter,
		BaseURL:         *baseURL,
		Auth:            transport.Auth(*auth),
		AuthURL:         *authURL,
		AuthKey:         *authKey,
		AuthSecret:      *authSecret,
		AuthToken:       *authToken,
		AuthTokenSecret: *authTokenSecret,
		Container:       *container,
		Disk: config.Disk{
			Driver:         *diskDriver,
			Path:           *diskPath,
			URL:            *diskURL,
			Space:          *diskSpace,
			Endpoint:       *diskEndpoint,
			Region:         *diskRegion,
			AccessKey:      *diskAccessKey,
			SecretKey:      *diskSecretKey,
			ForcePathStyle: *diskForcePathStyle,
		},
		CacheTTL:     *cacheTTL,
		Concurrency:  *concurrency,
		Timeout:      *timeout,
		AllowedRoots: splitList(*allowedRoots),
	}
}

func buildParams() *imageservice.Params {
	params := &imageservice.Params{
		MaxWidth:      *maxWidth,
		MaxHeight:     *maxHeight,
		CropX:         *cropX,
		CropY:         *cropY,
		CropWidth:     *cropWidth,
		CropHeight:    *cropHeight,
		ExpireMinutes: *expireMinutes,
	}

	if *params == (imageservice.Params{}) {
		return nil
	}

	return params
}

func setupCache(ctx context.Context, tracer *tracing.Tracer) (cache.Provider, error) {
	switch *cacheBackend {
	case "memory":
		return memory.New(), nil
	case "lru":
		return lru.New(*cacheLRUSize, *cacheTTL), nil
	case "redis":
		return redis.New(ctx, tracer, *cacheRedisAddress, *cacheRedisPoolSize)
	case "memcached":
		return memcached.New(tracer, *cacheMemcachedTimeout, *cacheMemcachedMaxIdleConns, splitList(*cacheMemcachedAddresses)...)
	default:
		return nil, fmt.Errorf("invalid cache backend %q", *cacheBackend)
	}
}

func splitList(list string) []string {
	var items []string
	for _, item := range strings.Split(list, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
