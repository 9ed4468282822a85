// Package remote implements imageservice.Service against the image service HTTP API
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/DMarby/imageservice-client/cache"
	"github.com/DMarby/imageservice-client/imageservice"
	"github.com/DMarby/imageservice-client/logger"
	"github.com/DMarby/imageservice-client/tracing"
	"github.com/DMarby/imageservice-client/transport"
)

// Defaults for Config
const (
	DefaultCacheTTL    = 23 * time.Hour
	DefaultConcurrency = 5
)

// Paths of the v2 image service API
const (
	containerImagesPath = "/v2/containers/%s/images"
	imagePath           = "/v2/images/%s"
	uploadPath          = "/v2/images/%s/upload"
	hostingURLPath      = "/v2/images/%s/hosting_url"
)

// Doer sends http requests, it is satisfied by *http.Client
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config configures the remote adapter
type Config struct {
	BaseURL   string
	Container string

	// How long hosting urls are cached, unless overridden by Params.ExpireMinutes
	CacheTTL time.Duration
	// Maximum number of concurrent hosting url requests per batch
	Concurrency int
	// Store only accepts files inside these directories, defaults to os.TempDir()
	AllowedRoots []string
}

// Adapter is the image service backed imageservice.Service
type Adapter struct {
	client      Doer
	cache       *cache.Auto
	baseURL     *url.URL
	ttl         time.Duration
	concurrency int
	roots       []string

	containerMutex sync.RWMutex
	container      string

	errorsMutex sync.Mutex
	errors      map[string]error

	log    *logger.Logger
	tracer *tracing.Tracer
}

// New returns a new remote adapter
func New(client Doer, cacheProvider cache.Provider, cfg Config, log *logger.Logger, tracer *tracing.Tracer) (*Adapter, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: missing base url", imageservice.ErrInvalidConfig)
	}

	baseURL, err := url.Parse(cfg.BaseURL)
	if err != nil || baseURL.Scheme == "" || baseURL.Host == "" {
		return nil, fmt.Errorf("%w: invalid base url %q", imageservice.ErrInvalidConfig, cfg.BaseURL)
	}

	if cfg.Container == "" {
		return nil, fmt.Errorf("%w: missing container", imageservice.ErrInvalidConfig)
	}

	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}

	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}

	if len(cfg.AllowedRoots) == 0 {
		cfg.AllowedRoots = []string{os.TempDir()}
	}

	roots := make([]string, 0, len(cfg.AllowedRoots))
	for _, root := range cfg.AllowedRoots {
		resolved, err := resolvePath(root)
		if err != nil {
			return nil, fmt.Errorf("%w: allowed root %q: %s", imageservice.ErrInvalidConfig, root, err)
		}
		roots = append(roots, resolved)
	}

	return &Adapter{
		client: client,
		cache: &cache.Auto{
			Provider: cacheProvider,
			Tracer:   tracer,
			Log:      log,
		},
		baseURL:     baseURL,
		ttl:         cfg.CacheTTL,
		concurrency: cfg.Concurrency,
		roots:       roots,
		container:   cfg.Container,
		errors:      make(map[string]error),
		log:         log,
		tracer:      tracer,
	}, nil
}

// Kind returns imageservice.KindRemote
func (a *Adapter) Kind() imageservice.Kind {
	return imageservice.KindRemote
}

// SetContainer changes the container new images are created in
func (a *Adapter) SetContainer(container string) {
	a.containerMutex.Lock()
	defer a.containerMutex.Unlock()

	a.container = container
}

// Container returns the container new images are created in
func (a *Adapter) Container() string {
	a.containerMutex.RLock()
	defer a.containerMutex.RUnlock()

	return a.container
}

// Errors returns the last hosting url failure for each image id
func (a *Adapter) Errors() map[string]error {
	a.errorsMutex.Lock()
	defer a.errorsMutex.Unlock()

	return maps.Clone(a.errors)
}

func (a *Adapter) recordError(id string, err error) {
	a.errorsMutex.Lock()
	defer a.errorsMutex.Unlock()

	a.errors[id] = err
}

// fail builds an *imageservice.Error, picking up the status code of the response if there was one
func (a *Adapter) fail(op, id string, kind, err error) *imageservice.Error {
	e := imageservice.NewError(op, id, kind, err)

	var statusErr *transport.StatusError
	if errors.As(err, &statusErr) {
		e.Code = statusErr.Code
	}

	return e
}

// resolvePath returns the absolute path of path with symlinks evaluated
func resolvePath(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", err
	}

	return filepath.Abs(resolved)
}

// allowed reports whether path resolves to a file inside one of the allowed roots
func (a *Adapter) allowed(path string) bool {
	resolved, err := resolvePath(path)
	if err != nil {
		return false
	}

	for _, root := range a.roots {
		rel, err := filepath.Rel(root, resolved)
		if err == nil && rel != "." && filepath.IsLocal(rel) {
			return true
		}
	}

	return false
}

func (a *Adapter) endpoint(format string, args ...string) string {
	escaped := make([]interface{}, len(args))
	for i, arg := range args {
		escaped[i] = url.PathEscape(arg)
	}

	return fmt.Sprintf(format, escaped...)
}

func (a *Adapter) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	target, err := a.baseURL.Parse(endpoint)
	if err != nil {
		return nil, err
	}

	if len(query) > 0 {
		target.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Accept", "application/json")
	return req, nil
}

// send performs the request and decodes the json response body into out, if set
func (a *Adapter) send(req *http.Request, out interface{}) (int, error) {
	resp, err := a.client.Do(req)
	if err != nil {
		return 0, err
	}

	if err := transport.CheckResponse(resp); err != nil {
		return resp.StatusCode, err
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("error decoding response: %w", err)
		}
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}

	return resp.StatusCode, nil
}
