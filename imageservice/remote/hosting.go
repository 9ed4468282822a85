package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/DMarby/imageservice-client/cache"
	"github.com/DMarby/imageservice-client/imageservice"
	"github.com/DMarby/imageservice-client/internal/metrics"
	"github.com/DMarby/imageservice-client/transport"
)

type hostingURLResponse struct {
	URL string `json:"url"`
}

// HostingURL returns the hosting url of an image rendered with params.
// Urls are cached, an empty id returns an empty url without touching the cache or the image service.
func (a *Adapter) HostingURL(ctx context.Context, id string, params *imageservice.Params) (string, error) {
	if id == "" {
		return "", nil
	}

	ctx, span := a.tracer.Start(ctx, "remote.Adapter.HostingURL")
	defer span.End()

	data, cached, err := a.cache.Get(ctx, imageservice.CacheKey(id, params), a.cacheTTL(params), func(ctx context.Context, key string) ([]byte, error) {
		hostingURL, err := a.fetchHostingURL(ctx, id, params)
		if err != nil {
			return nil, err
		}

		return []byte(hostingURL), nil
	})
	metrics.CacheLookup(cached)

	if err != nil && ctx.Err() != nil {
		// The caller gave up, the image itself has not failed
		return "", err
	}

	if err != nil {
		a.recordError(id, err)
		a.log.Errorw("error resolving hosting url", "image-id", id, "error", err)
		return "", err
	}

	return string(data), nil
}

// HostingURLs returns the hosting urls for a batch of images, keyed by image id.
// Only the first request for each id is used. Urls that are not cached are fetched concurrently.
// A failed image maps to an empty url and is recorded in Errors; the returned error is only set if ctx is done.
func (a *Adapter) HostingURLs(ctx context.Context, requests []imageservice.URLRequest) (map[string]string, error) {
	ctx, span := a.tracer.Start(ctx, "remote.Adapter.HostingURLs")
	defer span.End()

	urls := make(map[string]string, len(requests))
	pending := make([]imageservice.URLRequest, 0, len(requests))

	for _, request := range requests {
		if _, seen := urls[request.ID]; seen {
			continue
		}

		if request.ID == "" {
			urls[request.ID] = ""
			continue
		}

		if hostingURL, ok := a.cached(ctx, request); ok {
			urls[request.ID] = hostingURL
			continue
		}

		// Reserve the id so later duplicates are skipped
		urls[request.ID] = ""
		pending = append(pending, request)
	}

	if len(pending) == 0 {
		return urls, nil
	}

	metrics.HostingURLBatch(len(pending))

	type result struct {
		url string
		err error
	}

	results := transport.Pool(ctx, a.concurrency, pending, func(ctx context.Context, request imageservice.URLRequest) result {
		hostingURL, err := a.fetchHostingURL(ctx, request.ID, request.Params)
		if err != nil {
			return result{err: err}
		}

		if err := a.cache.Provider.Set(ctx, imageservice.CacheKey(request.ID, request.Params), []byte(hostingURL), a.cacheTTL(request.Params)); err != nil {
			a.log.Warnw("error writing to cache", "image-id", request.ID, "error", err)
		}

		return result{url: hostingURL}
	})

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for i, request := range pending {
		if err := results[i].err; err != nil {
			a.recordError(request.ID, err)
			a.log.Errorw("error resolving hosting url", "image-id", request.ID, "error", err)
			continue
		}

		urls[request.ID] = results[i].url
	}

	return urls, nil
}

// cached looks up the hosting url of a request in the cache, errors other than a miss are logged
func (a *Adapter) cached(ctx context.Context, request imageservice.URLRequest) (string, bool) {
	data, err := a.cache.Provider.Get(ctx, imageservice.CacheKey(request.ID, request.Params))
	if err != nil && !errors.Is(err, cache.ErrNotFound) {
		a.log.Warnw("error reading from cache", "image-id", request.ID, "error", err)
	}

	hit := err == nil && len(data) > 0
	metrics.CacheLookup(hit)

	return string(data), hit
}

func (a *Adapter) cacheTTL(params *imageservice.Params) time.Duration {
	if params != nil && params.ExpireMinutes > 0 {
		return time.Duration(params.ExpireMinutes) * time.Minute
	}

	return a.ttl
}

// fetchHostingURL asks the image service for the hosting url of an image, bypassing the cache
func (a *Adapter) fetchHostingURL(ctx context.Context, id string, params *imageservice.Params) (hostingURL string, err error) {
	defer func() {
		metrics.HostingURLResolution(err)
	}()

	req, err := a.newRequest(ctx, http.MethodGet, a.endpoint(hostingURLPath, id), params.Query(), nil)
	if err != nil {
		return "", a.fail("hosting url", id, imageservice.ErrImageURLNotFound, err)
	}

	response := &hostingURLResponse{}
	if _, err := a.send(req, response); err != nil {
		return "", a.fail("hosting url", id, imageservice.ErrImageURLNotFound, err)
	}

	if response.URL == "" {
		return "", a.fail("hosting url", id, imageservice.ErrImageURLNotFound, errors.New("empty url in response"))
	}

	return response.URL, nil
}

// LoadRaw downloads the original image to destination, creating parent directories as needed
func (a *Adapter) LoadRaw(ctx context.Context, id, destination string) error {
	ctx, span := a.tracer.Start(ctx, "remote.Adapter.LoadRaw")
	defer span.End()

	hostingURL, err := a.HostingURL(ctx, id, nil)
	if err != nil {
		return a.fail("load", id, imageservice.ErrFileNotFound, err)
	}

	if hostingURL == "" {
		return a.fail("load", id, imageservice.ErrFileNotFound, nil)
	}

	req, err := a.newRequest(ctx, http.MethodGet, hostingURL, nil, nil)
	if err != nil {
		return a.fail("load", id, imageservice.ErrFileNotFound, err)
	}
	req.Header.Del("Accept")

	resp, err := a.client.Do(req)
	if err != nil {
		return a.fail("load", id, imageservice.ErrFileNotFound, err)
	}

	if err := transport.CheckResponse(resp); err != nil {
		return a.fail("load", id, imageservice.ErrFileNotFound, err)
	}
	defer resp.Body.Close()

	if err := os.MkdirAll(filepath.Dir(destination), 0755); err != nil {
		return fmt.Errorf("error creating directory for %s: %w", destination, err)
	}

	f, err := os.Create(destination)
	if err != nil {
		return fmt.Errorf("error creating %s: %w", destination, err)
	}

	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(destination)
		a.log.Errorw("error downloading image", "image-id", id, "error", err)
		return a.fail("load", id, imageservice.ErrFileNotFound, err)
	}

	if err := f.Close(); err != nil {
		os.Remove(destination)
		return fmt.Errorf("error writing %s: %w", destination, err)
	}

	return nil
}
