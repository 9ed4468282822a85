package remote_test

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/DMarby/imageservice-client/cache/mock"
	"github.com/DMarby/imageservice-client/imageservice"
	"github.com/DMarby/imageservice-client/imageservice/remote"
	"github.com/DMarby/imageservice-client/logger"
	"github.com/DMarby/imageservice-client/tracing/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var imageData = []byte("not really a jpeg")

// imageService is a fake image service
type imageService struct {
	*httptest.Server

	uploadState string
	delay       time.Duration

	mu          sync.Mutex
	requests    map[string]int
	inFlight    int
	maxInFlight int
	checksum    string
}

func newImageService(t *testing.T) *imageService {
	s := &imageService{
		uploadState: "finished",
		requests:    make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v2/containers/{container}/images", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, imageservice.Image{ID: "new", State: imageservice.StateDraft})
	})
	mux.HandleFunc("GET /v2/containers/{container}/images", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("container") != "test" {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, []imageservice.Image{{ID: "1", State: imageservice.StateFinished, Size: 10}})
	})
	mux.HandleFunc("POST /v2/images/{id}/upload", func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		sum := sha1.Sum(data)

		s.mu.Lock()
		s.checksum = r.URL.Query().Get("checksum")
		checksum, state := s.checksum, s.uploadState
		s.mu.Unlock()

		if checksum != hex.EncodeToString(sum[:]) {
			http.Error(w, "checksum mismatch", http.StatusBadRequest)
			return
		}

		writeJSON(w, imageservice.Image{ID: r.PathValue("id"), State: imageservice.State(state), Size: uint64(len(data))})
	})
	mux.HandleFunc("GET /v2/images/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "1" {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, imageservice.Image{ID: "1", State: imageservice.StateFinished, Size: 10})
	})
	mux.HandleFunc("DELETE /v2/images/{id}", func(w http.ResponseWriter, r *http.Request) {
		switch r.PathValue("id") {
		case "1":
			w.WriteHeader(http.StatusOK)
		case "2":
			w.WriteHeader(http.StatusAccepted)
		default:
			http.NotFound(w, r)
		}
	})
	mux.HandleFunc("GET /v2/images/{id}/hosting_url", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		s.track(id + "?" + r.URL.RawQuery)
		defer s.done()

		switch id {
		case "D", "missing":
			http.Error(w, "broken", http.StatusInternalServerError)
		case "empty":
			writeJSON(w, map[string]string{})
		case "raw":
			writeJSON(w, map[string]string{"url": "http://" + r.Host + "/raw/" + id})
		default:
			writeJSON(w, map[string]string{"url": "http://img/" + id})
		}
	})
	mux.HandleFunc("GET /raw/{id}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(imageData)
	})

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)

	return s
}

func (s *imageService) track(key string) {
	s.mu.Lock()
	s.requests[key]++
	s.inFlight++
	if s.inFlight > s.maxInFlight {
		s.maxInFlight = s.inFlight
	}
	delay := s.delay
	s.mu.Unlock()

	time.Sleep(delay)
}

func (s *imageService) done() {
	s.mu.Lock()
	s.inFlight--
	s.mu.Unlock()
}

func (s *imageService) configure(uploadState string, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploadState = uploadState
	s.delay = delay
}

func (s *imageService) uploadedChecksum() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checksum
}

func (s *imageService) hostingRequests(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[key]
}

func (s *imageService) totalHostingRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for _, n := range s.requests {
		total += n
	}
	return total
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

type fixture struct {
	service *imageService
	cache   *mock.Provider
	adapter *remote.Adapter
	root    string
}

func setup(t *testing.T, entries map[string]string) *fixture {
	log := logger.New(zap.FatalLevel)
	t.Cleanup(func() { log.Sync() })

	service := newImageService(t)
	cacheProvider := mock.New(entries)
	root := t.TempDir()

	adapter, err := remote.New(service.Client(), cacheProvider, remote.Config{
		BaseURL:      service.URL,
		Container:    "test",
		Concurrency:  3,
		AllowedRoots: []string{root},
	}, log, test.Tracer(log))
	require.NoError(t, err)

	return &fixture{service, cacheProvider, adapter, root}
}

func writeFile(t *testing.T, dir string) string {
	path := filepath.Join(dir, "image.jpg")
	require.NoError(t, os.WriteFile(path, imageData, 0644))
	return path
}

func TestNew(t *testing.T) {
	log := logger.New(zap.FatalLevel)
	defer log.Sync()

	tests := []struct {
		name   string
		config remote.Config
	}{
		{"missing base url", remote.Config{Container: "test"}},
		{"relative base url", remote.Config{BaseURL: "/images", Container: "test"}},
		{"missing container", remote.Config{BaseURL: "http://localhost"}},
		{"missing root", remote.Config{BaseURL: "http://localhost", Container: "test", AllowedRoots: []string{"/does/not/exist"}}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := remote.New(http.DefaultClient, mock.New(nil), tc.config, log, test.Tracer(log))
			assert.ErrorIs(t, err, imageservice.ErrInvalidConfig)
		})
	}

	adapter, err := remote.New(http.DefaultClient, mock.New(nil), remote.Config{BaseURL: "http://localhost", Container: "test"}, log, test.Tracer(log))
	require.NoError(t, err)
	assert.Equal(t, imageservice.KindRemote, adapter.Kind())
	assert.Equal(t, "test", adapter.Container())

	adapter.SetContainer("other")
	assert.Equal(t, "other", adapter.Container())
}

func TestStore(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()

	image, err := f.adapter.Store(ctx, writeFile(t, f.root))
	require.NoError(t, err)
	assert.Equal(t, "new", image.ID)
	assert.True(t, image.Finished())
	assert.Equal(t, uint64(len(imageData)), image.Size)

	sum := sha1.Sum(imageData)
	assert.Equal(t, hex.EncodeToString(sum[:]), f.service.uploadedChecksum())
}

func TestStoreInvalidFile(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()

	outside := writeFile(t, t.TempDir())

	tests := []struct {
		name string
		path string
	}{
		{"outside allowed roots", outside},
		{"missing file", filepath.Join(f.root, "missing.jpg")},
		{"root itself", f.root},
		{"escaping root", filepath.Join(f.root, "..", filepath.Base(filepath.Dir(outside)), "image.jpg")},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.adapter.Store(ctx, tc.path)
			assert.ErrorIs(t, err, imageservice.ErrInvalidFile)
		})
	}

	t.Run("symlink out of root", func(t *testing.T) {
		link := filepath.Join(f.root, "link.jpg")
		require.NoError(t, os.Symlink(outside, link))

		_, err := f.adapter.Store(ctx, link)
		assert.ErrorIs(t, err, imageservice.ErrInvalidFile)
	})

	assert.Equal(t, 0, f.service.totalHostingRequests())
	assert.Empty(t, f.service.uploadedChecksum())
}

func TestStoreUploadNotFinished(t *testing.T) {
	f := setup(t, nil)
	f.service.configure("draft", 0)

	_, err := f.adapter.Store(context.Background(), writeFile(t, f.root))
	assert.ErrorIs(t, err, imageservice.ErrUploadNotFinished)
}

func TestStoreTransportFailure(t *testing.T) {
	f := setup(t, nil)
	f.service.Close()

	_, err := f.adapter.Store(context.Background(), writeFile(t, f.root))
	assert.ErrorIs(t, err, imageservice.ErrUploadNotFinished)
}

func TestGet(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()

	image, err := f.adapter.Get(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, &imageservice.Image{ID: "1", State: imageservice.StateFinished, Size: 10}, image)

	_, err = f.adapter.Get(ctx, "2")
	assert.ErrorIs(t, err, imageservice.ErrFileNotFound)

	var serviceErr *imageservice.Error
	require.ErrorAs(t, err, &serviceErr)
	assert.Equal(t, http.StatusNotFound, serviceErr.Code)
}

func TestList(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()

	images, err := f.adapter.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []imageservice.Image{{ID: "1", State: imageservice.StateFinished, Size: 10}}, images)

	f.adapter.SetContainer("other")
	_, err = f.adapter.List(ctx)
	assert.ErrorIs(t, err, imageservice.ErrFileNotFound)
}

func TestDelete(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()

	deleted, err := f.adapter.Delete(ctx, "1")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = f.adapter.Delete(ctx, "2")
	require.NoError(t, err)
	assert.False(t, deleted)

	_, err = f.adapter.Delete(ctx, "3")
	assert.ErrorIs(t, err, imageservice.ErrFileNotFound)
}

func TestHostingURL(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		url, err := f.adapter.HostingURL(ctx, "1", nil)
		require.NoError(t, err)
		assert.Equal(t, "http://img/1", url)
	}

	assert.Equal(t, 1, f.service.hostingRequests("1?"))
	assert.Equal(t, 1, f.cache.Sets("ImageServiceObject-1"))
	assert.Equal(t, remote.DefaultCacheTTL, f.cache.TTL("ImageServiceObject-1"))
}

func TestHostingURLParams(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	params := &imageservice.Params{MaxWidth: 100, ExpireMinutes: 5}

	url, err := f.adapter.HostingURL(ctx, "1", params)
	require.NoError(t, err)
	assert.Equal(t, "http://img/1", url)

	assert.Equal(t, 1, f.service.hostingRequests("1?expireMinutes=5&maxWidth=100"))
	assert.Equal(t, 5*time.Minute, f.cache.TTL("ImageServiceObject-1|expireMinutes=5&maxWidth=100"))

	// Different params are cached separately
	_, err = f.adapter.HostingURL(ctx, "1", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, f.service.hostingRequests("1?"))
}

func TestHostingURLEmptyID(t *testing.T) {
	f := setup(t, nil)

	url, err := f.adapter.HostingURL(context.Background(), "", nil)
	require.NoError(t, err)
	assert.Empty(t, url)

	assert.Equal(t, 0, f.service.totalHostingRequests())
	assert.Equal(t, 0, f.cache.Gets(imageservice.CacheKey("", nil)))
}

func TestHostingURLCached(t *testing.T) {
	f := setup(t, map[string]string{"ImageServiceObject-1": "http://cached/1"})

	url, err := f.adapter.HostingURL(context.Background(), "1", nil)
	require.NoError(t, err)
	assert.Equal(t, "http://cached/1", url)
	assert.Equal(t, 0, f.service.totalHostingRequests())
}

func TestHostingURLEmptyCachedValue(t *testing.T) {
	f := setup(t, map[string]string{"ImageServiceObject-1": ""})

	url, err := f.adapter.HostingURL(context.Background(), "1", nil)
	require.NoError(t, err)
	assert.Equal(t, "http://img/1", url)
	assert.Equal(t, 1, f.service.hostingRequests("1?"))
}

func TestHostingURLCanceledCallerDoesNotFailOthers(t *testing.T) {
	f := setup(t, nil)
	f.service.configure("finished", 100*time.Millisecond)

	shortCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	firstErr := make(chan error, 1)
	go func() {
		_, err := f.adapter.HostingURL(shortCtx, "x", nil)
		firstErr <- err
	}()

	// Join the lookup that is already in flight
	time.Sleep(5 * time.Millisecond)
	url, err := f.adapter.HostingURL(context.Background(), "x", nil)
	require.NoError(t, err)
	assert.Equal(t, "http://img/x", url)

	assert.ErrorIs(t, <-firstErr, context.DeadlineExceeded)
	assert.NotContains(t, f.adapter.Errors(), "x")

	cached, ok := f.cache.Value(imageservice.CacheKey("x", nil))
	require.True(t, ok)
	assert.Equal(t, "http://img/x", cached)
}

func TestHostingURLFailure(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()

	for _, id := range []string{"missing", "empty"} {
		_, err := f.adapter.HostingURL(ctx, id, nil)
		assert.ErrorIs(t, err, imageservice.ErrImageURLNotFound, id)

		_, cached := f.cache.Value(imageservice.CacheKey(id, nil))
		assert.False(t, cached, id)
	}

	var serviceErr *imageservice.Error
	errs := f.adapter.Errors()
	require.ErrorAs(t, errs["missing"], &serviceErr)
	assert.Equal(t, http.StatusInternalServerError, serviceErr.Code)
	assert.Contains(t, errs, "empty")
}

func TestHostingURLBrokenCache(t *testing.T) {
	f := setup(t, nil)

	// Cache errors degrade to a miss
	url, err := f.adapter.HostingURL(context.Background(), "geterror-seterror", nil)
	require.NoError(t, err)
	assert.Equal(t, "http://img/geterror-seterror", url)
}

func TestHostingURLs(t *testing.T) {
	f := setup(t, map[string]string{"ImageServiceObject-A": "http://img/A"})

	urls, err := f.adapter.HostingURLs(context.Background(), imageservice.IDs("A", "B", "C", "D"))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"A": "http://img/A",
		"B": "http://img/B",
		"C": "http://img/C",
		"D": "",
	}, urls)

	assert.Equal(t, 0, f.service.hostingRequests("A?"))
	assert.Equal(t, 1, f.service.hostingRequests("B?"))

	errs := f.adapter.Errors()
	assert.Len(t, errs, 1)
	assert.ErrorIs(t, errs["D"], imageservice.ErrImageURLNotFound)

	url, ok := f.cache.Value("ImageServiceObject-B")
	assert.True(t, ok)
	assert.Equal(t, "http://img/B", url)
}

func TestHostingURLsAllCached(t *testing.T) {
	f := setup(t, map[string]string{
		"ImageServiceObject-A":               "http://img/A",
		"ImageServiceObject-B|maxHeight=200": "http://img/B-small",
	})

	urls, err := f.adapter.HostingURLs(context.Background(), []imageservice.URLRequest{
		{ID: "A"},
		{ID: "B", Params: &imageservice.Params{MaxHeight: 200}},
		{ID: "A", Params: &imageservice.Params{MaxHeight: 300}},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"A": "http://img/A", "B": "http://img/B-small"}, urls)
	assert.Equal(t, 0, f.service.totalHostingRequests())
}

func TestHostingURLsParams(t *testing.T) {
	f := setup(t, nil)

	urls, err := f.adapter.HostingURLs(context.Background(), []imageservice.URLRequest{
		{ID: "A", Params: &imageservice.Params{MaxWidth: 50}},
		{ID: "", Params: nil},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"A": "http://img/A", "": ""}, urls)
	assert.Equal(t, 1, f.service.hostingRequests("A?maxWidth=50"))
	assert.Equal(t, 1, f.service.totalHostingRequests())
}

func TestHostingURLsConcurrency(t *testing.T) {
	f := setup(t, nil)
	f.service.configure("finished", 20*time.Millisecond)

	ids := []string{"1", "2", "3", "4", "5", "6", "7", "8", "9", "10", "11", "12"}
	urls, err := f.adapter.HostingURLs(context.Background(), imageservice.IDs(ids...))
	require.NoError(t, err)
	assert.Len(t, urls, len(ids))

	assert.Equal(t, len(ids), f.service.totalHostingRequests())
	f.service.mu.Lock()
	maxInFlight := f.service.maxInFlight
	f.service.mu.Unlock()

	assert.LessOrEqual(t, maxInFlight, 3)
	assert.Greater(t, maxInFlight, 1)
}

func TestHostingURLsCanceled(t *testing.T) {
	f := setup(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.adapter.HostingURLs(ctx, imageservice.IDs("A"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadRaw(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	destination := filepath.Join(t.TempDir(), "nested", "raw.jpg")

	require.NoError(t, f.adapter.LoadRaw(ctx, "raw", destination))

	data, err := os.ReadFile(destination)
	require.NoError(t, err)
	assert.Equal(t, imageData, data)

	err = f.adapter.LoadRaw(ctx, "missing", filepath.Join(t.TempDir(), "missing.jpg"))
	assert.ErrorIs(t, err, imageservice.ErrFileNotFound)

	err = f.adapter.LoadRaw(ctx, "", filepath.Join(t.TempDir(), "empty.jpg"))
	assert.ErrorIs(t, err, imageservice.ErrFileNotFound)
}
