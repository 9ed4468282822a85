package local_test

import (
	"context"
	"crypto/sha256"
	"os"
	"path/filepath"
	"testing"

	"github.com/DMarby/imageservice-client/imageservice"
	"github.com/DMarby/imageservice-client/imageservice/local"
	"github.com/DMarby/imageservice-client/logger"
	"github.com/DMarby/imageservice-client/storage"
	"github.com/DMarby/imageservice-client/storage/file"
	"github.com/DMarby/imageservice-client/storage/mock"
	"github.com/DMarby/imageservice-client/tracing/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var imageData = []byte("not really a png")

func setup(t *testing.T) (*local.Adapter, *mock.Provider, string) {
	log := logger.New(zap.FatalLevel)
	t.Cleanup(func() { log.Sync() })

	store := mock.New("http://localhost:8080")
	path := filepath.Join(t.TempDir(), "image.png")
	require.NoError(t, os.WriteFile(path, imageData, 0644))

	return local.New(store, log, test.Tracer(log)), store, path
}

func TestStore(t *testing.T) {
	adapter, store, path := setup(t)
	ctx := context.Background()

	assert.Equal(t, imageservice.KindLocal, adapter.Kind())

	image, err := adapter.Store(ctx, path)
	require.NoError(t, err)
	assert.NotEmpty(t, image.ID)
	assert.True(t, image.Finished())
	assert.Equal(t, uint64(len(imageData)), image.Size)
	assert.Equal(t, []string{"image-service/" + image.ID}, store.Keys())

	object, err := store.Stat(ctx, local.Key(image.ID))
	require.NoError(t, err)
	assert.Equal(t, storage.Public, object.Visibility)

	stored, err := adapter.Get(ctx, image.ID)
	require.NoError(t, err)
	assert.Equal(t, image, stored)

	_, err = adapter.Store(ctx, filepath.Join(t.TempDir(), "missing.png"))
	assert.ErrorIs(t, err, imageservice.ErrInvalidFile)
}

func TestGetMissing(t *testing.T) {
	adapter, _, _ := setup(t)

	for _, id := range []string{"missing", "", "../image-service"} {
		_, err := adapter.Get(context.Background(), id)
		assert.ErrorIs(t, err, imageservice.ErrFileNotFound, id)
	}
}

func TestDelete(t *testing.T) {
	adapter, store, path := setup(t)
	ctx := context.Background()

	public, err := adapter.Store(ctx, path)
	require.NoError(t, err)
	private, err := adapter.Store(ctx, path)
	require.NoError(t, err)
	require.NoError(t, store.SetVisibility(ctx, local.Key(private.ID), storage.Private))

	deleted, err := adapter.Delete(ctx, private.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
	exists, err := storage.Exists(ctx, store, local.Key(private.ID))
	require.NoError(t, err)
	assert.True(t, exists)

	deleted, err = adapter.Delete(ctx, public.ID)
	require.NoError(t, err)
	assert.True(t, deleted)
	exists, err = storage.Exists(ctx, store, local.Key(public.ID))
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = adapter.Delete(ctx, public.ID)
	assert.ErrorIs(t, err, imageservice.ErrFileNotFound)
}

func TestHostingURL(t *testing.T) {
	adapter, _, path := setup(t)
	ctx := context.Background()

	image, err := adapter.Store(ctx, path)
	require.NoError(t, err)

	url, err := adapter.HostingURL(ctx, image.ID, &imageservice.Params{MaxWidth: 10})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/image-service/"+image.ID, url)

	_, err = adapter.HostingURL(ctx, "missing", nil)
	assert.ErrorIs(t, err, imageservice.ErrImageURLNotFound)

	_, err = adapter.HostingURL(ctx, "", nil)
	assert.ErrorIs(t, err, imageservice.ErrImageURLNotFound)
}

func TestHostingURLs(t *testing.T) {
	adapter, _, path := setup(t)
	ctx := context.Background()

	first, err := adapter.Store(ctx, path)
	require.NoError(t, err)
	second, err := adapter.Store(ctx, path)
	require.NoError(t, err)

	urls, err := adapter.HostingURLs(ctx, imageservice.IDs(first.ID, second.ID, first.ID))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		first.ID:  "http://localhost:8080/image-service/" + first.ID,
		second.ID: "http://localhost:8080/image-service/" + second.ID,
	}, urls)

	_, err = adapter.HostingURLs(ctx, imageservice.IDs(first.ID, "missing"))
	assert.ErrorIs(t, err, imageservice.ErrImageURLNotFound)

	assert.Empty(t, adapter.Errors())
}

func TestLoadRaw(t *testing.T) {
	log := logger.New(zap.FatalLevel)
	defer log.Sync()

	store, err := file.New(t.TempDir(), "http://localhost:8080")
	require.NoError(t, err)
	adapter := local.New(store, log, test.Tracer(log))
	ctx := context.Background()

	source := filepath.Join(t.TempDir(), "image.png")
	require.NoError(t, os.WriteFile(source, imageData, 0644))

	image, err := adapter.Store(ctx, source)
	require.NoError(t, err)

	destination := filepath.Join(t.TempDir(), "a", "b", "image.png")
	require.NoError(t, adapter.LoadRaw(ctx, image.ID, destination))

	loaded, err := os.ReadFile(destination)
	require.NoError(t, err)
	assert.Equal(t, sha256.Sum256(imageData), sha256.Sum256(loaded))

	err = adapter.LoadRaw(ctx, "missing", destination)
	assert.ErrorIs(t, err, imageservice.ErrFileNotFound)
}
