// Package local implements imageservice.Service on top of a storage.Provider
package local

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/DMarby/imageservice-client/imageservice"
	"github.com/DMarby/imageservice-client/logger"
	"github.com/DMarby/imageservice-client/storage"
	"github.com/DMarby/imageservice-client/tracing"
	"github.com/google/uuid"
)

// Prefix is the directory images are stored under
const Prefix = "image-service"

// Adapter is the storage backed imageservice.Service
type Adapter struct {
	store  storage.Provider
	log    *logger.Logger
	tracer *tracing.Tracer
}

// New returns a new local adapter
func New(store storage.Provider, log *logger.Logger, tracer *tracing.Tracer) *Adapter {
	return &Adapter{
		store:  store,
		log:    log,
		tracer: tracer,
	}
}

// Kind returns imageservice.KindLocal
func (a *Adapter) Kind() imageservice.Kind {
	return imageservice.KindLocal
}

// Key returns the storage key of an image
func Key(id string) string {
	return Prefix + "/" + id
}

// validID reports whether id maps to a key directly under Prefix
func validID(id string) bool {
	return id != "" && id != "." && id != ".." && !strings.ContainsAny(id, `/\`)
}

// stat returns the stored object for id, ErrNotFound and invalid keys are reported as a missing object
func (a *Adapter) stat(ctx context.Context, id string) (*storage.Object, bool, error) {
	if !validID(id) {
		return nil, false, nil
	}

	object, err := a.store.Stat(ctx, Key(id))
	switch {
	case err == nil:
		return object, true, nil
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, storage.ErrInvalidKey):
		return nil, false, nil
	default:
		return nil, false, err
	}
}

// Store copies the file at path into the storage as a public object
func (a *Adapter) Store(ctx context.Context, path string) (*imageservice.Image, error) {
	ctx, span := a.tracer.Start(ctx, "local.Adapter.Store")
	defer span.End()

	f, err := os.Open(path)
	if err != nil {
		return nil, imageservice.NewError("store", "", imageservice.ErrInvalidFile, err)
	}
	defer f.Close()

	id := uuid.NewString()
	if err := a.store.Put(ctx, Key(id), f, storage.Public); err != nil {
		a.log.Errorw("error storing image", "image-id", id, "error", err)
		return nil, fmt.Errorf("error storing image %s: %w", id, err)
	}

	object, err := a.store.Stat(ctx, Key(id))
	if err != nil {
		return nil, fmt.Errorf("error reading stored image %s: %w", id, err)
	}

	return &imageservice.Image{
		ID:    id,
		State: imageservice.StateFinished,
		Size:  object.Size,
	}, nil
}

// Get returns the stored image with the given id
func (a *Adapter) Get(ctx context.Context, id string) (*imageservice.Image, error) {
	ctx, span := a.tracer.Start(ctx, "local.Adapter.Get")
	defer span.End()

	object, exists, err := a.stat(ctx, id)
	if err != nil {
		return nil, imageservice.NewError("get", id, imageservice.ErrFileNotFound, err)
	}

	if !exists {
		return nil, imageservice.NewError("get", id, imageservice.ErrFileNotFound, nil)
	}

	return &imageservice.Image{
		ID:    id,
		State: imageservice.StateFinished,
		Size:  object.Size,
	}, nil
}

// Delete deletes a public image. Private images are left in place and reported as not deleted.
func (a *Adapter) Delete(ctx context.Context, id string) (bool, error) {
	ctx, span := a.tracer.Start(ctx, "local.Adapter.Delete")
	defer span.End()

	object, exists, err := a.stat(ctx, id)
	if err != nil {
		return false, imageservice.NewError("delete", id, imageservice.ErrFileNotFound, err)
	}

	if !exists {
		return false, imageservice.NewError("delete", id, imageservice.ErrFileNotFound, nil)
	}

	if object.Visibility == storage.Private {
		a.log.Debugw("not deleting private image", "image-id", id)
		return false, nil
	}

	if err := a.store.Delete(ctx, Key(id)); err != nil {
		a.log.Errorw("error deleting image", "image-id", id, "error", err)
		return false, fmt.Errorf("error deleting image %s: %w", id, err)
	}

	return true, nil
}

// HostingURL returns the public url of the stored image, params are not applied
func (a *Adapter) HostingURL(ctx context.Context, id string, params *imageservice.Params) (string, error) {
	ctx, span := a.tracer.Start(ctx, "local.Adapter.HostingURL")
	defer span.End()

	_, exists, err := a.stat(ctx, id)
	if err != nil {
		return "", imageservice.NewError("hosting url", id, imageservice.ErrImageURLNotFound, err)
	}

	if !exists {
		return "", imageservice.NewError("hosting url", id, imageservice.ErrImageURLNotFound, nil)
	}

	return a.store.URL(Key(id)), nil
}

// HostingURLs returns the public urls of a batch of images, it stops at the first missing image
func (a *Adapter) HostingURLs(ctx context.Context, requests []imageservice.URLRequest) (map[string]string, error) {
	urls := make(map[string]string, len(requests))

	for _, request := range requests {
		if _, seen := urls[request.ID]; seen {
			continue
		}

		url, err := a.HostingURL(ctx, request.ID, request.Params)
		if err != nil {
			return nil, err
		}

		urls[request.ID] = url
	}

	return urls, nil
}

// LoadRaw writes the stored image to destination, creating parent directories as needed
func (a *Adapter) LoadRaw(ctx context.Context, id, destination string) error {
	ctx, span := a.tracer.Start(ctx, "local.Adapter.LoadRaw")
	defer span.End()

	if !validID(id) {
		return imageservice.NewError("load", id, imageservice.ErrFileNotFound, nil)
	}

	data, err := a.store.Get(ctx, Key(id))
	if err != nil {
		return imageservice.NewError("load", id, imageservice.ErrFileNotFound, err)
	}

	if err := os.MkdirAll(filepath.Dir(destination), 0755); err != nil {
		return fmt.Errorf("error creating directory for %s: %w", destination, err)
	}

	if err := os.WriteFile(destination, data, 0644); err != nil {
		return fmt.Errorf("error writing %s: %w", destination, err)
	}

	return nil
}

// Errors always returns an empty map, failures are returned directly
func (a *Adapter) Errors() map[string]error {
	return map[string]error{}
}
