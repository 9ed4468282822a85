package remote

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/DMarby/imageservice-client/imageservice"
)

// Store uploads the file at path to the image service
func (a *Adapter) Store(ctx context.Context, path string) (*imageservice.Image, error) {
	ctx, span := a.tracer.Start(ctx, "remote.Adapter.Store")
	defer span.End()

	if !a.allowed(path) {
		return nil, a.fail("store", "", imageservice.ErrInvalidFile, fmt.Errorf("path %q", path))
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, a.fail("store", "", imageservice.ErrInvalidFile, err)
	}
	defer f.Close()

	size, checksum, err := checksumFile(f)
	if err != nil {
		return nil, a.fail("store", "", imageservice.ErrInvalidFile, err)
	}

	created, err := a.create(ctx)
	if err != nil {
		a.log.Errorw("error creating image", "error", err)
		return nil, a.fail("store", "", imageservice.ErrUploadNotFinished, err)
	}

	uploaded, err := a.upload(ctx, created.ID, f, size, checksum)
	if err != nil {
		a.log.Errorw("error uploading image", "image-id", created.ID, "error", err)
		return nil, a.fail("store", created.ID, imageservice.ErrUploadNotFinished, err)
	}

	if !uploaded.Finished() {
		return nil, a.fail("store", uploaded.ID, imageservice.ErrUploadNotFinished, fmt.Errorf("image is in state %q", uploaded.State))
	}

	return uploaded, nil
}

// checksumFile returns the size and hex encoded sha1 of f, and rewinds it
func checksumFile(f *os.File) (int64, string, error) {
	h := sha1.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return 0, "", err
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return 0, "", err
	}

	return size, hex.EncodeToString(h.Sum(nil)), nil
}

func (a *Adapter) create(ctx context.Context) (*imageservice.Image, error) {
	req, err := a.newRequest(ctx, http.MethodPost, a.endpoint(containerImagesPath, a.Container()), nil, strings.NewReader("{}"))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	image := &imageservice.Image{}
	if _, err := a.send(req, image); err != nil {
		return nil, err
	}

	if image.ID == "" {
		return nil, errors.New("image service returned an image without an id")
	}

	return image, nil
}

func (a *Adapter) upload(ctx context.Context, id string, body io.Reader, size int64, checksum string) (*imageservice.Image, error) {
	req, err := a.newRequest(ctx, http.MethodPost, a.endpoint(uploadPath, id), url.Values{"checksum": {checksum}}, body)
	if err != nil {
		return nil, err
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", "application/octet-stream")

	image := &imageservice.Image{}
	if _, err := a.send(req, image); err != nil {
		return nil, err
	}

	return image, nil
}

// Get returns the image with the given id
func (a *Adapter) Get(ctx context.Context, id string) (*imageservice.Image, error) {
	ctx, span := a.tracer.Start(ctx, "remote.Adapter.Get")
	defer span.End()

	req, err := a.newRequest(ctx, http.MethodGet, a.endpoint(imagePath, id), nil, nil)
	if err != nil {
		return nil, a.fail("get", id, imageservice.ErrFileNotFound, err)
	}

	image := &imageservice.Image{}
	if _, err := a.send(req, image); err != nil {
		a.log.Debugw("error getting image", "image-id", id, "error", err)
		return nil, a.fail("get", id, imageservice.ErrFileNotFound, err)
	}

	return image, nil
}

// List returns the images in the current container
func (a *Adapter) List(ctx context.Context) ([]imageservice.Image, error) {
	ctx, span := a.tracer.Start(ctx, "remote.Adapter.List")
	defer span.End()

	container := a.Container()
	req, err := a.newRequest(ctx, http.MethodGet, a.endpoint(containerImagesPath, container), nil, nil)
	if err != nil {
		return nil, a.fail("list", "", imageservice.ErrFileNotFound, err)
	}

	var images []imageservice.Image
	if _, err := a.send(req, &images); err != nil {
		a.log.Debugw("error listing images", "container", container, "error", err)
		return nil, a.fail("list", "", imageservice.ErrFileNotFound, err)
	}

	return images, nil
}

// Delete deletes the image with the given id, it reports true only if the image service responded with 200 OK
func (a *Adapter) Delete(ctx context.Context, id string) (bool, error) {
	ctx, span := a.tracer.Start(ctx, "remote.Adapter.Delete")
	defer span.End()

	req, err := a.newRequest(ctx, http.MethodDelete, a.endpoint(imagePath, id), nil, nil)
	if err != nil {
		return false, a.fail("delete", id, imageservice.ErrFileNotFound, err)
	}

	code, err := a.send(req, nil)
	if err != nil {
		a.log.Debugw("error deleting image", "image-id", id, "error", err)
		return false, a.fail("delete", id, imageservice.ErrFileNotFound, err)
	}

	return code == http.StatusOK, nil
}
