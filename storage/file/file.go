package file

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/DMarby/imageservice-client/storage"
)

// File modes used to represent visibility on disk
const (
	publicMode  fs.FileMode = 0o644
	privateMode fs.FileMode = 0o600
	dirMode     fs.FileMode = 0o755
)

// Provider implements a file-based object storage
type Provider struct {
	path    string
	baseURL string
}

// New returns a new Provider instance storing objects below path, served from baseURL
func New(path, baseURL string) (*Provider, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	return &Provider{
		path:    path,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}, nil
}

func (p *Provider) filename(key string) (string, error) {
	name := filepath.FromSlash(key)
	if key == "" || !filepath.IsLocal(name) {
		return "", fmt.Errorf("%w: %q", storage.ErrInvalidKey, key)
	}

	return filepath.Join(p.path, name), nil
}

func modeFor(visibility storage.Visibility) fs.FileMode {
	if visibility == storage.Private {
		return privateMode
	}
	return publicMode
}

// Put writes the object atomically, replacing any existing object
func (p *Provider) Put(ctx context.Context, key string, r io.Reader, visibility storage.Visibility) error {
	filename, err := p.filename(key)
	if err != nil {
		return err
	}

	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return err
	}

	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmp.Name(), modeFor(visibility)); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), filename)
}

// Get returns the object data for a key
func (p *Provider) Get(ctx context.Context, key string) ([]byte, error) {
	filename, err := p.filename(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, storage.ErrNotFound
		}

		return nil, err
	}

	return data, nil
}

// Stat returns the size and visibility of an object
func (p *Provider) Stat(ctx context.Context, key string) (*storage.Object, error) {
	filename, err := p.filename(key)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(filename)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, storage.ErrNotFound
		}

		return nil, err
	}

	if info.IsDir() {
		return nil, storage.ErrNotFound
	}

	visibility := storage.Private
	// Readable by group or others means public
	if info.Mode().Perm()&0o044 != 0 {
		visibility = storage.Public
	}

	return &storage.Object{
		Key:        key,
		Size:       uint64(info.Size()),
		Visibility: visibility,
	}, nil
}

// SetVisibility changes the visibility of an object
func (p *Provider) SetVisibility(ctx context.Context, key string, visibility storage.Visibility) error {
	filename, err := p.filename(key)
	if err != nil {
		return err
	}

	if err := os.Chmod(filename, modeFor(visibility)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return storage.ErrNotFound
		}

		return err
	}

	return nil
}

// Delete removes an object
func (p *Provider) Delete(ctx context.Context, key string) error {
	filename, err := p.filename(key)
	if err != nil {
		return err
	}

	if err := os.Remove(filename); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return storage.ErrNotFound
		}

		return err
	}

	return nil
}

// URL returns the public URL of an object
func (p *Provider) URL(key string) string {
	segments := strings.Split(key, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}

	return p.baseURL + "/" + strings.Join(segments, "/")
}
