package storage

import (
	"context"
	"errors"
	"io"
)

// Visibility controls whether an object may be served publicly
type Visibility string

// Visibilities
const (
	Public  Visibility = "public"
	Private Visibility = "private"
)

// Object describes a stored object
type Object struct {
	Key        string
	Size       uint64
	Visibility Visibility
}

// Provider is an interface for storing and retrieving objects by key
type Provider interface {
	Put(ctx context.Context, key string, r io.Reader, visibility Visibility) error
	Get(ctx context.Context, key string) ([]byte, error)
	Stat(ctx context.Context, key string) (*Object, error)
	SetVisibility(ctx context.Context, key string, visibility Visibility) error
	Delete(ctx context.Context, key string) error
	// URL returns the public URL of the object, it does not check that the object exists
	URL(key string) string
}

// Exists reports whether an object exists
func Exists(ctx context.Context, p Provider, key string) (bool, error) {
	_, err := p.Stat(ctx, key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// Errors
var (
	ErrNotFound   = errors.New("Object does not exist")
	ErrInvalidKey = errors.New("Invalid object key")
)
