// Package imageservice defines the contract shared by the image service adapters.
//
// Two implementations exist: remote.Adapter talks to the image service over HTTP,
// local.Adapter keeps images in a local object store. Callers receive one of them
// from selector.New and only depend on the Service interface.
package imageservice

import (
	"context"
)

// Kind identifies which adapter implements a Service
type Kind int

const (
	// KindRemote is the HTTP image service adapter
	KindRemote Kind = iota
	// KindLocal is the local object store adapter
	KindLocal
)

func (k Kind) String() string {
	switch k {
	case KindRemote:
		return "remote"
	case KindLocal:
		return "local"
	default:
		return "unknown"
	}
}

// Service stores images and resolves the URLs they are hosted at
type Service interface {
	Kind() Kind

	// Store uploads the file at path and returns the finished image
	Store(ctx context.Context, path string) (*Image, error)
	// Get returns the image with the given id
	Get(ctx context.Context, id string) (*Image, error)
	// Delete deletes the image with the given id, reporting whether it was deleted
	Delete(ctx context.Context, id string) (bool, error)

	// HostingURL returns the public URL of an image rendered with params.
	// An empty id yields an empty URL and no error.
	HostingURL(ctx context.Context, id string, params *Params) (string, error)
	// HostingURLs resolves many hosting URLs at once.
	// The result has exactly one entry per requested id, unresolved ids map to "".
	HostingURLs(ctx context.Context, requests []URLRequest) (map[string]string, error)

	// LoadRaw writes the image bytes to destination
	LoadRaw(ctx context.Context, id, destination string) error

	// Errors returns the failures recorded while resolving hosting URLs, keyed by image id
	Errors() map[string]error
}
