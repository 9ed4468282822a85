package mock

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/DMarby/imageservice-client/storage"
)

type object struct {
	data       []byte
	visibility storage.Visibility
}

// Provider implements an in-memory object storage
type Provider struct {
	mu      sync.RWMutex
	objects map[string]object
	baseURL string
}

// New returns an empty Provider whose URLs start with baseURL
func New(baseURL string) *Provider {
	return &Provider{
		objects: make(map[string]object),
		baseURL: baseURL,
	}
}

// Put stores an object
func (p *Provider) Put(ctx context.Context, key string, r io.Reader, visibility storage.Visibility) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.objects[key] = object{data: data, visibility: visibility}
	p.mu.Unlock()

	return nil
}

// Get returns the data of an object
func (p *Provider) Get(ctx context.Context, key string) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	o, ok := p.objects[key]
	if !ok {
		return nil, storage.ErrNotFound
	}

	return append([]byte(nil), o.data...), nil
}

// Stat returns the size and visibility of an object
func (p *Provider) Stat(ctx context.Context, key string) (*storage.Object, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	o, ok := p.objects[key]
	if !ok {
		return nil, storage.ErrNotFound
	}

	return &storage.Object{Key: key, Size: uint64(len(o.data)), Visibility: o.visibility}, nil
}

// SetVisibility changes the visibility of an object
func (p *Provider) SetVisibility(ctx context.Context, key string, visibility storage.Visibility) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.objects[key]
	if !ok {
		return storage.ErrNotFound
	}

	o.visibility = visibility
	p.objects[key] = o
	return nil
}

// Delete removes an object
func (p *Provider) Delete(ctx context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.objects[key]; !ok {
		return storage.ErrNotFound
	}

	delete(p.objects, key)
	return nil
}

// URL returns the public URL of an object
func (p *Provider) URL(key string) string {
	return fmt.Sprintf("%s/%s", p.baseURL, key)
}

// Keys returns the keys of all stored objects, sorted
func (p *Provider) Keys() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	keys := make([]string, 0, len(p.objects))
	for k := range p.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return keys
}
