package blob

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cached keeps recently read objects in memory in front of another Store.
// Put writes through to the backend before replacing the cached copy.
type Cached struct {
	backend Store
	cache   *lru.Cache[string, []byte]
}

func NewCached(backend Store, size int) (*Cached, error) {
	cache, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, fmt.Errorf("create blob cache: %w", err)
	}
	return &Cached{backend: backend, cache: cache}, nil
}

func (c *Cached) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if data, ok := c.cache.Get(key); ok {
		return append([]byte(nil), data...), true, nil
	}
	data, ok, err := c.backend.Get(ctx, key)
	if err != nil || !ok {
		return data, ok, err
	}
	c.cache.Add(key, append([]byte(nil), data...))
	return data, true, nil
}

func (c *Cached) Put(ctx context.Context, key string, data []byte) error {
	if err := c.backend.Put(ctx, key, data); err != nil {
		c.cache.Remove(key)
		return err
	}
	c.cache.Add(key, append([]byte(nil), data...))
	return nil
}

func (c *Cached) List(ctx context.Context, prefix string) ([]string, error) {
	return c.backend.List(ctx, prefix)
}

// Len returns the number of cached objects.
func (c *Cached) Len() int {
	return c.cache.Len()
}
