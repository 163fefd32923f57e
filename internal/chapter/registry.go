package chapter

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Registry creates coordinators on first use and hands out the same one for
// a key until it is closed or evicted.
type Registry struct {
	cfg          Config
	mu           sync.Mutex
	coordinators map[string]*Coordinator
	closed       bool
}

func NewRegistry(cfg Config) *Registry {
	return &Registry{
		cfg:          cfg.withDefaults(),
		coordinators: make(map[string]*Coordinator),
	}
}

// Get returns the coordinator of key, starting it if needed.
func (r *Registry) Get(key string) (*Coordinator, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: chapter name is required", ErrInvalidInput)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if c, ok := r.coordinators[key]; ok {
		return c, nil
	}
	c := newCoordinator(key, r.cfg, r.evict)
	r.coordinators[key] = c
	return c, nil
}

// Do runs op on the coordinator of key. An op that raced with an idle
// eviction is retried on a fresh coordinator.
func (r *Registry) Do(ctx context.Context, key string, op Op) (any, error) {
	for {
		c, err := r.Get(key)
		if err != nil {
			return nil, err
		}
		value, err := c.Do(ctx, op)
		if errors.Is(err, errEvicted) {
			continue
		}
		return value, err
	}
}

// Len returns the number of live coordinators.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.coordinators)
}

// Close stops every coordinator and waits for them to exit.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	coordinators := make([]*Coordinator, 0, len(r.coordinators))
	for key, c := range r.coordinators {
		coordinators = append(coordinators, c)
		delete(r.coordinators, key)
	}
	r.mu.Unlock()

	for _, c := range coordinators {
		c.shutdown()
	}
	for _, c := range coordinators {
		<-c.done
	}
}

// evict is called from an idle coordinator's goroutine. It reports whether
// the coordinator was removed and must exit.
func (r *Registry) evict(c *Coordinator) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.coordinators[c.key] != c {
		return false
	}
	delete(r.coordinators, c.key)
	c.evicted.Store(true)
	c.shutdown()
	return true
}
