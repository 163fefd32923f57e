// Package ratelimit counts calls in fixed windows. A window opens on the
// first call for a key and lasts Window; calls past the limit are refused
// until it closes.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

const DefaultWindow = time.Minute

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed bool
	Count   int
	// RetryAfter is the time left in the current window.
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds.
func (d Decision) RetryAfterSeconds() int {
	if d.RetryAfter <= 0 {
		return 0
	}
	return int((d.RetryAfter + time.Second - 1) / time.Second)
}

type Limiter interface {
	Allow(ctx context.Context, key string, limit int) (Decision, error)
}

type window struct {
	start time.Time
	count int
}

// Memory is a process-local Limiter.
type Memory struct {
	mu      sync.Mutex
	window  time.Duration
	now     func() time.Time
	windows map[string]*window
}

func NewMemory(size time.Duration) *Memory {
	if size <= 0 {
		size = DefaultWindow
	}
	return &Memory{window: size, now: time.Now, windows: make(map[string]*window)}
}

func (m *Memory) Allow(_ context.Context, key string, limit int) (Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	w, ok := m.windows[key]
	if !ok || now.Sub(w.start) >= m.window {
		w = &window{start: now}
		m.windows[key] = w
	}
	retryAfter := w.start.Add(m.window).Sub(now)
	if w.count >= limit {
		return Decision{Allowed: false, Count: w.count, RetryAfter: retryAfter}, nil
	}
	w.count++
	return Decision{Allowed: true, Count: w.count, RetryAfter: retryAfter}, nil
}
