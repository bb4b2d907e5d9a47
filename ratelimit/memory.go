package ratelimit

import (
	"context"
	"sync"
	"time"
)

// sweepEvery is how many Allow calls pass between lazy sweeps.
const sweepEvery = 256

type window struct {
	count   int
	resetAt time.Time
}

// Memory is a process-local Limiter. Expired windows are evicted lazily,
// by Sweep, or by Run.
type Memory struct {
	mu      sync.Mutex
	now     func() time.Time
	windows map[string]*window
	calls   int
}

// MemoryOption configures a Memory limiter.
type MemoryOption func(*Memory)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

// NewMemory returns an empty limiter.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{now: time.Now, windows: make(map[string]*window)}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Allow counts one request for key.
func (m *Memory) Allow(_ context.Context, key string, limit int, win time.Duration) (Result, error) {
	now := m.now()
	if limit <= 0 {
		return Result{Allowed: true, Limit: limit, ResetAt: now}, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.calls%sweepEvery == 0 {
		m.sweepLocked(now)
	}

	w, ok := m.windows[key]
	if !ok || now.After(w.resetAt) {
		w = &window{resetAt: now.Add(win)}
		m.windows[key] = w
	}

	if w.count >= limit {
		return Result{Allowed: false, Limit: limit, Remaining: 0, ResetAt: w.resetAt}, nil
	}

	w.count++
	return Result{Allowed: true, Limit: limit, Remaining: limit - w.count, ResetAt: w.resetAt}, nil
}

// Sweep drops expired windows and returns how many were removed.
func (m *Memory) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sweepLocked(m.now())
}

func (m *Memory) sweepLocked(now time.Time) int {
	n := 0
	for k, w := range m.windows {
		if now.After(w.resetAt) {
			delete(m.windows, k)
			n++
		}
	}
	return n
}

// Run sweeps every interval until ctx is done.
func (m *Memory) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Sweep()
		}
	}
}

// Len is the number of tracked keys.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windows)
}

// Reset forgets key.
func (m *Memory) Reset(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.windows, key)
}
