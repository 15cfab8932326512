package ratelimit

import (
	"context"
	"sync"
	"time"
)

type window struct {
	count   int
	resetAt time.Time
}

// MemoryCounter keeps windows in process memory. Counts are lost on restart.
type MemoryCounter struct {
	cfg Config
	now func() time.Time

	mu      sync.Mutex
	windows map[string]*window
}

// NewMemoryCounter creates a MemoryCounter.
func NewMemoryCounter(cfg Config) (*MemoryCounter, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &MemoryCounter{
		cfg:     cfg,
		now:     time.Now,
		windows: make(map[string]*window),
	}, nil
}

func (m *MemoryCounter) Allow(_ context.Context, key string) (Decision, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	w := m.current(key, now)
	w.count++
	return m.decision(w), nil
}

func (m *MemoryCounter) Peek(_ context.Context, key string) (Decision, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows[key]
	if !ok || !w.resetAt.After(now) {
		return Decision{Allowed: true, Limit: m.cfg.Limit, Remaining: m.cfg.Limit, ResetAt: now.Add(m.cfg.Window)}, nil
	}
	d := m.decision(w)
	d.Allowed = w.count < m.cfg.Limit
	return d, nil
}

func (m *MemoryCounter) current(key string, now time.Time) *window {
	w, ok := m.windows[key]
	if !ok || !w.resetAt.After(now) {
		w = &window{resetAt: now.Add(m.cfg.Window)}
		m.windows[key] = w
	}
	return w
}

func (m *MemoryCounter) decision(w *window) Decision {
	remaining := m.cfg.Limit - w.count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   w.count <= m.cfg.Limit,
		Limit:     m.cfg.Limit,
		Remaining: remaining,
		ResetAt:   w.resetAt,
	}
}

// Sweep drops windows that have ended and returns how many were removed.
func (m *MemoryCounter) Sweep() int {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for key, w := range m.windows {
		if !w.resetAt.After(now) {
			delete(m.windows, key)
			n++
		}
	}
	return n
}

// Run sweeps every interval until ctx is done.
func (m *MemoryCounter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}
