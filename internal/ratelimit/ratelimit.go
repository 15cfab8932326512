// Package ratelimit counts events per key over fixed windows.
package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Decision is the result of counting one event.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// ResetAt is when the current window ends.
	ResetAt time.Time
}

// RetryAfter returns how long the caller should wait before the window resets.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if d.Allowed || !d.ResetAt.After(now) {
		return 0
	}
	return d.ResetAt.Sub(now)
}

// Counter counts one event for key and reports whether it fits the window.
type Counter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// Peeker reports the current window for key without counting an event.
type Peeker interface {
	Peek(ctx context.Context, key string) (Decision, error)
}

// Config is a fixed window: at most Limit events per Window.
type Config struct {
	Limit  int
	Window time.Duration
}

func (c Config) validate() error {
	if c.Limit <= 0 {
		return errors.New("ratelimit: limit must be positive")
	}
	if c.Window <= 0 {
		return errors.New("ratelimit: window must be positive")
	}
	return nil
}

// FailOpen wraps a counter so that backend errors allow the event and log a
// warning instead of failing the request.
type FailOpen struct {
	Counter Counter
	Limit   int
	Logger  *slog.Logger
}

func (f FailOpen) Allow(ctx context.Context, key string) (Decision, error) {
	d, err := f.Counter.Allow(ctx, key)
	if err != nil {
		f.Logger.Warn("rate limit backend failed, allowing", "key", key, "error", err)
		return Decision{Allowed: true, Limit: f.Limit, Remaining: f.Limit}, nil
	}
	return d, nil
}

// Peek forwards to the wrapped counter when it supports peeking.
func (f FailOpen) Peek(ctx context.Context, key string) (Decision, error) {
	p, ok := f.Counter.(Peeker)
	if !ok {
		return Decision{Allowed: true, Limit: f.Limit, Remaining: f.Limit}, nil
	}
	d, err := p.Peek(ctx, key)
	if err != nil {
		f.Logger.Warn("rate limit backend failed", "key", key, "error", err)
		return Decision{Allowed: true, Limit: f.Limit, Remaining: f.Limit}, nil
	}
	return d, nil
}
