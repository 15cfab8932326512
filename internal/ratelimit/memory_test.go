package ratelimit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMemoryCounter(t *testing.T, limit int, window time.Duration) (*MemoryCounter, *time.Time) {
	t.Helper()
	c, err := NewMemoryCounter(Config{Limit: limit, Window: window})
	require.NoError(t, err)
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	return c, &now
}

func TestNewMemoryCounterValidatesConfig(t *testing.T) {
	_, err := NewMemoryCounter(Config{Limit: 0, Window: time.Minute})
	assert.Error(t, err)
	_, err = NewMemoryCounter(Config{Limit: 1})
	assert.Error(t, err)
}

func TestMemoryCounterFixedWindow(t *testing.T) {
	c, now := newTestMemoryCounter(t, 3, time.Hour)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		d, err := c.Allow(ctx, "user-1")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "event %d", i)
		assert.Equal(t, 3-i, d.Remaining)
	}

	d, err := c.Allow(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, time.Hour, d.RetryAfter(*now))

	other, err := c.Allow(ctx, "user-2")
	require.NoError(t, err)
	assert.True(t, other.Allowed, "keys are independent")

	*now = now.Add(time.Hour)
	d, err = c.Allow(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "new window after reset")
	assert.Equal(t, 2, d.Remaining)
}

func TestMemoryCounterPeekDoesNotCount(t *testing.T) {
	c, _ := newTestMemoryCounter(t, 2, time.Hour)
	ctx := context.Background()

	d, err := c.Peek(ctx, "k")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 2, d.Remaining)

	_, _ = c.Allow(ctx, "k")
	_, _ = c.Allow(ctx, "k")

	d, err = c.Peek(ctx, "k")
	require.NoError(t, err)
	assert.False(t, d.Allowed, "quota used up")
	assert.Equal(t, 0, d.Remaining)

	d, err = c.Peek(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 0, d.Remaining)
}

func TestMemoryCounterSweep(t *testing.T) {
	c, now := newTestMemoryCounter(t, 1, time.Minute)
	ctx := context.Background()
	_, _ = c.Allow(ctx, "a")
	*now = now.Add(30 * time.Second)
	_, _ = c.Allow(ctx, "b")

	*now = now.Add(45 * time.Second)
	assert.Equal(t, 1, c.Sweep())
	assert.Len(t, c.windows, 1)
}

func TestMemoryCounterConcurrentAllow(t *testing.T) {
	c, err := NewMemoryCounter(Config{Limit: 50, Window: time.Hour})
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, _ := c.Allow(context.Background(), "shared")
			if d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, allowed)
}

type failingCounter struct{}

func (failingCounter) Allow(context.Context, string) (Decision, error) {
	return Decision{}, errors.New("backend down")
}

func TestFailOpen(t *testing.T) {
	f := FailOpen{Counter: failingCounter{}, Limit: 5, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	d, err := f.Allow(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = f.Peek(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 5, d.Remaining)
}
