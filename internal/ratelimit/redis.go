package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// The first INCR of a window sets the expiry, so every key lives at most one window.
var incrScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
return { count, ttl }
`)

// RedisCounter shares windows across instances through Redis.
type RedisCounter struct {
	client redis.UniversalClient
	cfg    Config
	prefix string
	now    func() time.Time
}

// NewRedisCounter creates a RedisCounter. Keys are stored as prefix + ":" + key.
func NewRedisCounter(client redis.UniversalClient, prefix string, cfg Config) (*RedisCounter, error) {
	if client == nil {
		return nil, errors.New("ratelimit: redis client is nil")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisCounter{client: client, cfg: cfg, prefix: prefix, now: time.Now}, nil
}

func (c *RedisCounter) key(key string) string {
	return c.prefix + ":" + key
}

func (c *RedisCounter) Allow(ctx context.Context, key string) (Decision, error) {
	vals, err := incrScript.Run(ctx, c.client, []string{c.key(key)}, c.cfg.Window.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: redis incr: %w", err)
	}
	if len(vals) != 2 {
		return Decision{}, fmt.Errorf("ratelimit: unexpected script result %v", vals)
	}
	return c.decision(int(vals[0]), vals[1]), nil
}

func (c *RedisCounter) Peek(ctx context.Context, key string) (Decision, error) {
	k := c.key(key)
	pipe := c.client.Pipeline()
	getCmd := pipe.Get(ctx, k)
	ttlCmd := pipe.PTTL(ctx, k)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Decision{}, fmt.Errorf("ratelimit: redis peek: %w", err)
	}

	raw, err := getCmd.Result()
	if errors.Is(err, redis.Nil) {
		return Decision{Allowed: true, Limit: c.cfg.Limit, Remaining: c.cfg.Limit, ResetAt: c.now().Add(c.cfg.Window)}, nil
	}
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: redis get: %w", err)
	}
	count, err := strconv.Atoi(raw)
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: bad counter %q: %w", raw, err)
	}
	d := c.decision(count, ttlCmd.Val().Milliseconds())
	d.Allowed = count < c.cfg.Limit
	return d, nil
}

func (c *RedisCounter) decision(count int, ttlMillis int64) Decision {
	if ttlMillis < 0 {
		ttlMillis = c.cfg.Window.Milliseconds()
	}
	remaining := c.cfg.Limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count <= c.cfg.Limit,
		Limit:     c.cfg.Limit,
		Remaining: remaining,
		ResetAt:   c.now().Add(time.Duration(ttlMillis) * time.Millisecond),
	}
}
