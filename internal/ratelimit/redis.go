package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// allowScript increments the window counter, opening the window on the first
// call, and returns the count and the window's remaining milliseconds.
var allowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
local ttl = redis.call("PTTL", KEYS[1])
if count == 1 or ttl < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// Redis is a Limiter shared by every process using the same server.
type Redis struct {
	client *redis.Client
	prefix string
	window time.Duration
}

// NewRedis connects to redisURL and checks the connection.
func NewRedis(redisURL string, size time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisWithClient(client, size), nil
}

// NewRedisWithClient creates a limiter from an existing Redis client.
func NewRedisWithClient(client *redis.Client, size time.Duration) *Redis {
	if size <= 0 {
		size = DefaultWindow
	}
	return &Redis{client: client, prefix: "ratelimit:", window: size}
}

func (r *Redis) key(name string) string {
	return r.prefix + name
}

func (r *Redis) Allow(ctx context.Context, key string, limit int) (Decision, error) {
	values, err := allowScript.Run(ctx, r.client, []string{r.key(key)}, r.window.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit %s: %w", key, err)
	}
	if len(values) != 2 {
		return Decision{}, fmt.Errorf("rate limit %s: unexpected reply %v", key, values)
	}
	count := int(values[0])
	retryAfter := time.Duration(values[1]) * time.Millisecond
	if count > limit {
		return Decision{Allowed: false, Count: limit, RetryAfter: retryAfter}, nil
	}
	return Decision{Allowed: true, Count: count, RetryAfter: retryAfter}, nil
}

// Close closes the Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}

// Ping checks if Redis is reachable.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
