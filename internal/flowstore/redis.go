package flowstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis keeps flow data in a hash per flow, out of the portal process. The
// flow's state machine stays in the process that started it, so several
// portal instances need sticky sessions to serve one flow.
type Redis struct {
	client *redis.Client
	prefix string
}

// RedisOption configures the Redis store.
type RedisOption func(*Redis)

// WithPrefix sets the key prefix (default "flow:").
func WithPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		r.prefix = prefix
	}
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client, opts ...RedisOption) *Redis {
	r := &Redis{
		client: client,
		prefix: "flow:",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Dial connects to the redis URL and verifies the connection.
func Dial(ctx context.Context, url string, opts ...RedisOption) (*Redis, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	client := redis.NewClient(options)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return NewRedis(client, opts...), nil
}

func (r *Redis) key(flowID string) string {
	return r.prefix + flowID
}

// Put stores value under key for flowID and refreshes the flow's TTL.
func (r *Redis) Put(ctx context.Context, flowID, key, value string, ttl time.Duration) error {
	k := r.key(flowID)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, k, key, value)
		pipe.Expire(ctx, k, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store flow data: %w", err)
	}
	return nil
}

// Take reads and deletes key inside one MULTI/EXEC.
func (r *Redis) Take(ctx context.Context, flowID, key string) (string, bool, error) {
	k := r.key(flowID)
	var get *redis.StringCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		get = pipe.HGet(ctx, k, key)
		pipe.HDel(ctx, k, key)
		return nil
	})
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to take flow data: %w", err)
	}
	return get.Val(), true, nil
}

// Clear removes everything stored for flowID.
func (r *Redis) Clear(ctx context.Context, flowID string) error {
	if err := r.client.Del(ctx, r.key(flowID)).Err(); err != nil {
		return fmt.Errorf("failed to clear flow data: %w", err)
	}
	return nil
}

// Ping reports whether redis is reachable.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}
