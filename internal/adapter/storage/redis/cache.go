package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// keyspace is a prefixed byte-value namespace. A missing key reads as nil, nil.
type keyspace struct {
	client *goredis.Client
	prefix string
}

func (k keyspace) get(ctx context.Context, key string) ([]byte, error) {
	val, err := k.client.Get(ctx, k.prefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", k.prefix+key, err)
	}
	return val, nil
}

func (k keyspace) set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := k.client.Set(ctx, k.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", k.prefix+key, err)
	}
	return nil
}

// IdempotencyCache implements ports.IdempotencyCache. It holds the ack
// returned for each gateway reference so redeliveries skip the database;
// the ledger reference stays authoritative.
type IdempotencyCache struct {
	ks keyspace
}

func NewIdempotencyCache(client *goredis.Client) *IdempotencyCache {
	return &IdempotencyCache{ks: keyspace{client: client, prefix: "webhook:"}}
}

func (c *IdempotencyCache) Get(ctx context.Context, reference string) ([]byte, error) {
	return c.ks.get(ctx, reference)
}

func (c *IdempotencyCache) Set(ctx context.Context, reference string, ack []byte, ttl time.Duration) error {
	return c.ks.set(ctx, reference, ack, ttl)
}

// ReadCache implements ports.ReadCache for wallet balance and auction
// snapshots shown to clients.
type ReadCache struct {
	ks keyspace
}

func NewReadCache(client *goredis.Client) *ReadCache {
	return &ReadCache{ks: keyspace{client: client, prefix: "read:"}}
}

func (c *ReadCache) Get(ctx context.Context, key string) ([]byte, error) {
	return c.ks.get(ctx, key)
}

func (c *ReadCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.ks.set(ctx, key, value, ttl)
}

// Delete invalidates keys after a committed mutation.
func (c *ReadCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.ks.prefix + k
	}
	if err := c.ks.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("redis read cache delete: %w", err)
	}
	return nil
}
