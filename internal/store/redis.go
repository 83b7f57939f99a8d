package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix is prepended to every key to avoid collisions.
const DefaultRedisPrefix = "fusion:"

// Compile-time interface satisfaction check.
var _ Store = (*RedisStore)(nil)

// RedisStore implements Store on Redis. Records are plain string keys and
// groups are Redis hashes under a separate "hash:" namespace.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	owned  bool
}

// NewRedisStore wraps an existing client. The caller owns the client
// lifecycle; Close is a no-op.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// OpenRedisStore connects to the Redis server at addr and verifies the
// connection. Close releases the connection.
func OpenRedisStore(ctx context.Context, addr, prefix string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	s := NewRedisStore(client, prefix)
	s.owned = true
	return s, nil
}

// Close closes the client if the store opened it.
func (s *RedisStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}

func (s *RedisStore) key(k string) string { return s.prefix + k }

// hashKey keeps group hashes apart from plain records of the same name.
func (s *RedisStore) hashKey(group string) string { return s.prefix + "hash:" + group }

// Set stores a record.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Get retrieves a record.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return v, nil
}

// HSet stores one field of a group hash.
func (s *RedisStore) HSet(ctx context.Context, group, field string, value []byte) error {
	if err := s.client.HSet(ctx, s.hashKey(group), field, value).Err(); err != nil {
		return fmt.Errorf("redis hset: %w", err)
	}
	return nil
}

// HGet retrieves one field of a group hash.
func (s *RedisStore) HGet(ctx context.Context, group, field string) ([]byte, error) {
	v, err := s.client.HGet(ctx, s.hashKey(group), field).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis hget: %w", err)
	}
	return v, nil
}

// HGetAll retrieves every field of a group hash.
func (s *RedisStore) HGetAll(ctx context.Context, group string) (map[string][]byte, error) {
	vals, err := s.client.HGetAll(ctx, s.hashKey(group)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall: %w", err)
	}
	out := make(map[string][]byte, len(vals))
	for f, v := range vals {
		out[f] = []byte(v)
	}
	return out, nil
}
