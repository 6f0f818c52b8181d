// Package kv implements the Valkey/Redis-backed key-value store described in
// spec.md §6: hash mirrors for trinket sections, a query/document embedding
// cache, the per-user chat lock, and the container-id cache. Grounded on
// manifold's internal/workspaces/redis_cache.go and internal/skills/redis_cache.go
// idiom (go-redis/v9, a single *redis.Client wrapped by small named methods),
// since the teacher itself has no KV store — its session store is SQL-only.
package kv

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config configures the connection to a single Valkey/Redis node.
type Config struct {
	Addr                  string `yaml:"addr"`
	Password              string `yaml:"password"`
	DB                    int    `yaml:"db"`
	TLSInsecureSkipVerify bool   `yaml:"tls_insecure_skip_verify"`
}

// Store wraps a *redis.Client with the primitives §6 names: hash/json/ttl
// operations plus the distributed lock and expiry-notification plumbing
// layered on top in lock.go and expiry.go.
type Store struct {
	client *redis.Client
}

// New dials addr and verifies connectivity with a Ping, the way
// NewRedisGenerationCache does in the teacher's pack.
func New(cfg Config) (*Store, error) {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.TLSInsecureSkipVerify {
		opts.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}
	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("kv: ping %s: %w", cfg.Addr, err)
	}
	return &Store{client: client}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

// withRetry implements the §5 shared-resource policy: a single retry with a
// 100ms backoff on a transient (non-redis.Nil) error.
func withRetry(ctx context.Context, op func() error) error {
	err := op()
	if err == nil || errors.Is(err, redis.Nil) {
		return err
	}
	select {
	case <-time.After(100 * time.Millisecond):
	case <-ctx.Done():
		return ctx.Err()
	}
	return op()
}

// Get satisfies internal/memory.QueryCache: a plain string GET, returning
// ok=false on a miss rather than an error.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var val []byte
	err := withRetry(ctx, func() error {
		v, err := s.client.Get(ctx, key).Bytes()
		if err != nil {
			return err
		}
		val = v
		return nil
	})
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// SetWithTTL satisfies internal/memory.QueryCache.
func (s *Store) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return withRetry(ctx, func() error {
		return s.client.Set(ctx, key, value, ttl).Err()
	})
}

// HSet satisfies internal/trinket.KVMirror. Non-string values are
// JSON-encoded before being written, matching SectionState's json tags.
func (s *Store) HSet(ctx context.Context, key, field string, value any) error {
	encoded, err := encodeHashValue(value)
	if err != nil {
		return fmt.Errorf("kv: encode %s.%s: %w", key, field, err)
	}
	return withRetry(ctx, func() error {
		return s.client.HSet(ctx, key, field, encoded).Err()
	})
}

// HGet reads back one hash field, decoding it into out (a pointer) if out is
// non-nil and the stored value is JSON; otherwise the raw string is
// returned via ok/string semantics through HGetRaw.
func (s *Store) HGet(ctx context.Context, key, field string) (string, bool, error) {
	var val string
	err := withRetry(ctx, func() error {
		v, err := s.client.HGet(ctx, key, field).Result()
		if err != nil {
			return err
		}
		val = v
		return nil
	})
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// HGetAll returns every field in the hash at key.
func (s *Store) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	var out map[string]string
	err := withRetry(ctx, func() error {
		v, err := s.client.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// HDel removes one or more fields from a hash.
func (s *Store) HDel(ctx context.Context, key string, fields ...string) error {
	return withRetry(ctx, func() error {
		return s.client.HDel(ctx, key, fields...).Err()
	})
}

// Keys implements scan_iter: a cursor-driven SCAN over pattern, returning
// every matching key. Grounded on RedisSkillsCache.Invalidate's Scan+Iterator
// usage.
func (s *Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

// Del deletes one or more keys outright.
func (s *Store) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return withRetry(ctx, func() error {
		return s.client.Del(ctx, keys...).Err()
	})
}

// TTL returns the remaining time-to-live of key, or zero if it has none.
func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	return s.client.TTL(ctx, key).Result()
}

func encodeHashValue(value any) (any, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return v, nil
	case int, int64, float64, bool:
		return v, nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return raw, nil
	}
}
