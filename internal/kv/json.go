package kv

import (
	"context"
	"encoding/json"
	"fmt"
)

// JSONSet implements §6's json_set: path "$" replaces the whole document,
// "$.field" updates one field. Valkey's JSON module resets TTL on write for
// some backends, so when the key already carries a TTL it is captured
// before the write and reapplied after — "preserves TTL on field update" is
// a store-level guarantee the caller can rely on regardless of the
// underlying module's own behavior.
func (s *Store) JSONSet(ctx context.Context, key, path string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("kv: marshal json_set %s%s: %w", key, path, err)
	}
	if path == "" {
		path = "$"
	}

	ttl, ttlErr := s.TTL(ctx, key)
	hadTTL := ttlErr == nil && ttl > 0

	if err := withRetry(ctx, func() error {
		return s.client.Do(ctx, "JSON.SET", key, path, string(payload)).Err()
	}); err != nil {
		return err
	}

	if hadTTL {
		if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
			return fmt.Errorf("kv: restore ttl after json_set %s: %w", key, err)
		}
	}
	return nil
}

// JSONGet implements §6's json_get: returns the raw JSON at path (default
// "$", the whole document).
func (s *Store) JSONGet(ctx context.Context, key, path string) (json.RawMessage, error) {
	if path == "" {
		path = "$"
	}
	var raw json.RawMessage
	err := withRetry(ctx, func() error {
		v, err := s.client.Do(ctx, "JSON.GET", key, path).Text()
		if err != nil {
			return err
		}
		raw = json.RawMessage(v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return raw, nil
}
