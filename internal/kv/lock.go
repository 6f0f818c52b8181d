package kv

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ChatLockKey builds the chat_lock:<user_id> key named in §6's KV key
// layout.
func ChatLockKey(userID string) string {
	return fmt.Sprintf("chat_lock:%s", userID)
}

// ErrLockHeld is returned by AcquireChatLock when another turn already
// holds the lock for this user.
var ErrLockHeld = fmt.Errorf("another chat request is in progress")

// AcquireChatLock implements the §5 scheduling model: at most one in-flight
// turn per (user_id, continuum_id), enforced by a distributed SETNX lock
// with a TTL. Grounded on RedisGenerationCache.AcquireCommitLock's
// SetNX-returns-bool idiom. The returned release func must be called from a
// guaranteed-cleanup path (defer) regardless of how the turn ends.
func (s *Store) AcquireChatLock(ctx context.Context, userID string, ttl time.Duration) (release func(context.Context), err error) {
	key := ChatLockKey(userID)
	token := uuid.New().String()

	ok, err := s.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("kv: acquire chat lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	release = func(releaseCtx context.Context) {
		// Only release if we still hold it (token matches) — a lock that
		// already expired and was re-acquired by the next turn must not be
		// torn down by a late cleanup from this one.
		held, err := s.client.Get(releaseCtx, key).Result()
		if err == nil && held == token {
			_ = s.client.Del(releaseCtx, key).Err()
		}
	}
	return release, nil
}

// SetTTLWithWarning implements §6's set_ttl_with_warning: alongside setting
// key's own TTL, it stores a "{key}:warning" sentinel expiring warnOffset
// earlier, so the expiry listener (expiry.go) gets a chance to persist
// short-lived state before the primary key actually disappears.
func (s *Store) SetTTLWithWarning(ctx context.Context, key string, value []byte, ttl, warnOffset time.Duration) error {
	if err := s.SetWithTTL(ctx, key, value, ttl); err != nil {
		return err
	}
	warnTTL := ttl - warnOffset
	if warnTTL <= 0 {
		warnTTL = time.Second
	}
	return withRetry(ctx, func() error {
		return s.client.Set(ctx, key+":warning", "1", warnTTL).Err()
	})
}
