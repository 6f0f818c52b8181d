package kv

import (
	"context"
	"strconv"
	"strings"

	"github.com/mira-ai/mira/internal/observability"
)

// ExpiryHandler reacts to one expired key, the way §6's "expiry handlers"
// persist short-lived state before it is gone for good.
type ExpiryHandler func(ctx context.Context, key string)

// ExpiryListener is the §5 "single background task" that subscribes to
// Valkey/Redis key-expiration notifications and dispatches to registered
// handlers by key prefix. Grounded on
// RedisGenerationCache.SubscribeInvalidations' pubsub-channel-to-Go-channel
// idiom, generalized from one fixed channel to the keyspace-notification
// pattern `__keyevent@<db>__:expired`.
type ExpiryListener struct {
	store    *Store
	db       int
	handlers []prefixHandler
	logger   *observability.Logger
}

type prefixHandler struct {
	prefix  string
	handler ExpiryHandler
}

// NewExpiryListener builds a listener over store's connection, targeting
// db's keyspace-notification channel.
func NewExpiryListener(store *Store, db int, logger *observability.Logger) *ExpiryListener {
	return &ExpiryListener{store: store, db: db, logger: logger}
}

// RegisterPrefix dispatches every expired key beginning with prefix to h.
// Safe to call before Run starts.
func (l *ExpiryListener) RegisterPrefix(prefix string, h ExpiryHandler) {
	l.handlers = append(l.handlers, prefixHandler{prefix: prefix, handler: h})
}

// Run subscribes to the expired-key channel and dispatches until ctx is
// canceled. Requires the server have `notify-keyspace-events Ex` enabled;
// callers are expected to configure that operationally, the way Vault
// AppRole preload is an operational precondition rather than something this
// package enforces.
func (l *ExpiryListener) Run(ctx context.Context) error {
	channel := "__keyevent@" + strconv.Itoa(l.db) + "__:expired"
	sub := l.store.client.Subscribe(ctx, channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			l.dispatch(ctx, msg.Payload)
		}
	}
}

func (l *ExpiryListener) dispatch(ctx context.Context, key string) {
	for _, ph := range l.handlers {
		if strings.HasPrefix(key, ph.prefix) {
			if l.logger != nil {
				l.logger.Debug(ctx, "kv expiry dispatch", "key", key, "prefix", ph.prefix)
			}
			ph.handler(ctx, key)
		}
	}
}
