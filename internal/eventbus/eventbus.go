// Package eventbus implements the synchronous, in-process publish/subscribe
// mechanism that lets trinkets and the working memory core react to
// orchestrator events without holding direct references to each other.
package eventbus

import (
	"strings"
	"sync"
)

// FailureCategory classifies a subscriber panic/error for logging, the way
// the spec distinguishes "infrastructure" failures (Database/Valkey/
// Connection in the error text) from ordinary "logic" failures.
type FailureCategory string

const (
	CategoryInfrastructure FailureCategory = "infrastructure"
	CategoryLogic          FailureCategory = "logic"
)

// Handler receives a published payload. Handlers run synchronously, in
// subscription order, on the publisher's goroutine.
type Handler func(payload any)

// ErrorLogger is notified whenever a subscriber panics or returns an error
// via Handler. The publishing caller never sees the failure — subscriber
// errors are isolated so a trinket failure can never crash prompt
// composition.
type ErrorLogger func(topic string, category FailureCategory, recovered any)

// Bus dispatches payloads to subscribers by topic name.
type Bus struct {
	mu     sync.Mutex
	subs   map[string][]Handler
	onFail ErrorLogger
}

// New creates an empty Bus. onFail may be nil, in which case failures are
// silently swallowed (still isolated, just not logged).
func New(onFail ErrorLogger) *Bus {
	return &Bus{subs: make(map[string][]Handler), onFail: onFail}
}

// Subscribe registers h to run whenever topic is published, after any
// handler already subscribed to topic.
func (b *Bus) Subscribe(topic string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[topic] = append(b.subs[topic], h)
}

// Publish invokes every subscriber of topic, in subscription order, on the
// calling goroutine. A publish fully completes all subscriber invocations
// before returning. A handler that republishes (calls Publish again from
// within its own invocation) recurses immediately rather than enqueuing —
// Bus holds no internal queue.
//
// Handler panics are recovered, classified, and reported to onFail; they
// never propagate to the caller and never stop sibling handlers from
// running.
func (b *Bus) Publish(topic string, payload any) {
	b.mu.Lock()
	handlers := make([]Handler, len(b.subs[topic]))
	copy(handlers, b.subs[topic])
	b.mu.Unlock()

	for _, h := range handlers {
		b.invoke(topic, h, payload)
	}
}

func (b *Bus) invoke(topic string, h Handler, payload any) {
	defer func() {
		if r := recover(); r != nil {
			if b.onFail != nil {
				b.onFail(topic, classifyFailure(r), r)
			}
		}
	}()
	h(payload)
}

// classifyFailure inspects the recovered value's string form for the
// markers that distinguish an infrastructure failure from an ordinary
// logic failure: the presence of "Database", "Valkey", or "Connection".
func classifyFailure(recovered any) FailureCategory {
	var s string
	switch v := recovered.(type) {
	case error:
		s = v.Error()
	case string:
		s = v
	default:
		return CategoryLogic
	}
	for _, marker := range []string{"Database", "Valkey", "Connection"} {
		if strings.Contains(s, marker) {
			return CategoryInfrastructure
		}
	}
	return CategoryLogic
}
