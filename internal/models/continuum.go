package models

import (
	"time"

	"github.com/google/uuid"
)

// DomainEvent is a fact published by a Continuum mutator for the event bus
// to fan out (e.g. TurnCompletedEvent). It carries a Name matching the
// streamevents/event bus topic convention and an opaque Payload.
type DomainEvent struct {
	Name    string
	Payload any
}

// Continuum is the ordered, append-only sequence of Messages for one
// (user, continuum) pair. It is mutable only through AddUserMessage and
// AddAssistantMessage; messages are appended, never edited.
type Continuum struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Messages  []Message
	TurnCount int
}

// NewContinuum creates an empty continuum for a user.
func NewContinuum(id, userID uuid.UUID) *Continuum {
	return &Continuum{ID: id, UserID: userID}
}

// AddUserMessage appends a user message and returns it plus the domain
// events to publish. Real user messages (as opposed to synthetic
// auto-continuation messages) are expected to have already incremented
// TurnCount at the API boundary before this is called.
func (c *Continuum) AddUserMessage(msg Message) (Message, []DomainEvent) {
	msg.Role = RoleUser
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	c.Messages = append(c.Messages, msg)
	return msg, []DomainEvent{{Name: "UserMessageAdded", Payload: msg}}
}

// AddAssistantMessage appends an assistant message and returns it plus the
// domain events to publish.
func (c *Continuum) AddAssistantMessage(msg Message) (Message, []DomainEvent) {
	msg.Role = RoleAssistant
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	c.Messages = append(c.Messages, msg)
	return msg, []DomainEvent{{Name: "AssistantMessageAdded", Payload: msg}}
}

// LastUserMessageIndex returns the index of the last user message, or -1.
func (c *Continuum) LastUserMessageIndex() int {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == RoleUser {
			return i
		}
	}
	return -1
}

// ActiveSentinel returns the message index and value of the current active
// segment sentinel, if any. Invariant: at most one active sentinel exists
// at steady state.
func (c *Continuum) ActiveSentinel() (int, *Message) {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		m := c.Messages[i]
		if m.IsSegmentBoundary() && m.Assistant.SegmentStatus == "active" {
			return i, &c.Messages[i]
		}
	}
	return -1, nil
}

// MessagesSince returns all messages with index > since (exclusive).
func (c *Continuum) MessagesSince(since int) []Message {
	if since+1 >= len(c.Messages) {
		return nil
	}
	return c.Messages[since+1:]
}
