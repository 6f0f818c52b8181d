package mira

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/mira-ai/mira/internal/llm"
	"github.com/mira-ai/mira/internal/streamevents"
)

type stubProvider struct{}

func (stubProvider) Name() string { return "stub" }

func (stubProvider) GenerateResponse(ctx context.Context, req *llm.Request, onEvent func(streamevents.Event)) (*Message, error) {
	msg := NewUserMessage("ok")
	msg.Role = "assistant"
	return &msg, nil
}

type stubFingerprint struct{}

func (stubFingerprint) Generate(ctx context.Context, continuum *Continuum, userText string, previousMemories []MemoryRecord) (string, []string, error) {
	return userText, nil, nil
}

func TestNewBuildsAnOrchestrator(t *testing.T) {
	orch, err := New(Deps{Provider: stubProvider{}, Fingerprint: stubFingerprint{}}, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if orch == nil {
		t.Fatal("expected a non-nil orchestrator")
	}
}

func TestNewContinuumStartsEmpty(t *testing.T) {
	c := NewContinuum(uuid.New(), uuid.New())
	if len(c.Messages) != 0 {
		t.Fatalf("len(c.Messages) = %d, want 0", len(c.Messages))
	}
}
