package segment

import (
	"context"
	"strings"
	"testing"

	"github.com/mira-ai/mira/internal/llm"
	"github.com/mira-ai/mira/internal/models"
	"github.com/mira-ai/mira/internal/streamevents"
)

// stubProvider is a minimal llm.Provider that counts calls and branches its
// reply on whether the prompt is asking for the final structured
// title/summary JSON or a plain-text chunk narrative.
type stubProvider struct {
	calls int
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) GenerateResponse(ctx context.Context, req *llm.Request, onEvent func(streamevents.Event)) (*models.Message, error) {
	s.calls++
	prompt := req.Messages[0].Text()
	if strings.Contains(prompt, "JSON object") {
		msg := models.NewAssistantMessage([]models.ContentBlock{models.NewTextBlock(`{"title": "Long chat", "summary": "condensed"}`)}, nil)
		return &msg, nil
	}
	msg := models.NewAssistantMessage([]models.ContentBlock{models.NewTextBlock("a chunk narrative")}, nil)
	return &msg, nil
}

func TestSummarizeCondensesOversizedSpanBeforeFinalCall(t *testing.T) {
	stub := &stubProvider{}
	svc := New(stub, nil, "cheap-model", 0)

	// Each message is large enough, and there are enough of them, that the
	// combined transcript clears chunkedCondenseThresholdChars and also
	// forces compaction.SummarizeChunks to split into more than one chunk.
	body := strings.Repeat("the quick brown fox jumps over the lazy dog. ", 400) // ~18.8k chars
	span := make([]models.Message, 20)
	for i := range span {
		span[i] = models.NewUserMessage(body)
	}

	sum, err := svc.summarize(context.Background(), span)
	if err != nil {
		t.Fatalf("summarize() error = %v", err)
	}
	if sum.Title != "Long chat" || sum.Summary != "condensed" {
		t.Fatalf("summarize() = %+v, want the stub's structured reply", sum)
	}
	// At least one chunk call plus the final structured call; the oversized
	// path must have gone through condenseOversizedSpan rather than handing
	// the raw transcript straight to the final prompt.
	if stub.calls < 2 {
		t.Fatalf("got %d provider calls, want at least 2 (chunk summarization + final call)", stub.calls)
	}
}

func TestSummarizeSkipsCondensationForShortSpan(t *testing.T) {
	stub := &stubProvider{}
	svc := New(stub, nil, "cheap-model", 0)

	span := []models.Message{
		models.NewUserMessage("hello"),
		models.NewAssistantMessage([]models.ContentBlock{models.NewTextBlock("hi there")}, nil),
	}

	sum, err := svc.summarize(context.Background(), span)
	if err != nil {
		t.Fatalf("summarize() error = %v", err)
	}
	if sum.Title != "Long chat" {
		t.Fatalf("summarize() = %+v, want the stub's structured reply", sum)
	}
	if stub.calls != 1 {
		t.Fatalf("got %d provider calls, want exactly 1 (no condensation needed)", stub.calls)
	}
}
