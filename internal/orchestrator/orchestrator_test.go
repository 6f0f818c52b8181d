package orchestrator

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/mira-ai/mira/internal/llm"
	"github.com/mira-ai/mira/internal/models"
	"github.com/mira-ai/mira/internal/streamevents"
)

func TestParseResponseTagsExtractsEmotionAndVotes(t *testing.T) {
	text := "Sounds good! <my_emotion>curious</my_emotion> [ref] mem_deadbeef [x] mem_cafebabe"
	tags := parseResponseTags(text)
	if tags.Emotion != "curious" {
		t.Fatalf("emotion = %q, want curious", tags.Emotion)
	}
	if len(tags.ReferencedShortIDs) != 1 || tags.ReferencedShortIDs[0] != "deadbeef" {
		t.Fatalf("referenced = %v", tags.ReferencedShortIDs)
	}
	if len(tags.PinnedShortIDs) != 1 || tags.PinnedShortIDs[0] != "cafebabe" {
		t.Fatalf("pinned = %v", tags.PinnedShortIDs)
	}
}

func TestResolveShortIDsDropsNonMatches(t *testing.T) {
	a := models.MemoryRecord{ID: uuid.New()}
	surfaced := []models.MemoryRecord{a}
	resolved := resolveShortIDs([]string{a.ShortID(), "00000000"}, surfaced)
	if len(resolved) != 1 || resolved[0] != a.ID {
		t.Fatalf("resolved = %v, want [%v]", resolved, a.ID)
	}
}

func TestPinnedMemoriesFromPreviousFiltersByShortID(t *testing.T) {
	a := models.MemoryRecord{ID: uuid.New()}
	b := models.MemoryRecord{ID: uuid.New()}
	pinned := pinnedMemoriesFromPrevious([]models.MemoryRecord{a, b}, []string{a.ShortID()})
	if len(pinned) != 1 || pinned[0].ID != a.ID {
		t.Fatalf("pinned = %v, want [%v]", pinned, a.ID)
	}
}

func TestEstimateTokensUsesLastActualWhenKnown(t *testing.T) {
	messages := []models.Message{models.NewUserMessage("short")}
	withActual := estimateTokens(messages, 2, 10000)
	withoutActual := estimateTokens(messages, 2, 0)
	if withActual <= withoutActual {
		t.Fatalf("expected the actual-token baseline to dominate: %d vs %d", withActual, withoutActual)
	}
}

func TestApplyPendingTrimPreservesSystemMessage(t *testing.T) {
	trims := newPendingTrims()
	id := uuid.New()
	trims.set(id, 3)
	messages := []models.Message{
		{Role: models.RoleSystem},
		models.NewUserMessage("one"),
		models.NewUserMessage("two"),
		models.NewUserMessage("three"),
	}
	out := applyPendingTrim(trims, id, messages)
	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2", len(out))
	}
	if out[0].Role != models.RoleSystem {
		t.Fatalf("out[0] role = %v, want system", out[0].Role)
	}
	if out[1].Text() != "three" {
		t.Fatalf("out[1].Text() = %q, want three", out[1].Text())
	}
	if _, ok := trims.pop(id); ok {
		t.Fatalf("trim should have been popped, not left pending")
	}
}

func TestOldestFirstPrunePreservesSystemMessage(t *testing.T) {
	messages := []models.Message{
		{Role: models.RoleSystem},
		models.NewUserMessage("one"),
		models.NewUserMessage("two"),
		models.NewUserMessage("three"),
	}
	out := oldestFirstPrune(messages, 2)
	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2", len(out))
	}
	if out[0].Role != models.RoleSystem {
		t.Fatalf("out[0] role = %v, want system", out[0].Role)
	}
	if out[1].Text() != "three" {
		t.Fatalf("out[1].Text() = %q, want three", out[1].Text())
	}
}

func TestCosineSimilarityIdenticalVectors(t *testing.T) {
	v := []float32{1, 2, 3}
	sim := cosineSimilarity(v, v)
	if sim < 0.999 || sim > 1.001 {
		t.Fatalf("cosineSimilarity(v, v) = %v, want ~1", sim)
	}
}

func TestCosineSimilarityMismatchedLengths(t *testing.T) {
	if sim := cosineSimilarity([]float32{1}, []float32{1, 2}); sim != 0 {
		t.Fatalf("cosineSimilarity with mismatched lengths = %v, want 0", sim)
	}
}

func TestValidateUserMessageRejectsBlank(t *testing.T) {
	if err := validateUserMessage(models.Message{}); err == nil {
		t.Fatal("expected an error for empty message content")
	}
	if err := validateUserMessage(models.NewUserMessage("   ")); err == nil {
		t.Fatal("expected an error for whitespace-only message content")
	}
	if err := validateUserMessage(models.NewUserMessage("hi")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTextForContextFallsBackToImageUploaded(t *testing.T) {
	img := models.Message{Blocks: []models.ContentBlock{{Type: models.BlockImage}}}
	if got := textForContext(img); got != "Image uploaded" {
		t.Fatalf("textForContext(image) = %q, want %q", got, "Image uploaded")
	}
	textMsg := models.NewUserMessage("hello")
	if got := textForContext(textMsg); got != "hello" {
		t.Fatalf("textForContext(text) = %q, want hello", got)
	}
}

func TestAutoContinuationModeDetectsLoadMode(t *testing.T) {
	resp := &models.Message{
		Blocks: []models.ContentBlock{
			models.NewToolUseBlock("call_1", llm.InvokeOtherToolName, []byte(`{"mode":"load"}`)),
		},
	}
	mode, ok := autoContinuationMode(resp)
	if !ok || mode != "load" {
		t.Fatalf("autoContinuationMode = (%q, %v), want (load, true)", mode, ok)
	}
}

func TestAutoContinuationModeIgnoresUnknownModes(t *testing.T) {
	resp := &models.Message{
		Blocks: []models.ContentBlock{
			models.NewToolUseBlock("call_1", llm.InvokeOtherToolName, []byte(`{"mode":"other"}`)),
		},
	}
	if _, ok := autoContinuationMode(resp); ok {
		t.Fatal("expected no auto-continuation for an unrecognized mode")
	}
}

// stubProvider is a minimal llm.Provider that always returns a fixed reply,
// used to drive ProcessMessage end to end without a network dependency.
type stubProvider struct {
	reply string
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) GenerateResponse(ctx context.Context, req *llm.Request, onEvent func(streamevents.Event)) (*models.Message, error) {
	return &models.Message{
		Role:   models.RoleAssistant,
		Blocks: []models.ContentBlock{models.NewTextBlock(s.reply)},
	}, nil
}

// stubFingerprint returns the user text unchanged and never votes to retain.
type stubFingerprint struct{}

func (stubFingerprint) Generate(ctx context.Context, continuum *models.Continuum, userText string, previousMemories []models.MemoryRecord) (string, []string, error) {
	return userText, nil, nil
}

func TestProcessMessageHappyPath(t *testing.T) {
	orch, err := New(Deps{
		Provider:    &stubProvider{reply: "Hello there! <my_emotion>warm</my_emotion>"},
		Fingerprint: stubFingerprint{},
	}, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	continuum := models.NewContinuum(uuid.New(), uuid.New())
	req := &TurnRequest{
		Continuum:   continuum,
		UserMessage: models.NewUserMessage("hi there"),
		BasePrompt:  "You are MIRA.",
	}

	result, err := orch.ProcessMessage(context.Background(), req, nil)
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if result.Assistant.Text() == "" {
		t.Fatal("expected a non-empty assistant reply")
	}
	if result.Assistant.Assistant == nil || result.Assistant.Assistant.Emotion != "warm" {
		t.Fatalf("expected the emotion tag to survive parsing, got %+v", result.Assistant.Assistant)
	}
	if len(continuum.Messages) != 2 {
		t.Fatalf("len(continuum.Messages) = %d, want 2", len(continuum.Messages))
	}
}

func TestProcessMessageSubstitutesApologyOnBlankReply(t *testing.T) {
	orch, err := New(Deps{
		Provider:    &stubProvider{reply: ""},
		Fingerprint: stubFingerprint{},
	}, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	continuum := models.NewContinuum(uuid.New(), uuid.New())
	req := &TurnRequest{
		Continuum:   continuum,
		UserMessage: models.NewUserMessage("hi there"),
		BasePrompt:  "You are MIRA.",
	}

	result, err := orch.ProcessMessage(context.Background(), req, nil)
	if err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}
	if result.Assistant.Text() != modelErrorApology {
		t.Fatalf("Assistant.Text() = %q, want the fixed apology", result.Assistant.Text())
	}
	if result.Assistant.Assistant == nil || !result.Assistant.Assistant.ModelError {
		t.Fatal("expected model_error metadata to be set")
	}
}

func TestNewRejectsMissingFingerprintGenerator(t *testing.T) {
	if _, err := New(Deps{Provider: &stubProvider{}}, Config{}); err == nil {
		t.Fatal("expected New to reject a nil FingerprintGenerator")
	}
}
