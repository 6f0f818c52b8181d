package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/mira-ai/mira/internal/llm"
	"github.com/mira-ai/mira/internal/models"
	"github.com/mira-ai/mira/internal/streamevents"
)

// FingerprintGenerator is the §4.12 external collaborator: it expands the
// user's latest message plus prior context into a retrieval-optimized
// query, and lets the model vote to retain previously surfaced memories by
// marking their short ids. A failure here has no degraded path — §4.10
// step 4 requires it to abort the turn.
type FingerprintGenerator interface {
	Generate(ctx context.Context, continuum *models.Continuum, userText string, previousMemories []models.MemoryRecord) (fingerprint string, pinnedShortIDs []string, err error)
}

// LLMFingerprintGenerator implements FingerprintGenerator against a cheap,
// fast model reached through the same llm.Provider used for ordinary
// turns.
type LLMFingerprintGenerator struct {
	provider llm.Provider
	model    string
}

// NewLLMFingerprintGenerator builds a FingerprintGenerator over provider,
// using model (typically Haiku-class) for the expansion call.
func NewLLMFingerprintGenerator(provider llm.Provider, model string) *LLMFingerprintGenerator {
	return &LLMFingerprintGenerator{provider: provider, model: model}
}

var shortIDPattern = regexp.MustCompile(`\[x\]\s*mem_([0-9a-fA-F]{8})`)

type fingerprintResponse struct {
	Fingerprint string `json:"fingerprint"`
}

// Generate asks the model for a retrieval-optimized rewrite of userText
// plus zero or more `[x] mem_XXXXXXXX` retention votes against
// previousMemories.
func (g *LLMFingerprintGenerator) Generate(ctx context.Context, continuum *models.Continuum, userText string, previousMemories []models.MemoryRecord) (string, []string, error) {
	if g.provider == nil {
		return "", nil, fmt.Errorf("orchestrator: fingerprint generator has no provider")
	}

	var prior strings.Builder
	for _, m := range previousMemories {
		fmt.Fprintf(&prior, "mem_%s: %s\n", m.ShortID(), m.Text)
	}

	prompt := strings.Builder{}
	prompt.WriteString("Rewrite the user's message as a retrieval-optimized search query. ")
	prompt.WriteString(`Respond with a JSON object {"fingerprint": "..."}.`)
	if prior.Len() > 0 {
		prompt.WriteString(" Then, on new lines, vote to retain any of these previously surfaced memories that remain relevant by writing `[x] mem_XXXXXXXX` for each, one per line:\n")
		prompt.WriteString(prior.String())
	}
	prompt.WriteString("\n\nUser message: ")
	prompt.WriteString(userText)

	req := &llm.Request{
		Messages:      []models.Message{models.NewUserMessage(prompt.String())},
		ModelOverride: g.model,
		MaxTokens:     512,
	}
	resp, err := g.provider.GenerateResponse(ctx, req, func(streamevents.Event) {})
	if err != nil {
		return "", nil, fmt.Errorf("orchestrator: fingerprint generation: %w", err)
	}

	text := resp.Text()
	pinned := extractPinnedShortIDs(text)

	fingerprint := userText
	if obj := extractJSONObject(text); obj != "" {
		var parsed fingerprintResponse
		if err := json.Unmarshal([]byte(obj), &parsed); err == nil && parsed.Fingerprint != "" {
			fingerprint = parsed.Fingerprint
		}
	}
	return fingerprint, pinned, nil
}

// extractPinnedShortIDs finds every `[x] mem_XXXXXXXX` retention vote in
// text, the same tag format the assistant's own replies use in step 15.
func extractPinnedShortIDs(text string) []string {
	matches := shortIDPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, strings.ToLower(m[1]))
	}
	return out
}

func extractJSONObject(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end < start {
		return ""
	}
	return text[start : end+1]
}
