package orchestrator

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/mira-ai/mira/internal/llm"
	"github.com/mira-ai/mira/internal/models"
	"github.com/mira-ai/mira/internal/streamevents"
)

const driftPreviewChars = 200

// judgeDriftCut asks a cheap, fast model to confirm or move the tier-2
// candidate cut point, given ~200-char previews on each side of every
// drift candidate. It returns the chosen message index, or 0 if the model
// picked "NONE" or the call failed.
func (o *Orchestrator) judgeDriftCut(ctx context.Context, messages []models.Message, candidateCut int) (int, error) {
	if candidateCut <= 0 || candidateCut >= len(messages) {
		return 0, nil
	}

	before := previewBefore(messages, candidateCut, driftPreviewChars)
	after := previewAfter(messages, candidateCut, driftPreviewChars)

	prompt := fmt.Sprintf(
		"A conversation may have drifted topic at one point. Before the candidate cut:\n%s\n\nAfter the candidate cut:\n%s\n\nReply with exactly \"1\" if this is a genuine topic boundary worth cutting at, or \"NONE\" if it is not.",
		before, after,
	)

	req := &llm.Request{
		Messages:      []models.Message{models.NewUserMessage(prompt)},
		ModelOverride: o.judgmentModel,
		MaxTokens:     16,
	}
	resp, err := o.judgmentProvider.GenerateResponse(ctx, req, func(streamevents.Event) {})
	if err != nil {
		return 0, fmt.Errorf("orchestrator: drift judgment call: %w", err)
	}

	answer := strings.ToUpper(strings.TrimSpace(resp.Text()))
	if answer == "NONE" || answer == "" {
		return 0, nil
	}
	if _, err := strconv.Atoi(answer); err != nil {
		return 0, nil
	}
	return candidateCut, nil
}

func previewBefore(messages []models.Message, cut, maxChars int) string {
	if cut <= 0 {
		return ""
	}
	text := messages[cut-1].Text()
	if len(text) > maxChars {
		text = text[len(text)-maxChars:]
	}
	return text
}

func previewAfter(messages []models.Message, cut, maxChars int) string {
	if cut >= len(messages) {
		return ""
	}
	text := messages[cut].Text()
	if len(text) > maxChars {
		text = text[:maxChars]
	}
	return text
}
