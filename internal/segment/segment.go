// Package segment implements the §4.13 Segment Lifecycle: active sentinel
// bookkeeping, the postpone-stacking collapse trigger, LLM-summarized
// collapse, and the date-grouped manifest. Grounded on the orchestrator's
// own turn algorithm (spec.md §4.10 step on segment_turn_number) and on
// internal/llm.Provider for the summarization call, since the teacher has
// no equivalent conversation-segmentation concept.
package segment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mira-ai/mira/internal/compaction"
	"github.com/mira-ai/mira/internal/llm"
	"github.com/mira-ai/mira/internal/memory/embeddings"
	"github.com/mira-ai/mira/internal/models"
	"github.com/mira-ai/mira/internal/streamevents"
)

// Service drives segment lifecycle transitions over one continuum at a
// time. It holds no per-continuum state; every method takes the Continuum
// it operates on.
type Service struct {
	summarizer llm.Provider
	embedder   embeddings.Provider
	model      string
	timeout    time.Duration
}

// Config carries the §4.13 timing knobs (internal/config.SegmentsConfig
// mirrors this shape).
type Config struct {
	TimeoutMinutes     int
	FallbackPruneCount int
}

// New builds a Service. summarizer is typically a Haiku-class model
// reached through the same llm.Provider used for ordinary turns, with
// ModelOverride set to the cheap model.
func New(summarizer llm.Provider, embedder embeddings.Provider, summarizerModel string, timeout time.Duration) *Service {
	return &Service{summarizer: summarizer, embedder: embedder, model: summarizerModel, timeout: timeout}
}

// StartSegment appends a fresh active sentinel to the continuum, the way a
// user's first message or the moment after a collapse begins a new
// segment.
func StartSegment(c *models.Continuum, startTime time.Time) models.Message {
	sentinel := models.NewActiveSentinel(uuid.New(), startTime)
	c.Messages = append(c.Messages, sentinel)
	return sentinel
}

// ShouldCollapse reports whether the active sentinel's virtual last
// message time is more than timeout minutes in the past relative to now.
// A sentinel with no virtual time recorded yet never triggers.
func (s *Service) ShouldCollapse(sentinel models.Message, now time.Time, timeoutMinutes int) bool {
	if sentinel.Assistant == nil || sentinel.Assistant.VirtualLastMessageTime == nil {
		return false
	}
	deadline := sentinel.Assistant.VirtualLastMessageTime.Add(time.Duration(timeoutMinutes) * time.Minute)
	return now.After(deadline)
}

// TouchVirtualTime stamps the sentinel's virtual last message time to now,
// the way every real turn resets the collapse countdown.
func TouchVirtualTime(sentinel *models.Message, now time.Time) {
	if sentinel.Assistant == nil {
		return
	}
	t := now
	sentinel.Assistant.VirtualLastMessageTime = &t
}

// Postpone implements the stacking postpone rule: if the sentinel's
// current virtual time is still in the future relative to now, minutes
// are added to *that* time; otherwise they are added to now.
func Postpone(sentinel *models.Message, minutes int, now time.Time) {
	if sentinel.Assistant == nil {
		return
	}
	base := now
	if sentinel.Assistant.VirtualLastMessageTime != nil && sentinel.Assistant.VirtualLastMessageTime.After(now) {
		base = *sentinel.Assistant.VirtualLastMessageTime
	}
	next := base.Add(time.Duration(minutes) * time.Minute)
	sentinel.Assistant.VirtualLastMessageTime = &next
}

// summary is the structured output the collapse summarization prompt asks
// for.
type summary struct {
	Title     string   `json:"title"`
	Summary   string   `json:"summary"`
	ToolsUsed []string `json:"tools_used"`
}

// Collapse gathers every message between the active sentinel at
// sentinelIndex and the end of the continuum, summarizes it via the
// configured LLM, embeds the summary, marks the sentinel collapsed, and
// starts a fresh active sentinel immediately after it (§4.13 "immediately
// create a fresh active sentinel").
func (s *Service) Collapse(ctx context.Context, c *models.Continuum, sentinelIndex int, endTime time.Time) error {
	if sentinelIndex < 0 || sentinelIndex >= len(c.Messages) {
		return fmt.Errorf("segment: sentinel index %d out of range", sentinelIndex)
	}
	sentinel := &c.Messages[sentinelIndex]
	if !sentinel.IsSegmentBoundary() || sentinel.Assistant.SegmentStatus != string(models.SegmentActive) {
		return fmt.Errorf("segment: message at %d is not an active sentinel", sentinelIndex)
	}

	span := c.Messages[sentinelIndex+1:]
	sum, err := s.summarize(ctx, span)
	if err != nil {
		return fmt.Errorf("segment: summarize: %w", err)
	}

	var embedding []float32
	if s.embedder != nil && sum.Summary != "" {
		embedding, err = s.embedder.Embed(ctx, sum.Summary)
		if err != nil {
			return fmt.Errorf("segment: embed summary: %w", err)
		}
	}

	models.Collapse(sentinel, endTime, sum.Title, sum.Summary, sum.ToolsUsed, embedding)
	StartSegment(c, endTime)
	return nil
}

// chunkedCondenseThresholdChars is the transcript length above which
// summarize pre-condenses the span through compaction.SummarizeChunks
// before the final structured title/summary call, so an oversized segment
// never hands the summarizer model a transcript it can't itself fit.
const chunkedCondenseThresholdChars = 60000

// summarize asks the configured (typically cheap/fast) model for a JSON
// object describing span, tolerating a markdown code fence around the
// JSON the way many chat models wrap structured answers.
func (s *Service) summarize(ctx context.Context, span []models.Message) (summary, error) {
	if len(span) == 0 {
		return summary{Title: "Empty segment", Summary: "No messages were exchanged."}, nil
	}

	var transcript strings.Builder
	var toolsUsed []string
	seen := map[string]bool{}
	for _, m := range span {
		transcript.WriteString(string(m.Role))
		transcript.WriteString(": ")
		transcript.WriteString(m.Text())
		transcript.WriteString("\n")
		for _, blk := range m.ToolUseBlocks() {
			if !seen[blk.ToolName] {
				seen[blk.ToolName] = true
				toolsUsed = append(toolsUsed, blk.ToolName)
			}
		}
	}

	body := transcript.String()
	if len(body) > chunkedCondenseThresholdChars {
		condensed, err := s.condenseOversizedSpan(ctx, span)
		if err != nil {
			return summary{}, fmt.Errorf("condensing oversized span: %w", err)
		}
		body = condensed
	}

	prompt := "Summarize the following conversation segment. Respond with a single JSON object " +
		`{"title": "...", "summary": "..."} and nothing else.` + "\n\n" + body

	req := &llm.Request{
		Messages:      []models.Message{models.NewUserMessage(prompt)},
		ModelOverride: s.model,
		MaxTokens:     512,
	}
	if ctx != nil && s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	resp, err := s.summarizer.GenerateResponse(ctx, req, func(streamevents.Event) {})
	if err != nil {
		return summary{}, err
	}

	var sum summary
	text := extractJSONObject(resp.Text())
	if err := json.Unmarshal([]byte(text), &sum); err != nil {
		// Fall back to the raw text as the summary rather than failing the
		// collapse outright — a malformed structured response shouldn't
		// block the segment boundary from closing.
		sum = summary{Title: "Conversation segment", Summary: resp.Text()}
	}
	sum.ToolsUsed = toolsUsed
	return sum, nil
}

// condenseOversizedSpan reduces span to a single narrative via chunked
// summarization before the caller's final structured title/summary pass,
// so a segment long enough to overflow the summarizer model's own context
// window still collapses cleanly.
func (s *Service) condenseOversizedSpan(ctx context.Context, span []models.Message) (string, error) {
	msgs := make([]*compaction.Message, len(span))
	for i, m := range span {
		msgs[i] = &compaction.Message{Role: string(m.Role), Content: m.Text()}
	}

	cfg := compaction.DefaultSummarizationConfig()
	cfg.Model = s.model

	return compaction.SummarizeChunks(ctx, msgs, &chunkSummarizer{provider: s.summarizer, model: s.model, timeout: s.timeout}, cfg)
}

// chunkSummarizer adapts a Service's llm.Provider to compaction.Summarizer,
// producing a plain-text narrative for one chunk rather than the
// structured title/summary JSON the final pass expects.
type chunkSummarizer struct {
	provider llm.Provider
	model    string
	timeout  time.Duration
}

func (c *chunkSummarizer) GenerateSummary(ctx context.Context, messages []*compaction.Message, cfg *compaction.SummarizationConfig) (string, error) {
	var transcript strings.Builder
	for _, m := range messages {
		transcript.WriteString(m.Role)
		transcript.WriteString(": ")
		transcript.WriteString(m.Content)
		transcript.WriteString("\n")
	}

	prompt := "Summarize this portion of a longer conversation in a few sentences, preserving names, decisions, and open threads.\n\n" + transcript.String()
	if cfg.PreviousSummary != "" {
		prompt = "Prior summary so far:\n" + cfg.PreviousSummary + "\n\n" + prompt
	}
	if cfg.CustomInstructions != "" {
		prompt = cfg.CustomInstructions + "\n\n" + prompt
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req := &llm.Request{
		Messages:      []models.Message{models.NewUserMessage(prompt)},
		ModelOverride: c.model,
		MaxTokens:     1024,
	}
	resp, err := c.provider.GenerateResponse(ctx, req, func(streamevents.Event) {})
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// extractJSONObject strips a surrounding markdown code fence, if any, and
// returns the substring from the first '{' to the last '}'.
func extractJSONObject(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end < start {
		return text
	}
	return text[start : end+1]
}
