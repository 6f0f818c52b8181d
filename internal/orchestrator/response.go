package orchestrator

import (
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/mira-ai/mira/internal/models"
)

var (
	referencedMemoryPattern = regexp.MustCompile(`\[ref\]\s*mem_([0-9a-fA-F]{8})`)
	pinnedMemoryPattern     = regexp.MustCompile(`\[x\]\s*mem_([0-9a-fA-F]{8})`)
	emotionPattern          = regexp.MustCompile(`(?s)<my_emotion>(.*?)</my_emotion>`)
)

// parsedResponse is the result of scanning an assistant reply's text for
// the §4.10 step 15 tags.
type parsedResponse struct {
	Emotion            string
	ReferencedShortIDs []string
	PinnedShortIDs     []string
}

// parseResponseTags extracts the emotion tag and the reference/retention
// short-id votes from text. The tags themselves are left in place — "my_emotion"
// is explicitly preserved per §4.10 step 15, and the memory vote markers
// are the same ones the next turn's fingerprint step looks for.
func parseResponseTags(text string) parsedResponse {
	var out parsedResponse
	if m := emotionPattern.FindStringSubmatch(text); m != nil {
		out.Emotion = strings.TrimSpace(m[1])
	}
	for _, m := range referencedMemoryPattern.FindAllStringSubmatch(text, -1) {
		out.ReferencedShortIDs = append(out.ReferencedShortIDs, strings.ToLower(m[1]))
	}
	for _, m := range pinnedMemoryPattern.FindAllStringSubmatch(text, -1) {
		out.PinnedShortIDs = append(out.PinnedShortIDs, strings.ToLower(m[1]))
	}
	return out
}

// resolveShortIDs maps short ids to full UUIDs against the surfaced set.
// A short id with no match among surfaced is simply dropped (§9
// "Short-ID collisions": a non-match during a resolve step drops the
// reference rather than erroring).
func resolveShortIDs(shortIDs []string, surfaced []models.MemoryRecord) []uuid.UUID {
	if len(shortIDs) == 0 {
		return nil
	}
	byShort := make(map[string]uuid.UUID, len(surfaced))
	for _, m := range surfaced {
		byShort[m.ShortID()] = m.ID
	}
	out := make([]uuid.UUID, 0, len(shortIDs))
	for _, id := range shortIDs {
		if full, ok := byShort[id]; ok {
			out = append(out, full)
		}
	}
	return out
}

// pinnedMemoriesFromPrevious selects the subset of previousMemories whose
// short id appears in pinnedShortIDs (§4.10 step 5).
func pinnedMemoriesFromPrevious(previousMemories []models.MemoryRecord, pinnedShortIDs []string) []models.MemoryRecord {
	if len(pinnedShortIDs) == 0 {
		return nil
	}
	want := make(map[string]bool, len(pinnedShortIDs))
	for _, id := range pinnedShortIDs {
		want[id] = true
	}
	var out []models.MemoryRecord
	for _, m := range previousMemories {
		if want[m.ShortID()] {
			out = append(out, m)
		}
	}
	return out
}

// modelErrorApology is the fixed user-facing text substituted when the
// model's reply is blank because a circuit-breaker tool error consumed
// the turn (§4.10 step 15, §7 "User-visible behavior").
const modelErrorApology = "I ran into a problem completing that and don't have a good answer right now. Could you try rephrasing, or try again in a moment?"
