package trinket

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mira-ai/mira/internal/models"
	"github.com/mira-ai/mira/internal/segment"
)

// ProactiveMemoryTrinket surfaces the orchestrator's merged pinned+fresh
// memory set in the notification center (§4.7, §4.12). It caches the most
// recently pushed set so a broadcast UpdateTrinketEvent with no "memories"
// key (the per-compose fan-out every other trinket also receives) still
// re-renders the same content, mirroring the cache-between-updates
// behavior of the original ProactiveMemoryTrinket.
type ProactiveMemoryTrinket struct {
	mu     sync.Mutex
	cached []models.MemoryRecord
}

// NewProactiveMemoryTrinket builds an empty ProactiveMemoryTrinket.
func NewProactiveMemoryTrinket() *ProactiveMemoryTrinket {
	return &ProactiveMemoryTrinket{}
}

func (t *ProactiveMemoryTrinket) Name() string      { return SectionRelevantMemories }
func (t *ProactiveMemoryTrinket) CachePolicy() bool { return false }

// GenerateContent renders the cached memory set as a surfaced_memories
// block, updating the cache first if trinketCtx carries a fresh set.
func (t *ProactiveMemoryTrinket) GenerateContent(ctx context.Context, trinketCtx map[string]any) (string, error) {
	t.mu.Lock()
	if memories, ok := trinketCtx["memories"].([]models.MemoryRecord); ok {
		t.cached = memories
	}
	memories := t.cached
	t.mu.Unlock()

	if len(memories) == 0 {
		return "", nil
	}
	return formatSurfacedMemories(memories, time.Now().UTC()), nil
}

func formatSurfacedMemories(memories []models.MemoryRecord, now time.Time) string {
	var b strings.Builder
	b.WriteString("<surfaced_memories>\n")
	for _, m := range memories {
		b.WriteString(formatMemoryXML(m, now))
		b.WriteString("\n")
	}
	b.WriteString("</surfaced_memories>")
	return b.String()
}

func formatMemoryXML(m models.MemoryRecord, now time.Time) string {
	var b strings.Builder

	attrs := fmt.Sprintf(`id=%q`, m.ShortID())
	if m.Confidence > 0.75 {
		attrs += fmt.Sprintf(` confidence=%q`, fmt.Sprintf("%d", int(m.Confidence*100)))
	}
	fmt.Fprintf(&b, "<memory %s>\n", attrs)
	fmt.Fprintf(&b, "<text>%s</text>\n", m.Text)

	if !m.CreatedAt.IsZero() {
		fmt.Fprintf(&b, "<created>%s</created>\n", relativeTime(m.CreatedAt, now))
	}

	var temporal []string
	if m.ExpiresAt != nil {
		temporal = append(temporal, fmt.Sprintf(`expires=%q`, m.ExpiresAt.Format("2006-01-02")))
	}
	if m.HappensAt != nil {
		temporal = append(temporal, fmt.Sprintf(`happens=%q`, m.HappensAt.Format("2006-01-02")))
	}
	if len(temporal) > 0 {
		fmt.Fprintf(&b, "<temporal %s/>\n", strings.Join(temporal, " "))
	}

	// Linked memories are only carried here as ids (internal/models.MemoryRecord
	// holds no resolved text for them); the full nested text/confidence a
	// dedicated graph lookup could add is out of scope for this trinket.
	if len(m.LinkedMemories) > 0 {
		ids := make([]string, len(m.LinkedMemories))
		for i, id := range m.LinkedMemories {
			ids[i] = shortUUID(id)
		}
		fmt.Fprintf(&b, "<linked_memories>%s</linked_memories>\n", strings.Join(ids, ", "))
	}

	b.WriteString("</memory>")
	return b.String()
}

// shortUUID mirrors models.MemoryRecord.ShortID's truncation for a bare
// uuid.UUID that isn't wrapped in a MemoryRecord.
func shortUUID(id uuid.UUID) string {
	hex := strings.ReplaceAll(id.String(), "-", "")
	if len(hex) < 8 {
		return hex
	}
	return hex[:8]
}

// relativeTime renders t relative to now as "N unit(s) ago", falling back
// to "just now" inside the first minute.
func relativeTime(t, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		n := int(d.Minutes())
		return fmt.Sprintf("%d minute%s ago", n, plural(n))
	case d < 24*time.Hour:
		n := int(d.Hours())
		return fmt.Sprintf("%d hour%s ago", n, plural(n))
	default:
		n := int(d.Hours() / 24)
		return fmt.Sprintf("%d day%s ago", n, plural(n))
	}
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

// ManifestTrinket surfaces the §4.13 segment manifest in the notification
// center, caching the last pushed listing the same way ProactiveMemoryTrinket
// caches memories.
type ManifestTrinket struct {
	mu     sync.Mutex
	cached []segment.ManifestEntry
}

// NewManifestTrinket builds an empty ManifestTrinket.
func NewManifestTrinket() *ManifestTrinket {
	return &ManifestTrinket{}
}

func (t *ManifestTrinket) Name() string      { return SectionConversationManifest }
func (t *ManifestTrinket) CachePolicy() bool { return false }

func (t *ManifestTrinket) GenerateContent(ctx context.Context, trinketCtx map[string]any) (string, error) {
	t.mu.Lock()
	if entries, ok := trinketCtx["entries"].([]segment.ManifestEntry); ok {
		t.cached = entries
	}
	entries := t.cached
	t.mu.Unlock()

	if len(entries) == 0 {
		return "", nil
	}
	return formatManifest(entries), nil
}

// formatManifest groups entries (already most-recent-first, per
// segment.Manifest) by date label in first-seen order, the way the
// original manifest trinket's OrderedDict grouping does.
func formatManifest(entries []segment.ManifestEntry) string {
	order := make([]string, 0, 4)
	groups := make(map[string][]segment.ManifestEntry, 4)
	for _, e := range entries {
		if _, ok := groups[e.DateLabel]; !ok {
			order = append(order, e.DateLabel)
		}
		groups[e.DateLabel] = append(groups[e.DateLabel], e)
	}

	var b strings.Builder
	b.WriteString("<conversation_manifest>\n")
	for _, label := range order {
		fmt.Fprintf(&b, "<date_group label=%q>\n", label)
		for _, e := range groups[label] {
			fmt.Fprintf(&b, "<segment time=%q status=%q>%s</segment>\n", e.TimeMarker, string(e.Status), e.DisplayTitle)
		}
		b.WriteString("</date_group>\n")
	}
	b.WriteString("</conversation_manifest>")
	return b.String()
}

// DatetimeTrinket always regenerates the current UTC date/time, the way
// the original time manager never caches (§4.7's "always generates fresh
// timestamp when requested"). No per-user timezone preference is modeled
// yet, so this renders in UTC.
type DatetimeTrinket struct{}

// NewDatetimeTrinket builds a DatetimeTrinket.
func NewDatetimeTrinket() DatetimeTrinket { return DatetimeTrinket{} }

func (DatetimeTrinket) Name() string      { return SectionDatetime }
func (DatetimeTrinket) CachePolicy() bool { return false }

func (DatetimeTrinket) GenerateContent(ctx context.Context, trinketCtx map[string]any) (string, error) {
	now := time.Now().UTC()
	dayOfWeek := strings.ToUpper(now.Format("Monday"))
	datePart := strings.ToUpper(now.Format("January 02, 2006"))
	timePart := strings.ToUpper(now.Format("3:04 PM"))
	return fmt.Sprintf("<current_datetime>TODAY IS %s, %s AT %s %s.</current_datetime>",
		dayOfWeek, datePart, timePart, now.Format("MST")), nil
}
