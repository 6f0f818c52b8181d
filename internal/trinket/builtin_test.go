package trinket

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mira-ai/mira/internal/models"
	"github.com/mira-ai/mira/internal/segment"
)

func TestProactiveMemoryTrinketEmptyCacheProducesNoContent(t *testing.T) {
	tr := NewProactiveMemoryTrinket()
	content, err := tr.GenerateContent(context.Background(), nil)
	if err != nil {
		t.Fatalf("GenerateContent() error = %v", err)
	}
	if content != "" {
		t.Fatalf("GenerateContent() = %q, want empty with nothing cached", content)
	}
}

func TestProactiveMemoryTrinketCachesBetweenBroadcasts(t *testing.T) {
	tr := NewProactiveMemoryTrinket()
	now := time.Now().UTC()
	memories := []models.MemoryRecord{
		{ID: uuid.New(), Text: "likes tea", Confidence: 0.9, CreatedAt: now.Add(-2 * time.Hour)},
	}

	first, err := tr.GenerateContent(context.Background(), map[string]any{"memories": memories})
	if err != nil {
		t.Fatalf("GenerateContent() error = %v", err)
	}
	if !strings.Contains(first, "likes tea") {
		t.Fatalf("GenerateContent() = %q, want memory text rendered", first)
	}
	if !strings.Contains(first, `confidence="90"`) {
		t.Fatalf("GenerateContent() = %q, want confidence attribute above the display threshold", first)
	}

	// A broadcast compose pass re-invokes with nil context; the cached set
	// from the earlier targeted update must still render.
	second, err := tr.GenerateContent(context.Background(), nil)
	if err != nil {
		t.Fatalf("GenerateContent() error = %v", err)
	}
	if !strings.Contains(second, "likes tea") {
		t.Fatalf("GenerateContent() on broadcast = %q, want cached memory still rendered", second)
	}
}

func TestProactiveMemoryTrinketRendersLinkedMemoriesAsShortIDs(t *testing.T) {
	tr := NewProactiveMemoryTrinket()
	linked := uuid.New()
	memories := []models.MemoryRecord{
		{ID: uuid.New(), Text: "root memory", LinkedMemories: []uuid.UUID{linked}},
	}

	content, err := tr.GenerateContent(context.Background(), map[string]any{"memories": memories})
	if err != nil {
		t.Fatalf("GenerateContent() error = %v", err)
	}
	if !strings.Contains(content, "<linked_memories>"+shortUUID(linked)+"</linked_memories>") {
		t.Fatalf("GenerateContent() = %q, want linked memory short id rendered", content)
	}
}

func TestManifestTrinketGroupsByDateLabelInFirstSeenOrder(t *testing.T) {
	tr := NewManifestTrinket()
	entries := []segment.ManifestEntry{
		{DateLabel: "TODAY", TimeMarker: "[14:00-ACTIVE]", DisplayTitle: "Current chat", Status: models.SegmentActive},
		{DateLabel: "YESTERDAY", TimeMarker: "[09:00-10:00]", DisplayTitle: "Trip planning", Status: models.SegmentCollapsed},
	}

	content, err := tr.GenerateContent(context.Background(), map[string]any{"entries": entries})
	if err != nil {
		t.Fatalf("GenerateContent() error = %v", err)
	}
	if !strings.Contains(content, `<date_group label="TODAY">`) {
		t.Fatalf("GenerateContent() = %q, want a TODAY date group", content)
	}
	if !strings.Contains(content, `status="active"`) || !strings.Contains(content, `status="collapsed"`) {
		t.Fatalf("GenerateContent() = %q, want both segment statuses rendered", content)
	}
	if strings.Index(content, "TODAY") > strings.Index(content, "YESTERDAY") {
		t.Fatalf("GenerateContent() = %q, want TODAY group before YESTERDAY", content)
	}
}

func TestManifestTrinketEmptyEntriesProducesNoContent(t *testing.T) {
	tr := NewManifestTrinket()
	content, err := tr.GenerateContent(context.Background(), map[string]any{"entries": []segment.ManifestEntry{}})
	if err != nil {
		t.Fatalf("GenerateContent() error = %v", err)
	}
	if content != "" {
		t.Fatalf("GenerateContent() = %q, want empty for no entries", content)
	}
}

func TestDatetimeTrinketAlwaysProducesContent(t *testing.T) {
	tr := NewDatetimeTrinket()
	content, err := tr.GenerateContent(context.Background(), nil)
	if err != nil {
		t.Fatalf("GenerateContent() error = %v", err)
	}
	if !strings.HasPrefix(content, "<current_datetime>TODAY IS ") {
		t.Fatalf("GenerateContent() = %q, want the fixed datetime preamble", content)
	}
}

func TestTrinketNamesMatchWellKnownSections(t *testing.T) {
	if got := NewProactiveMemoryTrinket().Name(); got != SectionRelevantMemories {
		t.Errorf("ProactiveMemoryTrinket.Name() = %q, want %q", got, SectionRelevantMemories)
	}
	if got := NewManifestTrinket().Name(); got != SectionConversationManifest {
		t.Errorf("ManifestTrinket.Name() = %q, want %q", got, SectionConversationManifest)
	}
	if got := NewDatetimeTrinket().Name(); got != SectionDatetime {
		t.Errorf("DatetimeTrinket.Name() = %q, want %q", got, SectionDatetime)
	}
}
