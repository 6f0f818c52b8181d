package trinket

import (
	"context"
	"strings"
	"testing"

	"github.com/mira-ai/mira/internal/eventbus"
	"github.com/mira-ai/mira/internal/segment"
)

type stubTrinket struct {
	name    string
	content string
	cache   bool
}

func (s stubTrinket) Name() string        { return s.name }
func (s stubTrinket) CachePolicy() bool   { return s.cache }
func (s stubTrinket) GenerateContent(ctx context.Context, trinketCtx map[string]any) (string, error) {
	return s.content, nil
}

func TestCoreComposeFansOutAndSubstitutesFirstName(t *testing.T) {
	bus := eventbus.New(nil)
	core := NewCore(bus)
	core.FirstName = func(ctx context.Context) string { return "Dana" }
	core.Register(stubTrinket{name: SectionDomainDoc, content: "domain facts", cache: false})

	result := core.Compose("Hello, The User.")

	if !strings.Contains(result.CachedContent, "Hello, Dana.") {
		t.Errorf("expected first-name substitution in base prompt, got %q", result.CachedContent)
	}
	if !strings.Contains(result.NonCachedContent, "domain facts") {
		t.Errorf("expected fanned-out trinket content, got %q", result.NonCachedContent)
	}
}

func TestCoreComposeClearsStaleSectionsBetweenPasses(t *testing.T) {
	bus := eventbus.New(nil)
	core := NewCore(bus)

	toggle := true
	core.Register(stubTrinket{name: SectionDomainDoc, content: "present", cache: false})
	_ = toggle

	first := core.Compose("base")
	if !strings.Contains(first.NonCachedContent, "present") {
		t.Fatal("expected first pass to include trinket content")
	}

	core.trinkets[SectionDomainDoc] = stubTrinket{name: SectionDomainDoc, content: "", cache: false}
	second := core.Compose("base")
	if strings.Contains(second.NonCachedContent, "present") {
		t.Fatal("expected stale section cleared on second pass")
	}
}

func TestPublishMemoryUpdateTargetsRelevantMemoriesSection(t *testing.T) {
	bus := eventbus.New(nil)
	core := NewCore(bus)

	var gotTarget string
	bus.Subscribe(TopicUpdateTrinket, func(payload any) {
		evt := payload.(UpdateTrinketEvent)
		gotTarget = evt.Target
	})

	core.PublishMemoryUpdate([]string{"mem-1"})

	if gotTarget != SectionRelevantMemories {
		t.Fatalf("got target %q, want %q", gotTarget, SectionRelevantMemories)
	}
}

func TestPublishManifestUpdateTargetsConversationManifestSection(t *testing.T) {
	bus := eventbus.New(nil)
	core := NewCore(bus)

	var gotTarget string
	var gotEntries any
	bus.Subscribe(TopicUpdateTrinket, func(payload any) {
		evt := payload.(UpdateTrinketEvent)
		gotTarget = evt.Target
		gotEntries = evt.Context["entries"]
	})

	core.PublishManifestUpdate(nil)

	if gotTarget != SectionConversationManifest {
		t.Fatalf("got target %q, want %q", gotTarget, SectionConversationManifest)
	}
	if gotEntries != nil {
		if entries, ok := gotEntries.([]segment.ManifestEntry); !ok || len(entries) != 0 {
			t.Fatalf("got entries %v, want empty/nil", gotEntries)
		}
	}
}
