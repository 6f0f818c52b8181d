package trinket

import (
	"strings"
	"testing"
)

func TestComposePartitionsByPlacementAndCache(t *testing.T) {
	c := NewComposer()
	c.SetBasePrompt("be helpful")
	c.AddSection(SectionDomainDoc, "domain info", false, PlacementSystem)
	c.AddSection(SectionActiveReminders, "reminder: call mom", true, PlacementNotification)

	got := c.Compose()

	if !strings.Contains(got.CachedContent, "BASE PROMPT") {
		t.Errorf("cached content missing base prompt: %q", got.CachedContent)
	}
	if !strings.Contains(got.NonCachedContent, "domain info") {
		t.Errorf("non-cached content missing domain section: %q", got.NonCachedContent)
	}
	if !strings.Contains(got.NotificationCenter, "reminder: call mom") {
		t.Errorf("notification center missing reminder: %q", got.NotificationCenter)
	}
	if !strings.HasPrefix(got.NotificationCenter, notificationHeader) {
		t.Error("notification center must start with the fixed header")
	}
	if !strings.HasSuffix(got.NotificationCenter, notificationFooter) {
		t.Error("notification center must end with the fixed footer")
	}
}

func TestAddSectionIgnoresEmptyContent(t *testing.T) {
	c := NewComposer()
	c.AddSection(SectionDomainDoc, "", false, PlacementSystem)
	got := c.Compose()
	if got.NonCachedContent != "" {
		t.Fatalf("expected no content, got %q", got.NonCachedContent)
	}
}

func TestCollapsesExcessiveNewlines(t *testing.T) {
	c := NewComposer()
	c.AddSection(SectionDomainDoc, "one\n\n\n\ntwo", false, PlacementSystem)
	got := c.Compose()
	if strings.Contains(got.NonCachedContent, "\n\n\n") {
		t.Fatalf("expected 3+ newlines collapsed to 2, got %q", got.NonCachedContent)
	}
}

func TestClearNonBasePreservesBasePrompt(t *testing.T) {
	c := NewComposer()
	c.SetBasePrompt("base text")
	c.AddSection(SectionDomainDoc, "stale", false, PlacementSystem)
	c.ClearNonBase()
	got := c.Compose()
	if got.NonCachedContent != "" {
		t.Fatalf("expected stale section cleared, got %q", got.NonCachedContent)
	}
	if !strings.Contains(got.CachedContent, "base text") {
		t.Fatal("expected base prompt preserved across ClearNonBase")
	}
}
