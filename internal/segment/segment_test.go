package segment

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mira-ai/mira/internal/models"
)

func TestShouldCollapseRespectsTimeout(t *testing.T) {
	s := &Service{}
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	sentinel := models.NewActiveSentinel(uuid.New(), now.Add(-90*time.Minute))
	TouchVirtualTime(&sentinel, now.Add(-90*time.Minute))

	if s.ShouldCollapse(sentinel, now, 60) != true {
		t.Fatalf("ShouldCollapse() = false, want true after timeout elapsed")
	}
	if s.ShouldCollapse(sentinel, now.Add(-80*time.Minute), 60) != false {
		t.Fatalf("ShouldCollapse() = true, want false before timeout elapsed")
	}
}

func TestPostponeStacksOnFutureVirtualTime(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	sentinel := models.NewActiveSentinel(uuid.New(), now)
	future := now.Add(30 * time.Minute)
	sentinel.Assistant.VirtualLastMessageTime = &future

	Postpone(&sentinel, 10, now)

	want := future.Add(10 * time.Minute)
	if !sentinel.Assistant.VirtualLastMessageTime.Equal(want) {
		t.Fatalf("VirtualLastMessageTime = %v, want %v (stacked on future time)", sentinel.Assistant.VirtualLastMessageTime, want)
	}
}

func TestPostponeAddsToNowWhenNotInFuture(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	sentinel := models.NewActiveSentinel(uuid.New(), now)
	past := now.Add(-time.Hour)
	sentinel.Assistant.VirtualLastMessageTime = &past

	Postpone(&sentinel, 10, now)

	want := now.Add(10 * time.Minute)
	if !sentinel.Assistant.VirtualLastMessageTime.Equal(want) {
		t.Fatalf("VirtualLastMessageTime = %v, want %v (added to now)", sentinel.Assistant.VirtualLastMessageTime, want)
	}
}

func TestManifestLabelsToday(t *testing.T) {
	now := time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)
	c := models.NewContinuum(uuid.New(), uuid.New())
	StartSegment(c, now.Add(-time.Hour))

	entries := Manifest(c, now)
	if len(entries) != 1 {
		t.Fatalf("Manifest() returned %d entries, want 1", len(entries))
	}
	if entries[0].DateLabel != "TODAY" {
		t.Fatalf("DateLabel = %q, want TODAY", entries[0].DateLabel)
	}
	if entries[0].TimeMarker == "" || entries[0].TimeMarker[len(entries[0].TimeMarker)-7:] != "ACTIVE]" {
		t.Fatalf("TimeMarker = %q, want suffix ACTIVE]", entries[0].TimeMarker)
	}
}

func TestAtMostOneActiveSentinelAfterCollapseTransition(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := models.NewContinuum(uuid.New(), uuid.New())
	sentinel := StartSegment(c, now)
	idx := 0

	models.Collapse(&c.Messages[idx], now.Add(time.Hour), "Title", "Summary", nil, nil)
	StartSegment(c, now.Add(time.Hour))

	activeCount := 0
	for _, m := range c.Messages {
		if m.IsSegmentBoundary() && m.Assistant.SegmentStatus == string(models.SegmentActive) {
			activeCount++
		}
	}
	if activeCount != 1 {
		t.Fatalf("active sentinel count = %d, want 1", activeCount)
	}
	if sentinel.Assistant.SegmentID == uuid.Nil {
		t.Fatalf("sentinel segment id should not be nil")
	}
}
