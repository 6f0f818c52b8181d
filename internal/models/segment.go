package models

import (
	"time"

	"github.com/google/uuid"
)

// SegmentStatus is the lifecycle state of a segment sentinel.
type SegmentStatus string

const (
	SegmentActive    SegmentStatus = "active"
	SegmentCollapsed SegmentStatus = "collapsed"
)

// NewActiveSentinel builds a fresh active segment-boundary sentinel
// message. It is a placeholder assistant message; its content carries no
// user-visible text.
func NewActiveSentinel(segmentID uuid.UUID, startTime time.Time) Message {
	return Message{
		ID:        uuid.New(),
		Role:      RoleAssistant,
		Blocks:    []ContentBlock{NewTextBlock("")},
		CreatedAt: startTime,
		Assistant: &AssistantMetadata{
			IsSegmentBoundary: true,
			SegmentStatus:     string(SegmentActive),
			SegmentID:         segmentID,
			SegmentStartTime:  startTime,
		},
	}
}

// Collapse marks a sentinel message collapsed in place, recording the
// outcome of summarization.
func Collapse(sentinel *Message, endTime time.Time, title, summary string, toolsUsed []string, embedding []float32) {
	if sentinel.Assistant == nil {
		return
	}
	sentinel.Assistant.SegmentStatus = string(SegmentCollapsed)
	sentinel.Assistant.SegmentEndTime = &endTime
	sentinel.Assistant.DisplayTitle = title
	sentinel.Assistant.Summary = summary
	sentinel.Assistant.ToolsUsed = toolsUsed
	sentinel.Assistant.SegmentEmbeddingValue = embedding
}

// SegmentSummary is a read view of one segment for manifest display.
type SegmentSummary struct {
	SegmentID    uuid.UUID
	Status       SegmentStatus
	StartTime    time.Time
	EndTime      *time.Time
	DisplayTitle string
	Summary      string
	ToolsUsed    []string
}

// SummaryFromSentinel projects a sentinel message into a SegmentSummary.
func SummaryFromSentinel(m Message) SegmentSummary {
	if m.Assistant == nil {
		return SegmentSummary{}
	}
	return SegmentSummary{
		SegmentID:    m.Assistant.SegmentID,
		Status:       SegmentStatus(m.Assistant.SegmentStatus),
		StartTime:    m.Assistant.SegmentStartTime,
		EndTime:      m.Assistant.SegmentEndTime,
		DisplayTitle: m.Assistant.DisplayTitle,
		Summary:      m.Assistant.Summary,
		ToolsUsed:    m.Assistant.ToolsUsed,
	}
}
