// Package models holds the shared data model for the continuum orchestration
// core: messages, content blocks, continuums, segments, and surfaced memory
// records. Nothing in this package talks to a provider, a database, or the
// KV store — it is the shape everything else agrees on.
package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role identifies who authored a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// BlockType discriminates a ContentBlock.
type BlockType string

const (
	BlockText            BlockType = "text"
	BlockImage           BlockType = "image"
	BlockDocument        BlockType = "document"
	BlockToolUse         BlockType = "tool_use"
	BlockToolResult      BlockType = "tool_result"
	BlockThinking        BlockType = "thinking"
	BlockContainerUpload BlockType = "container_upload"
)

// ContentBlock is one element of a Message's content list. Only the fields
// relevant to Type are populated; the rest are zero.
type ContentBlock struct {
	Type BlockType `json:"type"`

	// BlockText
	Text string `json:"text,omitempty"`

	// BlockImage / BlockDocument
	MediaType string `json:"media_type,omitempty"`
	// Payload carries inline base64 data (inference-tier or storage-tier,
	// depending on which Message this block lives on). Empty when the
	// block instead references an opaque upload (UploadID).
	Payload  string `json:"payload,omitempty"`
	UploadID string `json:"upload_id,omitempty"`

	// BlockToolUse
	ToolUseID string          `json:"tool_use_id,omitempty"`
	ToolName  string          `json:"tool_name,omitempty"`
	ToolInput json.RawMessage `json:"tool_input,omitempty"`

	// BlockToolResult
	ToolResultForID string `json:"tool_result_for_id,omitempty"`
	ToolResultText  string `json:"tool_result_text,omitempty"`
	IsError         bool   `json:"is_error,omitempty"`

	// BlockThinking
	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`

	// BlockContainerUpload. Resolved Open Question: a single top-level
	// FileID, never nested under a "source" object.
	FileID string `json:"file_id,omitempty"`
}

// NewTextBlock builds a plain text content block.
func NewTextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// NewToolUseBlock builds a tool_use content block.
func NewToolUseBlock(id, name string, input json.RawMessage) ContentBlock {
	return ContentBlock{Type: BlockToolUse, ToolUseID: id, ToolName: name, ToolInput: input}
}

// NewToolResultBlock builds a tool_result content block.
func NewToolResultBlock(toolUseID, text string, isError bool) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ToolResultForID: toolUseID, ToolResultText: text, IsError: isError}
}

// AssistantMetadata is the free-form metadata carried on assistant messages.
type AssistantMetadata struct {
	ReferencedMemories []uuid.UUID `json:"referenced_memories,omitempty"`
	SurfacedMemories   []uuid.UUID `json:"surfaced_memories,omitempty"`
	PinnedMemoryIDs    []string    `json:"pinned_memory_ids,omitempty"`
	Emotion            string      `json:"emotion,omitempty"`
	ModelError         bool        `json:"model_error,omitempty"`
	ContainerID        string      `json:"container_id,omitempty"`

	// Segment boundary sentinel fields. Only populated when this message
	// is a sentinel (see Segment in segment.go).
	IsSegmentBoundary      bool       `json:"is_segment_boundary,omitempty"`
	SegmentStatus          string     `json:"status,omitempty"`
	SegmentID              uuid.UUID  `json:"segment_id,omitempty"`
	SegmentStartTime       time.Time  `json:"segment_start_time,omitempty"`
	SegmentEndTime         *time.Time `json:"segment_end_time,omitempty"`
	DisplayTitle           string     `json:"display_title,omitempty"`
	Summary                string     `json:"summary,omitempty"`
	ToolsUsed              []string   `json:"tools_used,omitempty"`
	SegmentEmbeddingValue  []float32  `json:"segment_embedding_value,omitempty"`
	VirtualLastMessageTime *time.Time `json:"virtual_last_message_time,omitempty"`
}

// UserMetadata is the free-form metadata carried on user messages.
type UserMetadata struct {
	// StorageImageRefs point at the storage-tier (small, WebP) copies of
	// any images the inference-tier content carried inline.
	StorageImageRefs []string `json:"storage_image_refs,omitempty"`
}

// Message is one entry in a Continuum.
type Message struct {
	ID        uuid.UUID      `json:"id"`
	Role      Role           `json:"role"`
	Blocks    []ContentBlock `json:"content"`
	CreatedAt time.Time      `json:"created_at"`

	Assistant *AssistantMetadata `json:"assistant_metadata,omitempty"`
	User      *UserMetadata      `json:"user_metadata,omitempty"`
}

// Text concatenates every text block in order, the way the orchestrator
// derives text_for_context and the way round-tripped assistant messages are
// compared against their originals.
func (m Message) Text() string {
	var b strings.Builder
	for _, blk := range m.Blocks {
		if blk.Type == BlockText {
			b.WriteString(blk.Text)
		}
	}
	return b.String()
}

// ToolUseBlocks returns every tool_use block on the message, in order.
func (m Message) ToolUseBlocks() []ContentBlock {
	var out []ContentBlock
	for _, blk := range m.Blocks {
		if blk.Type == BlockToolUse {
			out = append(out, blk)
		}
	}
	return out
}

// ToolResultBlocks returns every tool_result block on the message, in order.
func (m Message) ToolResultBlocks() []ContentBlock {
	var out []ContentBlock
	for _, blk := range m.Blocks {
		if blk.Type == BlockToolResult {
			out = append(out, blk)
		}
	}
	return out
}

// HasThinking reports whether any block is a thinking block.
func (m Message) HasThinking() bool {
	for _, blk := range m.Blocks {
		if blk.Type == BlockThinking {
			return true
		}
	}
	return false
}

// IsSegmentBoundary reports whether this message is a segment sentinel.
func (m Message) IsSegmentBoundary() bool {
	return m.Assistant != nil && m.Assistant.IsSegmentBoundary
}

// NewUserMessage builds a user message from plain text.
func NewUserMessage(text string) Message {
	return Message{
		ID:        uuid.New(),
		Role:      RoleUser,
		Blocks:    []ContentBlock{NewTextBlock(text)},
		CreatedAt: time.Now().UTC(),
	}
}

// NewAssistantMessage builds an assistant message from content blocks.
func NewAssistantMessage(blocks []ContentBlock, meta *AssistantMetadata) Message {
	return Message{
		ID:        uuid.New(),
		Role:      RoleAssistant,
		Blocks:    blocks,
		CreatedAt: time.Now().UTC(),
		Assistant: meta,
	}
}
