// Package mira is the public surface for embedding the continuum
// orchestration core in another Go program. It re-exports the handful of
// types an embedder needs to drive a turn — Message, Continuum,
// Orchestrator — without importing anything under internal/.
package mira

import (
	"github.com/google/uuid"

	"github.com/mira-ai/mira/internal/models"
	"github.com/mira-ai/mira/internal/orchestrator"
)

// UUID identifies a continuum, user, or surfaced memory.
type UUID = uuid.UUID

// Message is one entry in a Continuum.
type Message = models.Message

// ContentBlock is one element of a Message's content list.
type ContentBlock = models.ContentBlock

// Continuum is the ordered, append-only message history for one user.
type Continuum = models.Continuum

// MemoryRecord is a surfaced long-term memory.
type MemoryRecord = models.MemoryRecord

// NewContinuum creates an empty continuum for userID, identified by id.
func NewContinuum(id, userID UUID) *Continuum {
	return models.NewContinuum(id, userID)
}

// NewUserMessage builds a plain-text user message.
func NewUserMessage(text string) Message {
	return models.NewUserMessage(text)
}

// Orchestrator drives process_message for a configured set of collaborators.
type Orchestrator = orchestrator.Orchestrator

// Deps bundles the collaborators an Orchestrator is built over.
type Deps = orchestrator.Deps

// Config carries the orchestrator's per-process tuning knobs.
type Config = orchestrator.Config

// TurnRequest is the input to Orchestrator.ProcessMessage.
type TurnRequest = orchestrator.TurnRequest

// TurnResult is the output of one successful turn.
type TurnResult = orchestrator.TurnResult

// New builds an Orchestrator from deps and cfg.
func New(deps Deps, cfg Config) (*Orchestrator, error) {
	return orchestrator.New(deps, cfg)
}
