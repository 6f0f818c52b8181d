package uow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mira-ai/mira/internal/models"
)

// ContinuumRepository is the SQL-backed continuum/message store the
// orchestrator drives one UnitOfWork at a time.
type ContinuumRepository struct{}

// NewContinuumRepository builds a stateless repository; every method takes
// the UnitOfWork to operate on, so one repository value is reusable across
// requests and goroutines.
func NewContinuumRepository() *ContinuumRepository {
	return &ContinuumRepository{}
}

// EnsureContinuum creates the continuum row if it doesn't already exist,
// idempotently, so the orchestrator can call it at the top of every turn
// without a separate existence check.
func (r *ContinuumRepository) EnsureContinuum(ctx context.Context, u *UnitOfWork, continuumID, userID uuid.UUID) error {
	_, err := u.Tx().Exec(ctx, `
		INSERT INTO continuums (id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING
	`, continuumID, userID)
	if err != nil {
		return fmt.Errorf("uow: ensure continuum %s: %w", continuumID, err)
	}
	return nil
}

// LoadContinuum reads the full message history and turn count for
// continuumID, in append order.
func (r *ContinuumRepository) LoadContinuum(ctx context.Context, u *UnitOfWork, continuumID uuid.UUID) (*models.Continuum, error) {
	var userID uuid.UUID
	var turnCount int
	err := u.Tx().QueryRow(ctx, `
		SELECT user_id, turn_count FROM continuums WHERE id = $1
	`, continuumID).Scan(&userID, &turnCount)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("uow: continuum %s: %w", continuumID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("uow: load continuum %s: %w", continuumID, err)
	}

	rows, err := u.Tx().Query(ctx, `
		SELECT id, role, content, assistant_metadata, user_metadata, created_at
		FROM messages
		WHERE continuum_id = $1
		ORDER BY seq ASC
	`, continuumID)
	if err != nil {
		return nil, fmt.Errorf("uow: load messages for %s: %w", continuumID, err)
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("uow: messages for %s: %w", continuumID, err)
	}

	return &models.Continuum{
		ID:        continuumID,
		UserID:    userID,
		Messages:  messages,
		TurnCount: turnCount,
	}, nil
}

type messageRow interface {
	Scan(dest ...any) error
}

func scanMessage(row messageRow) (models.Message, error) {
	var msg models.Message
	var content []byte
	var assistantMeta, userMeta []byte

	if err := row.Scan(&msg.ID, &msg.Role, &content, &assistantMeta, &userMeta, &msg.CreatedAt); err != nil {
		return models.Message{}, fmt.Errorf("uow: scan message: %w", err)
	}
	if err := json.Unmarshal(content, &msg.Blocks); err != nil {
		return models.Message{}, fmt.Errorf("uow: decode message content: %w", err)
	}
	if len(assistantMeta) > 0 {
		var meta models.AssistantMetadata
		if err := json.Unmarshal(assistantMeta, &meta); err != nil {
			return models.Message{}, fmt.Errorf("uow: decode assistant metadata: %w", err)
		}
		msg.Assistant = &meta
	}
	if len(userMeta) > 0 {
		var meta models.UserMetadata
		if err := json.Unmarshal(userMeta, &meta); err != nil {
			return models.Message{}, fmt.Errorf("uow: decode user metadata: %w", err)
		}
		msg.User = &meta
	}
	return msg, nil
}

// AppendMessages batch-inserts messages onto continuumID in order, the way
// a turn's commit persists the user message plus every assistant message
// produced by the tool loop in one atomic write (§4.10 step 18).
func (r *ContinuumRepository) AppendMessages(ctx context.Context, u *UnitOfWork, continuumID, userID uuid.UUID, messages []models.Message) error {
	if len(messages) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, msg := range messages {
		content, err := json.Marshal(msg.Blocks)
		if err != nil {
			return fmt.Errorf("uow: encode message content: %w", err)
		}
		var assistantMeta, userMeta []byte
		if msg.Assistant != nil {
			assistantMeta, err = json.Marshal(msg.Assistant)
			if err != nil {
				return fmt.Errorf("uow: encode assistant metadata: %w", err)
			}
		}
		if msg.User != nil {
			userMeta, err = json.Marshal(msg.User)
			if err != nil {
				return fmt.Errorf("uow: encode user metadata: %w", err)
			}
		}
		batch.Queue(`
			INSERT INTO messages (id, continuum_id, user_id, role, content, assistant_metadata, user_metadata, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, msg.ID, continuumID, userID, msg.Role, content, assistantMeta, userMeta, msg.CreatedAt)
	}

	results := u.Tx().SendBatch(ctx, batch)
	defer results.Close()
	for range messages {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("uow: insert message: %w", err)
		}
	}
	return nil
}

// SetTurnCount overwrites the continuum's turn_count, the way the
// orchestrator commits the incremented counter alongside the turn's
// messages.
func (r *ContinuumRepository) SetTurnCount(ctx context.Context, u *UnitOfWork, continuumID uuid.UUID, turnCount int) error {
	tag, err := u.Tx().Exec(ctx, `
		UPDATE continuums SET turn_count = $2, updated_at = now() WHERE id = $1
	`, continuumID, turnCount)
	if err != nil {
		return fmt.Errorf("uow: set turn count for %s: %w", continuumID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("uow: set turn count: continuum %s: %w", continuumID, ErrNotFound)
	}
	return nil
}

// ErrNotFound is returned when a continuum row doesn't exist.
var ErrNotFound = fmt.Errorf("continuum not found")
