package uow

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mira-ai/mira/internal/models"
)

func TestLoadMigrationsPairsUpAndDown(t *testing.T) {
	migrations, err := loadMigrations()
	if err != nil {
		t.Fatalf("loadMigrations: %v", err)
	}
	if len(migrations) == 0 {
		t.Fatalf("loadMigrations() returned none")
	}
	for _, m := range migrations {
		if m.UpSQL == "" {
			t.Fatalf("migration %s missing up.sql", m.ID)
		}
		if m.DownSQL == "" {
			t.Fatalf("migration %s missing down.sql", m.ID)
		}
	}
}

// requirePool connects to a real instance named by MIRA_TEST_SQL_DSN. Tests
// needing a live database skip when it's unset.
func requirePool(t *testing.T) *Pool {
	t.Helper()
	dsn := os.Getenv("MIRA_TEST_SQL_DSN")
	if dsn == "" {
		t.Skip("MIRA_TEST_SQL_DSN not set; skipping live uow integration test")
	}
	p, err := NewPool(context.Background(), Config{DSN: dsn})
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	t.Cleanup(p.Close)
	return p
}

func TestContinuumRoundTrip(t *testing.T) {
	p := requirePool(t)
	repo := NewContinuumRepository()
	ctx := context.Background()

	continuumID := uuid.New()
	userID := uuid.New()

	u, err := p.Begin(ctx, userID.String())
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer u.Rollback(ctx)

	if err := repo.EnsureContinuum(ctx, u, continuumID, userID); err != nil {
		t.Fatalf("EnsureContinuum: %v", err)
	}

	msg := models.Message{
		ID:        uuid.New(),
		Role:      models.RoleUser,
		Blocks:    []models.ContentBlock{models.NewTextBlock("hello")},
		CreatedAt: time.Now().UTC(),
	}
	if err := repo.AppendMessages(ctx, u, continuumID, userID, []models.Message{msg}); err != nil {
		t.Fatalf("AppendMessages: %v", err)
	}
	if err := repo.SetTurnCount(ctx, u, continuumID, 1); err != nil {
		t.Fatalf("SetTurnCount: %v", err)
	}

	loaded, err := repo.LoadContinuum(ctx, u, continuumID)
	if err != nil {
		t.Fatalf("LoadContinuum: %v", err)
	}
	if loaded.TurnCount != 1 {
		t.Fatalf("TurnCount = %d, want 1", loaded.TurnCount)
	}
	if len(loaded.Messages) != 1 || loaded.Messages[0].Text() != "hello" {
		t.Fatalf("Messages = %+v, want one message with text %q", loaded.Messages, "hello")
	}

	if err := u.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}
