package uow

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// UnitOfWork is one atomic checkout of the pool: a single pgx transaction
// with the caller's identity already propagated into Postgres row-level
// security for every statement issued on it. §5 requires this happen on
// every checkout, not just ones that touch RLS-guarded tables, since a
// Commit batches heterogeneous writes (messages, turn_count) that must all
// see the same session variable.
type UnitOfWork struct {
	tx     pgx.Tx
	userID string
	done   bool
}

// Begin starts a transaction and sets app.current_user_id to userID for
// its duration via set_config's is_local=true (transaction-scoped, the
// functional equivalent of SET LOCAL but injection-safe through
// parameterization rather than string interpolation).
func (p *Pool) Begin(ctx context.Context, userID string) (*UnitOfWork, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("uow: begin: %w", err)
	}
	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_user_id', $1, true)`, userID); err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("uow: set rls identity: %w", err)
	}
	return &UnitOfWork{tx: tx, userID: userID}, nil
}

// Tx exposes the underlying transaction for repository methods.
func (u *UnitOfWork) Tx() pgx.Tx {
	return u.tx
}

// Commit commits the transaction. Safe to call at most once.
func (u *UnitOfWork) Commit(ctx context.Context) error {
	if u.done {
		return nil
	}
	u.done = true
	if err := u.tx.Commit(ctx); err != nil {
		return fmt.Errorf("uow: commit: %w", err)
	}
	return nil
}

// Rollback aborts the transaction. Safe to call after Commit (no-op) or
// multiple times, the way a deferred cleanup expects.
func (u *UnitOfWork) Rollback(ctx context.Context) {
	if u.done {
		return
	}
	u.done = true
	if err := u.tx.Rollback(ctx); err != nil && err != pgx.ErrTxClosed {
		// Best-effort: the transaction may already be gone if the
		// connection died mid-turn. The caller's own error (if any)
		// is what gets surfaced.
		_ = err
	}
}
