package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TxManager runs callbacks inside a single database transaction, handing the
// transaction down through the context. The webhook flow depends on this:
// event admission and the user mutation it triggers must commit or vanish
// together.
//
// Nesting is not supported. A RunInTx call inside a RunInTx callback opens a
// second independent transaction, which is a bug in the caller.
type TxManager struct {
	pool *pgxpool.Pool
}

// NewTxManager creates a new TxManager.
func NewTxManager(pool *pgxpool.Pool) *TxManager {
	return &TxManager{pool: pool}
}

// RunInTx begins a transaction at the default Read Committed level, runs fn
// with the transaction in its context, and commits if fn returned nil. An
// error or a panic from fn rolls everything back; the panic is re-raised
// after the rollback.
func (m *TxManager) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	// The deferred rollback covers both error returns and panics inside fn.
	// After a successful commit it is a no-op.
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(withTx(ctx, tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
