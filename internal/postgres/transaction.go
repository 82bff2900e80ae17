package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/tokenrail/tokenrail/internal/types"
)

// TxKey is the context key under which the open transaction travels.
type TxKey struct{}

// Tx wraps sqlx.Tx with a savepoint counter so WithTx can nest. The ledger
// relies on this: grant dedupe markers commit in an inner scope while the
// surrounding handler transaction stays open.
type Tx struct {
	*sqlx.Tx
	savepointID int
	ID          string
}

func (t *Tx) savepointName() string {
	return fmt.Sprintf("sp_%d", t.savepointID)
}

// GetTx returns the transaction carried by ctx, if any.
func GetTx(ctx context.Context) (*Tx, bool) {
	tx, ok := ctx.Value(TxKey{}).(*Tx)
	return tx, ok
}

// BeginTx opens a transaction, or a savepoint when ctx already carries one.
// The returned context must be used for all statements inside the scope.
func (db *DB) BeginTx(ctx context.Context) (context.Context, *Tx, error) {
	if tx, ok := GetTx(ctx); ok {
		tx.savepointID++
		savepoint := tx.savepointName()

		if _, err := tx.ExecContext(ctx, "SAVEPOINT "+savepoint); err != nil {
			return ctx, nil, fmt.Errorf("failed to create savepoint: %w", err)
		}

		db.logger.Debugw("created savepoint", "tx_id", tx.ID, "savepoint", savepoint)
		return ctx, tx, nil
	}

	sqlxTx, err := db.BeginTxx(ctx, &sql.TxOptions{
		Isolation: sql.LevelReadCommitted,
	})
	if err != nil {
		return ctx, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	tx := &Tx{
		Tx: sqlxTx,
		ID: types.GenerateUUID(),
	}
	db.logger.Debugw("started transaction", "tx_id", tx.ID)

	return context.WithValue(ctx, TxKey{}, tx), tx, nil
}

// CommitTx releases the innermost savepoint, or commits the transaction
// when the outermost scope closes.
func (db *DB) CommitTx(ctx context.Context) error {
	tx, ok := GetTx(ctx)
	if !ok {
		return fmt.Errorf("no transaction in context")
	}

	if tx.savepointID > 0 {
		savepoint := tx.savepointName()
		if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+savepoint); err != nil {
			return fmt.Errorf("failed to release savepoint: %w", err)
		}
		tx.savepointID--

		db.logger.Debugw("released savepoint", "tx_id", tx.ID, "savepoint", savepoint)
		return nil
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	db.logger.Debugw("committed transaction", "tx_id", tx.ID)
	return nil
}

// RollbackTx rolls back to the innermost savepoint, or aborts the whole
// transaction when the outermost scope fails.
func (db *DB) RollbackTx(ctx context.Context) error {
	tx, ok := GetTx(ctx)
	if !ok {
		return fmt.Errorf("no transaction in context")
	}

	if tx.savepointID > 0 {
		savepoint := tx.savepointName()
		if _, err := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+savepoint); err != nil {
			return fmt.Errorf("failed to rollback to savepoint: %w", err)
		}
		tx.savepointID--

		db.logger.Debugw("rolled back to savepoint", "tx_id", tx.ID, "savepoint", savepoint)
		return nil
	}

	if err := tx.Rollback(); err != nil {
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}
	db.logger.Debugw("rolled back transaction", "tx_id", tx.ID)
	return nil
}

// WithTx runs fn inside a transaction scope. A nested call gets a savepoint,
// so an inner failure rolls back only the inner scope. Panics roll back and
// re-raise.
func (db *DB) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, tx, err := db.BeginTx(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			db.logger.Errorw("panic in transaction", "tx_id", tx.ID, "panic", r)
			_ = db.RollbackTx(ctx)
			panic(r)
		}
	}()

	if err := fn(ctx); err != nil {
		if rbErr := db.RollbackTx(ctx); rbErr != nil {
			return fmt.Errorf("error rolling back transaction: %v (original error: %v)", rbErr, err)
		}
		return err
	}

	if err := db.CommitTx(ctx); err != nil {
		return fmt.Errorf("error committing transaction: %w", err)
	}
	return nil
}
