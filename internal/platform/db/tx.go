package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type contextKey string

const (
	DBTxKey  contextKey = "db_tx"
	SQLTxKey contextKey = "sql_tx"
)

// Transactor runs fn inside a single transaction. The transaction travels in
// the context handed to fn, so repositories pick it up through TxFromContext
// or SQLTxFromContext. fn returning an error rolls everything back.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// TxFromContext returns the pgx transaction stored in ctx, if any.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(DBTxKey).(pgx.Tx)
	return tx
}

// SQLTxFromContext returns the database/sql transaction stored in ctx, if any.
func SQLTxFromContext(ctx context.Context) *sql.Tx {
	tx, _ := ctx.Value(SQLTxKey).(*sql.Tx)
	return tx
}

// WithTx begins a pgx transaction on pool and returns a context carrying it.
// Callers own Commit/Rollback.
func WithTx(ctx context.Context, pool *pgxpool.Pool) (context.Context, pgx.Tx, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return ctx, nil, fmt.Errorf("begin transaction: %w", err)
	}
	return context.WithValue(ctx, DBTxKey, tx), tx, nil
}

type pgTransactor struct{ pool *pgxpool.Pool }

// NewPGTransactor returns a Transactor backed by a pgx pool.
func NewPGTransactor(pool *pgxpool.Pool) Transactor { return &pgTransactor{pool: pool} }

func (t *pgTransactor) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	// Nested calls join the outer transaction.
	if TxFromContext(ctx) != nil {
		return fn(ctx)
	}
	txCtx, tx, err := WithTx(ctx, t.pool)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if err := fn(txCtx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type sqlTransactor struct{ db *sql.DB }

// NewSQLTransactor returns a Transactor backed by a database/sql handle.
func NewSQLTransactor(db *sql.DB) Transactor { return &sqlTransactor{db: db} }

func (t *sqlTransactor) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if SQLTxFromContext(ctx) != nil {
		return fn(ctx)
	}
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := fn(context.WithValue(ctx, SQLTxKey, tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
