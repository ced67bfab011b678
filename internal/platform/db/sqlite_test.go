package db

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestSQLite(t *testing.T) *sql.DB {
	t.Helper()
	sqlDB, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return sqlDB
}

func insertPatient(ctx context.Context, q interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}, id, patientID string) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO patients (id, patient_id, name, date_of_birth, created_at) VALUES (?, ?, 'Jane Doe', '1980-01-01', '2026-01-01T00:00:00Z')`,
		id, patientID)
	return err
}

func TestOpenSQLite_AppliesSchemaIdempotently(t *testing.T) {
	sqlDB := openTestSQLite(t)
	require.NoError(t, ApplySQLiteSchema(context.Background(), sqlDB))

	var n int
	require.NoError(t, sqlDB.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('patients', 'eligibility_checks')`).Scan(&n))
	assert.Equal(t, 2, n)
}

func TestIsUniqueViolation_SQLite(t *testing.T) {
	sqlDB := openTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, insertPatient(ctx, sqlDB, "a", "P1"))
	err := insertPatient(ctx, sqlDB, "b", "P1")
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err))
	assert.False(t, IsForeignKeyViolation(err))
}

func TestIsForeignKeyViolation_SQLite(t *testing.T) {
	sqlDB := openTestSQLite(t)

	_, err := sqlDB.Exec(`INSERT INTO eligibility_checks (id, eligibility_id, patient_id, check_datetime, status) VALUES ('x', 'ELG-1', 'missing', '2026-01-01T00:00:00Z', 'Inactive')`)
	require.Error(t, err)
	assert.True(t, IsForeignKeyViolation(err))
	assert.False(t, IsUniqueViolation(err))
}

func TestIsUniqueViolation_Postgres(t *testing.T) {
	assert.True(t, IsUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.True(t, IsForeignKeyViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, IsUniqueViolation(errors.New("boom")))
	assert.False(t, IsUniqueViolation(nil))
}

func TestSQLTransactor_Commit(t *testing.T) {
	sqlDB := openTestSQLite(t)
	tr := NewSQLTransactor(sqlDB)

	err := tr.InTx(context.Background(), func(ctx context.Context) error {
		tx := SQLTxFromContext(ctx)
		require.NotNil(t, tx)
		return insertPatient(ctx, tx, "a", "P1")
	})
	require.NoError(t, err)

	var n int
	require.NoError(t, sqlDB.QueryRow(`SELECT COUNT(*) FROM patients`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestSQLTransactor_RollbackOnError(t *testing.T) {
	sqlDB := openTestSQLite(t)
	tr := NewSQLTransactor(sqlDB)
	sentinel := errors.New("fail after insert")

	err := tr.InTx(context.Background(), func(ctx context.Context) error {
		if err := insertPatient(ctx, SQLTxFromContext(ctx), "a", "P1"); err != nil {
			return err
		}
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	var n int
	require.NoError(t, sqlDB.QueryRow(`SELECT COUNT(*) FROM patients`).Scan(&n))
	assert.Equal(t, 0, n)
}

func TestSQLTransactor_NestedJoinsOuter(t *testing.T) {
	sqlDB := openTestSQLite(t)
	tr := NewSQLTransactor(sqlDB)

	err := tr.InTx(context.Background(), func(outer context.Context) error {
		return tr.InTx(outer, func(inner context.Context) error {
			assert.Same(t, SQLTxFromContext(outer), SQLTxFromContext(inner))
			return nil
		})
	})
	require.NoError(t, err)
}

func TestTxFromContext_WithWrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), DBTxKey, "not-a-tx")
	assert.Nil(t, TxFromContext(ctx))

	ctx = context.WithValue(context.Background(), SQLTxKey, "not-a-tx")
	assert.Nil(t, SQLTxFromContext(ctx))
}
