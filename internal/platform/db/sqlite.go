package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// sqliteSchema mirrors migrations/ for the embedded driver.
// Timestamps are stored as RFC 3339 text and dates as YYYY-MM-DD. The implicit
// rowid stands in for the Postgres seq column.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS patients (
	id            TEXT PRIMARY KEY,
	patient_id    TEXT NOT NULL UNIQUE,
	name          TEXT NOT NULL,
	date_of_birth TEXT NOT NULL,
	created_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS eligibility_checks (
	id                TEXT PRIMARY KEY,
	eligibility_id    TEXT NOT NULL UNIQUE,
	patient_id        TEXT NOT NULL REFERENCES patients (patient_id),
	check_datetime    TEXT NOT NULL,
	status            TEXT NOT NULL CHECK (status IN ('Active', 'Inactive', 'Unknown')),
	deductible        REAL,
	deductible_met    REAL,
	copay             REAL,
	out_of_pocket_max REAL,
	out_of_pocket_met REAL,
	errors            TEXT NOT NULL DEFAULT '[]'
);

CREATE INDEX IF NOT EXISTS idx_eligibility_checks_patient
	ON eligibility_checks (patient_id, check_datetime);
`

// OpenSQLite opens (creating if needed) a SQLite database at path with
// foreign keys enforced and applies the schema.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// SQLite serializes writers; one connection keeps transactions simple.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := ApplySQLiteSchema(ctx, sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return sqlDB, nil
}

// ApplySQLiteSchema creates the eligibility tables if they do not exist.
func ApplySQLiteSchema(ctx context.Context, sqlDB *sql.DB) error {
	if _, err := sqlDB.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("apply sqlite schema: %w", err)
	}
	return nil
}
