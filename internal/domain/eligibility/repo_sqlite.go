package eligibility

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/eligibility/internal/platform/db"
)

// sqliteTimeLayout is fixed width so lexical order matches time order.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

type sqlQueryable interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func sqlConn(ctx context.Context, sqlDB *sql.DB) sqlQueryable {
	if tx := db.SQLTxFromContext(ctx); tx != nil {
		return tx
	}
	return sqlDB
}

func formatSQLiteTime(t time.Time) string { return t.UTC().Format(sqliteTimeLayout) }

func parseSQLiteTime(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTimeLayout, s)
	if err != nil {
		// Rows written by other tools may carry plain RFC 3339.
		return time.Parse(time.RFC3339Nano, s)
	}
	return t, nil
}

func nullFloatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

// =========== Patient Repository ===========

type patientRepoSQLite struct{ db *sql.DB }

func NewPatientRepoSQLite(sqlDB *sql.DB) PatientRepository { return &patientRepoSQLite{db: sqlDB} }

func (r *patientRepoSQLite) FindByPatientID(ctx context.Context, patientID string) (*Patient, error) {
	var p Patient
	var id, dob, createdAt string
	err := sqlConn(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+patientCols+` FROM patients WHERE patient_id = ?`, patientID).
		Scan(&id, &p.PatientID, &p.Name, &dob, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("patient %s: %w", patientID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find patient %s: %w", patientID, err)
	}
	if p.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("patient %s: bad id %q: %w", patientID, id, err)
	}
	if p.DateOfBirth, err = time.Parse(DateLayout, dob); err != nil {
		return nil, fmt.Errorf("patient %s: bad date_of_birth %q: %w", patientID, dob, err)
	}
	if p.CreatedAt, err = parseSQLiteTime(createdAt); err != nil {
		return nil, fmt.Errorf("patient %s: bad created_at %q: %w", patientID, createdAt, err)
	}
	return &p, nil
}

func (r *patientRepoSQLite) Create(ctx context.Context, p *Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := sqlConn(ctx, r.db).ExecContext(ctx, `
		INSERT INTO patients (id, patient_id, name, date_of_birth, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		p.ID.String(), p.PatientID, p.Name, p.DateOfBirth.Format(DateLayout), formatSQLiteTime(p.CreatedAt))
	if db.IsUniqueViolation(err) {
		return fmt.Errorf("patient %s already exists: %w", p.PatientID, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("create patient %s: %w", p.PatientID, err)
	}
	return nil
}

// =========== Eligibility Check Repository ===========

type checkRepoSQLite struct{ db *sql.DB }

func NewCheckRepoSQLite(sqlDB *sql.DB) CheckRepository { return &checkRepoSQLite{db: sqlDB} }

func (r *checkRepoSQLite) Save(ctx context.Context, c *EligibilityCheck) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Errors == nil {
		c.Errors = []string{}
	}
	errs, err := json.Marshal(c.Errors)
	if err != nil {
		return fmt.Errorf("encode errors for %s: %w", c.EligibilityID, err)
	}
	_, err = sqlConn(ctx, r.db).ExecContext(ctx, `
		INSERT INTO eligibility_checks (`+checkCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID.String(), c.EligibilityID, c.PatientID, formatSQLiteTime(c.CheckDateTime), string(c.Status),
		c.Deductible, c.DeductibleMet, c.Copay, c.OutOfPocketMax, c.OutOfPocketMet, string(errs))
	if db.IsUniqueViolation(err) {
		return fmt.Errorf("eligibility check %s already exists: %w", c.EligibilityID, ErrConflict)
	}
	if db.IsForeignKeyViolation(err) {
		return fmt.Errorf("eligibility check %s references unknown patient %s: %w", c.EligibilityID, c.PatientID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("save eligibility check %s: %w", c.EligibilityID, err)
	}
	return nil
}

func (r *checkRepoSQLite) FindAllByPatientID(ctx context.Context, patientID string) ([]*EligibilityCheck, error) {
	rows, err := sqlConn(ctx, r.db).QueryContext(ctx,
		`SELECT `+checkCols+` FROM eligibility_checks WHERE patient_id = ? ORDER BY check_datetime, rowid`,
		patientID)
	if err != nil {
		return nil, fmt.Errorf("query eligibility checks for %s: %w", patientID, err)
	}
	defer rows.Close()

	items := []*EligibilityCheck{}
	for rows.Next() {
		var (
			c                                EligibilityCheck
			id, checkedAt, status, errs      string
			deductible, deductibleMet, copay sql.NullFloat64
			outOfPocketMax, outOfPocketMet   sql.NullFloat64
		)
		if err := rows.Scan(&id, &c.EligibilityID, &c.PatientID, &checkedAt, &status,
			&deductible, &deductibleMet, &copay, &outOfPocketMax, &outOfPocketMet, &errs); err != nil {
			return nil, fmt.Errorf("scan eligibility check: %w", err)
		}
		if c.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("eligibility check %s: bad id %q: %w", c.EligibilityID, id, err)
		}
		if c.CheckDateTime, err = parseSQLiteTime(checkedAt); err != nil {
			return nil, fmt.Errorf("eligibility check %s: bad check_datetime %q: %w", c.EligibilityID, checkedAt, err)
		}
		if err := json.Unmarshal([]byte(errs), &c.Errors); err != nil {
			return nil, fmt.Errorf("eligibility check %s: bad errors %q: %w", c.EligibilityID, errs, err)
		}
		if c.Errors == nil {
			c.Errors = []string{}
		}
		c.Status = Status(status)
		c.Deductible = nullFloatPtr(deductible)
		c.DeductibleMet = nullFloatPtr(deductibleMet)
		c.Copay = nullFloatPtr(copay)
		c.OutOfPocketMax = nullFloatPtr(outOfPocketMax)
		c.OutOfPocketMet = nullFloatPtr(outOfPocketMet)
		items = append(items, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate eligibility checks: %w", err)
	}
	return items, nil
}
