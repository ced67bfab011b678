package eligibility

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/eligibility/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// pgConn returns the transaction in ctx when there is one, else the pool.
func pgConn(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return pool
}

// pgInsert runs an insert that may hit a unique constraint. Inside a
// transaction it is wrapped in a savepoint so a violation leaves the
// enclosing transaction usable for the conflict fallback.
func pgInsert(ctx context.Context, pool *pgxpool.Pool, fn func(q queryable) error) error {
	tx := db.TxFromContext(ctx)
	if tx == nil {
		return fn(pool)
	}
	sp, err := tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin savepoint: %w", err)
	}
	defer sp.Rollback(ctx) //nolint:errcheck // no-op after commit
	if err := fn(sp); err != nil {
		return err
	}
	return sp.Commit(ctx)
}

// =========== Patient Repository ===========

type patientRepoPG struct{ pool *pgxpool.Pool }

func NewPatientRepoPG(pool *pgxpool.Pool) PatientRepository { return &patientRepoPG{pool: pool} }

const patientCols = `id, patient_id, name, date_of_birth, created_at`

func (r *patientRepoPG) FindByPatientID(ctx context.Context, patientID string) (*Patient, error) {
	var p Patient
	err := pgConn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+patientCols+` FROM patients WHERE patient_id = $1`, patientID).
		Scan(&p.ID, &p.PatientID, &p.Name, &p.DateOfBirth, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("patient %s: %w", patientID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find patient %s: %w", patientID, err)
	}
	return &p, nil
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	err := pgInsert(ctx, r.pool, func(q queryable) error {
		return q.QueryRow(ctx, `
			INSERT INTO patients (id, patient_id, name, date_of_birth)
			VALUES ($1, $2, $3, $4)
			RETURNING created_at`,
			p.ID, p.PatientID, p.Name, p.DateOfBirth).Scan(&p.CreatedAt)
	})
	if db.IsUniqueViolation(err) {
		return fmt.Errorf("patient %s already exists: %w", p.PatientID, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("create patient %s: %w", p.PatientID, err)
	}
	return nil
}

// =========== Eligibility Check Repository ===========

type checkRepoPG struct{ pool *pgxpool.Pool }

func NewCheckRepoPG(pool *pgxpool.Pool) CheckRepository { return &checkRepoPG{pool: pool} }

const checkCols = `id, eligibility_id, patient_id, check_datetime, status,
	deductible, deductible_met, copay, out_of_pocket_max, out_of_pocket_met, errors`

func (r *checkRepoPG) Save(ctx context.Context, c *EligibilityCheck) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Errors == nil {
		c.Errors = []string{}
	}
	err := pgInsert(ctx, r.pool, func(q queryable) error {
		_, err := q.Exec(ctx, `
			INSERT INTO eligibility_checks (`+checkCols+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
			c.ID, c.EligibilityID, c.PatientID, c.CheckDateTime, string(c.Status),
			c.Deductible, c.DeductibleMet, c.Copay, c.OutOfPocketMax, c.OutOfPocketMet, c.Errors)
		return err
	})
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

func (r *checkRepoPG) FindAllByPatientID(ctx context.Context, patientID string) ([]*EligibilityCheck, error) {
	rows, err := pgConn(ctx, r.pool).Query(ctx,
		`SELECT `+checkCols+` FROM eligibility_checks WHERE patient_id = $1 ORDER BY check_datetime, seq`,
		patientID)
	if err != nil {
		return nil, fmt.Errorf("query eligibility checks for %s: %w", patientID, err)
	}
	defer rows.Close()

	items := []*EligibilityCheck{}
	for rows.Next() {
		var c EligibilityCheck
		var status string
		if err := rows.Scan(&c.ID, &c.EligibilityID, &c.PatientID, &c.CheckDateTime, &status,
			&c.Deductible, &c.DeductibleMet, &c.Copay, &c.OutOfPocketMax, &c.OutOfPocketMet, &c.Errors); err != nil {
			return nil, fmt.Errorf("scan eligibility check: %w", err)
		}
		c.Status = Status(status)
		c.CheckDateTime = c.CheckDateTime.UTC()
		if c.Errors == nil {
			c.Errors = []string{}
		}
		items = append(items, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate eligibility checks: %w", err)
	}
	return items, nil
}
