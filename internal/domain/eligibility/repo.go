package eligibility

import "context"

// PatientRepository is the Patient Store. FindByPatientID returns an error
// wrapping ErrNotFound for unknown ids; Create returns one wrapping
// ErrConflict when the patient_id already exists.
type PatientRepository interface {
	FindByPatientID(ctx context.Context, patientID string) (*Patient, error)
	Create(ctx context.Context, p *Patient) error
}

// CheckRepository is the append-only Eligibility Check Store. Save returns an
// error wrapping ErrConflict when eligibility_id collides.
// FindAllByPatientID returns checks oldest first, with checks recorded in the
// same instant in insertion order; an empty slice is not an error.
type CheckRepository interface {
	Save(ctx context.Context, c *EligibilityCheck) error
	FindAllByPatientID(ctx context.Context, patientID string) ([]*EligibilityCheck, error)
}
