package eligibility

import (
	"time"

	"github.com/google/uuid"
)

// DateLayout is the wire format of dateOfBirth and serviceDate.
const DateLayout = "2006-01-02"

// Status is the outcome of an eligibility determination.
type Status string

const (
	StatusActive   Status = "Active"
	StatusInactive Status = "Inactive"
	StatusUnknown  Status = "Unknown"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusUnknown:
		return true
	}
	return false
}

// EligibilityRequest is the body of POST /eligibility/check.
type EligibilityRequest struct {
	PatientID        string `json:"patientId"`
	PatientName      string `json:"patientName"`
	DateOfBirth      string `json:"dateOfBirth"`
	MemberNumber     string `json:"memberNumber"`
	InsuranceCompany string `json:"insuranceCompany"`
	ServiceDate      string `json:"serviceDate"`
}

// Coverage is the benefit snapshot attached to an Active determination.
// Either every field is set or none is.
type Coverage struct {
	Deductible     *float64 `json:"deductible,omitempty"`
	DeductibleMet  *float64 `json:"deductibleMet,omitempty"`
	Copay          *float64 `json:"copay,omitempty"`
	OutOfPocketMax *float64 `json:"outOfPocketMax,omitempty"`
	OutOfPocketMet *float64 `json:"outOfPocketMet,omitempty"`
}

func (c Coverage) IsEmpty() bool {
	return c.Deductible == nil && c.DeductibleMet == nil && c.Copay == nil &&
		c.OutOfPocketMax == nil && c.OutOfPocketMet == nil
}

// EligibilityResponse is the live decision returned by POST /eligibility/check.
type EligibilityResponse struct {
	EligibilityID string    `json:"eligibilityId"`
	PatientID     string    `json:"patientId"`
	CheckDateTime time.Time `json:"checkDateTime"`
	Status        Status    `json:"status"`
	Coverage      Coverage  `json:"coverage"`
	Errors        []string  `json:"errors"`
}

// Patient maps to the patients table.
type Patient struct {
	ID          uuid.UUID `db:"id" json:"id"`
	PatientID   string    `db:"patient_id" json:"patient_id"`
	Name        string    `db:"name" json:"name"`
	DateOfBirth time.Time `db:"date_of_birth" json:"date_of_birth"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// EligibilityCheck maps to the eligibility_checks table. Its JSON form is the
// stored-record shape served by GET /eligibility/history/:patientId, which
// deliberately differs from EligibilityResponse.
type EligibilityCheck struct {
	ID             uuid.UUID `db:"id" json:"id"`
	EligibilityID  string    `db:"eligibility_id" json:"eligibility_id"`
	PatientID      string    `db:"patient_id" json:"patient_id"`
	CheckDateTime  time.Time `db:"check_datetime" json:"check_datetime"`
	Status         Status    `db:"status" json:"status"`
	Deductible     *float64  `db:"deductible" json:"deductible"`
	DeductibleMet  *float64  `db:"deductible_met" json:"deductible_met"`
	Copay          *float64  `db:"copay" json:"copay"`
	OutOfPocketMax *float64  `db:"out_of_pocket_max" json:"out_of_pocket_max"`
	OutOfPocketMet *float64  `db:"out_of_pocket_met" json:"out_of_pocket_met"`
	Errors         []string  `db:"errors" json:"errors"`
}

// NewCheckFromResponse flattens a decision into its stored form.
func NewCheckFromResponse(resp *EligibilityResponse) *EligibilityCheck {
	errs := make([]string, len(resp.Errors))
	copy(errs, resp.Errors)
	return &EligibilityCheck{
		EligibilityID:  resp.EligibilityID,
		PatientID:      resp.PatientID,
		CheckDateTime:  resp.CheckDateTime,
		Status:         resp.Status,
		Deductible:     resp.Coverage.Deductible,
		DeductibleMet:  resp.Coverage.DeductibleMet,
		Copay:          resp.Coverage.Copay,
		OutOfPocketMax: resp.Coverage.OutOfPocketMax,
		OutOfPocketMet: resp.Coverage.OutOfPocketMet,
		Errors:         errs,
	}
}

// Coverage regroups the flat benefit columns.
func (c *EligibilityCheck) Coverage() Coverage {
	return Coverage{
		Deductible:     c.Deductible,
		DeductibleMet:  c.DeductibleMet,
		Copay:          c.Copay,
		OutOfPocketMax: c.OutOfPocketMax,
		OutOfPocketMet: c.OutOfPocketMet,
	}
}
