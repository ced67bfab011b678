package eligibility

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ehr/eligibility/internal/platform/db"
)

const tracerName = "github.com/ehr/eligibility/internal/domain/eligibility"

// maxSaveAttempts bounds eligibility id regeneration after a collision.
const maxSaveAttempts = 3

type Service struct {
	patients PatientRepository
	checks   CheckRepository
	tx       db.Transactor
	decider  *Decider
	logger   zerolog.Logger
	tracer   trace.Tracer
}

func NewService(patients PatientRepository, checks CheckRepository, tx db.Transactor, logger zerolog.Logger) *Service {
	return &Service{
		patients: patients,
		checks:   checks,
		tx:       tx,
		decider:  NewDecider(),
		logger:   logger.With().Str("component", "eligibility").Logger(),
		tracer:   otel.Tracer(tracerName),
	}
}

// SetDecider replaces the decision function, typically with a fixed clock
// and id generator in tests.
func (s *Service) SetDecider(d *Decider) {
	s.decider = d
}

// ValidateRequest trims fields in place and reports the ones that are blank
// or, for the two dates, not YYYY-MM-DD. The member number is only checked
// for blankness: the decision reads it exactly as submitted.
func ValidateRequest(req *EligibilityRequest) error {
	if req == nil {
		return &ValidationError{Missing: []string{"patientId", "patientName", "dateOfBirth", "memberNumber", "insuranceCompany", "serviceDate"}}
	}
	fields := []struct {
		name  string
		value *string
		date  bool
		raw   bool
	}{
		{"patientId", &req.PatientID, false, false},
		{"patientName", &req.PatientName, false, false},
		{"dateOfBirth", &req.DateOfBirth, true, false},
		{"memberNumber", &req.MemberNumber, false, true},
		{"insuranceCompany", &req.InsuranceCompany, false, false},
		{"serviceDate", &req.ServiceDate, true, false},
	}

	var verr ValidationError
	for _, f := range fields {
		trimmed := strings.TrimSpace(*f.value)
		if !f.raw {
			*f.value = trimmed
		}
		if trimmed == "" {
			verr.Missing = append(verr.Missing, f.name)
			continue
		}
		if f.date {
			if _, err := time.Parse(DateLayout, *f.value); err != nil {
				verr.Invalid = append(verr.Invalid, f.name)
			}
		}
	}
	if len(verr.Missing) > 0 || len(verr.Invalid) > 0 {
		return &verr
	}
	return nil
}

// CheckEligibility validates req, makes sure the patient exists, runs the
// decision and records it. Patient creation and the check insert commit or
// roll back together.
func (s *Service) CheckEligibility(ctx context.Context, req *EligibilityRequest) (*EligibilityResponse, error) {
	ctx, span := s.tracer.Start(ctx, "eligibility.CheckEligibility")
	defer span.End()

	if err := ValidateRequest(req); err != nil {
		span.SetStatus(codes.Error, "validation failed")
		return nil, err
	}
	span.SetAttributes(attribute.String("eligibility.patient_id", req.PatientID))

	var resp *EligibilityResponse
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.ensurePatient(ctx, req); err != nil {
			return err
		}
		out, err := s.record(ctx, req)
		if err != nil {
			return err
		}
		resp = out
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "storage failure")
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	span.SetAttributes(
		attribute.String("eligibility.id", resp.EligibilityID),
		attribute.String("eligibility.status", string(resp.Status)),
	)
	return resp, nil
}

// ensurePatient creates the patient on first sight. Losing a concurrent
// create is fine as long as the winner's row can be read back.
func (s *Service) ensurePatient(ctx context.Context, req *EligibilityRequest) error {
	_, err := s.patients.FindByPatientID(ctx, req.PatientID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrNotFound) {
		return err
	}

	// Validation already guaranteed the layout.
	dob, _ := time.Parse(DateLayout, req.DateOfBirth)
	p := &Patient{PatientID: req.PatientID, Name: req.PatientName, DateOfBirth: dob}
	err = s.patients.Create(ctx, p)
	if err == nil {
		s.logger.Debug().Str("patient_id", p.PatientID).Msg("patient created")
		return nil
	}
	if !errors.Is(err, ErrConflict) {
		return err
	}

	s.logger.Info().Str("patient_id", req.PatientID).Msg("patient created concurrently, re-reading")
	if _, err := s.patients.FindByPatientID(ctx, req.PatientID); err != nil {
		return fmt.Errorf("re-read patient after conflict: %w", err)
	}
	return nil
}

// record decides and saves, drawing a new eligibility id on collision.
func (s *Service) record(ctx context.Context, req *EligibilityRequest) (*EligibilityResponse, error) {
	var lastErr error
	for attempt := 1; attempt <= maxSaveAttempts; attempt++ {
		resp := s.decider.Decide(req)
		err := s.checks.Save(ctx, NewCheckFromResponse(resp))
		if err == nil {
			return resp, nil
		}
		if !errors.Is(err, ErrConflict) {
			return nil, err
		}
		s.logger.Warn().Str("eligibility_id", resp.EligibilityID).Int("attempt", attempt).
			Msg("eligibility id collision, regenerating")
		lastErr = err
	}
	return nil, fmt.Errorf("save eligibility check after %d attempts: %w", maxSaveAttempts, lastErr)
}

// GetHistory returns every check recorded for patientID, oldest first.
// A patient with no checks, known or not, is ErrNotFound.
func (s *Service) GetHistory(ctx context.Context, patientID string) ([]*EligibilityCheck, error) {
	ctx, span := s.tracer.Start(ctx, "eligibility.GetHistory",
		trace.WithAttributes(attribute.String("eligibility.patient_id", patientID)))
	defer span.End()

	patientID = strings.TrimSpace(patientID)
	if patientID == "" {
		return nil, fmt.Errorf("history for blank patient id: %w", ErrNotFound)
	}

	items, err := s.checks.FindAllByPatientID(ctx, patientID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "storage failure")
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("history for %s: %w", patientID, ErrNotFound)
	}
	span.SetAttributes(attribute.Int("eligibility.history_count", len(items)))
	return items, nil
}
