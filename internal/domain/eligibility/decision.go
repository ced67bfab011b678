package eligibility

import (
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// InvalidMemberNumber is the single error reported for member numbers the
// simulated payer rejects.
const InvalidMemberNumber = "Invalid member number"

// Decider stands in for the payer's eligibility API. Given the same member
// number it always reaches the same decision; only the id and timestamp vary.
type Decider struct {
	Now   func() time.Time
	NewID func() string
}

// NewDecider returns a Decider using the wall clock and random UUIDs.
func NewDecider() *Decider {
	return &Decider{
		Now:   time.Now,
		NewID: NewEligibilityID,
	}
}

// NewEligibilityID returns a fresh identifier of the form ELG-<uuid>.
func NewEligibilityID() string {
	return "ELG-" + uuid.NewString()
}

// Decide maps a validated request to a determination:
//
//   - member number ending in '0': Unknown with one error
//   - even digit string: Active with the fixed coverage snapshot
//   - odd digit string, or no digits at all: Inactive
func (d *Decider) Decide(req *EligibilityRequest) *EligibilityResponse {
	resp := &EligibilityResponse{
		EligibilityID: d.NewID(),
		PatientID:     req.PatientID,
		CheckDateTime: d.Now().UTC().Truncate(time.Millisecond),
		Errors:        []string{},
	}

	switch {
	case strings.HasSuffix(req.MemberNumber, "0"):
		resp.Status = StatusUnknown
		resp.Errors = []string{InvalidMemberNumber}
	case isEven(memberDigits(req.MemberNumber)):
		resp.Status = StatusActive
		resp.Coverage = activeCoverage()
	default:
		resp.Status = StatusInactive
	}
	return resp
}

// memberDigits strips everything but ASCII digits.
func memberDigits(memberNumber string) string {
	return strings.Map(func(r rune) rune {
		if r <= unicode.MaxASCII && unicode.IsDigit(r) {
			return r
		}
		return -1
	}, memberNumber)
}

// isEven reports the parity of a decimal digit string from its last digit,
// so member numbers of any length work. An empty string is not even.
func isEven(digits string) bool {
	if digits == "" {
		return false
	}
	return (digits[len(digits)-1]-'0')%2 == 0
}

func activeCoverage() Coverage {
	return Coverage{
		Deductible:     float64Ptr(1500),
		DeductibleMet:  float64Ptr(750),
		Copay:          float64Ptr(25),
		OutOfPocketMax: float64Ptr(5000),
		OutOfPocketMet: float64Ptr(1200),
	}
}

func float64Ptr(v float64) *float64 { return &v }
