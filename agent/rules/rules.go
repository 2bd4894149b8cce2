// Package rules holds the deterministic business-rule evaluations: score
// computation, tier eligibility, and limit-approval resolution. The
// reasoning engine never participates in these decisions.
package rules

import (
	"context"
	"errors"
	"fmt"
	"strings"

	contractx "github.com/bancoagil/servicedesk/agent/contract"
)

// EmploymentCategory is a declared employment situation from the
// financial-profile interview.
type EmploymentCategory string

const (
	EmploymentFormal       EmploymentCategory = "formal"
	EmploymentSelfEmployed EmploymentCategory = "autonomo"
	EmploymentUnemployed   EmploymentCategory = "desempregado"
)

func ParseEmployment(s string) (EmploymentCategory, bool) {
	switch EmploymentCategory(strings.ToLower(strings.TrimSpace(s))) {
	case EmploymentFormal:
		return EmploymentFormal, true
	case EmploymentSelfEmployed:
		return EmploymentSelfEmployed, true
	case EmploymentUnemployed:
		return EmploymentUnemployed, true
	default:
		return "", false
	}
}

// Profile is a complete five-slot financial profile.
type Profile struct {
	MonthlyIncome   float64
	Employment      EmploymentCategory
	MonthlyExpenses float64
	Dependents      int
	HasActiveDebt   bool
}

var employmentTerms = map[EmploymentCategory]int{
	EmploymentFormal:       300,
	EmploymentSelfEmployed: 200,
	EmploymentUnemployed:   0,
}

var dependentsTerms = [4]int{100, 80, 60, 30}

// Score computes the credit score for a complete profile:
//
//	income/(expenses+1)*30 + employment term + dependents term ± 100 debt term,
//
// clamped to [0, 1000].
func Score(p Profile) int {
	incomeTerm := p.MonthlyIncome / (p.MonthlyExpenses + 1) * 30

	dependents := p.Dependents
	if dependents > 3 {
		dependents = 3
	}
	if dependents < 0 {
		dependents = 0
	}

	debtTerm := 100
	if p.HasActiveDebt {
		debtTerm = -100
	}

	score := int(incomeTerm) + employmentTerms[p.Employment] + dependentsTerms[dependents] + debtTerm
	if score < 0 {
		return 0
	}
	if score > 1000 {
		return 1000
	}
	return score
}

// Eligible reports whether some tier admits the requested limit: the
// caller's score meets the tier minimum and the request does not exceed
// that tier's maximum.
func Eligible(tiers []contractx.Tier, score int, requested float64) bool {
	for _, tier := range tiers {
		if score >= tier.MinScore && requested <= tier.MaxLimit {
			return true
		}
	}
	return false
}

// ApplyDecision resolves the most recent request-log entry for the given
// id to its final status and, if and only if the final status is approved,
// overwrites the customer's stored limit with the requested value.
func ApplyDecision(ctx context.Context, store contractx.RecordStore, cpf, status string) (*contractx.RequestLogEntry, error) {
	if status != contractx.StatusApproved && status != contractx.StatusRejected {
		return nil, fmt.Errorf("%w: decision status must be final, got %q", contractx.ErrValidation, status)
	}

	entry, err := store.UpdateLastRequestStatus(ctx, cpf, status)
	if err != nil {
		if errors.Is(err, contractx.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: no request log entry for id=%s", contractx.ErrValidation, cpf)
		}
		return nil, fmt.Errorf("%w: resolve request status: %v", contractx.ErrPersistence, err)
	}

	if status == contractx.StatusApproved {
		if err := store.UpdateCustomerField(ctx, cpf, "limite_atual", entry.RequestedLimit); err != nil {
			return nil, fmt.Errorf("%w: update customer limit: %v", contractx.ErrPersistence, err)
		}
	}
	return entry, nil
}
