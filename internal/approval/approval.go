// Package approval decides loan applications from a freshly computed score
// and the applicant's loan history.
package approval

import (
	"fmt"
	"time"

	"github.com/Dan9191/microcredit-service/internal/models"
	"github.com/Dan9191/microcredit-service/internal/scoring"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// RecentDefaultWindow is how long a default blocks new applications, counted from the loan's approval
const RecentDefaultWindow = 90 * 24 * time.Hour

// Denial reasons
const (
	ReasonDocumentsUnverified = "Verify your identity, address and income documents before applying."
	ReasonActiveLoan          = "You have an active loan. Pay it off first."
	ReasonRecentDefault       = "Recent default detected. Build your credit first."
)

// Request is the input to an approval decision
type Request struct {
	Holder          models.Holder
	Loans           []models.Loan
	Score           int
	RequestedAmount decimal.Decimal
	Now             time.Time
}

// Decision is the outcome of evaluating an application. A denial is a normal result, not an error.
type Decision struct {
	Approved     bool                `json:"approved"`
	Reason       string              `json:"reason,omitempty"`
	Message      string              `json:"message,omitempty"`
	Score        int                 `json:"score"`
	Amount       decimal.NullDecimal `json:"amount"`
	InterestRate decimal.NullDecimal `json:"interest_rate"`
	MaxAmount    decimal.NullDecimal `json:"max_amount"`
}

// Evaluate applies the eligibility checks in order; the first failing check wins
func Evaluate(req Request) Decision {
	if !req.Holder.DocumentsVerified() {
		return deny(req.Score, ReasonDocumentsUnverified)
	}

	maxAmount := scoring.MaxLoanAmount(req.Score)
	rate := scoring.InterestRate(req.Score)

	if HasActiveLoan(req.Loans) {
		return deny(req.Score, ReasonActiveLoan)
	}
	if HasRecentDefault(req.Loans, req.Now) {
		return deny(req.Score, ReasonRecentDefault)
	}
	if req.RequestedAmount.GreaterThan(maxAmount) {
		d := deny(req.Score, fmt.Sprintf("Maximum loan for your score: MWK %s", formatAmount(maxAmount)))
		d.MaxAmount = decimal.NewNullDecimal(maxAmount)
		return d
	}

	return Decision{
		Approved:     true,
		Score:        req.Score,
		Amount:       decimal.NewNullDecimal(req.RequestedAmount),
		InterestRate: decimal.NewNullDecimal(rate),
		MaxAmount:    decimal.NewNullDecimal(maxAmount),
		Message:      fmt.Sprintf("Congratulations! Approved at %s%% interest.", rate.String()),
	}
}

func deny(score int, reason string) Decision {
	return Decision{Approved: false, Score: score, Reason: reason}
}

// HasActiveLoan reports whether any loan is currently active
func HasActiveLoan(loans []models.Loan) bool {
	for _, l := range loans {
		if l.Status == models.LoanActive {
			return true
		}
	}
	return false
}

// HasRecentDefault reports whether a defaulted loan was approved within RecentDefaultWindow
func HasRecentDefault(loans []models.Loan, now time.Time) bool {
	cutoff := now.Add(-RecentDefaultWindow)
	for _, l := range loans {
		if l.Status == models.LoanDefaulted && l.ApprovedAt != nil && !l.ApprovedAt.Before(cutoff) {
			return true
		}
	}
	return false
}

var amountPrinter = message.NewPrinter(language.English)

// formatAmount renders a whole amount with thousands separators
func formatAmount(v decimal.Decimal) string {
	return amountPrinter.Sprintf("%d", v.IntPart())
}
