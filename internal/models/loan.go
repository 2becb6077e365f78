package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// LoanStatus is a position in the loan lifecycle
type LoanStatus string

const (
	LoanPending   LoanStatus = "pending"
	LoanApproved  LoanStatus = "approved"
	LoanActive    LoanStatus = "active"
	LoanPaid      LoanStatus = "paid"
	LoanDefaulted LoanStatus = "defaulted"
	LoanRejected  LoanStatus = "rejected"
)

var loanTransitions = map[LoanStatus][]LoanStatus{
	LoanPending:  {LoanApproved, LoanRejected},
	LoanApproved: {LoanActive},
	LoanActive:   {LoanPaid, LoanDefaulted},
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next
func (s LoanStatus) CanTransitionTo(next LoanStatus) bool {
	for _, allowed := range loanTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible
func (s LoanStatus) Terminal() bool {
	return len(loanTransitions[s]) == 0
}

var hundred = decimal.NewFromInt(100)

// Loan represents a microloan and its repayment progress
type Loan struct {
	ID                 int64           `json:"id"`
	HolderID           int64           `json:"holder_id"`
	Amount             decimal.Decimal `json:"amount"`
	InterestRate       decimal.Decimal `json:"interest_rate"`
	DurationDays       int             `json:"duration_days"`
	Status             LoanStatus      `json:"status"`
	AppliedAt          time.Time       `json:"applied_at"`
	ApprovedAt         *time.Time      `json:"approved_at,omitempty"`
	DueDate            *time.Time      `json:"due_date,omitempty"`
	PaidAt             *time.Time      `json:"paid_at,omitempty"`
	TotalAmountDue     decimal.Decimal `json:"total_amount_due"`
	AmountPaid         decimal.Decimal `json:"amount_paid"`
	ScoreAtApplication int             `json:"score_at_application"`
	HMAC               string          `json:"hmac"`
}

// TotalDue returns principal plus simple interest at rate percent
func TotalDue(amount, rate decimal.Decimal) decimal.Decimal {
	return amount.Add(amount.Mul(rate).Div(hundred))
}

// NewLoan creates a pending loan with its total due fixed at creation
func NewLoan(holderID int64, amount, rate decimal.Decimal, durationDays, score int, now time.Time) (*Loan, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: loan amount must be positive", ErrValidation)
	}
	if err := ValidateMoney("loan amount", amount); err != nil {
		return nil, err
	}
	if rate.IsNegative() {
		return nil, fmt.Errorf("%w: interest rate must not be negative", ErrValidation)
	}
	if !rate.Equal(rate.Round(RateScale)) {
		return nil, fmt.Errorf("%w: interest rate must have at most %d decimal places", ErrValidation, RateScale)
	}
	if durationDays <= 0 {
		return nil, fmt.Errorf("%w: duration must be a positive number of days", ErrValidation)
	}
	return &Loan{
		HolderID:           holderID,
		Amount:             amount,
		InterestRate:       rate,
		DurationDays:       durationDays,
		Status:             LoanPending,
		AppliedAt:          now,
		TotalAmountDue:     TotalDue(amount, rate),
		AmountPaid:         decimal.Zero,
		ScoreAtApplication: score,
	}, nil
}

func (l *Loan) transition(next LoanStatus) error {
	if !l.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: loan %d cannot move from %s to %s", ErrStateConflict, l.ID, l.Status, next)
	}
	l.Status = next
	return nil
}

// Approve moves a pending loan to approved and fixes its due date
func (l *Loan) Approve(now time.Time) error {
	if err := l.transition(LoanApproved); err != nil {
		return err
	}
	due := DateOf(now).AddDate(0, 0, l.DurationDays)
	l.ApprovedAt = &now
	l.DueDate = &due
	return nil
}

// Activate disburses an approved loan
func (l *Loan) Activate() error {
	return l.transition(LoanActive)
}

// Reject closes a pending application
func (l *Loan) Reject() error {
	return l.transition(LoanRejected)
}

// MarkDefaulted records that the borrower failed to repay an active loan
func (l *Loan) MarkDefaulted() error {
	return l.transition(LoanDefaulted)
}

// ApplyPayment records a repayment against an active loan and settles it once fully paid
func (l *Loan) ApplyPayment(amount decimal.Decimal, method PaymentMethod, reference string, now time.Time) (*Payment, error) {
	if l.Status != LoanActive {
		return nil, fmt.Errorf("%w: loan %d is %s, payments require an active loan", ErrStateConflict, l.ID, l.Status)
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: payment amount must be positive", ErrValidation)
	}
	if err := ValidateMoney("payment amount", amount); err != nil {
		return nil, err
	}
	if !method.Valid() {
		return nil, fmt.Errorf("%w: unknown payment method %q", ErrValidation, method)
	}
	if l.DueDate == nil {
		return nil, fmt.Errorf("%w: loan %d has no due date", ErrStateConflict, l.ID)
	}

	daysFromDue := DaysBetween(*l.DueDate, now)
	payment := &Payment{
		LoanID:      l.ID,
		Amount:      amount,
		Method:      method,
		WasOnTime:   daysFromDue <= 0,
		DaysFromDue: daysFromDue,
		Reference:   reference,
		PaidAt:      now,
	}

	l.AmountPaid = l.AmountPaid.Add(amount)
	if l.AmountPaid.GreaterThanOrEqual(l.TotalAmountDue) {
		if err := l.transition(LoanPaid); err != nil {
			return nil, err
		}
		l.PaidAt = &now
	}
	return payment, nil
}

// IsOverdue reports whether an active loan is past its due date
func (l *Loan) IsOverdue(now time.Time) bool {
	if l.Status != LoanActive || l.DueDate == nil {
		return false
	}
	return DaysBetween(*l.DueDate, now) > 0
}

// DaysOverdue returns how many days an active loan is past due, or 0
func (l *Loan) DaysOverdue(now time.Time) int {
	if !l.IsOverdue(now) {
		return 0
	}
	return DaysBetween(*l.DueDate, now)
}

// Remaining returns the outstanding balance, never below zero
func (l *Loan) Remaining() decimal.Decimal {
	remaining := l.TotalAmountDue.Sub(l.AmountPaid)
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

// DateOf truncates t to midnight UTC
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the signed number of calendar days from `from` to `to`
func DaysBetween(from, to time.Time) int {
	return int(DateOf(to).Sub(DateOf(from)).Hours() / 24)
}
