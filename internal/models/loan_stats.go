package models

import (
	"github.com/shopspring/decimal"
)

// LoanStats represents loan history analytics for one holder
type LoanStats struct {
	TotalLoans     int             `json:"total_loans"`
	ActiveLoans    int             `json:"active_loans"`
	PaidLoans      int             `json:"paid_loans"`
	DefaultedLoans int             `json:"defaulted_loans"`
	TotalBorrowed  decimal.Decimal `json:"total_borrowed"`
	TotalPaid      decimal.Decimal `json:"total_paid"`
}

// NewLoanStats aggregates a holder's loans
func NewLoanStats(loans []Loan) LoanStats {
	stats := LoanStats{TotalBorrowed: decimal.Zero, TotalPaid: decimal.Zero}
	for _, l := range loans {
		stats.TotalLoans++
		switch l.Status {
		case LoanActive:
			stats.ActiveLoans++
		case LoanPaid:
			stats.PaidLoans++
		case LoanDefaulted:
			stats.DefaultedLoans++
		case LoanPending, LoanRejected:
			continue
		}
		stats.TotalBorrowed = stats.TotalBorrowed.Add(l.Amount)
		stats.TotalPaid = stats.TotalPaid.Add(l.AmountPaid)
	}
	return stats
}

// LoanDetail represents a loan with its payments and repayment position
type LoanDetail struct {
	Loan        Loan            `json:"loan"`
	Payments    []Payment       `json:"payments"`
	Remaining   decimal.Decimal `json:"remaining"`
	IsOverdue   bool            `json:"is_overdue"`
	DaysOverdue int             `json:"days_overdue"`
}

// LoanHistory represents all of a holder's loans, newest first, with their stats
type LoanHistory struct {
	Loans []Loan    `json:"loans"`
	Stats LoanStats `json:"stats"`
}
