package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType classifies a savings ledger entry
type TransactionType string

const (
	TxDeposit            TransactionType = "deposit"
	TxLoanDeposit        TransactionType = "loan_deposit"
	TxRepaymentDeduction TransactionType = "repayment_deduction"
)

// IsCredit reports whether entries of this type add money to savings
func (t TransactionType) IsCredit() bool {
	return t == TxDeposit || t == TxLoanDeposit
}

// Valid reports whether t is a known transaction type
func (t TransactionType) Valid() bool {
	return t.IsCredit() || t == TxRepaymentDeduction
}

// SavingsTransaction represents an append-only savings ledger entry
type SavingsTransaction struct {
	ID           int64           `json:"id"`
	HolderID     int64           `json:"holder_id"`
	Amount       decimal.Decimal `json:"amount"`
	Type         TransactionType `json:"type"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	CreatedAt    time.Time       `json:"created_at"`
}

// ValidateAmount checks that the sign of amount matches the transaction type
func ValidateAmount(t TransactionType, amount decimal.Decimal) error {
	if !t.Valid() {
		return fmt.Errorf("%w: unknown transaction type %q", ErrValidation, t)
	}
	if t.IsCredit() && !amount.IsPositive() {
		return fmt.Errorf("%w: %s amount must be positive", ErrValidation, t)
	}
	if !t.IsCredit() && !amount.IsNegative() {
		return fmt.Errorf("%w: %s amount must be negative", ErrValidation, t)
	}
	return ValidateMoney(string(t)+" amount", amount)
}

// SavingsSummary represents a holder's ledger with its totals
type SavingsSummary struct {
	Transactions   []SavingsTransaction `json:"transactions"`
	TotalDeposits  decimal.Decimal      `json:"total_deposits"`
	CurrentBalance decimal.Decimal      `json:"current_balance"`
}
