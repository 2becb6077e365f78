package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentMethod is the channel a repayment arrived through
type PaymentMethod string

const (
	MethodAirtelMoney  PaymentMethod = "airtel_money"
	MethodTNMMpamba    PaymentMethod = "tnm_mpamba"
	MethodBankTransfer PaymentMethod = "bank_transfer"
	MethodCash         PaymentMethod = "cash"
)

// Valid reports whether m is a known payment channel
func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodAirtelMoney, MethodTNMMpamba, MethodBankTransfer, MethodCash:
		return true
	}
	return false
}

// Payment represents one repayment against a loan
type Payment struct {
	ID          int64           `json:"id"`
	LoanID      int64           `json:"loan_id"`
	Amount      decimal.Decimal `json:"amount"`
	Method      PaymentMethod   `json:"method"`
	WasOnTime   bool            `json:"was_on_time"`
	DaysFromDue int             `json:"days_from_due"` // negative = early
	Reference   string          `json:"transaction_reference"`
	PaidAt      time.Time       `json:"paid_at"`
}
