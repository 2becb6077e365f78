package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// EmploymentStatus is the holder's employment category
type EmploymentStatus string

const (
	EmploymentEmployed     EmploymentStatus = "employed"
	EmploymentSelfEmployed EmploymentStatus = "self_employed"
	EmploymentStudent      EmploymentStatus = "student"
	EmploymentUnemployed   EmploymentStatus = "unemployed"
)

// Valid reports whether s is a known employment category
func (s EmploymentStatus) Valid() bool {
	switch s {
	case EmploymentEmployed, EmploymentSelfEmployed, EmploymentStudent, EmploymentUnemployed:
		return true
	}
	return false
}

// Holder represents a borrower's credit profile
type Holder struct {
	ID               int64               `json:"id"`
	Username         string              `json:"username"`
	Email            string              `json:"email"`
	PhoneNumber      string              `json:"phone_number"`
	NationalID       string              `json:"national_id"`
	EmploymentStatus EmploymentStatus    `json:"employment_status"`
	MonthlyIncome    decimal.NullDecimal `json:"monthly_income"`
	IdentityVerified bool                `json:"identity_verified"`
	AddressVerified  bool                `json:"address_verified"`
	IncomeVerified   bool                `json:"income_verified"`
	CurrentScore     int                 `json:"current_score"`
	LastScoreUpdate  time.Time           `json:"last_score_update"`
	CreatedAt        time.Time           `json:"created_at"`
}

// DocumentsVerified reports whether identity, address and income documents are all verified
func (h *Holder) DocumentsVerified() bool {
	return h.IdentityVerified && h.AddressVerified && h.IncomeVerified
}

// OverallVerified requires verified documents plus a phone number and national ID on file
func (h *Holder) OverallVerified() bool {
	return h.DocumentsVerified() && h.PhoneNumber != "" && h.NationalID != ""
}

// Validate checks the onboarding fields of a holder
func (h *Holder) Validate() error {
	if h.Username == "" {
		return fmt.Errorf("%w: username is required", ErrValidation)
	}
	if h.EmploymentStatus == "" {
		h.EmploymentStatus = EmploymentUnemployed
	}
	if !h.EmploymentStatus.Valid() {
		return fmt.Errorf("%w: unknown employment status %q", ErrValidation, h.EmploymentStatus)
	}
	if h.MonthlyIncome.Valid && h.MonthlyIncome.Decimal.IsNegative() {
		return fmt.Errorf("%w: monthly income must not be negative", ErrValidation)
	}
	if h.MonthlyIncome.Valid {
		if err := ValidateMoney("monthly income", h.MonthlyIncome.Decimal); err != nil {
			return err
		}
	}
	return nil
}

// Verification carries the document verification flags set by reviewers
type Verification struct {
	Identity bool `json:"identity"`
	Address  bool `json:"address"`
	Income   bool `json:"income"`
}
