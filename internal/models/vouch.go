package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Trust levels a voucher can attest to
const (
	TrustSlight   = 1
	TrustWell     = 2
	TrustComplete = 3
)

// Vouch represents one holder attesting to another's trustworthiness
type Vouch struct {
	ID               int64               `json:"id"`
	VoucherID        int64               `json:"voucher_id"`
	VoucheeID        int64               `json:"vouchee_id"`
	TrustLevel       int                 `json:"trust_level"`
	Relationship     string              `json:"relationship"`
	WillingToCosign  bool                `json:"willing_to_cosign"`
	MaxCosignAmount  decimal.NullDecimal `json:"max_cosign_amount"`
	IsActive         bool                `json:"is_active"`
	VoucheeDefaulted bool                `json:"vouchee_defaulted"`
	CreatedAt        time.Time           `json:"created_at"`
}

// Validate checks a new vouch before it is stored
func (v *Vouch) Validate() error {
	if v.VoucherID == v.VoucheeID {
		return ErrSelfVouch
	}
	if v.TrustLevel < TrustSlight || v.TrustLevel > TrustComplete {
		return fmt.Errorf("%w: trust level must be between %d and %d", ErrValidation, TrustSlight, TrustComplete)
	}
	if v.MaxCosignAmount.Valid {
		if !v.WillingToCosign {
			return fmt.Errorf("%w: max cosign amount requires willingness to cosign", ErrValidation)
		}
		if !v.MaxCosignAmount.Decimal.IsPositive() {
			return fmt.Errorf("%w: max cosign amount must be positive", ErrValidation)
		}
		if err := ValidateMoney("max cosign amount", v.MaxCosignAmount.Decimal); err != nil {
			return err
		}
	}
	return nil
}

// VouchList groups the active vouches a holder received and gave
type VouchList struct {
	Received []Vouch `json:"received"`
	Given    []Vouch `json:"given"`
}
