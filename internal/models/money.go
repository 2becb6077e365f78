package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Stored scales. A total due of a MoneyScale amount at a RateScale percent
// fits TotalDueScale exactly.
const (
	MoneyScale    = 2
	RateScale     = 2
	TotalDueScale = 6
)

// ValidateMoney rejects amounts finer than MoneyScale, which storage would round
func ValidateMoney(field string, amount decimal.Decimal) error {
	if !amount.Equal(amount.Round(MoneyScale)) {
		return fmt.Errorf("%w: %s must have at most %d decimal places", ErrValidation, field, MoneyScale)
	}
	return nil
}
