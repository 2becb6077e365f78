package models

import "time"

// Provider is a mobile money operator
type Provider string

const (
	ProviderAirtelMoney Provider = "airtel_money"
	ProviderTNMMpamba   Provider = "tnm_mpamba"
)

// Valid reports whether p is a supported operator
func (p Provider) Valid() bool {
	return p == ProviderAirtelMoney || p == ProviderTNMMpamba
}

// LinkedAccount represents a verified mobile money account
type LinkedAccount struct {
	ID          int64      `json:"id"`
	HolderID    int64      `json:"holder_id"`
	Provider    Provider   `json:"provider"`
	PhoneNumber string     `json:"phone_number"` // Decrypted for response
	PhoneCipher string     `json:"-"`
	PhoneHash   string     `json:"-"`
	IsVerified  bool       `json:"is_verified"`
	VerifiedAt  *time.Time `json:"verified_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
