package utils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// GenerateHMAC returns the hex HMAC-SHA256 of the joined parts
func GenerateHMAC(secret string, parts ...string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(h.Sum(nil))
}

// LoanTerms are the loan fields that must never change after creation
type LoanTerms struct {
	HolderID     int64
	Amount       decimal.Decimal
	InterestRate decimal.Decimal
	DurationDays int
	TotalDue     decimal.Decimal
	AppliedAt    time.Time
}

// Column scales of the signed loan fields
const (
	amountScale   = 2
	rateScale     = 2
	totalDueScale = 6
)

// parts renders the terms at the scale they are stored with, so a signature
// survives a round trip through the loans table
func (t LoanTerms) parts() []string {
	return []string{
		strconv.FormatInt(t.HolderID, 10),
		t.Amount.StringFixed(amountScale),
		t.InterestRate.StringFixed(rateScale),
		strconv.Itoa(t.DurationDays),
		t.TotalDue.StringFixed(totalDueScale),
		t.AppliedAt.UTC().Format(time.RFC3339),
	}
}

// SignLoanTerms generates the HMAC stored alongside a loan
func SignLoanTerms(t LoanTerms, secret string) string {
	return GenerateHMAC(secret, t.parts()...)
}

// VerifyLoanTerms reports whether signature matches the terms
func VerifyLoanTerms(t LoanTerms, signature, secret string) bool {
	expected := SignLoanTerms(t, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// PhoneHash returns a keyed hash of a normalized phone number, used for lookups
// without decrypting stored numbers
func PhoneHash(phone, secret string) string {
	return GenerateHMAC(secret, NormalizePhone(phone))
}

// NormalizePhone strips spaces, dashes and a leading plus
func NormalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	phone = strings.TrimPrefix(phone, "+")
	return strings.NewReplacer(" ", "", "-", "").Replace(phone)
}

// Encrypt seals a phone number with AES-GCM under key. The result is the
// hex-encoded nonce followed by the ciphertext.
func Encrypt(phone string, key []byte) (string, error) {
	if phone == "" {
		return "", fmt.Errorf("phone number is empty")
	}
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(phone), nil)
	return hex.EncodeToString(sealed), nil
}

// Decrypt opens a phone number sealed by Encrypt. A wrong key or modified
// ciphertext fails authentication.
func Decrypt(sealed string, key []byte) (string, error) {
	if sealed == "" {
		return "", fmt.Errorf("stored phone number is empty")
	}
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	data, err := hex.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("failed to decode stored phone number: %w", err)
	}
	if len(data) <= gcm.NonceSize() {
		return "", fmt.Errorf("stored phone number too short: %d bytes", len(data))
	}

	nonce, ciphertext := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	phone, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt phone number: %w", err)
	}
	return string(phone), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	switch len(key) {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("encryption key must be 16, 24, or 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
