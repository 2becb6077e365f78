package utils

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func TestEncryptDecrypt(t *testing.T) {
	for _, phone := range []string{"0888123456", "+265 999 000 111", "a"} {
		enc, err := Encrypt(phone, testKey)
		require.NoError(t, err)
		assert.NotContains(t, enc, phone)

		dec, err := Decrypt(enc, testKey)
		require.NoError(t, err)
		assert.Equal(t, phone, dec)
	}
}

func TestEncrypt_UsesFreshIV(t *testing.T) {
	a, err := Encrypt("0888123456", testKey)
	require.NoError(t, err)
	b, err := Encrypt("0888123456", testKey)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestEncryptDecrypt_Errors(t *testing.T) {
	_, err := Encrypt("", testKey)
	assert.Error(t, err)
	_, err = Encrypt("x", []byte("short"))
	assert.Error(t, err)
	_, err = Decrypt("not-hex", testKey)
	assert.Error(t, err)
	_, err = Decrypt("00ff", testKey)
	assert.Error(t, err)

	enc, err := Encrypt("0888123456", testKey)
	require.NoError(t, err)
	_, err = Decrypt(enc, []byte("fedcba9876543210fedcba9876543210"))
	assert.Error(t, err)

	tampered := []byte(enc)
	if tampered[len(tampered)-1] == '0' {
		tampered[len(tampered)-1] = '1'
	} else {
		tampered[len(tampered)-1] = '0'
	}
	_, err = Decrypt(string(tampered), testKey)
	assert.Error(t, err)
}

func TestLoanTermsSignature(t *testing.T) {
	terms := LoanTerms{
		HolderID:     7,
		Amount:       decimal.NewFromInt(20000),
		InterestRate: decimal.NewFromInt(12),
		DurationDays: 30,
		TotalDue:     decimal.NewFromInt(22400),
		AppliedAt:    time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	sig := SignLoanTerms(terms, "secret")
	assert.True(t, VerifyLoanTerms(terms, sig, "secret"))
	assert.False(t, VerifyLoanTerms(terms, sig, "other-secret"))

	tampered := terms
	tampered.TotalDue = decimal.NewFromInt(20000)
	assert.False(t, VerifyLoanTerms(tampered, sig, "secret"))
}

func TestPhoneHash_Normalizes(t *testing.T) {
	assert.Equal(t, PhoneHash("+265 888-123-456", "k"), PhoneHash("265888123456", "k"))
	assert.NotEqual(t, PhoneHash("265888123456", "k"), PhoneHash("265888123457", "k"))
	assert.NotEqual(t, PhoneHash("265888123456", "k"), PhoneHash("265888123456", "j"))
}

func TestLoanTermsSignature_SurvivesStoredScale(t *testing.T) {
	amount := decimal.RequireFromString("1000.55")
	rate := decimal.RequireFromString("12.75")
	terms := LoanTerms{
		HolderID:     3,
		Amount:       amount,
		InterestRate: rate,
		DurationDays: 45,
		TotalDue:     amount.Add(amount.Mul(rate).Div(decimal.NewFromInt(100))),
		AppliedAt:    time.Date(2025, 3, 4, 5, 6, 7, 891011, time.UTC),
	}
	sig := SignLoanTerms(terms, "secret")

	// values as the loans table returns them
	reloaded := terms
	reloaded.Amount = decimal.RequireFromString("1000.55")
	reloaded.InterestRate = decimal.RequireFromString("12.75")
	reloaded.TotalDue = decimal.RequireFromString("1128.120125")
	reloaded.AppliedAt = terms.AppliedAt.Truncate(time.Microsecond).In(time.FixedZone("CAT", 2*60*60))

	require.True(t, terms.TotalDue.Equal(reloaded.TotalDue), "total %s", terms.TotalDue)
	assert.True(t, VerifyLoanTerms(reloaded, sig, "secret"))
}
