package approval

import (
	"testing"
	"time"

	"github.com/Dan9191/microcredit-service/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func verified() models.Holder {
	return models.Holder{ID: 1, IdentityVerified: true, AddressVerified: true, IncomeVerified: true}
}

func request(score int, amount int64, loans ...models.Loan) Request {
	return Request{Holder: verified(), Loans: loans, Score: score, RequestedAmount: decimal.NewFromInt(amount), Now: now}
}

func TestEvaluate_UnverifiedDocumentsDenied(t *testing.T) {
	req := request(700, 1000)
	req.Holder.IncomeVerified = false

	d := Evaluate(req)

	assert.False(t, d.Approved)
	assert.Equal(t, ReasonDocumentsUnverified, d.Reason)
	assert.Equal(t, 700, d.Score)
}

func TestEvaluate_ActiveLoanDenied(t *testing.T) {
	d := Evaluate(request(800, 1000, models.Loan{Status: models.LoanActive}))
	assert.False(t, d.Approved)
	assert.Equal(t, ReasonActiveLoan, d.Reason)
	assert.Equal(t, 800, d.Score)
}

func TestEvaluate_RecentDefault(t *testing.T) {
	recent := now.AddDate(0, 0, -89)
	old := now.AddDate(0, 0, -91)

	d := Evaluate(request(600, 1000, models.Loan{Status: models.LoanDefaulted, ApprovedAt: &recent}))
	assert.False(t, d.Approved)
	assert.Equal(t, ReasonRecentDefault, d.Reason)

	d = Evaluate(request(600, 1000, models.Loan{Status: models.LoanDefaulted, ApprovedAt: &old}))
	assert.True(t, d.Approved)
}

func TestEvaluate_CeilingAtBandBoundaries(t *testing.T) {
	tests := []struct {
		score   int
		ceiling int64
	}{
		{750, 500000},
		{749, 250000},
		{700, 250000},
		{699, 100000},
		{650, 100000},
		{649, 50000},
		{600, 50000},
		{599, 25000},
		{550, 25000},
		{549, 10000},
		{500, 10000},
		{499, 5000},
	}
	for _, tt := range tests {
		atCeiling := Evaluate(request(tt.score, tt.ceiling))
		assert.True(t, atCeiling.Approved, "score=%d", tt.score)

		over := Evaluate(request(tt.score, tt.ceiling+1))
		require.False(t, over.Approved, "score=%d", tt.score)
		require.True(t, over.MaxAmount.Valid)
		assert.True(t, over.MaxAmount.Decimal.Equal(decimal.NewFromInt(tt.ceiling)), "score=%d", tt.score)
		assert.Equal(t, tt.score, over.Score)
	}
}

func TestEvaluate_ApprovedCarriesPricing(t *testing.T) {
	d := Evaluate(request(720, 200000, models.Loan{Status: models.LoanPaid}))

	require.True(t, d.Approved)
	assert.True(t, d.InterestRate.Decimal.Equal(decimal.NewFromInt(8)))
	assert.True(t, d.Amount.Decimal.Equal(decimal.NewFromInt(200000)))
	assert.Equal(t, "Congratulations! Approved at 8% interest.", d.Message)
}

func TestEvaluate_CeilingMessage(t *testing.T) {
	d := Evaluate(request(749, 300000))
	assert.Equal(t, "Maximum loan for your score: MWK 250,000", d.Reason)
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "5,000", formatAmount(decimal.NewFromInt(5000)))
	assert.Equal(t, "500,000", formatAmount(decimal.NewFromInt(500000)))
	assert.Equal(t, "999", formatAmount(decimal.NewFromInt(999)))
	assert.Equal(t, "1,234,567", formatAmount(decimal.NewFromFloat(1234567.89)))
}
