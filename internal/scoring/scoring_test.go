package scoring

import (
	"testing"
	"time"

	"github.com/Dan9191/microcredit-service/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func verifiedHolder(ageDays int) models.Holder {
	return models.Holder{
		ID:               1,
		PhoneNumber:      "0888000001",
		NationalID:       "MW0001",
		MonthlyIncome:    decimal.NewNullDecimal(d(30000)),
		IdentityVerified: true,
		AddressVerified:  true,
		IncomeVerified:   true,
		CreatedAt:        now.AddDate(0, 0, -ageDays),
	}
}

func onTimePayments(loanID int64, n int) []models.Payment {
	out := make([]models.Payment, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, models.Payment{LoanID: loanID, Amount: d(1000), WasOnTime: true, DaysFromDue: -1})
	}
	return out
}

func activeVouches(n int) []models.Vouch {
	out := make([]models.Vouch, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, models.Vouch{VoucherID: int64(100 + i), VoucheeID: 1, TrustLevel: 2, IsActive: true})
	}
	return out
}

func TestCompute_EmptyHolderScoresMinimum(t *testing.T) {
	b := Compute(Input{Holder: models.Holder{ID: 1, CreatedAt: now}, Now: now})

	assert.Equal(t, MinScore, b.Score)
	assert.Zero(t, b.PaymentHistory)
	assert.Zero(t, b.CreditUtilization)
	assert.Zero(t, b.AccountAge)
	assert.Zero(t, b.SocialTrust)
	assert.Zero(t, b.Savings)
	assert.Zero(t, b.Verification)
	assert.Equal(t, "Building", b.Rating)
	assert.NotEmpty(t, b.Tips)
}

func TestCompute_EndToEndScenario(t *testing.T) {
	in := Input{
		Holder: verifiedHolder(400),
		Loans: []models.Loan{
			{ID: 1, HolderID: 1, Amount: d(20000), Status: models.LoanActive},
			{ID: 2, HolderID: 1, Amount: d(5000), Status: models.LoanPaid},
		},
		Payments:        onTimePayments(2, 3),
		VouchesReceived: activeVouches(4),
		Transactions: []models.SavingsTransaction{
			{HolderID: 1, Amount: d(15000), Type: models.TxDeposit},
			{HolderID: 1, Amount: d(10000), Type: models.TxDeposit},
		},
		LinkedAccounts: []models.LinkedAccount{{HolderID: 1, IsVerified: true}},
		Now:            now,
	}

	b := Compute(in)

	assert.Equal(t, 200, b.PaymentHistory)
	assert.Equal(t, 100, b.CreditUtilization)
	assert.Equal(t, 80, b.AccountAge)
	assert.Equal(t, 40, b.SocialTrust)
	assert.Equal(t, 30, b.Savings)
	assert.Equal(t, 70, b.Verification)
	assert.Equal(t, 820, b.Score)
	assert.Equal(t, "Excellent", b.Rating)
	assert.Equal(t, 4, b.VouchCount)
	assert.Equal(t, 2, b.LoanCount)
}

func TestCompute_ExtremeInputsStayInRange(t *testing.T) {
	loans := make([]models.Loan, 0, 20)
	var payments []models.Payment
	for i := int64(1); i <= 20; i++ {
		loans = append(loans, models.Loan{ID: i, Amount: d(100000), Status: models.LoanDefaulted})
		payments = append(payments, models.Payment{LoanID: i, WasOnTime: false, DaysFromDue: 30})
	}
	given := []models.Vouch{{VoucheeDefaulted: true}, {VoucheeDefaulted: true}, {VoucheeDefaulted: true}}

	low := Compute(Input{Holder: models.Holder{CreatedAt: now}, Loans: loans, Payments: payments, VouchesGiven: given, Now: now})
	assert.Equal(t, MinScore, low.Score)
	assert.Zero(t, low.PaymentHistory)
	assert.Equal(t, -90, low.SocialTrust)

	accounts := make([]models.LinkedAccount, 30)
	for i := range accounts {
		accounts[i].IsVerified = true
	}
	high := Compute(Input{
		Holder:          verifiedHolder(2000),
		Loans:           []models.Loan{{ID: 1, Status: models.LoanPaid}},
		Payments:        onTimePayments(1, 10),
		VouchesReceived: activeVouches(10),
		Transactions:    []models.SavingsTransaction{{Amount: d(1000000), Type: models.TxDeposit}},
		LinkedAccounts:  accounts,
		Now:             now,
	})
	assert.Equal(t, MaxScore, high.Score)
}

func TestPaymentHistory(t *testing.T) {
	tests := []struct {
		name     string
		loans    []models.Loan
		payments []models.Payment
		want     int
	}{
		{
			name:  "no loans",
			loans: nil,
			want:  0,
		},
		{
			name:  "two of three on time with one late",
			loans: []models.Loan{{ID: 1, Status: models.LoanPaid}},
			payments: []models.Payment{
				{LoanID: 1, WasOnTime: true},
				{LoanID: 1, WasOnTime: true},
				{LoanID: 1, WasOnTime: false},
			},
			want: 133 - 50,
		},
		{
			name:     "pending and rejected loans are ignored",
			loans:    []models.Loan{{ID: 1, Status: models.LoanRejected}, {ID: 2, Status: models.LoanPending}},
			payments: []models.Payment{{LoanID: 1, WasOnTime: false}},
			want:     0,
		},
		{
			name:     "default penalty subtracted from on-time points",
			loans:    []models.Loan{{ID: 1, Status: models.LoanDefaulted}},
			payments: onTimePayments(1, 2),
			want:     100,
		},
		{
			name:     "rate spread across loans",
			loans:    []models.Loan{{ID: 1, Status: models.LoanPaid}, {ID: 2, Status: models.LoanActive}},
			payments: append(onTimePayments(1, 3), onTimePayments(2, 1)...),
			want:     200,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := paymentHistory(tt.loans, tt.payments)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCreditUtilization(t *testing.T) {
	active := func(amount int64) models.Loan { return models.Loan{Amount: d(amount), Status: models.LoanActive} }
	income := decimal.NewNullDecimal(d(10000)) // capacity 30000

	tests := []struct {
		name   string
		loans  []models.Loan
		income decimal.NullDecimal
		want   int
	}{
		{"no history", nil, income, 0},
		{"history without active debt", []models.Loan{{Status: models.LoanPaid}}, income, 50},
		{"under 30 percent", []models.Loan{active(8999)}, income, 100},
		{"exactly 30 percent", []models.Loan{active(9000)}, income, 50},
		{"under 70 percent", []models.Loan{active(20000)}, income, 20},
		{"over 70 percent", []models.Loan{active(21000)}, income, 0},
		{"unknown income uses flat capacity", []models.Loan{active(14000)}, decimal.NullDecimal{}, 100},
		{"zero income uses flat capacity", []models.Loan{active(20000)}, decimal.NewNullDecimal(decimal.Zero), 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, creditUtilization(tt.loans, tt.income))
		})
	}
}

func TestAccountAgePoints(t *testing.T) {
	for days, want := range map[int]int{0: 0, 30: 0, 31: 20, 90: 20, 91: 40, 181: 60, 365: 60, 366: 80} {
		assert.Equal(t, want, accountAgePoints(days), "days=%d", days)
	}
}

func TestSocialTrust(t *testing.T) {
	inactive := models.Vouch{IsActive: false}
	points, count := socialTrust(append(activeVouches(2), inactive), nil)
	assert.Equal(t, 20, points)
	assert.Equal(t, 2, count)

	points, _ = socialTrust(activeVouches(5), []models.Vouch{{VoucheeDefaulted: true}, {VoucheeDefaulted: false}})
	assert.Equal(t, 30, points)
}

func TestLifetimeDepositsIgnoresDeductions(t *testing.T) {
	txs := []models.SavingsTransaction{
		{Amount: d(4000), Type: models.TxDeposit},
		{Amount: d(2000), Type: models.TxLoanDeposit},
		{Amount: d(-5000), Type: models.TxRepaymentDeduction},
	}
	total := LifetimeDeposits(txs)
	require.True(t, total.Equal(d(6000)), total.String())
	assert.Equal(t, 15, savingsPoints(total))
	assert.Equal(t, 0, savingsPoints(d(5000)))
	assert.Equal(t, 50, savingsPoints(d(50001)))
}

func TestVerificationPoints(t *testing.T) {
	h := verifiedHolder(0)
	assert.Equal(t, 60, verificationPoints(&h, 0))

	h.NationalID = ""
	assert.Equal(t, 30+20, verificationPoints(&h, 2))

	partial := models.Holder{IdentityVerified: true}
	assert.Equal(t, 10, verificationPoints(&partial, 0))
}
