// Package scoring derives a holder's credit score from their loans, payments,
// vouches, savings and verification state. Everything here is a pure function
// of its input; persisting the result is the caller's job.
package scoring

import (
	"time"

	"github.com/Dan9191/microcredit-service/internal/models"
	"github.com/shopspring/decimal"
)

const (
	MinScore = 300
	MaxScore = 850

	maxPaymentHistory = 200
	latePaymentPoints = 50
	defaultPoints     = 100
	badVouchPoints    = 30
)

var (
	defaultCapacity = decimal.NewFromInt(50000)
	incomeMultiple  = decimal.NewFromInt(3)
)

// Input is everything the score depends on for one holder
type Input struct {
	Holder          models.Holder
	Loans           []models.Loan
	Payments        []models.Payment
	VouchesReceived []models.Vouch
	VouchesGiven    []models.Vouch
	Transactions    []models.SavingsTransaction
	LinkedAccounts  []models.LinkedAccount
	Now             time.Time
}

// Breakdown holds the per-factor contributions behind a score
type Breakdown struct {
	Score             int      `json:"score"`
	Rating            string   `json:"rating"`
	BaseScore         int      `json:"base_score"`
	PaymentHistory    int      `json:"payment_history"`
	CreditUtilization int      `json:"credit_utilization"`
	AccountAge        int      `json:"account_age"`
	SocialTrust       int      `json:"social_trust"`
	Savings           int      `json:"savings"`
	Verification      int      `json:"verification"`
	AccountAgeDays    int      `json:"account_age_days"`
	VouchCount        int      `json:"vouch_count"`
	LoanCount         int      `json:"loan_count"`
	Tips              []string `json:"tips"`
}

// Compute evaluates every factor in order and clamps the sum to [MinScore, MaxScore]
func Compute(in Input) Breakdown {
	b := Breakdown{BaseScore: MinScore}

	b.PaymentHistory, b.LoanCount = paymentHistory(in.Loans, in.Payments)
	b.CreditUtilization = creditUtilization(in.Loans, in.Holder.MonthlyIncome)
	b.AccountAgeDays = accountAgeDays(in.Holder.CreatedAt, in.Now)
	b.AccountAge = accountAgePoints(b.AccountAgeDays)
	b.SocialTrust, b.VouchCount = socialTrust(in.VouchesReceived, in.VouchesGiven)
	b.Savings = savingsPoints(LifetimeDeposits(in.Transactions))
	verifiedAccounts := countVerified(in.LinkedAccounts)
	b.Verification = verificationPoints(&in.Holder, verifiedAccounts)

	total := b.BaseScore + b.PaymentHistory + b.CreditUtilization + b.AccountAge +
		b.SocialTrust + b.Savings + b.Verification
	b.Score = clamp(total, MinScore, MaxScore)
	b.Rating = Rating(b.Score)
	b.Tips = tips(b, &in.Holder, verifiedAccounts)
	return b
}

// qualifies reports whether a loan ever left the application stage
func qualifies(l models.Loan) bool {
	return l.Status != models.LoanPending && l.Status != models.LoanRejected
}

func paymentHistory(loans []models.Loan, payments []models.Payment) (points, loanCount int) {
	qualifying := make(map[int64]struct{}, len(loans))
	defaulted := 0
	for _, l := range loans {
		if !qualifies(l) {
			continue
		}
		qualifying[l.ID] = struct{}{}
		if l.Status == models.LoanDefaulted {
			defaulted++
		}
	}

	total, onTime, late := 0, 0, 0
	for _, p := range payments {
		if _, ok := qualifying[p.LoanID]; !ok {
			continue
		}
		total++
		if p.WasOnTime {
			onTime++
		} else {
			late++
		}
	}

	if total > 0 {
		points = onTime * maxPaymentHistory / total
	}
	points -= late * latePaymentPoints
	points -= defaulted * defaultPoints
	return clamp(points, 0, maxPaymentHistory), len(qualifying)
}

// creditUtilization awards the no-active-debt bonus only to holders who have
// borrowed before; a holder with no history earns nothing here.
func creditUtilization(loans []models.Loan, income decimal.NullDecimal) int {
	borrowed := decimal.Zero
	active, history := false, false
	for _, l := range loans {
		if qualifies(l) {
			history = true
		}
		if l.Status == models.LoanActive {
			active = true
			borrowed = borrowed.Add(l.Amount)
		}
	}
	if !active {
		if history {
			return 50
		}
		return 0
	}

	capacity := defaultCapacity
	if income.Valid && income.Decimal.IsPositive() {
		capacity = income.Decimal.Mul(incomeMultiple)
	}
	utilization := borrowed.Div(capacity)
	switch {
	case utilization.LessThan(decimal.NewFromFloat(0.3)):
		return 100
	case utilization.LessThan(decimal.NewFromFloat(0.5)):
		return 50
	case utilization.LessThan(decimal.NewFromFloat(0.7)):
		return 20
	default:
		return 0
	}
}

func accountAgeDays(created, now time.Time) int {
	if created.IsZero() || now.Before(created) {
		return 0
	}
	return int(now.Sub(created).Hours() / 24)
}

func accountAgePoints(days int) int {
	switch {
	case days > 365:
		return 80
	case days > 180:
		return 60
	case days > 90:
		return 40
	case days > 30:
		return 20
	default:
		return 0
	}
}

func socialTrust(received, given []models.Vouch) (points, active int) {
	for _, v := range received {
		if v.IsActive {
			active++
		}
	}
	switch {
	case active >= 5:
		points = 60
	case active >= 3:
		points = 40
	case active >= 1:
		points = 20
	}
	for _, v := range given {
		if v.VoucheeDefaulted {
			points -= badVouchPoints
		}
	}
	return points, active
}

// LifetimeDeposits sums the credit-type entries of a savings ledger. Repayment
// deductions do not reduce it.
func LifetimeDeposits(txs []models.SavingsTransaction) decimal.Decimal {
	total := decimal.Zero
	for _, tx := range txs {
		if tx.Type.IsCredit() {
			total = total.Add(tx.Amount)
		}
	}
	return total
}

func savingsPoints(total decimal.Decimal) int {
	switch {
	case total.GreaterThan(decimal.NewFromInt(50000)):
		return 50
	case total.GreaterThan(decimal.NewFromInt(20000)):
		return 30
	case total.GreaterThan(decimal.NewFromInt(5000)):
		return 15
	default:
		return 0
	}
}

func countVerified(accounts []models.LinkedAccount) int {
	n := 0
	for _, a := range accounts {
		if a.IsVerified {
			n++
		}
	}
	return n
}

func verificationPoints(h *models.Holder, verifiedAccounts int) int {
	points := verifiedAccounts * 10
	if h.OverallVerified() {
		points += 30
	}
	for _, ok := range []bool{h.IdentityVerified, h.AddressVerified, h.IncomeVerified} {
		if ok {
			points += 10
		}
	}
	return points
}

func tips(b Breakdown, h *models.Holder, verifiedAccounts int) []string {
	var out []string
	if b.PaymentHistory < 100 {
		out = append(out, "Pay your loans on time to boost your score (+200 points possible)")
	}
	if b.SocialTrust < 40 {
		out = append(out, "Get vouches from friends and family (+60 points possible)")
	}
	if b.Savings < 30 {
		out = append(out, "Save regularly to show financial discipline (+50 points possible)")
	}
	if !h.OverallVerified() {
		out = append(out, "Verify your phone number, ID and documents (+60 points possible)")
	}
	if verifiedAccounts < 2 {
		out = append(out, "Link your mobile money accounts (+10 points each)")
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
