package scoring

import "github.com/shopspring/decimal"

type rung struct {
	minScore int
	value    int64
}

var maxAmountLadder = []rung{
	{750, 500000},
	{700, 250000},
	{650, 100000},
	{600, 50000},
	{550, 25000},
	{500, 10000},
	{0, 5000},
}

var rateLadder = []rung{
	{750, 5},
	{700, 8},
	{650, 12},
	{600, 15},
	{550, 18},
	{500, 22},
	{0, 25},
}

func climb(ladder []rung, score int) int64 {
	for _, r := range ladder {
		if score >= r.minScore {
			return r.value
		}
	}
	return ladder[len(ladder)-1].value
}

// MaxLoanAmount returns the borrowing ceiling for a score
func MaxLoanAmount(score int) decimal.Decimal {
	return decimal.NewFromInt(climb(maxAmountLadder, score))
}

// InterestRate returns the interest rate in percent for a score
func InterestRate(score int) decimal.Decimal {
	return decimal.NewFromInt(climb(rateLadder, score))
}

// Rating labels a score for display
func Rating(score int) string {
	switch {
	case score >= 740:
		return "Excellent"
	case score >= 670:
		return "Good"
	case score >= 580:
		return "Fair"
	default:
		return "Building"
	}
}
