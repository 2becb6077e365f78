package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLadders(t *testing.T) {
	tests := []struct {
		score  int
		amount int64
		rate   int64
	}{
		{850, 500000, 5},
		{750, 500000, 5},
		{749, 250000, 8},
		{700, 250000, 8},
		{699, 100000, 12},
		{650, 100000, 12},
		{649, 50000, 15},
		{600, 50000, 15},
		{599, 25000, 18},
		{550, 25000, 18},
		{549, 10000, 22},
		{500, 10000, 22},
		{499, 5000, 25},
		{300, 5000, 25},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.amount, MaxLoanAmount(tt.score).IntPart(), "score=%d", tt.score)
		assert.Equal(t, tt.rate, InterestRate(tt.score).IntPart(), "score=%d", tt.score)
	}
}

func TestRating(t *testing.T) {
	assert.Equal(t, "Excellent", Rating(740))
	assert.Equal(t, "Good", Rating(739))
	assert.Equal(t, "Good", Rating(670))
	assert.Equal(t, "Fair", Rating(580))
	assert.Equal(t, "Building", Rating(579))
}
