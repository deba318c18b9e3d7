package guard

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluateChecked(t *testing.T) {
	tests := []struct {
		name      string
		before    int64
		after     int64
		minProfit int64
		accepted  bool
		profit    int64
	}{
		{"profit above threshold", 100, 110, 5, true, 10},
		{"profit exactly threshold", 100, 105, 5, true, 5},
		{"profit below threshold", 100, 104, 5, false, 4},
		{"break even below threshold", 100, 100, 1, false, 0},
		{"loss", 100, 90, 0, false, -10},
		{"zero threshold break even", 100, 100, 0, true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Evaluate(big.NewInt(tt.before), big.NewInt(tt.after), big.NewInt(tt.minProfit), true)
			assert.Equal(t, tt.accepted, v.Accepted)
			assert.Equal(t, tt.profit, v.Profit.Int64())
		})
	}
}

func TestEvaluateUncheckedAcceptsLosses(t *testing.T) {
	v := Evaluate(big.NewInt(100), big.NewInt(70), big.NewInt(5), false)
	assert.True(t, v.Accepted)
	assert.Equal(t, int64(-30), v.Profit.Int64())
}

func TestEvaluateDoesNotAliasInputs(t *testing.T) {
	before := big.NewInt(100)
	after := big.NewInt(110)
	v := Evaluate(before, after, big.NewInt(0), true)

	before.SetInt64(0)
	after.SetInt64(0)
	assert.Equal(t, int64(100), v.Before.Int64())
	assert.Equal(t, int64(110), v.After.Int64())
	assert.Equal(t, int64(10), v.Profit.Int64())
}
