package discount

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderCandidates(t *testing.T) {
	candidates := []Candidate{
		{Assignment: Assignment{ID: 1}, Discount: fixed(1, "5", 0, 1)},
		{Assignment: Assignment{ID: 2}, Discount: pct(2, 10, 5, 1)},
		{Assignment: Assignment{ID: 3}, Discount: pct(3, 20, 5, 1)},
		{Assignment: Assignment{ID: 4}, Discount: pct(4, 30, 9, 1)},
	}

	groups := orderCandidates(candidates, []Type{TypePercentage, TypeFixed})
	require.Len(t, groups, 2)

	// Percentage group first, ordered by priority desc then id asc.
	ids := make([]int64, 0, len(groups[0]))
	for _, c := range groups[0] {
		ids = append(ids, c.Discount.ID)
	}
	assert.Equal(t, []int64{4, 2, 3}, ids)

	require.Len(t, groups[1], 1)
	assert.Equal(t, int64(1), groups[1][0].Discount.ID)
}

func TestOrderCandidates_UnlistedTypesFollowConfigured(t *testing.T) {
	bundle := Discount{ID: 9, Type: Type("bundle"), Active: true}
	candidates := []Candidate{
		{Discount: bundle},
		{Discount: pct(1, 10, 0, 1)},
	}

	groups := orderCandidates(candidates, []Type{TypePercentage, TypeFixed})
	require.Len(t, groups, 2)
	assert.Equal(t, TypePercentage, groups[0][0].Discount.Type)
	assert.Equal(t, Type("bundle"), groups[1][0].Discount.Type)
}

func TestDistributeCents_LastTakesRemainder(t *testing.T) {
	tests := []struct {
		name          string
		originalCents int64
		totalCents    int64
		percents      []string
		want          []int64
	}{
		{
			name:          "even split",
			originalCents: 10000,
			totalCents:    3000,
			percents:      []string{"10", "20"},
			want:          []int64{1000, 2000},
		},
		{
			name:          "rounding drift absorbed by last",
			originalCents: 9999,
			totalCents:    3100,
			percents:      []string{"11", "7", "13"},
			want:          []int64{1100, 700, 1300},
		},
		{
			name:          "single share takes everything",
			originalCents: 333,
			totalCents:    111,
			percents:      []string{"33.333"},
			want:          []int64{111},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			percents := make([]decimal.Decimal, len(tt.percents))
			for i, p := range tt.percents {
				percents[i] = decimal.RequireFromString(p)
			}

			shares := distributeCents(tt.originalCents, tt.totalCents, percents)
			assert.Equal(t, tt.want, shares)

			var sum int64
			for _, s := range shares {
				sum += s
			}
			assert.Equal(t, tt.totalCents, sum)
		})
	}
}

func TestToCents(t *testing.T) {
	assert.Equal(t, int64(10000), toCents(decimal.NewFromInt(100), 2))
	assert.Equal(t, int64(1001), toCents(decimal.RequireFromString("10.005"), 2))
	assert.Equal(t, int64(999), toCents(decimal.RequireFromString("9.994"), 2))
	assert.True(t, fromCents(7000, 2).Equal(decimal.NewFromInt(70)))
}

func TestRoundAmount(t *testing.T) {
	v := decimal.RequireFromString("33.333")

	assert.Equal(t, "33.33", roundAmount(v, 2, RoundNearest).StringFixed(2))
	assert.Equal(t, "33.34", roundAmount(v, 2, RoundCeil).StringFixed(2))
	assert.Equal(t, "33.33", roundAmount(v, 2, RoundFloor).StringFixed(2))

	neg := decimal.RequireFromString("33.335")
	assert.Equal(t, "33.34", roundAmount(neg, 2, RoundNearest).StringFixed(2))
	assert.Equal(t, "33.33", roundAmount(neg, 2, RoundFloor).StringFixed(2))
}

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()

	assert.Equal(t, []Type{TypePercentage, TypeFixed}, cfg.StackingOrder)
	assert.True(t, cfg.MaxTotalPercent.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, RoundNearest, cfg.RoundingMode)
	assert.Equal(t, int32(2), cfg.Precision)
	assert.Equal(t, 50, cfg.PollAttempts)
}
