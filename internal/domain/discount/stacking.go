package discount

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// RoundingMode selects how final decimal amounts are presented. It governs
// only the conversion of the ending cent balance back to a decimal; the
// integer-cent deductions themselves are exact and always use
// nearest-rounding.
type RoundingMode string

const (
	RoundNearest RoundingMode = "round"
	RoundCeil    RoundingMode = "ceil"
	RoundFloor   RoundingMode = "floor"
)

// Config is the immutable stacking configuration passed to the Engine at
// construction.
type Config struct {
	// StackingOrder lists type groups in processing order. Types not listed
	// are processed after the configured ones, in order of first appearance
	// among the user's candidates.
	StackingOrder []Type

	// MaxTotalPercent caps the pooled percentage that percentage discounts
	// may deduct together.
	MaxTotalPercent decimal.Decimal

	// RoundingMode and Precision control presentation of decimal amounts.
	RoundingMode RoundingMode
	Precision    int32

	// DefaultMaxUses is the per-user cap for discounts that specify none.
	// Zero or negative means unlimited.
	DefaultMaxUses int

	// PollInterval and PollAttempts bound how long a concurrent apply call
	// waits for the idempotency-key holder to publish a terminal result
	// before adopting its placeholder.
	PollInterval time.Duration
	PollAttempts int
}

// DefaultConfig returns the stacking defaults: percentage before fixed,
// 100% pooled cap, nearest rounding at 2 decimal places, one use per user.
func DefaultConfig() Config {
	return Config{
		StackingOrder:   []Type{TypePercentage, TypeFixed},
		MaxTotalPercent: decimal.NewFromInt(100),
		RoundingMode:    RoundNearest,
		Precision:       2,
		DefaultMaxUses:  1,
		PollInterval:    100 * time.Millisecond,
		PollAttempts:    50,
	}
}

func (c Config) withDefaults() Config {
	if len(c.StackingOrder) == 0 {
		c.StackingOrder = []Type{TypePercentage, TypeFixed}
	}
	if c.MaxTotalPercent.IsZero() {
		c.MaxTotalPercent = decimal.NewFromInt(100)
	}
	if c.RoundingMode == "" {
		c.RoundingMode = RoundNearest
	}
	if c.Precision <= 0 {
		c.Precision = 2
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 100 * time.Millisecond
	}
	if c.PollAttempts <= 0 {
		c.PollAttempts = 50
	}
	return c
}

// orderCandidates arranges candidates into the deterministic processing
// order: configured type groups first, then unlisted types in order of
// first appearance; within each group descending priority, ascending
// discount id as the tie-break.
func orderCandidates(candidates []Candidate, stackingOrder []Type) [][]Candidate {
	byType := make(map[Type][]Candidate)
	var appearance []Type
	for _, c := range candidates {
		t := c.Discount.Type
		if _, ok := byType[t]; !ok {
			appearance = append(appearance, t)
		}
		byType[t] = append(byType[t], c)
	}

	configured := make(map[Type]bool, len(stackingOrder))
	var groups [][]Candidate
	for _, t := range stackingOrder {
		configured[t] = true
		if g, ok := byType[t]; ok {
			groups = append(groups, sortGroup(g))
		}
	}
	for _, t := range appearance {
		if !configured[t] {
			groups = append(groups, sortGroup(byType[t]))
		}
	}
	return groups
}

func sortGroup(g []Candidate) []Candidate {
	sort.SliceStable(g, func(i, j int) bool {
		if g[i].Discount.Priority != g[j].Discount.Priority {
			return g[i].Discount.Priority > g[j].Discount.Priority
		}
		return g[i].Discount.ID < g[j].Discount.ID
	})
	return g
}

// distributeCents splits totalCents across the committed percentage shares
// so the per-share cent amounts sum to totalCents exactly. All shares but
// the last are rounded independently; the last one takes the remainder,
// absorbing any rounding drift.
func distributeCents(originalCents, totalCents int64, percents []decimal.Decimal) []int64 {
	shares := make([]int64, len(percents))
	var allocated int64
	for i, pct := range percents {
		if i == len(percents)-1 {
			shares[i] = totalCents - allocated
			break
		}
		raw := decimal.NewFromInt(originalCents).Mul(pct).Div(hundred)
		shares[i] = raw.Round(0).IntPart()
		allocated += shares[i]
	}
	return shares
}

// toCents converts a decimal amount to integer cents at the given precision
// using nearest rounding.
func toCents(d decimal.Decimal, precision int32) int64 {
	return d.Shift(precision).Round(0).IntPart()
}

// fromCents converts integer cents back to a decimal amount at the given
// precision.
func fromCents(cents int64, precision int32) decimal.Decimal {
	return decimal.NewFromInt(cents).Shift(-precision)
}

// roundAmount applies the configured presentation rounding mode.
func roundAmount(d decimal.Decimal, precision int32, mode RoundingMode) decimal.Decimal {
	switch mode {
	case RoundCeil:
		return d.RoundCeil(precision)
	case RoundFloor:
		return d.RoundFloor(precision)
	default:
		return d.Round(precision)
	}
}

var hundred = decimal.NewFromInt(100)
