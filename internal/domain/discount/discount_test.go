package discount

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDiscount_IsActiveNow(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name string
		d    Discount
		want bool
	}{
		{name: "active with open window", d: Discount{Active: true}, want: true},
		{name: "disabled", d: Discount{Active: false}, want: false},
		{name: "not started yet", d: Discount{Active: true, StartsAt: &future}, want: false},
		{name: "already ended", d: Discount{Active: true, EndsAt: &past}, want: false},
		{name: "inside window", d: Discount{Active: true, StartsAt: &past, EndsAt: &future}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.d.IsActiveNow(now))
		})
	}
}

func TestDiscount_UsageCap(t *testing.T) {
	perUser := 3
	limit := 7

	tests := []struct {
		name       string
		d          Discount
		defaultCap int
		want       int
	}{
		{name: "max uses per user wins", d: Discount{MaxUsesPerUser: &perUser, UsageLimit: &limit}, defaultCap: 1, want: 3},
		{name: "usage limit as fallback", d: Discount{UsageLimit: &limit}, defaultCap: 1, want: 7},
		{name: "configured default", d: Discount{}, defaultCap: 2, want: 2},
		{name: "zero default means unlimited", d: Discount{}, defaultCap: 0, want: capUnlimited},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.d.usageCap(tt.defaultCap))
		})
	}
}
