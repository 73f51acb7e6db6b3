// Package discount implements the discount stacking and application engine:
// catalog definitions, per-user assignments with usage caps, deterministic
// stacking of percentage and fixed discounts in exact integer cents, and an
// idempotency protocol for retried or concurrent apply calls.
package discount

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned by Catalog implementations when no discount
// exists for the given id.
var ErrNotFound = errors.New("discount not found")

// Type enumerates the built-in discount kinds handled by the stacking engine.
// Additional kinds can be supported through the Handler plug-in interface but
// never participate in the core selection protocol.
type Type string

const (
	// TypePercentage deducts a percentage of the original amount, pooled
	// with other percentage discounts under a total percentage cap.
	TypePercentage Type = "percentage"
	// TypeFixed deducts a fixed monetary amount.
	TypeFixed Type = "fixed"
)

// Discount is a catalog entry. The engine treats it as read-only.
type Discount struct {
	ID       int64
	Code     string
	Type     Type
	Value    decimal.Decimal
	Priority int

	// Validity window. Either bound may be nil (open-ended). EndsAt is the
	// effective end: the repository collapses the legacy expires_at column
	// into it, preferring expires_at when both are set.
	StartsAt *time.Time
	EndsAt   *time.Time

	Active bool

	// MaxUsesPerUser caps how often one user may apply this discount.
	// When nil, UsageLimit applies; when that is also nil, the configured
	// default cap is used (zero default means unlimited).
	MaxUsesPerUser *int
	UsageLimit     *int
}

// IsActiveNow reports whether the discount is enabled and the given time
// falls inside its validity window.
func (d *Discount) IsActiveNow(now time.Time) bool {
	if !d.Active {
		return false
	}
	if d.StartsAt != nil && now.Before(*d.StartsAt) {
		return false
	}
	if d.EndsAt != nil && now.After(*d.EndsAt) {
		return false
	}
	return true
}

// usageCap resolves the effective per-user cap for the discount.
// Returns capUnlimited when no cap applies.
func (d *Discount) usageCap(defaultCap int) int {
	if d.MaxUsesPerUser != nil {
		return *d.MaxUsesPerUser
	}
	if d.UsageLimit != nil {
		return *d.UsageLimit
	}
	if defaultCap <= 0 {
		return capUnlimited
	}
	return defaultCap
}

// capUnlimited marks a discount without a per-user usage cap.
const capUnlimited = -1

// Catalog provides read-only access to discount definitions.
type Catalog interface {
	GetByID(ctx context.Context, id int64) (*Discount, error)
}
