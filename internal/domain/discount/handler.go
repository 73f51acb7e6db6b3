package discount

import (
	"context"

	"github.com/shopspring/decimal"
)

// CartItem is one line of cart context passed to pluggable calculators.
type CartItem struct {
	ProductID string
	Quantity  int
	UnitPrice decimal.Decimal
}

// HandlerResult is the outcome of one handler evaluation. Amount is the
// total deduction the handler proposes; Details carries handler-specific
// context for the caller.
type HandlerResult struct {
	Applied bool
	Amount  decimal.Decimal
	Details map[string]any
}

// Handler is the capability interface for calculators that price discounts
// against cart contents instead of a bare amount. Handlers run outside the
// stacking protocol: they do not pool under the percentage cap and do not
// touch usage counters. Implementations live in the handlers package.
type Handler interface {
	Apply(ctx context.Context, userID int64, items []CartItem, d Discount) (HandlerResult, error)
}
