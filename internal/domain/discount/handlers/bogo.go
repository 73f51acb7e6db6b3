// Package handlers provides cart-aware discount calculators implementing
// the discount.Handler capability interface.
package handlers

import (
	"context"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/Zafeer999/hipster-task2/internal/domain/discount"
)

// Bogo prices a buy-N-get-M-free discount. The discount code carries the
// ratio as "buy:free", e.g. "2:1". The first cart line with enough quantity
// to cover one full bundle gets the free units deducted.
type Bogo struct{}

var _ discount.Handler = Bogo{}

func (Bogo) Apply(_ context.Context, _ int64, items []discount.CartItem, d discount.Discount) (discount.HandlerResult, error) {
	buy, free, err := parseRatio(d.Code)
	if err != nil {
		return discount.HandlerResult{}, err
	}

	for _, item := range items {
		if item.Quantity < buy+free {
			continue
		}
		return discount.HandlerResult{
			Applied: true,
			Amount:  item.UnitPrice.Mul(decimal.NewFromInt(int64(free))),
			Details: map[string]any{"product_id": item.ProductID},
		}, nil
	}

	return discount.HandlerResult{Details: map[string]any{}}, nil
}

func parseRatio(code string) (buy, free int, err error) {
	lhs, rhs, ok := strings.Cut(code, ":")
	if !ok {
		return 0, 0, errors.Errorf("malformed bogo ratio %q", code)
	}
	buy, err = strconv.Atoi(strings.TrimSpace(lhs))
	if err != nil {
		return 0, 0, errors.Wrapf(err, "parse buy count %q", lhs)
	}
	free, err = strconv.Atoi(strings.TrimSpace(rhs))
	if err != nil {
		return 0, 0, errors.Wrapf(err, "parse free count %q", rhs)
	}
	if buy <= 0 || free <= 0 {
		return 0, 0, errors.Errorf("bogo ratio %q must be positive", code)
	}
	return buy, free, nil
}
