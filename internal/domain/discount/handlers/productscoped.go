package handlers

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Zafeer999/hipster-task2/internal/domain/discount"
)

// ProductScoped limits a percentage or fixed discount to specific products.
// The discount code carries the scope as comma-separated product ids, e.g.
// "sku-1,sku-2". Percentage discounts deduct a share of each matching line
// total; fixed discounts deduct the value per matching unit.
type ProductScoped struct{}

var _ discount.Handler = ProductScoped{}

var hundred = decimal.NewFromInt(100)

func (ProductScoped) Apply(_ context.Context, _ int64, items []discount.CartItem, d discount.Discount) (discount.HandlerResult, error) {
	scope := make(map[string]bool)
	for _, id := range strings.Split(d.Code, ",") {
		if id = strings.TrimSpace(id); id != "" {
			scope[id] = true
		}
	}
	if len(scope) == 0 {
		return discount.HandlerResult{Details: map[string]any{}}, nil
	}

	amount := decimal.Zero
	var affected []string
	for _, item := range items {
		if !scope[item.ProductID] {
			continue
		}
		qty := decimal.NewFromInt(int64(item.Quantity))
		if d.Type == discount.TypePercentage {
			line := item.UnitPrice.Mul(qty)
			amount = amount.Add(d.Value.Div(hundred).Mul(line))
		} else {
			amount = amount.Add(d.Value.Mul(qty))
		}
		affected = append(affected, item.ProductID)
	}

	return discount.HandlerResult{
		Applied: amount.GreaterThan(decimal.Zero),
		Amount:  amount,
		Details: map[string]any{"affected": affected},
	}, nil
}
