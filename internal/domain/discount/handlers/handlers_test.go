package handlers

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zafeer999/hipster-task2/internal/domain/discount"
)

func item(id string, qty int, price string) discount.CartItem {
	return discount.CartItem{
		ProductID: id,
		Quantity:  qty,
		UnitPrice: decimal.RequireFromString(price),
	}
}

func TestBogo_Apply(t *testing.T) {
	h := Bogo{}
	d := discount.Discount{Code: "2:1"}

	t.Run("bundle matched", func(t *testing.T) {
		res, err := h.Apply(context.Background(), 1, []discount.CartItem{
			item("p1", 1, "10"),
			item("p2", 3, "4.50"),
		}, d)
		require.NoError(t, err)

		assert.True(t, res.Applied)
		assert.True(t, res.Amount.Equal(decimal.RequireFromString("4.50")))
		assert.Equal(t, "p2", res.Details["product_id"])
	})

	t.Run("no line reaches bundle size", func(t *testing.T) {
		res, err := h.Apply(context.Background(), 1, []discount.CartItem{
			item("p1", 2, "10"),
		}, d)
		require.NoError(t, err)

		assert.False(t, res.Applied)
		assert.True(t, res.Amount.IsZero())
	})

	t.Run("malformed ratio", func(t *testing.T) {
		_, err := h.Apply(context.Background(), 1, nil, discount.Discount{Code: "two:one"})
		assert.Error(t, err)

		_, err = h.Apply(context.Background(), 1, nil, discount.Discount{Code: "21"})
		assert.Error(t, err)

		_, err = h.Apply(context.Background(), 1, nil, discount.Discount{Code: "0:1"})
		assert.Error(t, err)
	})
}

func TestProductScoped_Apply(t *testing.T) {
	h := ProductScoped{}

	t.Run("percentage over matching lines", func(t *testing.T) {
		d := discount.Discount{
			Code:  "p1, p3",
			Type:  discount.TypePercentage,
			Value: decimal.NewFromInt(10),
		}
		res, err := h.Apply(context.Background(), 1, []discount.CartItem{
			item("p1", 2, "10"),  // line 20, 10% = 2
			item("p2", 1, "100"), // out of scope
			item("p3", 1, "5"),   // line 5, 10% = 0.5
		}, d)
		require.NoError(t, err)

		assert.True(t, res.Applied)
		assert.True(t, res.Amount.Equal(decimal.RequireFromString("2.5")), "amount: %s", res.Amount)
		assert.Equal(t, []string{"p1", "p3"}, res.Details["affected"])
	})

	t.Run("fixed per unit", func(t *testing.T) {
		d := discount.Discount{
			Code:  "p1",
			Type:  discount.TypeFixed,
			Value: decimal.NewFromInt(2),
		}
		res, err := h.Apply(context.Background(), 1, []discount.CartItem{
			item("p1", 3, "10"),
		}, d)
		require.NoError(t, err)

		assert.True(t, res.Applied)
		assert.True(t, res.Amount.Equal(decimal.NewFromInt(6)))
	})

	t.Run("empty scope applies nothing", func(t *testing.T) {
		res, err := h.Apply(context.Background(), 1, []discount.CartItem{
			item("p1", 1, "10"),
		}, discount.Discount{Code: " , "})
		require.NoError(t, err)

		assert.False(t, res.Applied)
		assert.True(t, res.Amount.IsZero())
	})
}
