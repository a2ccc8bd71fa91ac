package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/fjod/storefront/internal/money"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func product(id, price string, stock int) *Product {
	return &Product{
		ID:             id,
		Name:           "Product " + id,
		UnitPrice:      money.MustParse(price, "BRL"),
		AvailableStock: stock,
		Active:         true,
	}
}

func assertTotalsInvariant(t *testing.T, c *Cart) {
	t.Helper()
	qty := 0
	sum := money.Zero(c.Currency)
	for _, it := range c.Items {
		qty += it.Quantity
		expected, err := money.MultiplyByQuantity(it.UnitPrice, it.Quantity)
		require.NoError(t, err)
		assert.True(t, expected.Equal(it.Subtotal), "subtotal of %s", it.ProductID)
		sum, err = money.Add(sum, it.Subtotal)
		require.NoError(t, err)
	}
	assert.Equal(t, qty, c.TotalQuantity)
	assert.True(t, sum.Equal(c.TotalValue), "total %s vs sum %s", c.TotalValue, sum)
}

func TestCart_Scenario(t *testing.T) {
	now := time.Now()
	a := product("A", "10.00", 10)
	cart := NewCart("customer-1", "BRL", now)

	require.NoError(t, cart.AddItem(a, 2, now))
	assert.Equal(t, 2, cart.TotalQuantity)
	assert.True(t, cart.TotalValue.Equal(money.MustParse("20.00", "BRL")))

	require.NoError(t, cart.AddItem(a, 3, now))
	assert.Len(t, cart.Items, 1)
	assert.Equal(t, 5, cart.TotalQuantity)
	assert.True(t, cart.TotalValue.Equal(money.MustParse("50.00", "BRL")))

	require.NoError(t, cart.UpdateQuantity(a, 1, now))
	assert.True(t, cart.TotalValue.Equal(money.MustParse("10.00", "BRL")))

	order, err := NewOrderFromCart(cart, Address{}, PaymentInfo{Method: PaymentBoleto}, "", now)
	require.NoError(t, err)
	require.NoError(t, cart.Finalize(now))

	assert.True(t, order.TotalValue.Equal(money.MustParse("10.00", "BRL")))
	assert.Equal(t, OrderStatusAwaitingPayment, order.Status)
	assert.Equal(t, CartStatusFinalized, cart.Status)
	assert.Empty(t, cart.Items)
	assert.True(t, cart.TotalValue.IsZero())
}

func TestCart_InvariantAcrossSequence(t *testing.T) {
	now := time.Now()
	cart := NewCart("c", "BRL", now)
	a := product("A", "0.10", 100)
	b := product("B", "19.99", 100)
	c := product("C", "3.33", 100)

	steps := []func() error{
		func() error { return cart.AddItem(a, 7, now) },
		func() error { return cart.AddItem(b, 3, now) },
		func() error { return cart.AddItem(c, 9, now) },
		func() error { return cart.UpdateQuantity(a, 33, now) },
		func() error { return cart.RemoveItem("B", now) },
		func() error { return cart.AddItem(b, 1, now) },
		func() error { return cart.AddItem(a, 1, now) },
	}
	for _, step := range steps {
		require.NoError(t, step())
		assertTotalsInvariant(t, cart)
	}
	assert.True(t, cart.TotalValue.Equal(money.MustParse("53.36", "BRL")))
}

func TestCart_RecalculateIsIdempotent(t *testing.T) {
	now := time.Now()
	cart := NewCart("c", "BRL", now)
	require.NoError(t, cart.AddItem(product("A", "1.11", 10), 3, now))
	require.NoError(t, cart.AddItem(product("B", "2.22", 10), 2, now))

	first := cart.TotalValue
	require.NoError(t, cart.Recalculate())
	require.NoError(t, cart.Recalculate())
	assert.True(t, first.Equal(cart.TotalValue))
	assert.Equal(t, first.String(), cart.TotalValue.String())
}

func TestCart_AddThenRemoveRestoresTotals(t *testing.T) {
	now := time.Now()
	cart := NewCart("c", "BRL", now)
	require.NoError(t, cart.AddItem(product("A", "5.00", 10), 2, now))
	beforeQty, beforeValue := cart.TotalQuantity, cart.TotalValue

	require.NoError(t, cart.AddItem(product("B", "7.50", 10), 4, now))
	require.NoError(t, cart.RemoveItem("B", now))

	assert.Equal(t, beforeQty, cart.TotalQuantity)
	assert.True(t, beforeValue.Equal(cart.TotalValue))
}

func TestCart_AddOverStockLeavesCartUnchanged(t *testing.T) {
	now := time.Now()
	cart := NewCart("c", "BRL", now)
	a := product("A", "10.00", 5)
	require.NoError(t, cart.AddItem(a, 4, now))
	before, err := json.Marshal(cart)
	require.NoError(t, err)

	err = cart.AddItem(a, 2, now.Add(time.Minute))
	require.ErrorIs(t, err, ErrInsufficientStock)
	var stockErr *StockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 6, stockErr.Requested)
	assert.Equal(t, 5, stockErr.Available)

	after, err := json.Marshal(cart)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
}

func TestCart_AddItemValidation(t *testing.T) {
	now := time.Now()
	cart := NewCart("c", "BRL", now)

	assert.ErrorIs(t, cart.AddItem(product("A", "1", 5), 0, now), ErrInvalidQuantity)

	inactive := product("B", "1", 5)
	inactive.Active = false
	assert.ErrorIs(t, cart.AddItem(inactive, 1, now), ErrProductInactive)

	require.NoError(t, cart.AddItem(product("A", "1", 5), 1, now))
	usd := &Product{ID: "U", UnitPrice: money.MustParse("1", "USD"), AvailableStock: 5, Active: true}
	assert.ErrorIs(t, cart.AddItem(usd, 1, now), ErrCurrencyMismatch)
	assert.Len(t, cart.Items, 1)
}

func TestCart_FirstItemSetsCurrency(t *testing.T) {
	now := time.Now()
	cart := NewCart("c", "BRL", now)
	usd := &Product{ID: "U", UnitPrice: money.MustParse("2.50", "USD"), AvailableStock: 5, Active: true}
	require.NoError(t, cart.AddItem(usd, 2, now))
	assert.Equal(t, "USD", cart.Currency)
	assert.True(t, cart.TotalValue.Equal(money.MustParse("5.00", "USD")))
}

func TestCart_PriceSnapshotKeptOnMerge(t *testing.T) {
	now := time.Now()
	cart := NewCart("c", "BRL", now)
	require.NoError(t, cart.AddItem(product("A", "10.00", 10), 1, now))
	require.NoError(t, cart.AddItem(product("A", "12.00", 10), 1, now))
	assert.True(t, cart.Items["A"].UnitPrice.Equal(money.MustParse("10.00", "BRL")))
	assert.True(t, cart.TotalValue.Equal(money.MustParse("20.00", "BRL")))
}

func TestCart_UpdateQuantity(t *testing.T) {
	now := time.Now()
	cart := NewCart("c", "BRL", now)
	a := product("A", "2.00", 10)
	require.NoError(t, cart.AddItem(a, 1, now))

	assert.ErrorIs(t, cart.UpdateQuantity(a, 0, now), ErrInvalidQuantity)
	assert.ErrorIs(t, cart.UpdateQuantity(a, -3, now), ErrInvalidQuantity)
	assert.ErrorIs(t, cart.UpdateQuantity(product("Z", "1", 10), 1, now), ErrItemNotFound)

	shrunk := product("A", "2.00", 2)
	assert.ErrorIs(t, cart.UpdateQuantity(shrunk, 3, now), ErrInsufficientStock)
	require.NoError(t, cart.UpdateQuantity(shrunk, 2, now))
	assert.Equal(t, 2, cart.Items["A"].StockSnapshot)
	assertTotalsInvariant(t, cart)
}

func TestCart_RemoveItemNotFound(t *testing.T) {
	cart := NewCart("c", "BRL", time.Now())
	assert.ErrorIs(t, cart.RemoveItem("missing", time.Now()), ErrItemNotFound)
}

func TestCart_Clear(t *testing.T) {
	now := time.Now()
	cart := NewCart("c", "BRL", now)
	require.NoError(t, cart.AddItem(product("A", "2.00", 10), 3, now))
	require.NoError(t, cart.Clear(now))
	assert.Empty(t, cart.Items)
	assert.Equal(t, 0, cart.TotalQuantity)
	assert.True(t, cart.TotalValue.IsZero())
	assert.True(t, cart.IsActive())
}

func TestCart_FinalizedAndAbandonedAreImmutable(t *testing.T) {
	now := time.Now()
	a := product("A", "2.00", 10)

	finalized := NewCart("c", "BRL", now)
	require.NoError(t, finalized.AddItem(a, 1, now))
	require.NoError(t, finalized.Finalize(now))
	assert.ErrorIs(t, finalized.Finalize(now), ErrCartNotActive)

	abandoned := NewCart("c", "BRL", now)
	require.NoError(t, abandoned.Abandon(now))

	for _, c := range []*Cart{finalized, abandoned} {
		assert.ErrorIs(t, c.AddItem(a, 1, now), ErrCartNotActive)
		assert.ErrorIs(t, c.RemoveItem("A", now), ErrCartNotActive)
		assert.ErrorIs(t, c.UpdateQuantity(a, 1, now), ErrCartNotActive)
		assert.ErrorIs(t, c.Clear(now), ErrCartNotActive)
		assert.ErrorIs(t, c.Abandon(now), ErrCartNotActive)
	}
}

func TestCart_FinalizeEmpty(t *testing.T) {
	cart := NewCart("c", "BRL", time.Now())
	assert.ErrorIs(t, cart.Finalize(time.Now()), ErrEmptyCart)
	assert.True(t, cart.IsActive())
}

func TestCart_CloneIsDeep(t *testing.T) {
	now := time.Now()
	cart := NewCart("c", "BRL", now)
	require.NoError(t, cart.AddItem(product("A", "2.00", 10), 1, now))

	cp := cart.Clone()
	cp.Items["A"].Quantity = 9
	assert.Equal(t, 1, cart.Items["A"].Quantity)
}
