package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/money"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func filledCart(t *testing.T, customerID string) *domain.Cart {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Millisecond)
	cart := domain.NewCart(customerID, "BRL", now)
	require.NoError(t, cart.AddItem(&domain.Product{
		ID: "prod-a", Name: "A", UnitPrice: money.MustParse("10.00", "BRL"), AvailableStock: 10, Active: true,
	}, 2, now))
	require.NoError(t, cart.AddItem(&domain.Product{
		ID: "prod-b", Name: "B", UnitPrice: money.MustParse("0.99", "BRL"), AvailableStock: 10, Active: true,
	}, 3, now))
	return cart
}

func finalizeInPlace(t *testing.T, cart *domain.Cart) *domain.Order {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Millisecond)
	order, err := domain.NewOrderFromCart(cart,
		domain.Address{Street: "Rua A", Number: "1", District: "Centro", City: "Recife", State: "PE", PostalCode: "50010000"},
		domain.PaymentInfo{Method: domain.PaymentPix, PixKeyMasked: "****"}, "note", now)
	require.NoError(t, err)
	require.NoError(t, cart.Finalize(now))
	return order
}

func placedEvent(t *testing.T, order *domain.Order) OutboxEvent {
	t.Helper()
	ev, err := NewOutboxEvent(order.ID, domain.EventOrderPlaced, domain.NewOrderEvent(domain.EventOrderPlaced, order, ""))
	require.NoError(t, err)
	return ev
}

// runStoreContract checks the behaviour every Store implementation shares.
func runStoreContract(t *testing.T, store Store) {
	ctx := context.Background()

	t.Run("missing cart", func(t *testing.T) {
		_, err := store.GetActiveCart(ctx, "nobody")
		assert.ErrorIs(t, err, ErrCartNotFound)
	})

	t.Run("save and load", func(t *testing.T) {
		cart := filledCart(t, "customer-save")
		require.NoError(t, store.SaveCart(ctx, cart))
		assert.Equal(t, int64(1), cart.Version)

		loaded, err := store.GetActiveCart(ctx, "customer-save")
		require.NoError(t, err)
		assert.Equal(t, cart.ID, loaded.ID)
		assert.Equal(t, int64(1), loaded.Version)
		assert.Equal(t, 5, loaded.TotalQuantity)
		assert.True(t, loaded.TotalValue.Equal(money.MustParse("22.97", "BRL")))
		require.Len(t, loaded.Items, 2)
		assert.True(t, loaded.Items["prod-b"].Subtotal.Equal(money.MustParse("2.97", "BRL")))
	})

	t.Run("sub-cent prices survive a round trip", func(t *testing.T) {
		now := time.Now().UTC().Truncate(time.Millisecond)
		cart := domain.NewCart("customer-precise", "BRL", now)
		require.NoError(t, cart.AddItem(&domain.Product{
			ID: "prod-fuel", Name: "Fuel", UnitPrice: money.MustParse("19.999", "BRL"), AvailableStock: 10, Active: true,
		}, 3, now))
		require.NoError(t, cart.AddItem(&domain.Product{
			ID: "prod-bolt", Name: "Bolt", UnitPrice: money.MustParse("0.00125", "BRL"), AvailableStock: 1000, Active: true,
		}, 8, now))
		require.NoError(t, store.SaveCart(ctx, cart))

		loaded, err := store.GetActiveCart(ctx, "customer-precise")
		require.NoError(t, err)
		assert.True(t, loaded.Items["prod-fuel"].UnitPrice.Equal(money.MustParse("19.999", "BRL")))
		assert.True(t, loaded.Items["prod-bolt"].UnitPrice.Equal(money.MustParse("0.00125", "BRL")))
		assert.True(t, loaded.TotalValue.Equal(money.MustParse("60.007", "BRL")), "total %s", loaded.TotalValue)

		order := finalizeInPlace(t, loaded)
		require.NoError(t, store.FinalizeCart(ctx, loaded, order, placedEvent(t, order)))
		stored, err := store.GetOrder(ctx, order.ID)
		require.NoError(t, err)
		assert.True(t, stored.TotalValue.Equal(money.MustParse("60.007", "BRL")), "order total %s", stored.TotalValue)
		assert.True(t, stored.Items[0].UnitPrice.Equal(order.Items[0].UnitPrice))
	})

	t.Run("version conflict", func(t *testing.T) {
		cart := filledCart(t, "customer-cas")
		require.NoError(t, store.SaveCart(ctx, cart))

		first, err := store.GetActiveCart(ctx, "customer-cas")
		require.NoError(t, err)
		second, err := store.GetActiveCart(ctx, "customer-cas")
		require.NoError(t, err)

		require.NoError(t, first.RemoveItem("prod-a", time.Now()))
		require.NoError(t, store.SaveCart(ctx, first))
		assert.Equal(t, int64(2), first.Version)

		require.NoError(t, second.Clear(time.Now()))
		err = store.SaveCart(ctx, second)
		assert.ErrorIs(t, err, ErrVersionConflict)
		assert.ErrorIs(t, err, domain.ErrConcurrentModification)

		loaded, err := store.GetActiveCart(ctx, "customer-cas")
		require.NoError(t, err)
		assert.Len(t, loaded.Items, 1)
	})

	t.Run("one active cart per customer", func(t *testing.T) {
		require.NoError(t, store.SaveCart(ctx, filledCart(t, "customer-dup")))
		err := store.SaveCart(ctx, filledCart(t, "customer-dup"))
		assert.ErrorIs(t, err, ErrVersionConflict)
	})

	t.Run("finalize", func(t *testing.T) {
		cart := filledCart(t, "customer-fin")
		require.NoError(t, store.SaveCart(ctx, cart))
		total := cart.TotalValue
		order := finalizeInPlace(t, cart)

		require.NoError(t, store.FinalizeCart(ctx, cart, order, placedEvent(t, order)))
		assert.Equal(t, int64(1), order.Version)

		_, err := store.GetActiveCart(ctx, "customer-fin")
		assert.ErrorIs(t, err, ErrCartNotFound)

		byID, err := store.GetOrder(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusAwaitingPayment, byID.Status)
		assert.True(t, byID.TotalValue.Equal(total))
		require.Len(t, byID.Items, 2)
		assert.Equal(t, "prod-a", byID.Items[0].ProductID)
		assert.Equal(t, "Recife", byID.DeliveryAddress.City)
		assert.Equal(t, domain.PaymentPix, byID.Payment.Method)

		byNumber, err := store.GetOrderByNumber(ctx, order.OrderNumber)
		require.NoError(t, err)
		assert.Equal(t, order.ID, byNumber.ID)

		// a new cart can be opened after checkout
		require.NoError(t, store.SaveCart(ctx, filledCart(t, "customer-fin")))
	})

	t.Run("finalize stale cart", func(t *testing.T) {
		cart := filledCart(t, "customer-fin-stale")
		require.NoError(t, store.SaveCart(ctx, cart))
		stale := cart.Clone()

		require.NoError(t, cart.RemoveItem("prod-b", time.Now()))
		require.NoError(t, store.SaveCart(ctx, cart))

		order := finalizeInPlace(t, stale)
		err := store.FinalizeCart(ctx, stale, order, placedEvent(t, order))
		assert.ErrorIs(t, err, ErrVersionConflict)

		_, err = store.GetOrder(ctx, order.ID)
		assert.ErrorIs(t, err, ErrOrderNotFound)
		loaded, err := store.GetActiveCart(ctx, "customer-fin-stale")
		require.NoError(t, err)
		assert.True(t, loaded.IsActive())
	})

	t.Run("order status", func(t *testing.T) {
		cart := filledCart(t, "customer-status")
		require.NoError(t, store.SaveCart(ctx, cart))
		order := finalizeInPlace(t, cart)
		require.NoError(t, store.FinalizeCart(ctx, cart, order, placedEvent(t, order)))

		stale := order.Clone()
		require.NoError(t, order.Transition(domain.OrderStatusPaymentConfirmed, time.Now().UTC()))
		ev, err := NewOutboxEvent(order.ID, domain.EventOrderStatusChanged, domain.NewOrderEvent(domain.EventOrderStatusChanged, order, domain.OrderStatusAwaitingPayment))
		require.NoError(t, err)
		require.NoError(t, store.UpdateOrderStatus(ctx, order, ev))
		assert.Equal(t, int64(2), order.Version)

		require.NoError(t, stale.Transition(domain.OrderStatusCancelled, time.Now().UTC()))
		assert.ErrorIs(t, store.UpdateOrderStatus(ctx, stale, ev), ErrVersionConflict)

		loaded, err := store.GetOrder(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusPaymentConfirmed, loaded.Status)

		missing := order.Clone()
		missing.ID = "00000000-0000-0000-0000-000000000000"
		assert.ErrorIs(t, store.UpdateOrderStatus(ctx, missing, ev), ErrOrderNotFound)
	})

	t.Run("list orders", func(t *testing.T) {
		var ids []string
		for i := 0; i < 3; i++ {
			cart := filledCart(t, "customer-list")
			require.NoError(t, store.SaveCart(ctx, cart))
			order := finalizeInPlace(t, cart)
			order.CreatedAt = order.CreatedAt.Add(time.Duration(i) * time.Second)
			require.NoError(t, store.FinalizeCart(ctx, cart, order, placedEvent(t, order)), fmt.Sprintf("order %d", i))
			ids = append(ids, order.ID)
		}

		first, err := store.ListOrdersByCustomer(ctx, "customer-list", 0, 2)
		require.NoError(t, err)
		assert.Equal(t, 3, first.TotalItems)
		assert.Equal(t, 2, first.TotalPages)
		require.Len(t, first.Items, 2)
		assert.Equal(t, ids[2], first.Items[0].ID)
		assert.Equal(t, ids[1], first.Items[1].ID)

		second, err := store.ListOrdersByCustomer(ctx, "customer-list", 1, 2)
		require.NoError(t, err)
		require.Len(t, second.Items, 1)
		assert.Equal(t, ids[0], second.Items[0].ID)

		none, err := store.ListOrdersByCustomer(ctx, "customer-none", 0, 10)
		require.NoError(t, err)
		assert.Empty(t, none.Items)
		assert.NotNil(t, none.Items)
	})

	t.Run("outbox", func(t *testing.T) {
		events, err := store.GetUnprocessedEvents(ctx, 100)
		require.NoError(t, err)
		require.NotEmpty(t, events)

		require.NoError(t, store.MarkEventAsProcessed(ctx, events[0].ID))
		after, err := store.GetUnprocessedEvents(ctx, 100)
		require.NoError(t, err)
		assert.Len(t, after, len(events)-1)
		for _, ev := range after {
			assert.NotEqual(t, events[0].ID, ev.ID)
		}
	})
}

func newTestCustomer(t *testing.T, email, cpf string) (*domain.Customer, OutboxEvent) {
	t.Helper()
	c, err := domain.NewCustomer("Maria Silva", email, cpf, "81999990000", &domain.Address{
		Street: "Rua A", Number: "1", District: "Centro", City: "Recife", State: "PE", PostalCode: "50010000",
	}, time.Now().UTC().Truncate(time.Millisecond))
	require.NoError(t, err)
	ev, err := NewOutboxEvent(c.ID, domain.EventCustomerRegistered, domain.NewCustomerEvent(c))
	require.NoError(t, err)
	return c, ev
}

// runCustomerStoreContract checks the behaviour every CustomerStore shares.
func runCustomerStoreContract(t *testing.T, store CustomerStore) {
	ctx := context.Background()

	c, ev := newTestCustomer(t, "maria@example.com", "52998224725")
	require.NoError(t, store.CreateCustomer(ctx, c, ev))

	t.Run("lookups", func(t *testing.T) {
		byID, err := store.GetCustomer(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, c.Email, byID.Email)
		assert.Equal(t, "81999990000", byID.Phone)
		require.NotNil(t, byID.Address)
		assert.Equal(t, "Recife", byID.Address.City)
		assert.True(t, byID.Active)

		byEmail, err := store.GetCustomerByEmail(ctx, "maria@example.com")
		require.NoError(t, err)
		assert.Equal(t, c.ID, byEmail.ID)

		byCPF, err := store.GetCustomerByCPF(ctx, "52998224725")
		require.NoError(t, err)
		assert.Equal(t, c.ID, byCPF.ID)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := store.GetCustomer(ctx, "00000000-0000-0000-0000-000000000000")
		assert.ErrorIs(t, err, ErrCustomerNotFound)
		_, err = store.GetCustomer(ctx, "not-a-uuid")
		assert.ErrorIs(t, err, ErrCustomerNotFound)
		_, err = store.GetCustomerByEmail(ctx, "nobody@example.com")
		assert.ErrorIs(t, err, ErrCustomerNotFound)
		_, err = store.GetCustomerByCPF(ctx, "11144477735")
		assert.ErrorIs(t, err, ErrCustomerNotFound)
	})

	t.Run("duplicate email", func(t *testing.T) {
		dup, ev := newTestCustomer(t, "maria@example.com", "11144477735")
		assert.ErrorIs(t, store.CreateCustomer(ctx, dup, ev), ErrDuplicateCustomer)
		_, err := store.GetCustomer(ctx, dup.ID)
		assert.ErrorIs(t, err, ErrCustomerNotFound)
	})

	t.Run("duplicate cpf", func(t *testing.T) {
		dup, ev := newTestCustomer(t, "other@example.com", "52998224725")
		assert.ErrorIs(t, store.CreateCustomer(ctx, dup, ev), ErrDuplicateCustomer)
		_, err := store.GetCustomerByEmail(ctx, "other@example.com")
		assert.ErrorIs(t, err, ErrCustomerNotFound)
	})

	t.Run("without address", func(t *testing.T) {
		bare, err := domain.NewCustomer("João Souza", "joao@example.com", "12345678909", "", nil, time.Now().UTC())
		require.NoError(t, err)
		ev, err := NewOutboxEvent(bare.ID, domain.EventCustomerRegistered, domain.NewCustomerEvent(bare))
		require.NoError(t, err)
		require.NoError(t, store.CreateCustomer(ctx, bare, ev))

		loaded, err := store.GetCustomer(ctx, bare.ID)
		require.NoError(t, err)
		assert.Nil(t, loaded.Address)
		assert.Empty(t, loaded.Phone)
	})
}
