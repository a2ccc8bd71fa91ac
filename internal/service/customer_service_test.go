package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/repository"
	"github.com/fjod/storefront/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validCustomer() RegisterCustomerRequest {
	return RegisterCustomerRequest{
		Name:  "Maria Silva",
		Email: "Maria@Example.com",
		CPF:   "529.982.247-25",
		Phone: "81999990000",
	}
}

func mustEvent(t *testing.T, c *domain.Customer) repository.OutboxEvent {
	t.Helper()
	ev, err := repository.NewOutboxEvent(c.ID, domain.EventCustomerRegistered, domain.NewCustomerEvent(c))
	require.NoError(t, err)
	return ev
}

func TestCustomerService_Register(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c, err := f.customers.Register(ctx, validCustomer())
	require.NoError(t, err)
	assert.Equal(t, "maria@example.com", c.Email)
	assert.Equal(t, "52998224725", c.CPF)
	assert.Equal(t, fixedNow, c.CreatedAt)

	events, err := f.mem.GetUnprocessedEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventCustomerRegistered, events[0].EventType)
	assert.Equal(t, c.ID, events[0].AggregateID)

	var payload domain.CustomerEvent
	require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	assert.Equal(t, c.ID, payload.CustomerID)
	assert.NotContains(t, string(events[0].Payload), "52998224725")
}

func TestCustomerService_Lookups(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c, err := f.customers.Register(ctx, validCustomer())
	require.NoError(t, err)

	byID, err := f.customers.GetCustomer(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.Email, byID.Email)

	byEmail, err := f.customers.GetCustomerByEmail(ctx, " MARIA@example.com")
	require.NoError(t, err)
	assert.Equal(t, c.ID, byEmail.ID)

	byCPF, err := f.customers.GetCustomerByCPF(ctx, "529.982.247-25")
	require.NoError(t, err)
	assert.Equal(t, c.ID, byCPF.ID)

	_, err = f.customers.GetCustomer(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrCustomerNotFound)
	assert.Equal(t, domain.KindCustomerNotFound, domain.KindOf(err))
}

func TestCustomerService_RejectsDuplicates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.customers.Register(ctx, validCustomer())
	require.NoError(t, err)

	sameEmail := validCustomer()
	sameEmail.CPF = "111.444.777-35"
	_, err = f.customers.Register(ctx, sameEmail)
	assert.ErrorIs(t, err, domain.ErrDuplicateCustomer)
	assert.Contains(t, err.Error(), "email")

	sameCPF := validCustomer()
	sameCPF.Email = "other@example.com"
	_, err = f.customers.Register(ctx, sameCPF)
	assert.ErrorIs(t, err, domain.ErrDuplicateCustomer)
	assert.Contains(t, err.Error(), "cpf")
	assert.NotContains(t, err.Error(), "52998224725")

	events, err := f.mem.GetUnprocessedEvents(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestCustomerService_InvalidData(t *testing.T) {
	f := newFixture(t)
	req := validCustomer()
	req.CPF = "123.456.789-00"

	_, err := f.customers.Register(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrInvalidCustomer)
}

func TestCustomerService_StoreDown(t *testing.T) {
	customers := NewCustomerService(failingCustomers{err: errConnectionRefused}, WithLogger(logger.Nop()))

	_, err := customers.Register(context.Background(), validCustomer())
	assert.ErrorIs(t, err, domain.ErrCollaboratorUnavailable)

	err = customers.VerifyCustomer(context.Background(), "c-1")
	assert.ErrorIs(t, err, domain.ErrCollaboratorUnavailable)
	assert.True(t, domain.IsRetryable(err))
}

func TestFinalize_VerifiesCustomer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	checkout := NewCheckoutService(f.carts, WithCustomerVerifier(f.customers))

	fillCart(t, f, "unknown-customer")
	_, err := checkout.Finalize(ctx, "unknown-customer", validRequest())
	assert.ErrorIs(t, err, domain.ErrCustomerNotFound)
	_, err = f.store.GetActiveCart(ctx, "unknown-customer")
	require.NoError(t, err, "cart stays active")

	c, err := f.customers.Register(ctx, validCustomer())
	require.NoError(t, err)
	fillCart(t, f, c.ID)
	order, err := checkout.Finalize(ctx, c.ID, validRequest())
	require.NoError(t, err)
	assert.Equal(t, c.ID, order.CustomerID)
}

func TestFinalize_RejectsInactiveCustomer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	checkout := NewCheckoutService(f.carts, WithCustomerVerifier(f.customers))

	inactive, err := domain.NewCustomer("João Souza", "joao@example.com", "11144477735", "", nil, fixedNow)
	require.NoError(t, err)
	inactive.Active = false
	require.NoError(t, f.mem.CreateCustomer(ctx, inactive, mustEvent(t, inactive)))

	fillCart(t, f, inactive.ID)
	_, err = checkout.Finalize(ctx, inactive.ID, validRequest())
	assert.ErrorIs(t, err, domain.ErrCustomerNotFound)
	assert.Contains(t, err.Error(), "inactive")
}
