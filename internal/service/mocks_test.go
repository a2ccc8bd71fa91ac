package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fjod/storefront/internal/cache"
	"github.com/fjod/storefront/internal/catalog"
	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/money"
	"github.com/fjod/storefront/internal/repository"
	"github.com/fjod/storefront/pkg/logger"
)

var errConnectionRefused = errors.New("dial tcp 127.0.0.1:5432: connection refused")

// mockStore wraps a real store and injects failures.
type mockStore struct {
	repository.Store

	mu                sync.Mutex
	saveConflicts     int
	finalizeConflicts int
	statusConflicts   int
	saveErr           error
	getErr            error
	saves             int

	// getGate, when set, holds GetActiveCart until it is closed or ctx ends
	getGate    chan struct{}
	getStarted chan struct{}
}

func (m *mockStore) GetActiveCart(ctx context.Context, customerID string) (*domain.Cart, error) {
	m.mu.Lock()
	err, gate, started := m.getErr, m.getGate, m.getStarted
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if gate != nil {
		select {
		case started <- struct{}{}:
		default:
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return m.Store.GetActiveCart(ctx, customerID)
}

func (m *mockStore) SaveCart(ctx context.Context, cart *domain.Cart) error {
	m.mu.Lock()
	m.saves++
	if m.saveErr != nil {
		m.mu.Unlock()
		return m.saveErr
	}
	if m.saveConflicts > 0 {
		m.saveConflicts--
		m.mu.Unlock()
		return repository.ErrVersionConflict
	}
	m.mu.Unlock()
	return m.Store.SaveCart(ctx, cart)
}

func (m *mockStore) FinalizeCart(ctx context.Context, cart *domain.Cart, order *domain.Order, event repository.OutboxEvent) error {
	m.mu.Lock()
	if m.finalizeConflicts > 0 {
		m.finalizeConflicts--
		m.mu.Unlock()
		return repository.ErrVersionConflict
	}
	m.mu.Unlock()
	return m.Store.FinalizeCart(ctx, cart, order, event)
}

func (m *mockStore) UpdateOrderStatus(ctx context.Context, order *domain.Order, event repository.OutboxEvent) error {
	m.mu.Lock()
	if m.statusConflicts > 0 {
		m.statusConflicts--
		m.mu.Unlock()
		return repository.ErrVersionConflict
	}
	m.mu.Unlock()
	return m.Store.UpdateOrderStatus(ctx, order, event)
}

func (m *mockStore) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

type mockCache struct {
	m       sync.RWMutex
	carts   map[string]*domain.Cart
	deletes int
	err     error
}

func newMockCache() *mockCache {
	return &mockCache{carts: map[string]*domain.Cart{}}
}

func (m *mockCache) Get(_ context.Context, customerID string) (*domain.Cart, error) {
	m.m.RLock()
	defer m.m.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	c, ok := m.carts[customerID]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return c.Clone(), nil
}

func (m *mockCache) Set(_ context.Context, customerID string, cart *domain.Cart) error {
	m.m.Lock()
	defer m.m.Unlock()
	m.carts[customerID] = cart.Clone()
	return m.err
}

func (m *mockCache) Delete(_ context.Context, customerID string) error {
	m.m.Lock()
	defer m.m.Unlock()
	m.deletes++
	delete(m.carts, customerID)
	return nil
}

func (m *mockCache) has(customerID string) bool {
	m.m.RLock()
	defer m.m.RUnlock()
	_, ok := m.carts[customerID]
	return ok
}

func (m *mockCache) deleteCount() int {
	m.m.RLock()
	defer m.m.RUnlock()
	return m.deletes
}

// failingLookup simulates a catalog that cannot be reached.
type failingLookup struct {
	err error
}

func (f failingLookup) GetProduct(context.Context, string) (*domain.Product, error) {
	return nil, f.err
}

var fixedNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func testProducts() []domain.Product {
	return []domain.Product{
		{ID: "prod-a", Name: "Product A", UnitPrice: money.MustParse("10.00", "BRL"), AvailableStock: 10, Active: true},
		{ID: "prod-b", Name: "Product B", UnitPrice: money.MustParse("5.50", "BRL"), AvailableStock: 3, Active: true},
		{ID: "prod-off", Name: "Discontinued", UnitPrice: money.MustParse("1.00", "BRL"), AvailableStock: 5, Active: false},
	}
}

type fixture struct {
	mem       *repository.MemoryStore
	store     *mockStore
	catalog   *catalog.MemoryCatalog
	cache     *mockCache
	carts     *CartService
	checkout  *CheckoutService
	orders    *OrderService
	customers *CustomerService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := repository.NewMemoryStore()
	f := &fixture{
		mem:     mem,
		store:   &mockStore{Store: mem},
		catalog: catalog.NewMemoryCatalog(testProducts()...),
		cache:   newMockCache(),
	}
	opts := []Option{WithLogger(logger.Nop()), WithClock(func() time.Time { return fixedNow })}
	f.carts = NewCartService(f.store, f.catalog, f.cache, opts...)
	f.checkout = NewCheckoutService(f.carts)
	f.orders = NewOrderService(f.store, opts...)
	f.customers = NewCustomerService(mem, opts...)
	return f
}

// failingCustomers simulates a customer store that cannot be reached.
type failingCustomers struct {
	repository.CustomerStore
	err error
}

func (f failingCustomers) GetCustomer(context.Context, string) (*domain.Customer, error) {
	return nil, f.err
}

func (f failingCustomers) GetCustomerByEmail(context.Context, string) (*domain.Customer, error) {
	return nil, f.err
}

func validRequest() FinalizeRequest {
	return FinalizeRequest{
		DeliveryAddress: domain.Address{
			Street: "Rua das Flores", Number: "100", District: "Boa Viagem",
			City: "Recife", State: "pe", PostalCode: "51020-000",
		},
		Payment: PaymentDetails{Method: domain.PaymentPix, PixKey: "customer@example.com"},
		Notes:   "  leave at the door  ",
	}
}
