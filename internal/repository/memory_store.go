package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fjod/storefront/internal/domain"
)

// MemoryStore implements Store in process memory. Values are copied on the
// way in and out so callers never share state with the store.
type MemoryStore struct {
	mu            sync.RWMutex
	carts         map[string]*domain.Cart  // cartID -> cart
	activeCarts   map[string]string        // customerID -> cartID
	orders        map[string]*domain.Order // orderID -> order
	orderByNumber map[string]string        // orderNumber -> orderID
	orderByCart   map[string]string        // cartID -> orderID
	customers     map[string]*domain.Customer
	customerEmail map[string]string // email -> customerID
	customerCPF   map[string]string // cpf -> customerID
	events        []*outboxRecord
}

type outboxRecord struct {
	event       OutboxEvent
	processedAt *time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		carts:         make(map[string]*domain.Cart),
		activeCarts:   make(map[string]string),
		orders:        make(map[string]*domain.Order),
		orderByNumber: make(map[string]string),
		orderByCart:   make(map[string]string),
		customers:     make(map[string]*domain.Customer),
		customerEmail: make(map[string]string),
		customerCPF:   make(map[string]string),
	}
}

func (s *MemoryStore) GetActiveCart(ctx context.Context, customerID string) (*domain.Cart, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.activeCarts[customerID]
	if !ok {
		return nil, ErrCartNotFound
	}
	return s.carts[id].Clone(), nil
}

func (s *MemoryStore) SaveCart(ctx context.Context, cart *domain.Cart) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkCartVersion(cart); err != nil {
		return err
	}
	s.putCart(cart)
	return nil
}

func (s *MemoryStore) FinalizeCart(ctx context.Context, cart *domain.Cart, order *domain.Order, event OutboxEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if cart.Version == 0 {
		return ErrVersionConflict
	}
	if err := s.checkCartVersion(cart); err != nil {
		return err
	}
	if _, exists := s.orderByCart[order.CartID]; exists {
		return ErrDuplicateOrder
	}
	if _, exists := s.orderByNumber[order.OrderNumber]; exists {
		return ErrDuplicateOrder
	}

	s.putCart(cart)
	order.Version = 1
	stored := order.Clone()
	s.orders[order.ID] = stored
	s.orderByNumber[order.OrderNumber] = order.ID
	s.orderByCart[order.CartID] = order.ID
	s.events = append(s.events, &outboxRecord{event: event})
	return nil
}

func (s *MemoryStore) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return o.Clone(), nil
}

func (s *MemoryStore) GetOrderByNumber(ctx context.Context, orderNumber string) (*domain.Order, error) {
	s.mu.RLock()
	id, ok := s.orderByNumber[orderNumber]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrOrderNotFound
	}
	return s.GetOrder(ctx, id)
}

func (s *MemoryStore) ListOrdersByCustomer(ctx context.Context, customerID string, page, size int) (domain.Page[*domain.Order], error) {
	if err := ctx.Err(); err != nil {
		return domain.Page[*domain.Order]{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []*domain.Order
	for _, o := range s.orders {
		if o.CustomerID == customerID {
			all = append(all, o)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	start := page * size
	if start > len(all) {
		start = len(all)
	}
	end := start + size
	if end > len(all) {
		end = len(all)
	}
	items := make([]*domain.Order, 0, end-start)
	for _, o := range all[start:end] {
		items = append(items, o.Clone())
	}
	return domain.NewPage(items, page, size, len(all)), nil
}

func (s *MemoryStore) UpdateOrderStatus(ctx context.Context, order *domain.Order, event OutboxEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.orders[order.ID]
	if !ok {
		return ErrOrderNotFound
	}
	if current.Version != order.Version {
		return ErrVersionConflict
	}
	order.Version++
	current.Status = order.Status
	current.UpdatedAt = order.UpdatedAt
	current.Version = order.Version
	s.events = append(s.events, &outboxRecord{event: event})
	return nil
}

func (s *MemoryStore) CreateCustomer(ctx context.Context, customer *domain.Customer, event OutboxEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.customerEmail[customer.Email]; exists {
		return ErrDuplicateCustomer
	}
	if _, exists := s.customerCPF[customer.CPF]; exists {
		return ErrDuplicateCustomer
	}
	s.customers[customer.ID] = customer.Clone()
	s.customerEmail[customer.Email] = customer.ID
	s.customerCPF[customer.CPF] = customer.ID
	s.events = append(s.events, &outboxRecord{event: event})
	return nil
}

func (s *MemoryStore) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.customers[id]
	if !ok {
		return nil, ErrCustomerNotFound
	}
	return c.Clone(), nil
}

func (s *MemoryStore) GetCustomerByEmail(ctx context.Context, email string) (*domain.Customer, error) {
	s.mu.RLock()
	id, ok := s.customerEmail[email]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrCustomerNotFound
	}
	return s.GetCustomer(ctx, id)
}

func (s *MemoryStore) GetCustomerByCPF(ctx context.Context, cpf string) (*domain.Customer, error) {
	s.mu.RLock()
	id, ok := s.customerCPF[cpf]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrCustomerNotFound
	}
	return s.GetCustomer(ctx, id)
}

func (s *MemoryStore) GetUnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*OutboxEvent
	for _, rec := range s.events {
		if rec.processedAt != nil {
			continue
		}
		ev := rec.event
		out = append(out, &ev)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) MarkEventAsProcessed(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.events {
		if rec.event.ID == id {
			now := time.Now()
			rec.processedAt = &now
			return nil
		}
	}
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

// checkCartVersion must be called with the write lock held.
func (s *MemoryStore) checkCartVersion(cart *domain.Cart) error {
	if cart.Version == 0 {
		if _, exists := s.activeCarts[cart.CustomerID]; exists {
			return ErrVersionConflict
		}
		return nil
	}
	current, ok := s.carts[cart.ID]
	if !ok {
		return ErrCartNotFound
	}
	if current.Version != cart.Version || !current.IsActive() {
		return ErrVersionConflict
	}
	return nil
}

// putCart must be called with the write lock held.
func (s *MemoryStore) putCart(cart *domain.Cart) {
	cart.Version++
	s.carts[cart.ID] = cart.Clone()
	if cart.IsActive() {
		s.activeCarts[cart.CustomerID] = cart.ID
	} else if s.activeCarts[cart.CustomerID] == cart.ID {
		delete(s.activeCarts, cart.CustomerID)
	}
}
