package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/google/uuid"
)

var (
	ErrCartNotFound    = domain.ErrCartNotFound
	ErrOrderNotFound   = domain.ErrOrderNotFound
	ErrVersionConflict = fmt.Errorf("version conflict: %w", domain.ErrConcurrentModification)
	ErrDuplicateOrder  = errors.New("order for this cart already exists")

	ErrCustomerNotFound  = domain.ErrCustomerNotFound
	ErrDuplicateCustomer = domain.ErrDuplicateCustomer
)

type Credentials struct {
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	MigrationsDirPath string
}

type OutboxEvent struct {
	ID          string          `json:"id"`
	AggregateID string          `json:"aggregate_id"`
	EventType   string          `json:"event_type"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAt   time.Time       `json:"created_at"`
}

func NewOutboxEvent(aggregateID, eventType string, payload any) (OutboxEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return OutboxEvent{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return OutboxEvent{
		ID:          uuid.NewString(),
		AggregateID: aggregateID,
		EventType:   eventType,
		Payload:     data,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// Store persists carts, orders and their outbox. Writes of an existing cart
// or order compare the Version field and fail with ErrVersionConflict when
// someone else wrote first; on success the Version is bumped in place.
type Store interface {
	// GetActiveCart returns ErrCartNotFound when the customer has no active cart.
	GetActiveCart(ctx context.Context, customerID string) (*domain.Cart, error)
	// SaveCart inserts a cart with Version 0, otherwise updates it.
	SaveCart(ctx context.Context, cart *domain.Cart) error
	// FinalizeCart stores the finalized cart, inserts the order and the event
	// as one unit.
	FinalizeCart(ctx context.Context, cart *domain.Cart, order *domain.Order, event OutboxEvent) error

	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)
	GetOrderByNumber(ctx context.Context, orderNumber string) (*domain.Order, error)
	// ListOrdersByCustomer pages newest first. Page numbers start at 0.
	ListOrdersByCustomer(ctx context.Context, customerID string, page, size int) (domain.Page[*domain.Order], error)
	// UpdateOrderStatus stores the new status and the event as one unit.
	UpdateOrderStatus(ctx context.Context, order *domain.Order, event OutboxEvent) error

	GetUnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkEventAsProcessed(ctx context.Context, id string) error

	Close() error
}

// CustomerStore persists registered customers. Email and CPF are unique;
// a second registration with either fails with ErrDuplicateCustomer.
type CustomerStore interface {
	// CreateCustomer inserts the customer and its event as one unit.
	CreateCustomer(ctx context.Context, customer *domain.Customer, event OutboxEvent) error
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	GetCustomerByEmail(ctx context.Context, email string) (*domain.Customer, error)
	GetCustomerByCPF(ctx context.Context, cpf string) (*domain.Customer, error)
}
