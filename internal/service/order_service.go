package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/repository"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

type OrderService struct {
	store repository.Store
	opts  options
}

func NewOrderService(store repository.Store, opts ...Option) *OrderService {
	return &OrderService{store: store, opts: buildOptions(opts)}
}

func (s *OrderService) GetOrder(ctx context.Context, orderID string) (order *domain.Order, err error) {
	ctx, span := tracer.Start(ctx, "OrderService.GetOrder", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer func() { endSpan(span, err) }()

	order, err = s.store.GetOrder(ctx, orderID)
	return order, storeError("get order", err)
}

func (s *OrderService) GetOrderByNumber(ctx context.Context, orderNumber string) (order *domain.Order, err error) {
	ctx, span := tracer.Start(ctx, "OrderService.GetOrderByNumber", trace.WithAttributes(attribute.String("order.number", orderNumber)))
	defer func() { endSpan(span, err) }()

	order, err = s.store.GetOrderByNumber(ctx, orderNumber)
	return order, storeError("get order by number", err)
}

// ListOrders pages a customer's orders newest first. Page numbers start at
// 0; a size outside 1..MaxPageSize falls back to the default.
func (s *OrderService) ListOrders(ctx context.Context, customerID string, page, size int) (result domain.Page[*domain.Order], err error) {
	ctx, span := tracer.Start(ctx, "OrderService.ListOrders", trace.WithAttributes(
		attribute.String("customer.id", customerID),
		attribute.Int("page", page),
	))
	defer func() { endSpan(span, err) }()

	if page < 0 {
		page = 0
	}
	if size < 1 || size > MaxPageSize {
		size = DefaultPageSize
	}
	result, err = s.store.ListOrdersByCustomer(ctx, customerID, page, size)
	return result, storeError("list orders", err)
}

// AdvanceStatus moves an order to target if the state machine allows it.
// The change and its order.status_changed event are stored together.
func (s *OrderService) AdvanceStatus(ctx context.Context, orderID string, target domain.OrderStatus) (order *domain.Order, err error) {
	ctx, span := tracer.Start(ctx, "OrderService.AdvanceStatus", trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.String("order.target_status", string(target)),
	))
	defer func() { endSpan(span, err) }()

	if !target.IsValid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidTransition, target)
	}

	var lastErr error
	for attempt := 1; attempt <= s.opts.maxRetries; attempt++ {
		current, err := s.store.GetOrder(ctx, orderID)
		if err != nil {
			return nil, storeError("get order", err)
		}

		previous := current.Status
		next := current.Clone()
		if err := next.Transition(target, s.opts.now()); err != nil {
			return nil, err
		}

		event, err := repository.NewOutboxEvent(next.ID, domain.EventOrderStatusChanged,
			domain.NewOrderEvent(domain.EventOrderStatusChanged, next, previous))
		if err != nil {
			return nil, err
		}

		err = s.store.UpdateOrderStatus(ctx, next, event)
		if err == nil {
			s.opts.log.InfoContext(ctx, "order status changed",
				"order_id", next.ID, "from", previous, "to", next.Status)
			return next, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return nil, storeError("update order status", err)
		}
		lastErr = err
		s.opts.log.InfoContext(ctx, "order version conflict, retrying", "order_id", orderID, "attempt", attempt)
	}
	return nil, lastErr
}

// storeError passes through the errors a caller can act on and reports the
// rest as an unavailable store.
func storeError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrOrderNotFound),
		errors.Is(err, repository.ErrCartNotFound),
		errors.Is(err, repository.ErrCustomerNotFound),
		errors.Is(err, repository.ErrDuplicateCustomer),
		errors.Is(err, repository.ErrVersionConflict):
		return err
	default:
		return domain.Unavailable(op, fmt.Errorf("store: %w", err))
	}
}
