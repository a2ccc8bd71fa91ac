package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/storefront/internal/cache"
	"github.com/fjod/storefront/internal/catalog"
	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/repository"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// PaymentDetails is what the customer submits. Only the card's last four
// digits and a masked pix key survive into the order.
type PaymentDetails struct {
	Method     domain.PaymentMethod
	CardHolder string
	CardNumber string
	CVV        string
	PixKey     string
}

type FinalizeRequest struct {
	DeliveryAddress domain.Address
	Payment         PaymentDetails
	Notes           string
}

type CheckoutService struct {
	store   repository.Store
	catalog catalog.Lookup
	cache   cache.CartCache
	locks   *keyedLocker
	opts    options
}

// NewCheckoutService shares the cart service's locks so a checkout never
// interleaves with an edit of the same cart.
func NewCheckoutService(carts *CartService, opts ...Option) *CheckoutService {
	o := carts.opts
	for _, opt := range opts {
		opt(&o)
	}
	return &CheckoutService{
		store:   carts.store,
		catalog: carts.catalog,
		cache:   carts.cache,
		locks:   carts.locks,
		opts:    o,
	}
}

// Finalize converts the customer's active cart into an order awaiting
// payment. The cart is FINALIZED, the order and its order.placed event are
// stored as one unit, or nothing changes at all.
func (s *CheckoutService) Finalize(ctx context.Context, customerID string, req FinalizeRequest) (order *domain.Order, err error) {
	ctx, span := tracer.Start(ctx, "CheckoutService.Finalize", trace.WithAttributes(attribute.String("customer.id", customerID)))
	defer func() { endSpan(span, err) }()

	address := req.DeliveryAddress.Normalize()
	if err := address.Validate(); err != nil {
		return nil, err
	}
	p := req.Payment
	payment, err := domain.NewPaymentInfo(p.Method, p.CardHolder, p.CardNumber, p.CVV, p.PixKey)
	if err != nil {
		return nil, err
	}
	if s.opts.customers != nil {
		if err := s.opts.customers.VerifyCustomer(ctx, customerID); err != nil {
			return nil, err
		}
	}

	unlock, err := s.locks.lock(ctx, customerID)
	if err != nil {
		return nil, domain.Unavailable("wait for cart lock", err)
	}
	defer unlock()

	var lastErr error
	for attempt := 1; attempt <= s.opts.maxRetries; attempt++ {
		order, err := s.finalizeOnce(ctx, customerID, address, payment, req.Notes)
		if err == nil {
			invalidateCache(s.cache, s.opts.log, customerID)
			s.opts.log.InfoContext(ctx, "order placed",
				"order_id", order.ID, "order_number", order.OrderNumber,
				"customer_id", customerID, "total", order.TotalValue.String())
			span.SetAttributes(attribute.String("order.id", order.ID))
			return order, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) && !errors.Is(err, repository.ErrDuplicateOrder) {
			return nil, err
		}
		lastErr = err
		s.opts.log.InfoContext(ctx, "checkout lost a version race, retrying",
			"customer_id", customerID, "attempt", attempt)
	}
	invalidateCache(s.cache, s.opts.log, customerID)
	if !errors.Is(lastErr, domain.ErrConcurrentModification) {
		lastErr = fmt.Errorf("%w: %w", domain.ErrConcurrentModification, lastErr)
	}
	return nil, lastErr
}

func (s *CheckoutService) finalizeOnce(ctx context.Context, customerID string, address domain.Address, payment domain.PaymentInfo, notes string) (*domain.Order, error) {
	cart, err := s.store.GetActiveCart(ctx, customerID)
	if errors.Is(err, repository.ErrCartNotFound) {
		return nil, domain.ErrEmptyCart
	}
	if err != nil {
		return nil, domain.Unavailable("load cart", err)
	}
	if cart.IsEmpty() {
		return nil, domain.ErrEmptyCart
	}

	if err := s.revalidate(ctx, cart); err != nil {
		return nil, err
	}

	now := s.opts.now()
	order, err := domain.NewOrderFromCart(cart, address, payment, notes, now)
	if err != nil {
		return nil, err
	}
	finalized := cart.Clone()
	if err := finalized.Finalize(now); err != nil {
		return nil, err
	}

	event, err := repository.NewOutboxEvent(order.ID, domain.EventOrderPlaced,
		domain.NewOrderEvent(domain.EventOrderPlaced, order, ""))
	if err != nil {
		return nil, err
	}

	err = s.store.FinalizeCart(ctx, finalized, order, event)
	switch {
	case err == nil:
		return order, nil
	case errors.Is(err, repository.ErrVersionConflict), errors.Is(err, repository.ErrDuplicateOrder):
		return nil, err
	default:
		return nil, domain.Unavailable("finalize cart", err)
	}
}

// revalidate checks every line against the catalog. All lines whose quantity
// exceeds current stock are reported together.
func (s *CheckoutService) revalidate(ctx context.Context, cart *domain.Cart) error {
	var stale []domain.StaleItem
	for _, item := range cart.SortedItems() {
		p, err := lookupProduct(ctx, s.catalog, item.ProductID)
		if err != nil {
			return err
		}
		if !p.Active {
			return fmt.Errorf("%w: %s", domain.ErrProductInactive, p.ID)
		}
		if item.Quantity > p.AvailableStock {
			stale = append(stale, domain.StaleItem{
				ProductID:   item.ProductID,
				ProductName: item.ProductName,
				Requested:   item.Quantity,
				Available:   p.AvailableStock,
			})
		}
	}
	if len(stale) > 0 {
		return &domain.StaleStockError{Items: stale}
	}
	return nil
}
