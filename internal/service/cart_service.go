package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fjod/storefront/internal/cache"
	"github.com/fjod/storefront/internal/catalog"
	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/repository"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

// sharedLoadTimeout bounds a cart load shared by concurrent GetCart calls.
const sharedLoadTimeout = 5 * time.Second

// CartService owns every read-recompute-write of a customer's active cart.
// Writes for one customer are serialized in process and stored with a
// version compare-and-swap so other instances cannot interleave either.
type CartService struct {
	store   repository.Store
	catalog catalog.Lookup
	cache   cache.CartCache
	sfg     singleflight.Group // Prevents cache stampede
	locks   *keyedLocker
	opts    options
}

func NewCartService(store repository.Store, lookup catalog.Lookup, cartCache cache.CartCache, opts ...Option) *CartService {
	if cartCache == nil {
		cartCache = cache.Nop{}
	}
	return &CartService{
		store:   store,
		catalog: lookup,
		cache:   cartCache,
		locks:   newKeyedLocker(),
		opts:    buildOptions(opts),
	}
}

// GetCart returns the customer's active cart, or an empty unsaved one.
func (s *CartService) GetCart(ctx context.Context, customerID string) (cart *domain.Cart, err error) {
	ctx, span := tracer.Start(ctx, "CartService.GetCart", trace.WithAttributes(attribute.String("customer.id", customerID)))
	defer func() { endSpan(span, err) }()

	ch := s.sfg.DoChan(customerID, func() (interface{}, error) {
		// shared by every waiter, so it must not die with the caller that started it
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedLoadTimeout)
		defer cancel()

		cached, err := s.cache.Get(ctx, customerID)
		if err == nil {
			return cached, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.opts.log.WarnContext(ctx, "cache get failed", "customer_id", customerID, "error", err)
		}

		stored, err := s.store.GetActiveCart(ctx, customerID)
		if errors.Is(err, repository.ErrCartNotFound) {
			return domain.NewCart(customerID, s.opts.currency, s.opts.now()), nil
		}
		if err != nil {
			return nil, domain.Unavailable("load cart", err)
		}

		snapshot := stored.Clone()
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := s.cache.Set(ctx, customerID, snapshot); err != nil {
				s.opts.log.Warn("cache set failed", "customer_id", customerID, "error", err)
			}
		}()
		return stored, nil
	})

	select {
	case <-ctx.Done():
		return nil, domain.Unavailable("load cart", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		// singleflight hands the same pointer to every waiter
		return res.Val.(*domain.Cart).Clone(), nil
	}
}

// AddItem adds qty units of a product, merging with an existing line.
func (s *CartService) AddItem(ctx context.Context, customerID, productID string, qty int) (cart *domain.Cart, err error) {
	ctx, span := tracer.Start(ctx, "CartService.AddItem", trace.WithAttributes(
		attribute.String("customer.id", customerID),
		attribute.String("product.id", productID),
		attribute.Int("quantity", qty),
	))
	defer func() { endSpan(span, err) }()

	if qty < 1 {
		return nil, fmt.Errorf("%w: quantity must be at least 1, got %d", domain.ErrInvalidQuantity, qty)
	}
	return s.mutate(ctx, customerID, func(ctx context.Context, c *domain.Cart) error {
		p, err := lookupProduct(ctx, s.catalog, productID)
		if err != nil {
			return err
		}
		return c.AddItem(p, qty, s.opts.now())
	})
}

func (s *CartService) RemoveItem(ctx context.Context, customerID, productID string) (cart *domain.Cart, err error) {
	ctx, span := tracer.Start(ctx, "CartService.RemoveItem", trace.WithAttributes(
		attribute.String("customer.id", customerID),
		attribute.String("product.id", productID),
	))
	defer func() { endSpan(span, err) }()

	return s.mutate(ctx, customerID, func(_ context.Context, c *domain.Cart) error {
		return c.RemoveItem(productID, s.opts.now())
	})
}

// UpdateQuantity sets the quantity of an existing line, checked against the
// catalog's current stock. The unit price stays the one captured on add.
func (s *CartService) UpdateQuantity(ctx context.Context, customerID, productID string, qty int) (cart *domain.Cart, err error) {
	ctx, span := tracer.Start(ctx, "CartService.UpdateQuantity", trace.WithAttributes(
		attribute.String("customer.id", customerID),
		attribute.String("product.id", productID),
		attribute.Int("quantity", qty),
	))
	defer func() { endSpan(span, err) }()

	if qty < 1 {
		return nil, fmt.Errorf("%w: quantity must be at least 1, got %d", domain.ErrInvalidQuantity, qty)
	}
	return s.mutate(ctx, customerID, func(ctx context.Context, c *domain.Cart) error {
		if _, ok := c.Items[productID]; !ok {
			return fmt.Errorf("%w: %s", domain.ErrItemNotFound, productID)
		}
		p, err := lookupProduct(ctx, s.catalog, productID)
		if err != nil {
			return err
		}
		return c.UpdateQuantity(p, qty, s.opts.now())
	})
}

func (s *CartService) ClearCart(ctx context.Context, customerID string) (cart *domain.Cart, err error) {
	ctx, span := tracer.Start(ctx, "CartService.ClearCart", trace.WithAttributes(attribute.String("customer.id", customerID)))
	defer func() { endSpan(span, err) }()

	return s.mutate(ctx, customerID, func(_ context.Context, c *domain.Cart) error {
		return c.Clear(s.opts.now())
	})
}

// AbandonCart moves the active cart to ABANDONED. Deciding when a cart is
// abandoned belongs to the caller.
func (s *CartService) AbandonCart(ctx context.Context, customerID string) (cart *domain.Cart, err error) {
	ctx, span := tracer.Start(ctx, "CartService.AbandonCart", trace.WithAttributes(attribute.String("customer.id", customerID)))
	defer func() { endSpan(span, err) }()

	return s.mutate(ctx, customerID, func(_ context.Context, c *domain.Cart) error {
		if c.Version == 0 {
			return fmt.Errorf("%w: customer %s has no active cart", domain.ErrCartNotFound, customerID)
		}
		return c.Abandon(s.opts.now())
	})
}

// mutate runs fn against a fresh copy of the stored cart and saves the
// result. A lost version race reloads and reruns fn, up to maxRetries times.
// Any failure leaves the stored cart untouched.
func (s *CartService) mutate(ctx context.Context, customerID string, fn func(context.Context, *domain.Cart) error) (*domain.Cart, error) {
	unlock, err := s.locks.lock(ctx, customerID)
	if err != nil {
		return nil, domain.Unavailable("wait for cart lock", err)
	}
	defer unlock()

	var lastErr error
	for attempt := 1; attempt <= s.opts.maxRetries; attempt++ {
		current, err := s.loadForWrite(ctx, customerID)
		if err != nil {
			return nil, err
		}

		next := current.Clone()
		if err := fn(ctx, next); err != nil {
			return nil, err
		}
		// nothing to persist for a customer who never had a cart
		if next.Version == 0 && next.IsEmpty() {
			return next, nil
		}

		err = s.store.SaveCart(ctx, next)
		if err == nil {
			s.invalidate(customerID)
			return next, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return nil, domain.Unavailable("save cart", err)
		}
		lastErr = err
		s.opts.log.InfoContext(ctx, "cart version conflict, retrying",
			"customer_id", customerID, "attempt", attempt, "version", current.Version)
	}
	s.invalidate(customerID)
	return nil, lastErr
}

func (s *CartService) loadForWrite(ctx context.Context, customerID string) (*domain.Cart, error) {
	cart, err := s.store.GetActiveCart(ctx, customerID)
	if errors.Is(err, repository.ErrCartNotFound) {
		return domain.NewCart(customerID, s.opts.currency, s.opts.now()), nil
	}
	if err != nil {
		return nil, domain.Unavailable("load cart", err)
	}
	return cart, nil
}

// Invalidate drops the cached cart of a customer.
func (s *CartService) Invalidate(customerID string) {
	s.invalidate(customerID)
}

func (s *CartService) invalidate(customerID string) {
	invalidateCache(s.cache, s.opts.log, customerID)
}

func invalidateCache(c cache.CartCache, log *slog.Logger, customerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.Delete(ctx, customerID); err != nil {
		log.Warn("cache invalidate failed", "customer_id", customerID, "error", err)
	}
}
