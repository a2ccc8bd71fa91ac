package catalog

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/pkg/circuitbreaker"
)

// BreakerLookup bounds every call with a timeout and a circuit breaker.
// Anything other than a missing product is reported as
// domain.ErrCollaboratorUnavailable.
type BreakerLookup struct {
	next    Lookup
	timeout time.Duration
	breaker *circuitbreaker.Breaker[*domain.Product]
}

func NewBreakerLookup(next Lookup, timeout time.Duration, log *slog.Logger) *BreakerLookup {
	return &BreakerLookup{
		next:    next,
		timeout: timeout,
		breaker: circuitbreaker.New[*domain.Product](circuitbreaker.Settings{
			Name:        "catalog",
			MaxFailures: 5,
			OpenTimeout: 10 * time.Second,
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, domain.ErrProductNotFound)
			},
			Logger: log,
		}),
	}
}

func (b *BreakerLookup) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	p, err := b.breaker.Execute(func() (*domain.Product, error) {
		return b.next.GetProduct(ctx, productID)
	})
	if err == nil {
		return p, nil
	}
	if errors.Is(err, domain.ErrProductNotFound) {
		return nil, err
	}
	return nil, domain.Unavailable("catalog get product", err)
}
