package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/fjod/storefront/internal/catalog"
	"github.com/fjod/storefront/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultCurrency   = "BRL"
	DefaultMaxRetries = 3
)

var tracer = otel.Tracer("storefront/service")

type options struct {
	currency   string
	maxRetries int
	log        *slog.Logger
	now        func() time.Time
	customers  CustomerVerifier
}

type Option func(*options)

// WithCurrency sets the currency of newly opened carts.
func WithCurrency(currency string) Option {
	return func(o *options) { o.currency = currency }
}

// WithMaxRetries bounds the attempts made when a write loses a version race.
func WithMaxRetries(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxRetries = n
		}
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithCustomerVerifier makes checkout refuse customers the verifier does not
// know. Without it any customer id is accepted.
func WithCustomerVerifier(v CustomerVerifier) Option {
	return func(o *options) { o.customers = v }
}

func buildOptions(opts []Option) options {
	o := options{
		currency:   DefaultCurrency,
		maxRetries: DefaultMaxRetries,
		log:        slog.Default(),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// lookupProduct asks the catalog and classifies anything but a missing
// product as an unavailable collaborator.
func lookupProduct(ctx context.Context, lookup catalog.Lookup, productID string) (*domain.Product, error) {
	p, err := lookup.GetProduct(ctx, productID)
	if err == nil {
		return p, nil
	}
	if errors.Is(err, domain.ErrProductNotFound) {
		return nil, err
	}
	return nil, domain.Unavailable("catalog get product", err)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(domain.KindOf(err)))
	}
	span.End()
}
