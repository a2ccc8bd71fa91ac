package catalog

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/money"
	"github.com/fjod/storefront/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyLookup struct {
	calls atomic.Int32
	err   error
	delay time.Duration
}

func (f *flakyLookup) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Product{ID: id, UnitPrice: money.MustParse("1", "BRL"), Active: true}, nil
}

func TestBreakerLookup_PassesThrough(t *testing.T) {
	mem := NewMemoryCatalog(domain.Product{ID: "a", Name: "A", UnitPrice: money.MustParse("2", "BRL")})
	l := NewBreakerLookup(mem, time.Second, logger.Nop())

	p, err := l.GetProduct(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "A", p.Name)

	_, err = l.GetProduct(context.Background(), "b")
	assert.ErrorIs(t, err, domain.ErrProductNotFound)
	assert.False(t, domain.IsRetryable(err))
}

func TestBreakerLookup_TimeoutIsUnavailable(t *testing.T) {
	slow := &flakyLookup{delay: 200 * time.Millisecond}
	l := NewBreakerLookup(slow, 10*time.Millisecond, logger.Nop())

	_, err := l.GetProduct(context.Background(), "a")
	assert.ErrorIs(t, err, domain.ErrCollaboratorUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBreakerLookup_OpensAfterFailures(t *testing.T) {
	broken := &flakyLookup{err: errors.New("connection refused")}
	l := NewBreakerLookup(broken, time.Second, logger.Nop())

	for i := 0; i < 5; i++ {
		_, err := l.GetProduct(context.Background(), "a")
		assert.ErrorIs(t, err, domain.ErrCollaboratorUnavailable)
	}
	_, err := l.GetProduct(context.Background(), "a")
	assert.ErrorIs(t, err, domain.ErrCollaboratorUnavailable)
	assert.Equal(t, int32(5), broken.calls.Load())
}

func TestBreakerLookup_NotFoundDoesNotTrip(t *testing.T) {
	missing := &flakyLookup{err: domain.ErrProductNotFound}
	l := NewBreakerLookup(missing, time.Second, logger.Nop())

	for i := 0; i < 10; i++ {
		_, err := l.GetProduct(context.Background(), "a")
		assert.ErrorIs(t, err, domain.ErrProductNotFound)
	}
	assert.Equal(t, int32(10), missing.calls.Load())
}
