package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/money"
	"github.com/fjod/storefront/pkg/logger"
	kafkaGo "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockReader struct {
	mu       sync.Mutex
	messages []kafkaGo.Message
	err      error
	closed   bool
}

func (r *mockReader) ReadMessage(ctx context.Context) (kafkaGo.Message, error) {
	r.mu.Lock()
	if r.err != nil {
		err := r.err
		r.mu.Unlock()
		return kafkaGo.Message{}, err
	}
	if len(r.messages) > 0 {
		m := r.messages[0]
		r.messages = r.messages[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafkaGo.Message{}, ctx.Err()
}

func (r *mockReader) Close() error {
	r.closed = true
	return nil
}

type mockCache struct {
	mu      sync.Mutex
	deleted []string
	err     error
}

func (m *mockCache) Get(context.Context, string) (*domain.Cart, error) { return nil, nil }
func (m *mockCache) Set(context.Context, string, *domain.Cart) error { return nil }
func (m *mockCache) Delete(_ context.Context, customerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, customerID)
	return m.err
}

func (m *mockCache) deletedIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.deleted...)
}

func eventMessage(t *testing.T, eventType, customerID string) kafkaGo.Message {
	t.Helper()
	payload, err := json.Marshal(domain.OrderEvent{
		EventType:  eventType,
		OrderID:    "order-1",
		CustomerID: customerID,
		Status:     domain.OrderStatusAwaitingPayment,
		TotalValue: money.MustParse("10.00", "BRL"),
	})
	require.NoError(t, err)
	return kafkaGo.Message{
		Key:     []byte("order-1"),
		Value:   payload,
		Headers: []kafkaGo.Header{{Key: "event_type", Value: []byte(eventType)}},
	}
}

func TestProcessMessage_OrderPlacedEvictsCart(t *testing.T) {
	reader := &mockReader{messages: []kafkaGo.Message{eventMessage(t, domain.EventOrderPlaced, "customer-1")}}
	c := &mockCache{}
	consumer := NewOrderEventsConsumer(reader, c, logger.Nop())

	require.NoError(t, consumer.processMessage(context.Background()))
	assert.Equal(t, []string{"customer-1"}, c.deletedIDs())
}

func TestProcessMessage_StatusChangeKeepsCache(t *testing.T) {
	reader := &mockReader{messages: []kafkaGo.Message{eventMessage(t, domain.EventOrderStatusChanged, "customer-1")}}
	c := &mockCache{}
	consumer := NewOrderEventsConsumer(reader, c, logger.Nop())

	require.NoError(t, consumer.processMessage(context.Background()))
	assert.Empty(t, c.deletedIDs())
}

func TestProcessMessage_EventTypeFromHeader(t *testing.T) {
	msg := kafkaGo.Message{
		Value:   []byte(`{"order_id":"order-9","customer_id":"customer-9"}`),
		Headers: []kafkaGo.Header{{Key: "event_type", Value: []byte(domain.EventOrderPlaced)}},
	}
	c := &mockCache{}
	consumer := NewOrderEventsConsumer(&mockReader{messages: []kafkaGo.Message{msg}}, c, logger.Nop())

	require.NoError(t, consumer.processMessage(context.Background()))
	assert.Equal(t, []string{"customer-9"}, c.deletedIDs())
}

func TestProcessMessage_BadPayloadIsSkipped(t *testing.T) {
	reader := &mockReader{messages: []kafkaGo.Message{
		{Value: []byte(`{not json`)},
		eventMessage(t, domain.EventOrderPlaced, ""),
	}}
	c := &mockCache{}
	consumer := NewOrderEventsConsumer(reader, c, logger.Nop())

	require.NoError(t, consumer.processMessage(context.Background()))
	require.NoError(t, consumer.processMessage(context.Background()))
	assert.Empty(t, c.deletedIDs())
}

func TestProcessMessage_CacheErrorDoesNotFail(t *testing.T) {
	reader := &mockReader{messages: []kafkaGo.Message{eventMessage(t, domain.EventOrderPlaced, "customer-1")}}
	c := &mockCache{err: errors.New("redis down")}
	consumer := NewOrderEventsConsumer(reader, c, logger.Nop())

	assert.NoError(t, consumer.processMessage(context.Background()))
}

func TestRun_ProcessesUntilCancelled(t *testing.T) {
	reader := &mockReader{messages: []kafkaGo.Message{
		eventMessage(t, domain.EventOrderPlaced, "customer-1"),
		eventMessage(t, domain.EventOrderPlaced, "customer-2"),
	}}
	c := &mockCache{}
	consumer := NewOrderEventsConsumer(reader, c, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		consumer.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return len(c.deletedIDs()) == 2 }, time.Second, 10*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}

	consumer.Close()
	assert.True(t, reader.closed)
}

func TestRun_ReadErrorBacksOff(t *testing.T) {
	reader := &mockReader{err: errors.New("broker unreachable")}
	consumer := NewOrderEventsConsumer(reader, &mockCache{}, logger.Nop())
	consumer.backoff = 5 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	consumer.Run(ctx)
	assert.Error(t, ctx.Err())
}
