package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/fjod/storefront/internal/cache"
	"github.com/fjod/storefront/internal/domain"
	"github.com/segmentio/kafka-go"
)

const GroupID = "storefront-cart-cache"

type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// OrderEventsConsumer keeps the cart cache of every instance in step with
// checkouts placed elsewhere: a placed order evicts the customer's cart.
type OrderEventsConsumer struct {
	reader  MessageReader
	cache   cache.CartCache
	log     *slog.Logger
	backoff time.Duration
}

func NewKafkaReader(topic string, brokers ...string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  GroupID,
		MaxBytes: 10e6, // 10MB
	})
}

func NewOrderEventsConsumer(reader MessageReader, cartCache cache.CartCache, log *slog.Logger) *OrderEventsConsumer {
	return &OrderEventsConsumer{reader: reader, cache: cartCache, log: log, backoff: time.Second}
}

func (c *OrderEventsConsumer) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := c.processMessage(ctx); err != nil && ctx.Err() == nil {
			c.log.ErrorContext(ctx, "error reading message", "error", err)
			select {
			case <-time.After(c.backoff):
			case <-ctx.Done():
				return
			}
		}
	}
}

func (c *OrderEventsConsumer) Close() {
	if err := c.reader.Close(); err != nil {
		c.log.Error("error closing kafka reader", "error", err)
	}
}

// processMessage returns an error only when reading failed. Bad payloads are
// logged and skipped.
func (c *OrderEventsConsumer) processMessage(ctx context.Context) error {
	m, err := c.reader.ReadMessage(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	var event domain.OrderEvent
	if err := json.Unmarshal(m.Value, &event); err != nil {
		c.log.WarnContext(ctx, "error parsing message", "offset", m.Offset, "error", err)
		return nil
	}
	if event.EventType == "" {
		event.EventType = headerValue(m, "event_type")
	}

	switch event.EventType {
	case domain.EventOrderPlaced:
		if event.CustomerID == "" {
			c.log.WarnContext(ctx, "order event without customer", "order_id", event.OrderID)
			return nil
		}
		if err := c.cache.Delete(ctx, event.CustomerID); err != nil {
			c.log.WarnContext(ctx, "failed to evict cart cache", "customer_id", event.CustomerID, "error", err)
		}
	case domain.EventOrderStatusChanged:
		c.log.DebugContext(ctx, "order status changed",
			"order_id", event.OrderID, "from", event.PreviousStatus, "to", event.Status)
	default:
		c.log.DebugContext(ctx, "ignoring event", "event_type", event.EventType)
	}
	return nil
}

func headerValue(m kafka.Message, key string) string {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
