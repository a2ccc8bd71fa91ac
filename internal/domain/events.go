package domain

import (
	"time"

	"github.com/fjod/storefront/internal/money"
)

const (
	EventOrderPlaced        = "order.placed"
	EventOrderStatusChanged = "order.status_changed"
)

// OrderEvent is the payload published for every order fact.
type OrderEvent struct {
	EventType      string      `json:"event_type"`
	OrderID        string      `json:"order_id"`
	OrderNumber    string      `json:"order_number"`
	CustomerID     string      `json:"customer_id"`
	CartID         string      `json:"cart_id"`
	Status         OrderStatus `json:"status"`
	PreviousStatus OrderStatus `json:"previous_status,omitempty"`
	TotalValue     money.Money `json:"total_value"`
	ItemCount      int         `json:"item_count"`
	OccurredAt     time.Time   `json:"occurred_at"`
}

func NewOrderEvent(eventType string, o *Order, previous OrderStatus) OrderEvent {
	count := 0
	for _, it := range o.Items {
		count += it.Quantity
	}
	return OrderEvent{
		EventType:      eventType,
		OrderID:        o.ID,
		OrderNumber:    o.OrderNumber,
		CustomerID:     o.CustomerID,
		CartID:         o.CartID,
		Status:         o.Status,
		PreviousStatus: previous,
		TotalValue:     o.TotalValue,
		ItemCount:      count,
		OccurredAt:     o.UpdatedAt,
	}
}
