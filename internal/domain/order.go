package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/fjod/storefront/internal/money"
	"github.com/google/uuid"
)

type OrderStatus string

const (
	OrderStatusAwaitingPayment  OrderStatus = "AWAITING_PAYMENT"
	OrderStatusPaymentConfirmed OrderStatus = "PAYMENT_CONFIRMED"
	OrderStatusInPreparation    OrderStatus = "IN_PREPARATION"
	OrderStatusShipped          OrderStatus = "SHIPPED"
	OrderStatusDelivered        OrderStatus = "DELIVERED"
	OrderStatusCompleted        OrderStatus = "COMPLETED"
	OrderStatusCancelled        OrderStatus = "CANCELLED"
	OrderStatusReturned         OrderStatus = "RETURNED"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusAwaitingPayment:  {OrderStatusPaymentConfirmed, OrderStatusCancelled},
	OrderStatusPaymentConfirmed: {OrderStatusInPreparation, OrderStatusCancelled},
	OrderStatusInPreparation:    {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:          {OrderStatusDelivered},
	OrderStatusDelivered:        {OrderStatusCompleted, OrderStatusReturned},
}

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled || s == OrderStatusReturned
}

func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderStatusAwaitingPayment, OrderStatusPaymentConfirmed, OrderStatusInPreparation,
		OrderStatusShipped, OrderStatusDelivered, OrderStatusCompleted,
		OrderStatusCancelled, OrderStatusReturned:
		return true
	}
	return false
}

// String representation (for logging)
func (s OrderStatus) String() string {
	return string(s)
}

func CanTransitionTo(from, to OrderStatus) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type PaymentMethod string

const (
	PaymentCreditCard PaymentMethod = "CREDIT_CARD"
	PaymentDebitCard  PaymentMethod = "DEBIT_CARD"
	PaymentPix        PaymentMethod = "PIX"
	PaymentBoleto     PaymentMethod = "BOLETO"
)

type Address struct {
	Street     string `json:"street"`
	Number     string `json:"number"`
	Complement string `json:"complement,omitempty"`
	District   string `json:"district"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
}

// PaymentInfo never carries a full card number, security code or pix key.
type PaymentInfo struct {
	Method       PaymentMethod `json:"method"`
	CardHolder   string        `json:"card_holder,omitempty"`
	CardLast4    string        `json:"card_last4,omitempty"`
	PixKeyMasked string        `json:"pix_key_masked,omitempty"`
}

type OrderItem struct {
	ID          string      `json:"id"`
	ProductID   string      `json:"product_id"`
	ProductName string      `json:"product_name"`
	Quantity    int         `json:"quantity"`
	UnitPrice   money.Money `json:"unit_price"`
	Subtotal    money.Money `json:"subtotal"`
}

type Order struct {
	ID              string      `json:"id"`
	OrderNumber     string      `json:"order_number"`
	CustomerID      string      `json:"customer_id"`
	CartID          string      `json:"cart_id"`
	Items           []OrderItem `json:"items"`
	TotalValue      money.Money `json:"total_value"`
	Status          OrderStatus `json:"status"`
	DeliveryAddress Address     `json:"delivery_address"`
	Payment         PaymentInfo `json:"payment"`
	Notes           string      `json:"notes,omitempty"`
	Version         int64       `json:"version"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// NewOrderFromCart copies the cart's line items and total into a new order
// awaiting payment. The cart itself is not modified.
func NewOrderFromCart(cart *Cart, address Address, payment PaymentInfo, notes string, now time.Time) (*Order, error) {
	if !cart.IsActive() {
		return nil, fmt.Errorf("%w: cart %s is %s", ErrCartNotActive, cart.ID, cart.Status)
	}
	if cart.IsEmpty() {
		return nil, ErrEmptyCart
	}

	items := make([]OrderItem, 0, len(cart.Items))
	for _, it := range cart.SortedItems() {
		items = append(items, OrderItem{
			ID:          it.ID,
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			Subtotal:    it.Subtotal,
		})
	}

	id := uuid.New()
	return &Order{
		ID:              id.String(),
		OrderNumber:     NewOrderNumber(id, now),
		CustomerID:      cart.CustomerID,
		CartID:          cart.ID,
		Items:           items,
		TotalValue:      cart.TotalValue,
		Status:          OrderStatusAwaitingPayment,
		DeliveryAddress: address,
		Payment:         payment,
		Notes:           strings.TrimSpace(notes),
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// NewOrderNumber formats ORD-YYYYMMDD-XXXXXXXX from the order id.
func NewOrderNumber(id uuid.UUID, now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:8])
	return fmt.Sprintf("ORD-%s-%s", now.UTC().Format("20060102"), suffix)
}

func (o *Order) Clone() *Order {
	cp := *o
	cp.Items = append([]OrderItem(nil), o.Items...)
	return &cp
}

// Transition moves the order to status to, or returns a *TransitionError.
func (o *Order) Transition(to OrderStatus, now time.Time) error {
	if !CanTransitionTo(o.Status, to) {
		return &TransitionError{From: o.Status, To: to}
	}
	o.Status = to
	o.UpdatedAt = now
	return nil
}
