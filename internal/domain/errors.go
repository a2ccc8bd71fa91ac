package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fjod/storefront/internal/money"
)

// Kind classifies an error for callers. Only ConcurrentModification and
// CollaboratorUnavailable are worth retrying unmodified.
type Kind string

const (
	KindCurrencyMismatch        Kind = "CURRENCY_MISMATCH"
	KindNegativeResult          Kind = "NEGATIVE_RESULT"
	KindProductNotFound         Kind = "PRODUCT_NOT_FOUND"
	KindProductInactive         Kind = "PRODUCT_INACTIVE"
	KindInsufficientStock       Kind = "INSUFFICIENT_STOCK"
	KindItemNotFound            Kind = "ITEM_NOT_FOUND"
	KindInvalidQuantity         Kind = "INVALID_QUANTITY"
	KindEmptyCart               Kind = "EMPTY_CART"
	KindStaleStock              Kind = "STALE_STOCK"
	KindInvalidTransition       Kind = "INVALID_TRANSITION"
	KindConcurrentModification  Kind = "CONCURRENT_MODIFICATION"
	KindCollaboratorUnavailable Kind = "COLLABORATOR_UNAVAILABLE"
	KindCartNotActive           Kind = "CART_NOT_ACTIVE"
	KindCartNotFound            Kind = "CART_NOT_FOUND"
	KindOrderNotFound           Kind = "ORDER_NOT_FOUND"
	KindInvalidDeliveryDetails  Kind = "INVALID_DELIVERY_DETAILS"
	KindCustomerNotFound        Kind = "CUSTOMER_NOT_FOUND"
	KindDuplicateCustomer       Kind = "DUPLICATE_CUSTOMER"
	KindInvalidCustomer         Kind = "INVALID_CUSTOMER"
	KindInternal                Kind = "INTERNAL"
)

var (
	ErrCurrencyMismatch        = money.ErrCurrencyMismatch
	ErrNegativeResult          = money.ErrNegativeResult
	ErrInvalidQuantity         = money.ErrInvalidQuantity
	ErrProductNotFound         = errors.New("product not found")
	ErrProductInactive         = errors.New("product is not active")
	ErrInsufficientStock       = errors.New("insufficient stock")
	ErrItemNotFound            = errors.New("item not found in cart")
	ErrEmptyCart               = errors.New("cart is empty, nothing to checkout")
	ErrStaleStock              = errors.New("stock changed since the item was added")
	ErrInvalidTransition       = errors.New("illegal transition of order status")
	ErrConcurrentModification  = errors.New("concurrent modification, retry the operation")
	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")
	ErrCartNotActive           = errors.New("cart is not active")
	ErrCartNotFound            = errors.New("cart not found")
	ErrOrderNotFound           = errors.New("order not found")
	ErrInvalidDeliveryDetails  = errors.New("invalid delivery details")
	ErrCustomerNotFound        = errors.New("customer not found")
	ErrDuplicateCustomer       = errors.New("customer already registered")
	ErrInvalidCustomer         = errors.New("invalid customer data")
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrCollaboratorUnavailable, KindCollaboratorUnavailable},
	{ErrConcurrentModification, KindConcurrentModification},
	{ErrCurrencyMismatch, KindCurrencyMismatch},
	{ErrNegativeResult, KindNegativeResult},
	{ErrInvalidQuantity, KindInvalidQuantity},
	{ErrProductNotFound, KindProductNotFound},
	{ErrProductInactive, KindProductInactive},
	{ErrInsufficientStock, KindInsufficientStock},
	{ErrItemNotFound, KindItemNotFound},
	{ErrEmptyCart, KindEmptyCart},
	{ErrStaleStock, KindStaleStock},
	{ErrInvalidTransition, KindInvalidTransition},
	{ErrCartNotActive, KindCartNotActive},
	{ErrCartNotFound, KindCartNotFound},
	{ErrOrderNotFound, KindOrderNotFound},
	{ErrInvalidDeliveryDetails, KindInvalidDeliveryDetails},
	{ErrCustomerNotFound, KindCustomerNotFound},
	{ErrDuplicateCustomer, KindDuplicateCustomer},
	{ErrInvalidCustomer, KindInvalidCustomer},
}

// KindOf returns the kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

func IsRetryable(err error) bool {
	k := KindOf(err)
	return k == KindConcurrentModification || k == KindCollaboratorUnavailable
}

// Unavailable marks err as a failed or timed out collaborator call.
func Unavailable(op string, err error) error {
	if errors.Is(err, ErrCollaboratorUnavailable) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrCollaboratorUnavailable, err)
}

type StockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

func (e *StockError) Unwrap() error { return ErrInsufficientStock }

type StaleItem struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Requested   int    `json:"requested"`
	Available   int    `json:"available"`
}

// StaleStockError lists every cart line whose quantity exceeds current stock.
type StaleStockError struct {
	Items []StaleItem
}

func (e *StaleStockError) Error() string {
	parts := make([]string, 0, len(e.Items))
	for _, it := range e.Items {
		parts = append(parts, fmt.Sprintf("%s (requested %d, available %d)", it.ProductID, it.Requested, it.Available))
	}
	return "stale stock for products: " + strings.Join(parts, ", ")
}

func (e *StaleStockError) Unwrap() error { return ErrStaleStock }

type TransitionError struct {
	From OrderStatus
	To   OrderStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal transition of order status from %s to %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }
