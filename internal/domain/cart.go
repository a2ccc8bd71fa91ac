package domain

import (
	"fmt"
	"sort"
	"time"

	"github.com/fjod/storefront/internal/money"
	"github.com/google/uuid"
)

type CartStatus string

const (
	CartStatusActive    CartStatus = "ACTIVE"
	CartStatusFinalized CartStatus = "FINALIZED"
	CartStatusAbandoned CartStatus = "ABANDONED"
)

func (s CartStatus) String() string {
	return string(s)
}

type LineItem struct {
	ID          string      `json:"id"`
	ProductID   string      `json:"product_id"`
	ProductName string      `json:"product_name"`
	Quantity    int         `json:"quantity"`
	UnitPrice   money.Money `json:"unit_price"`
	Subtotal    money.Money `json:"subtotal"`
	// stock seen at the last catalog sync
	StockSnapshot int       `json:"stock_snapshot"`
	AddedAt       time.Time `json:"added_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type Cart struct {
	ID            string               `json:"id"`
	CustomerID    string               `json:"customer_id"`
	Items         map[string]*LineItem `json:"items"`
	TotalQuantity int                  `json:"total_quantity"`
	TotalValue    money.Money          `json:"total_value"`
	Currency      string               `json:"currency"`
	Status        CartStatus           `json:"status"`
	Version       int64                `json:"version"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

// NewCart returns an empty, unsaved active cart. Version 0 marks it as never stored.
func NewCart(customerID, currency string, now time.Time) *Cart {
	return &Cart{
		ID:         uuid.NewString(),
		CustomerID: customerID,
		Items:      map[string]*LineItem{},
		TotalValue: money.Zero(currency),
		Currency:   money.Zero(currency).Currency(),
		Status:     CartStatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

func (c *Cart) IsActive() bool {
	return c.Status == CartStatusActive
}

// SortedItems returns line items ordered by product id.
func (c *Cart) SortedItems() []*LineItem {
	ids := make([]string, 0, len(c.Items))
	for id := range c.Items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	items := make([]*LineItem, 0, len(ids))
	for _, id := range ids {
		items = append(items, c.Items[id])
	}
	return items
}

func (c *Cart) Clone() *Cart {
	cp := *c
	cp.Items = make(map[string]*LineItem, len(c.Items))
	for id, it := range c.Items {
		item := *it
		cp.Items[id] = &item
	}
	return &cp
}

func (c *Cart) ensureActive() error {
	if !c.IsActive() {
		return fmt.Errorf("%w: cart %s is %s", ErrCartNotActive, c.ID, c.Status)
	}
	return nil
}

// AddItem merges qty of p into the cart. A new line takes the current catalog
// price as its snapshot; an existing line keeps the price it was added with.
func (c *Cart) AddItem(p *Product, qty int, now time.Time) error {
	if err := c.ensureActive(); err != nil {
		return err
	}
	if qty < 1 {
		return fmt.Errorf("%w: quantity must be at least 1, got %d", ErrInvalidQuantity, qty)
	}
	if !p.Active {
		return fmt.Errorf("%w: %s", ErrProductInactive, p.ID)
	}

	currency := c.Currency
	if c.IsEmpty() {
		currency = p.UnitPrice.Currency()
	}
	if p.UnitPrice.Currency() != currency {
		return fmt.Errorf("%w: cart is in %s, product %s is priced in %s",
			ErrCurrencyMismatch, currency, p.ID, p.UnitPrice.Currency())
	}

	existing, ok := c.Items[p.ID]
	total := qty
	if ok {
		total += existing.Quantity
	}
	if total > p.AvailableStock {
		return &StockError{ProductID: p.ID, Requested: total, Available: p.AvailableStock}
	}

	next := c.Clone()
	next.Currency = currency
	if ok {
		item := next.Items[p.ID]
		item.Quantity = total
		item.ProductName = p.Name
		item.StockSnapshot = p.AvailableStock
		item.UpdatedAt = now
	} else {
		next.Items[p.ID] = &LineItem{
			ID:            uuid.NewString(),
			ProductID:     p.ID,
			ProductName:   p.Name,
			Quantity:      qty,
			UnitPrice:     p.UnitPrice,
			StockSnapshot: p.AvailableStock,
			AddedAt:       now,
			UpdatedAt:     now,
		}
	}
	return c.commit(next, now)
}

func (c *Cart) RemoveItem(productID string, now time.Time) error {
	if err := c.ensureActive(); err != nil {
		return err
	}
	if _, ok := c.Items[productID]; !ok {
		return fmt.Errorf("%w: %s", ErrItemNotFound, productID)
	}
	next := c.Clone()
	delete(next.Items, productID)
	return c.commit(next, now)
}

// UpdateQuantity sets the quantity of an existing line, validated against
// the current catalog stock of p.
func (c *Cart) UpdateQuantity(p *Product, qty int, now time.Time) error {
	if err := c.ensureActive(); err != nil {
		return err
	}
	if qty < 1 {
		return fmt.Errorf("%w: quantity must be at least 1, got %d", ErrInvalidQuantity, qty)
	}
	if _, ok := c.Items[p.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrItemNotFound, p.ID)
	}
	if qty > p.AvailableStock {
		return &StockError{ProductID: p.ID, Requested: qty, Available: p.AvailableStock}
	}

	next := c.Clone()
	item := next.Items[p.ID]
	item.Quantity = qty
	item.StockSnapshot = p.AvailableStock
	item.UpdatedAt = now
	return c.commit(next, now)
}

func (c *Cart) Clear(now time.Time) error {
	if err := c.ensureActive(); err != nil {
		return err
	}
	next := c.Clone()
	next.Items = map[string]*LineItem{}
	return c.commit(next, now)
}

// Finalize empties the cart and moves it to FINALIZED. It happens once.
func (c *Cart) Finalize(now time.Time) error {
	if err := c.ensureActive(); err != nil {
		return err
	}
	if c.IsEmpty() {
		return ErrEmptyCart
	}
	next := c.Clone()
	next.Items = map[string]*LineItem{}
	if err := c.commit(next, now); err != nil {
		return err
	}
	c.Status = CartStatusFinalized
	return nil
}

func (c *Cart) Abandon(now time.Time) error {
	if err := c.ensureActive(); err != nil {
		return err
	}
	c.Status = CartStatusAbandoned
	c.UpdatedAt = now
	return nil
}

// Recalculate recomputes every subtotal and both totals from the item set.
// On error the cart is left untouched.
func (c *Cart) Recalculate() error {
	subtotals := make(map[string]money.Money, len(c.Items))
	total := money.Zero(c.Currency)
	qty := 0
	for _, item := range c.SortedItems() {
		sub, err := money.MultiplyByQuantity(item.UnitPrice, item.Quantity)
		if err != nil {
			return fmt.Errorf("line %s: %w", item.ProductID, err)
		}
		if total, err = money.Add(total, sub); err != nil {
			return fmt.Errorf("line %s: %w", item.ProductID, err)
		}
		subtotals[item.ProductID] = sub
		qty += item.Quantity
	}

	for id, sub := range subtotals {
		c.Items[id].Subtotal = sub
	}
	c.TotalQuantity = qty
	c.TotalValue = total
	return nil
}

// commit recalculates next and, only if that succeeds, copies it into c.
func (c *Cart) commit(next *Cart, now time.Time) error {
	if err := next.Recalculate(); err != nil {
		return err
	}
	next.UpdatedAt = now
	*c = *next
	return nil
}
