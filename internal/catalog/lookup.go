// Package catalog resolves product ids to their current name, price, stock
// and activity. The cart never owns product data; it only asks a Lookup.
package catalog

import (
	"context"
	"fmt"
	"sync"

	"github.com/fjod/storefront/internal/domain"
)

// Lookup returns domain.ErrProductNotFound for unknown ids.
type Lookup interface {
	GetProduct(ctx context.Context, productID string) (*domain.Product, error)
}

// MemoryCatalog is a Lookup over a map, for tests and local runs.
type MemoryCatalog struct {
	mu       sync.RWMutex
	products map[string]domain.Product
}

func NewMemoryCatalog(products ...domain.Product) *MemoryCatalog {
	c := &MemoryCatalog{products: make(map[string]domain.Product, len(products))}
	for _, p := range products {
		c.products[p.ID] = p
	}
	return c
}

func (c *MemoryCatalog) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.products[productID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrProductNotFound, productID)
	}
	return &p, nil
}

func (c *MemoryCatalog) Put(p domain.Product) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[p.ID] = p
}

func (c *MemoryCatalog) SetStock(productID string, stock int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.products[productID]; ok {
		p.AvailableStock = stock
		c.products[productID] = p
	}
}
