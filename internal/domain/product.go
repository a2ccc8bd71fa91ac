package domain

import (
	"time"

	"github.com/fjod/storefront/internal/money"
)

type Product struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	Description    string      `json:"description"`
	Category       string      `json:"category"`
	ImageURL       string      `json:"image_url"`
	UnitPrice      money.Money `json:"unit_price"`
	AvailableStock int         `json:"available_stock"`
	Active         bool        `json:"active"`
	CreatedAt      time.Time   `json:"created_at"`
}

// Page is one slice of a paged query. Page numbers start at 0.
type Page[T any] struct {
	Items      []T `json:"items"`
	Page       int `json:"page"`
	Size       int `json:"size"`
	TotalItems int `json:"total_items"`
	TotalPages int `json:"total_pages"`
}

func NewPage[T any](items []T, page, size, total int) Page[T] {
	if items == nil {
		items = []T{}
	}
	pages := 0
	if size > 0 {
		pages = (total + size - 1) / size
	}
	return Page[T]{Items: items, Page: page, Size: size, TotalItems: total, TotalPages: pages}
}
