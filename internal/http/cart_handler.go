package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/money"
	"github.com/go-chi/chi/v5"
)

// CartOperations is implemented by service.CartService.
type CartOperations interface {
	GetCart(ctx context.Context, customerID string) (*domain.Cart, error)
	AddItem(ctx context.Context, customerID, productID string, qty int) (*domain.Cart, error)
	RemoveItem(ctx context.Context, customerID, productID string) (*domain.Cart, error)
	UpdateQuantity(ctx context.Context, customerID, productID string, qty int) (*domain.Cart, error)
	ClearCart(ctx context.Context, customerID string) (*domain.Cart, error)
	AbandonCart(ctx context.Context, customerID string) (*domain.Cart, error)
}

type CartHandler struct {
	carts   CartOperations
	timeout time.Duration
	log     *slog.Logger
}

func NewCartHandler(carts CartOperations, timeout time.Duration, log *slog.Logger) *CartHandler {
	return &CartHandler{carts: carts, timeout: timeout, log: log}
}

type AddItemRequestDTO struct {
	ProductID string `json:"product_id" validate:"required,max=64"`
	Quantity  int    `json:"quantity" validate:"max=999"`
}

type UpdateQuantityRequestDTO struct {
	Quantity int `json:"quantity" validate:"max=999"`
}

type CartItemDTO struct {
	ID            string      `json:"id"`
	ProductID     string      `json:"product_id"`
	ProductName   string      `json:"product_name"`
	Quantity      int         `json:"quantity"`
	UnitPrice     money.Money `json:"unit_price"`
	Subtotal      money.Money `json:"subtotal"`
	StockSnapshot int         `json:"stock_snapshot"`
}

type CartResponseDTO struct {
	ID            string            `json:"id"`
	CustomerID    string            `json:"customer_id"`
	Status        domain.CartStatus `json:"status"`
	Items         []CartItemDTO     `json:"items"`
	TotalQuantity int               `json:"total_quantity"`
	TotalValue    money.Money       `json:"total_value"`
	Version       int64             `json:"version"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

func toCartResponse(c *domain.Cart) CartResponseDTO {
	items := make([]CartItemDTO, 0, len(c.Items))
	for _, it := range c.SortedItems() {
		items = append(items, CartItemDTO{
			ID:            it.ID,
			ProductID:     it.ProductID,
			ProductName:   it.ProductName,
			Quantity:      it.Quantity,
			UnitPrice:     it.UnitPrice,
			Subtotal:      it.Subtotal,
			StockSnapshot: it.StockSnapshot,
		})
	}
	return CartResponseDTO{
		ID:            c.ID,
		CustomerID:    c.CustomerID,
		Status:        c.Status,
		Items:         items,
		TotalQuantity: c.TotalQuantity,
		TotalValue:    c.TotalValue,
		Version:       c.Version,
		UpdatedAt:     c.UpdatedAt,
	}
}

// GET /api/v1/customers/{customerID}/cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	cart, err := h.carts.GetCart(ctx, chi.URLParam(r, "customerID"))
	h.respond(w, r, http.StatusOK, cart, err)
}

// POST /api/v1/customers/{customerID}/cart/items
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req AddItemRequestDTO
	if !decodeAndValidate(w, r, &req, codeInvalidRequest) {
		return
	}

	cart, err := h.carts.AddItem(ctx, chi.URLParam(r, "customerID"), req.ProductID, req.Quantity)
	h.respond(w, r, http.StatusCreated, cart, err)
}

// PUT /api/v1/customers/{customerID}/cart/items/{productID}
func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req UpdateQuantityRequestDTO
	if !decodeAndValidate(w, r, &req, codeInvalidRequest) {
		return
	}

	cart, err := h.carts.UpdateQuantity(ctx, chi.URLParam(r, "customerID"), chi.URLParam(r, "productID"), req.Quantity)
	h.respond(w, r, http.StatusOK, cart, err)
}

// DELETE /api/v1/customers/{customerID}/cart/items/{productID}
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	cart, err := h.carts.RemoveItem(ctx, chi.URLParam(r, "customerID"), chi.URLParam(r, "productID"))
	h.respond(w, r, http.StatusOK, cart, err)
}

// DELETE /api/v1/customers/{customerID}/cart
func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	cart, err := h.carts.ClearCart(ctx, chi.URLParam(r, "customerID"))
	h.respond(w, r, http.StatusOK, cart, err)
}

// POST /api/v1/customers/{customerID}/cart/abandon
func (h *CartHandler) AbandonCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	cart, err := h.carts.AbandonCart(ctx, chi.URLParam(r, "customerID"))
	h.respond(w, r, http.StatusOK, cart, err)
}

func (h *CartHandler) respond(w http.ResponseWriter, r *http.Request, status int, cart *domain.Cart, err error) {
	if err != nil {
		respondDomainError(w, r, h.log, err)
		return
	}
	respondJSON(w, status, toCartResponse(cart))
}
