package http

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/go-chi/chi/v5"
)

// OrderOperations is implemented by service.OrderService.
type OrderOperations interface {
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)
	GetOrderByNumber(ctx context.Context, orderNumber string) (*domain.Order, error)
	ListOrders(ctx context.Context, customerID string, page, size int) (domain.Page[*domain.Order], error)
	AdvanceStatus(ctx context.Context, orderID string, target domain.OrderStatus) (*domain.Order, error)
}

type OrdersHandler struct {
	orders  OrderOperations
	timeout time.Duration
	log     *slog.Logger
}

func NewOrdersHandler(orders OrderOperations, timeout time.Duration, log *slog.Logger) *OrdersHandler {
	return &OrdersHandler{orders: orders, timeout: timeout, log: log}
}

type AdvanceStatusRequestDTO struct {
	Status string `json:"status" validate:"required"`
}

// GET /api/v1/customers/{customerID}/orders?page=&size=
func (h *OrdersHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	page, size, ok := pagination(w, r)
	if !ok {
		return
	}

	result, err := h.orders.ListOrders(ctx, chi.URLParam(r, "customerID"), page, size)
	if err != nil {
		respondDomainError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// GET /api/v1/orders/{orderID}
func (h *OrdersHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	order, err := h.orders.GetOrder(ctx, chi.URLParam(r, "orderID"))
	if err != nil {
		respondDomainError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

// GET /api/v1/orders/by-number/{orderNumber}
func (h *OrdersHandler) GetOrderByNumber(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	order, err := h.orders.GetOrderByNumber(ctx, chi.URLParam(r, "orderNumber"))
	if err != nil {
		respondDomainError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

// POST /api/v1/orders/{orderID}/status
func (h *OrdersHandler) AdvanceStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req AdvanceStatusRequestDTO
	if !decodeAndValidate(w, r, &req, codeInvalidRequest) {
		return
	}

	order, err := h.orders.AdvanceStatus(ctx, chi.URLParam(r, "orderID"), domain.OrderStatus(req.Status))
	if err != nil {
		respondDomainError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

// pagination reads page and size query parameters. Missing values are 0,
// which the services treat as their defaults.
func pagination(w http.ResponseWriter, r *http.Request) (page, size int, ok bool) {
	q := r.URL.Query()
	for _, p := range []struct {
		name string
		dst  *int
	}{{"page", &page}, {"size", &size}} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, codeInvalidRequest, p.name+" must be a non-negative integer")
			return 0, 0, false
		}
		*p.dst = n
	}
	return page, size, true
}
