package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/fjod/storefront/internal/catalog"
	"github.com/fjod/storefront/internal/domain"
	"github.com/go-chi/chi/v5"
)

// ProductBrowser is implemented by catalog.Repository.
type ProductBrowser interface {
	GetProduct(ctx context.Context, productID string) (*domain.Product, error)
	ListProducts(ctx context.Context, f catalog.Filter) (domain.Page[*domain.Product], error)
}

type ProductHandler struct {
	products ProductBrowser
	timeout  time.Duration
	log      *slog.Logger
}

func NewProductHandler(products ProductBrowser, timeout time.Duration, log *slog.Logger) *ProductHandler {
	return &ProductHandler{products: products, timeout: timeout, log: log}
}

// GET /api/v1/products?category=&q=&page=&size=
func (h *ProductHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	page, size, ok := pagination(w, r)
	if !ok {
		return
	}

	result, err := h.products.ListProducts(ctx, catalog.Filter{
		Category: r.URL.Query().Get("category"),
		Query:    r.URL.Query().Get("q"),
		Page:     page,
		Size:     size,
	})
	if err != nil {
		respondDomainError(w, r, h.log, domain.Unavailable("list products", err))
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// GET /api/v1/products/{productID}
func (h *ProductHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	product, err := h.products.GetProduct(ctx, chi.URLParam(r, "productID"))
	if err != nil {
		if !errors.Is(err, domain.ErrProductNotFound) {
			err = domain.Unavailable("get product", err)
		}
		respondDomainError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, product)
}
