package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/service"
	"github.com/go-chi/chi/v5"
)

type Checkout interface {
	Finalize(ctx context.Context, customerID string, req service.FinalizeRequest) (*domain.Order, error)
}

type CheckoutHandler struct {
	checkout Checkout
	timeout  time.Duration
	log      *slog.Logger
}

func NewCheckoutHandler(checkout Checkout, timeout time.Duration, log *slog.Logger) *CheckoutHandler {
	return &CheckoutHandler{checkout: checkout, timeout: timeout, log: log}
}

type AddressDTO struct {
	Street     string `json:"street" validate:"required,max=200"`
	Number     string `json:"number" validate:"required,max=20"`
	Complement string `json:"complement" validate:"max=100"`
	District   string `json:"district" validate:"required,max=100"`
	City       string `json:"city" validate:"required,max=100"`
	State      string `json:"state" validate:"required,len=2"`
	PostalCode string `json:"postal_code" validate:"required,max=10"`
}

type PaymentDTO struct {
	Method     string `json:"method" validate:"required,oneof=CREDIT_CARD DEBIT_CARD PIX BOLETO"`
	CardHolder string `json:"card_holder" validate:"required_if=Method CREDIT_CARD,required_if=Method DEBIT_CARD,max=100"`
	CardNumber string `json:"card_number" validate:"required_if=Method CREDIT_CARD,required_if=Method DEBIT_CARD,max=32"`
	CVV        string `json:"cvv" validate:"required_if=Method CREDIT_CARD,required_if=Method DEBIT_CARD,max=4"`
	PixKey     string `json:"pix_key" validate:"required_if=Method PIX,max=140"`
}

type CheckoutRequestDTO struct {
	DeliveryAddress AddressDTO `json:"delivery_address"`
	Payment         PaymentDTO `json:"payment"`
	Notes           string     `json:"notes" validate:"max=500"`
}

// POST /api/v1/customers/{customerID}/checkout
func (h *CheckoutHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req CheckoutRequestDTO
	if !decodeAndValidate(w, r, &req, string(domain.KindInvalidDeliveryDetails)) {
		return
	}

	a, p := req.DeliveryAddress, req.Payment
	order, err := h.checkout.Finalize(ctx, chi.URLParam(r, "customerID"), service.FinalizeRequest{
		DeliveryAddress: domain.Address{
			Street:     a.Street,
			Number:     a.Number,
			Complement: a.Complement,
			District:   a.District,
			City:       a.City,
			State:      a.State,
			PostalCode: a.PostalCode,
		},
		Payment: service.PaymentDetails{
			Method:     domain.PaymentMethod(p.Method),
			CardHolder: p.CardHolder,
			CardNumber: p.CardNumber,
			CVV:        p.CVV,
			PixKey:     p.PixKey,
		},
		Notes: req.Notes,
	})
	if err != nil {
		respondDomainError(w, r, h.log, err)
		return
	}

	w.Header().Set("Location", "/api/v1/orders/"+order.ID)
	respondJSON(w, http.StatusCreated, order)
}
