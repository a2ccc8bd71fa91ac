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

// CustomerOperations is implemented by service.CustomerService.
type CustomerOperations interface {
	Register(ctx context.Context, req service.RegisterCustomerRequest) (*domain.Customer, error)
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	GetCustomerByEmail(ctx context.Context, email string) (*domain.Customer, error)
	GetCustomerByCPF(ctx context.Context, cpf string) (*domain.Customer, error)
}

type CustomerHandler struct {
	customers CustomerOperations
	timeout   time.Duration
	log       *slog.Logger
}

func NewCustomerHandler(customers CustomerOperations, timeout time.Duration, log *slog.Logger) *CustomerHandler {
	return &CustomerHandler{customers: customers, timeout: timeout, log: log}
}

type RegisterCustomerRequestDTO struct {
	Name    string      `json:"name" validate:"required,min=3,max=200"`
	Email   string      `json:"email" validate:"required,email,max=100"`
	CPF     string      `json:"cpf" validate:"required,max=14"`
	Phone   string      `json:"phone" validate:"omitempty,max=20"`
	Address *AddressDTO `json:"address" validate:"omitempty"`
}

// POST /api/v1/customers
func (h *CustomerHandler) Register(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req RegisterCustomerRequestDTO
	if !decodeAndValidate(w, r, &req, string(domain.KindInvalidCustomer)) {
		return
	}

	var address *domain.Address
	if a := req.Address; a != nil {
		address = &domain.Address{
			Street:     a.Street,
			Number:     a.Number,
			Complement: a.Complement,
			District:   a.District,
			City:       a.City,
			State:      a.State,
			PostalCode: a.PostalCode,
		}
	}

	customer, err := h.customers.Register(ctx, service.RegisterCustomerRequest{
		Name:    req.Name,
		Email:   req.Email,
		CPF:     req.CPF,
		Phone:   req.Phone,
		Address: address,
	})
	if err != nil {
		respondDomainError(w, r, h.log, err)
		return
	}

	w.Header().Set("Location", "/api/v1/customers/"+customer.ID)
	respondJSON(w, http.StatusCreated, customer)
}

// GET /api/v1/customers/{customerID}
func (h *CustomerHandler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	h.find(w, r, h.customers.GetCustomer, chi.URLParam(r, "customerID"))
}

// GET /api/v1/customers/by-email/{email}
func (h *CustomerHandler) GetCustomerByEmail(w http.ResponseWriter, r *http.Request) {
	h.find(w, r, h.customers.GetCustomerByEmail, chi.URLParam(r, "email"))
}

// GET /api/v1/customers/by-cpf/{cpf}
func (h *CustomerHandler) GetCustomerByCPF(w http.ResponseWriter, r *http.Request) {
	h.find(w, r, h.customers.GetCustomerByCPF, chi.URLParam(r, "cpf"))
}

func (h *CustomerHandler) find(w http.ResponseWriter, r *http.Request,
	lookup func(context.Context, string) (*domain.Customer, error), key string) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	customer, err := lookup(ctx, key)
	if err != nil {
		respondDomainError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, customer)
}
