package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/repository"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// CustomerVerifier tells checkout whether a customer may place orders.
type CustomerVerifier interface {
	VerifyCustomer(ctx context.Context, customerID string) error
}

type RegisterCustomerRequest struct {
	Name    string
	Email   string
	CPF     string
	Phone   string
	Address *domain.Address
}

type CustomerService struct {
	store repository.CustomerStore
	opts  options
}

func NewCustomerService(store repository.CustomerStore, opts ...Option) *CustomerService {
	return &CustomerService{store: store, opts: buildOptions(opts)}
}

// Register stores a new customer and its customer.registered event. Email
// and CPF must not belong to anyone else.
func (s *CustomerService) Register(ctx context.Context, req RegisterCustomerRequest) (customer *domain.Customer, err error) {
	ctx, span := tracer.Start(ctx, "CustomerService.Register")
	defer func() { endSpan(span, err) }()

	customer, err = domain.NewCustomer(req.Name, req.Email, req.CPF, req.Phone, req.Address, s.opts.now())
	if err != nil {
		return nil, err
	}

	if err := s.ensureFree(ctx, customer); err != nil {
		return nil, err
	}

	event, err := repository.NewOutboxEvent(customer.ID, domain.EventCustomerRegistered, domain.NewCustomerEvent(customer))
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateCustomer(ctx, customer, event); err != nil {
		return nil, storeError("create customer", err)
	}

	span.SetAttributes(attribute.String("customer.id", customer.ID))
	s.opts.log.InfoContext(ctx, "customer registered",
		"customer_id", customer.ID, "cpf", domain.MaskCPF(customer.CPF))
	return customer, nil
}

// ensureFree reports which unique field is taken. The store still enforces
// uniqueness for registrations that race past this check.
func (s *CustomerService) ensureFree(ctx context.Context, c *domain.Customer) error {
	if _, err := s.store.GetCustomerByEmail(ctx, c.Email); err == nil {
		return fmt.Errorf("%w: email %s", domain.ErrDuplicateCustomer, c.Email)
	} else if !errors.Is(err, repository.ErrCustomerNotFound) {
		return storeError("get customer by email", err)
	}
	if _, err := s.store.GetCustomerByCPF(ctx, c.CPF); err == nil {
		return fmt.Errorf("%w: cpf %s", domain.ErrDuplicateCustomer, domain.MaskCPF(c.CPF))
	} else if !errors.Is(err, repository.ErrCustomerNotFound) {
		return storeError("get customer by cpf", err)
	}
	return nil
}

func (s *CustomerService) GetCustomer(ctx context.Context, id string) (customer *domain.Customer, err error) {
	ctx, span := tracer.Start(ctx, "CustomerService.GetCustomer", trace.WithAttributes(attribute.String("customer.id", id)))
	defer func() { endSpan(span, err) }()

	customer, err = s.store.GetCustomer(ctx, id)
	return customer, storeError("get customer", err)
}

func (s *CustomerService) GetCustomerByEmail(ctx context.Context, email string) (customer *domain.Customer, err error) {
	ctx, span := tracer.Start(ctx, "CustomerService.GetCustomerByEmail")
	defer func() { endSpan(span, err) }()

	customer, err = s.store.GetCustomerByEmail(ctx, domain.NormalizeEmail(email))
	return customer, storeError("get customer by email", err)
}

func (s *CustomerService) GetCustomerByCPF(ctx context.Context, cpf string) (customer *domain.Customer, err error) {
	ctx, span := tracer.Start(ctx, "CustomerService.GetCustomerByCPF")
	defer func() { endSpan(span, err) }()

	customer, err = s.store.GetCustomerByCPF(ctx, domain.NormalizeCPF(cpf))
	return customer, storeError("get customer by cpf", err)
}

// VerifyCustomer fails with ErrCustomerNotFound for unknown or inactive
// customers.
func (s *CustomerService) VerifyCustomer(ctx context.Context, customerID string) error {
	c, err := s.GetCustomer(ctx, customerID)
	if err != nil {
		return err
	}
	if !c.Active {
		return fmt.Errorf("%w: customer %s is inactive", domain.ErrCustomerNotFound, customerID)
	}
	return nil
}
