package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const EventCustomerRegistered = "customer.registered"

var emailPattern = regexp.MustCompile(`^[A-Za-z0-9+_.-]+@[^@\s]+$`)

type Customer struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CPF       string    `json:"cpf"`
	Phone     string    `json:"phone,omitempty"`
	Address   *Address  `json:"address,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewCustomer validates and normalizes a registration: the email is
// lower-cased, the CPF and phone keep only their digits. The address is
// optional but must be complete when given.
func NewCustomer(name, email, cpf, phone string, address *Address, now time.Time) (*Customer, error) {
	name = strings.TrimSpace(name)
	if len(name) < 3 {
		return nil, fmt.Errorf("%w: name must have at least 3 characters", ErrInvalidCustomer)
	}
	email = NormalizeEmail(email)
	if !emailPattern.MatchString(email) {
		return nil, fmt.Errorf("%w: invalid email", ErrInvalidCustomer)
	}
	cpf = NormalizeCPF(cpf)
	if !ValidCPF(cpf) {
		return nil, fmt.Errorf("%w: invalid cpf", ErrInvalidCustomer)
	}
	phone = digitsOnly(phone)
	if phone != "" && (len(phone) < 10 || len(phone) > 11) {
		return nil, fmt.Errorf("%w: phone must have 10 or 11 digits", ErrInvalidCustomer)
	}

	var addr *Address
	if address != nil {
		a := address.Normalize()
		if err := a.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCustomer, err)
		}
		addr = &a
	}

	return &Customer{
		ID:        uuid.NewString(),
		Name:      name,
		Email:     email,
		CPF:       cpf,
		Phone:     phone,
		Address:   addr,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func NormalizeCPF(cpf string) string {
	return digitsOnly(cpf)
}

// ValidCPF reports whether cpf is eleven digits, not all the same, with
// both check digits correct.
func ValidCPF(cpf string) bool {
	if len(cpf) != 11 || strings.Count(cpf, cpf[:1]) == 11 {
		return false
	}
	for i := 0; i < 11; i++ {
		if cpf[i] < '0' || cpf[i] > '9' {
			return false
		}
	}
	return cpf[9] == cpfCheckDigit(cpf[:9]) && cpf[10] == cpfCheckDigit(cpf[:10])
}

func cpfCheckDigit(prefix string) byte {
	sum := 0
	weight := len(prefix) + 1
	for i := 0; i < len(prefix); i++ {
		sum += int(prefix[i]-'0') * (weight - i)
	}
	d := 11 - sum%11
	if d >= 10 {
		d = 0
	}
	return byte('0' + d)
}

func (c *Customer) Clone() *Customer {
	out := *c
	if c.Address != nil {
		a := *c.Address
		out.Address = &a
	}
	return &out
}

// FormattedCPF renders the CPF as 000.000.000-00.
func (c *Customer) FormattedCPF() string {
	if len(c.CPF) != 11 {
		return c.CPF
	}
	return c.CPF[:3] + "." + c.CPF[3:6] + "." + c.CPF[6:9] + "-" + c.CPF[9:]
}

// CustomerEvent is published once per registration. The CPF is masked.
type CustomerEvent struct {
	EventType  string    `json:"event_type"`
	CustomerID string    `json:"customer_id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	CPF        string    `json:"cpf"`
	OccurredAt time.Time `json:"occurred_at"`
}

func NewCustomerEvent(c *Customer) CustomerEvent {
	return CustomerEvent{
		EventType:  EventCustomerRegistered,
		CustomerID: c.ID,
		Name:       c.Name,
		Email:      c.Email,
		CPF:        MaskCPF(c.CPF),
		OccurredAt: c.CreatedAt,
	}
}

// MaskCPF keeps the last two digits only.
func MaskCPF(cpf string) string {
	if len(cpf) < 2 {
		return strings.Repeat("*", len(cpf))
	}
	return strings.Repeat("*", len(cpf)-2) + cpf[len(cpf)-2:]
}
