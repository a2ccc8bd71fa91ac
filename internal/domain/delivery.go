package domain

import (
	"fmt"
	"sort"
	"strings"
)

// Normalize trims every field, upper-cases the state and strips the postal
// code down to its digits.
func (a Address) Normalize() Address {
	a.Street = strings.TrimSpace(a.Street)
	a.Number = strings.TrimSpace(a.Number)
	a.Complement = strings.TrimSpace(a.Complement)
	a.District = strings.TrimSpace(a.District)
	a.City = strings.TrimSpace(a.City)
	a.State = strings.ToUpper(strings.TrimSpace(a.State))
	a.PostalCode = digitsOnly(a.PostalCode)
	return a
}

func (a Address) Validate() error {
	var missing []string
	for name, v := range map[string]string{
		"street": a.Street, "number": a.Number, "district": a.District, "city": a.City,
	} {
		if v == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%w: missing %s", ErrInvalidDeliveryDetails, strings.Join(missing, ", "))
	}
	if len(a.State) != 2 {
		return fmt.Errorf("%w: state must be a two letter code", ErrInvalidDeliveryDetails)
	}
	if len(a.PostalCode) != 8 {
		return fmt.Errorf("%w: postal code must have 8 digits", ErrInvalidDeliveryDetails)
	}
	return nil
}

// NewPaymentInfo keeps only the last four card digits and a masked pix key.
// The security code is checked for shape and then dropped.
func NewPaymentInfo(method PaymentMethod, holder, cardNumber, cvv, pixKey string) (PaymentInfo, error) {
	info := PaymentInfo{Method: method}
	switch method {
	case PaymentCreditCard, PaymentDebitCard:
		number := digitsOnly(cardNumber)
		if len(number) < 12 || len(number) > 19 {
			return PaymentInfo{}, fmt.Errorf("%w: invalid card number", ErrInvalidDeliveryDetails)
		}
		if c := digitsOnly(cvv); len(c) < 3 || len(c) > 4 {
			return PaymentInfo{}, fmt.Errorf("%w: invalid card security code", ErrInvalidDeliveryDetails)
		}
		if strings.TrimSpace(holder) == "" {
			return PaymentInfo{}, fmt.Errorf("%w: missing card holder", ErrInvalidDeliveryDetails)
		}
		info.CardHolder = strings.TrimSpace(holder)
		info.CardLast4 = number[len(number)-4:]
	case PaymentPix:
		if strings.TrimSpace(pixKey) == "" {
			return PaymentInfo{}, fmt.Errorf("%w: missing pix key", ErrInvalidDeliveryDetails)
		}
		info.PixKeyMasked = MaskPixKey(strings.TrimSpace(pixKey))
	case PaymentBoleto:
	default:
		return PaymentInfo{}, fmt.Errorf("%w: unknown payment method %q", ErrInvalidDeliveryDetails, method)
	}
	return info, nil
}

// MaskPixKey keeps the first and last two characters of keys longer than
// eight characters and hides everything else.
func MaskPixKey(key string) string {
	r := []rune(key)
	if len(r) <= 8 {
		return strings.Repeat("*", len(r))
	}
	return string(r[:2]) + strings.Repeat("*", len(r)-4) + string(r[len(r)-2:])
}

// digitsOnly keeps ASCII digits only; other Unicode digits are dropped.
func digitsOnly(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if c := s[i]; c >= '0' && c <= '9' {
			b.WriteByte(c)
		}
	}
	return b.String()
}
