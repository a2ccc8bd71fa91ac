// Package money implements exact decimal amounts tagged with a currency.
package money

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrCurrencyMismatch = errors.New("currency mismatch")
	ErrNegativeResult   = errors.New("negative monetary result")
	ErrInvalidQuantity  = errors.New("invalid quantity")
	ErrInvalidAmount    = errors.New("invalid monetary amount")
)

// Money is an immutable non-negative amount in a single currency.
type Money struct {
	amount   decimal.Decimal
	currency string
}

func New(amount decimal.Decimal, currency string) (Money, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return Money{}, fmt.Errorf("%w: empty currency", ErrInvalidAmount)
	}
	if amount.IsNegative() {
		return Money{}, fmt.Errorf("%w: %s %s", ErrNegativeResult, amount.String(), currency)
	}
	return Money{amount: amount, currency: currency}, nil
}

func Parse(amount, currency string) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}
	return New(d, currency)
}

// MustParse panics on invalid input. Use it for literals only.
func MustParse(amount, currency string) Money {
	m, err := Parse(amount, currency)
	if err != nil {
		panic(err)
	}
	return m
}

func Zero(currency string) Money {
	return Money{amount: decimal.Zero, currency: strings.ToUpper(strings.TrimSpace(currency))}
}

func (m Money) Amount() decimal.Decimal { return m.amount }
func (m Money) Currency() string        { return m.currency }
func (m Money) IsZero() bool            { return m.amount.IsZero() }

func Add(a, b Money) (Money, error) {
	if a.currency != b.currency {
		return Money{}, mismatch(a, b)
	}
	return Money{amount: a.amount.Add(b.amount), currency: a.currency}, nil
}

func Subtract(a, b Money) (Money, error) {
	if a.currency != b.currency {
		return Money{}, mismatch(a, b)
	}
	res := a.amount.Sub(b.amount)
	if res.IsNegative() {
		return Money{}, fmt.Errorf("%w: %s - %s", ErrNegativeResult, a, b)
	}
	return Money{amount: res, currency: a.currency}, nil
}

func MultiplyByQuantity(m Money, n int) (Money, error) {
	if n < 0 {
		return Money{}, fmt.Errorf("%w: %d", ErrInvalidQuantity, n)
	}
	return Money{amount: m.amount.Mul(decimal.NewFromInt(int64(n))), currency: m.currency}, nil
}

// Compare returns -1, 0 or 1.
func Compare(a, b Money) (int, error) {
	if a.currency != b.currency {
		return 0, mismatch(a, b)
	}
	return a.amount.Cmp(b.amount), nil
}

// Sum adds all values starting from zero in currency.
func Sum(currency string, values ...Money) (Money, error) {
	total := Zero(currency)
	for _, v := range values {
		var err error
		if total, err = Add(total, v); err != nil {
			return Money{}, err
		}
	}
	return total, nil
}

// Equal reports numeric equality, so 10 and 10.00 in the same currency are equal.
func (m Money) Equal(other Money) bool {
	return m.currency == other.currency && m.amount.Equal(other.amount)
}

func (m Money) String() string {
	return m.AmountString() + " " + m.currency
}

func mismatch(a, b Money) error {
	return fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, a.currency, b.currency)
}

type moneyJSON struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// AmountString formats the amount with at least two decimal places and never
// rounds: 10 becomes "10.00", 19.999 stays "19.999".
func (m Money) AmountString() string {
	if m.amount.Equal(m.amount.Round(2)) {
		return m.amount.StringFixed(2)
	}
	return m.amount.String()
}

func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(moneyJSON{Amount: m.AmountString(), Currency: m.currency})
}

func (m *Money) UnmarshalJSON(data []byte) error {
	var raw moneyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := Parse(raw.Amount, raw.Currency)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
