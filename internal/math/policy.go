package math

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrNegativeDecimals is returned when a policy is built with a negative precision.
var ErrNegativeDecimals = errors.New("math: negative decimal count")

// DecimalPolicy defines the rounding precision of one allocation session.
// Every module supplies its own; the header and all lines share the same one.
type DecimalPolicy struct {
	AmountDecimals       int32 `json:"amount_decimals" yaml:"amount_decimals"`
	LocalAmountDecimals  int32 `json:"local_amount_decimals" yaml:"local_amount_decimals"`
	ExchangeRateDecimals int32 `json:"exchange_rate_decimals" yaml:"exchange_rate_decimals"`
}

var (
	// DefaultPolicy is used when a module does not override precision.
	DefaultPolicy = DecimalPolicy{AmountDecimals: 2, LocalAmountDecimals: 2, ExchangeRateDecimals: 6}
)

// NewDecimalPolicy validates and builds a policy.
func NewDecimalPolicy(amount, local, rate int32) (DecimalPolicy, error) {
	p := DecimalPolicy{AmountDecimals: amount, LocalAmountDecimals: local, ExchangeRateDecimals: rate}
	if err := p.Validate(); err != nil {
		return DecimalPolicy{}, err
	}
	return p, nil
}

// Validate rejects negative precisions.
func (p DecimalPolicy) Validate() error {
	if p.AmountDecimals < 0 || p.LocalAmountDecimals < 0 || p.ExchangeRateDecimals < 0 {
		return fmt.Errorf("%w: amount=%d local=%d rate=%d",
			ErrNegativeDecimals, p.AmountDecimals, p.LocalAmountDecimals, p.ExchangeRateDecimals)
	}
	return nil
}

// Amount rounds a document/settlement currency amount.
func (p DecimalPolicy) Amount(v decimal.Decimal) decimal.Decimal {
	return Round(v, p.AmountDecimals)
}

// Limit cuts a balance to AmountDecimals toward zero, so the result never
// exceeds the balance in magnitude. Allocation limits come from here.
func (p DecimalPolicy) Limit(v decimal.Decimal) decimal.Decimal {
	return v.Truncate(p.AmountDecimals)
}

// Local rounds a local currency amount.
func (p DecimalPolicy) Local(v decimal.Decimal) decimal.Decimal {
	return Round(v, p.LocalAmountDecimals)
}

// Rate rounds an exchange rate.
func (p DecimalPolicy) Rate(v decimal.Decimal) decimal.Decimal {
	return Round(v, p.ExchangeRateDecimals)
}

// AmountUnit returns the smallest representable amount (10^-AmountDecimals).
func (p DecimalPolicy) AmountUnit() decimal.Decimal {
	return decimal.New(1, -p.AmountDecimals)
}
