package math

import "github.com/shopspring/decimal"

// Round rounds half away from zero: 0.125 -> 0.13, -0.125 -> -0.13.
// decimal.Round already implements this mode; banker's rounding is never used.
func Round(v decimal.Decimal, places int32) decimal.Decimal {
	return v.Round(places)
}

// MulRound multiplies and rounds the product.
func MulRound(a, b decimal.Decimal, places int32) decimal.Decimal {
	return a.Mul(b).Round(places)
}

// Sign returns -1, 0 or +1.
func Sign(v decimal.Decimal) int {
	return v.Sign()
}

// SameSign reports whether a is zero or carries the sign of b.
func SameSign(a, b decimal.Decimal) bool {
	return a.IsZero() || a.Sign() == b.Sign()
}

// WithSignOf returns |v| carrying the sign of ref. A zero ref yields zero.
func WithSignOf(v, ref decimal.Decimal) decimal.Decimal {
	switch ref.Sign() {
	case 1:
		return v.Abs()
	case -1:
		return v.Abs().Neg()
	default:
		return decimal.Zero
	}
}

// ClampAbs limits |v| to limit (limit >= 0), keeping the sign of v.
func ClampAbs(v, limit decimal.Decimal) decimal.Decimal {
	if limit.IsNegative() {
		limit = decimal.Zero
	}
	if v.Abs().LessThanOrEqual(limit) {
		return v
	}
	if v.IsNegative() {
		return limit.Neg()
	}
	return limit
}

// Min returns the smaller of a and b.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// Sum adds all values without intermediate rounding.
func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}
