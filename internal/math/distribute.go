package math

import "github.com/shopspring/decimal"

// Distribute scales non-negative weights so their rounded sum equals target.
//
// Each share is weight*target/total rounded to places. The rounding residual is
// absorbed in original order starting from the first weight: a positive residual
// fills each share up to its weight, a negative one drains it down to zero.
// Shares never exceed their weight. A target at or above the total returns the
// weights unchanged; a non-positive target returns zeros.
func Distribute(weights []decimal.Decimal, target decimal.Decimal, places int32) []decimal.Decimal {
	shares := make([]decimal.Decimal, len(weights))
	total := Sum(weights...)

	if !target.IsPositive() || total.IsZero() {
		for i := range shares {
			shares[i] = decimal.Zero
		}
		return shares
	}

	if target.GreaterThanOrEqual(total) {
		copy(shares, weights)
		return shares
	}

	allocated := decimal.Zero
	for i, w := range weights {
		share := w.Mul(target).DivRound(total, places)
		share = Min(share, w)
		shares[i] = share
		allocated = allocated.Add(share)
	}

	residual := target.Sub(allocated)
	for i := 0; i < len(shares) && !residual.IsZero(); i++ {
		if residual.IsPositive() {
			take := Min(weights[i].Sub(shares[i]), residual)
			shares[i] = shares[i].Add(take)
			residual = residual.Sub(take)
			continue
		}
		take := Min(shares[i], residual.Neg())
		shares[i] = shares[i].Sub(take)
		residual = residual.Add(take)
	}

	return shares
}
