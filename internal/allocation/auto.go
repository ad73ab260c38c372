package allocation

import (
	fpmath "ContraLedger/internal/math"

	"github.com/shopspring/decimal"
)

// AutoAllocate nets debit documents against credit documents in full, up to
// the smaller side, and returns the updated lines plus the matched amount.
//
// Both sides start fully allocated. The larger side is then scaled back
// proportionally to each line's balance so it sums to the matched amount; the
// rounding residual lands on the first lines of that side (see math.Distribute).
// Zero-balance lines stay at zero. Derived local fields are not touched; run
// RecalcAll and ComputeTotals afterwards.
func AutoAllocate(lines []OutstandingLine, policy fpmath.DecimalPolicy) ([]OutstandingLine, decimal.Decimal) {
	return autoAllocate(lines, nil, policy)
}

// AutoAllocateWithin behaves like AutoAllocate but never matches more than
// ceiling. A non-positive ceiling means no cap.
func AutoAllocateWithin(lines []OutstandingLine, ceiling decimal.Decimal, policy fpmath.DecimalPolicy) ([]OutstandingLine, decimal.Decimal) {
	if !ceiling.IsPositive() {
		return autoAllocate(lines, nil, policy)
	}
	c := policy.Limit(ceiling)
	return autoAllocate(lines, &c, policy)
}

func autoAllocate(lines []OutstandingLine, ceiling *decimal.Decimal, policy fpmath.DecimalPolicy) ([]OutstandingLine, decimal.Decimal) {
	out := Clone(lines)
	if len(out) == 0 {
		return []OutstandingLine{}, decimal.Zero
	}

	var debitIdx, creditIdx []int
	var debitWeights, creditWeights []decimal.Decimal

	for i := range out {
		balance := policy.Limit(out[i].DocumentBalance)
		switch balance.Sign() {
		case 1:
			debitIdx = append(debitIdx, i)
			debitWeights = append(debitWeights, balance)
		case -1:
			creditIdx = append(creditIdx, i)
			creditWeights = append(creditWeights, balance.Abs())
		default:
			out[i].AllocatedAmount = decimal.Zero
		}
	}

	debitTotal := fpmath.Sum(debitWeights...)
	creditTotal := fpmath.Sum(creditWeights...)
	matched := policy.Amount(fpmath.Min(debitTotal, creditTotal))
	if ceiling != nil {
		matched = fpmath.Min(matched, *ceiling)
	}

	debitShares := fpmath.Distribute(debitWeights, matched, policy.AmountDecimals)
	for k, i := range debitIdx {
		out[i].AllocatedAmount = debitShares[k]
	}

	creditShares := fpmath.Distribute(creditWeights, matched, policy.AmountDecimals)
	for k, i := range creditIdx {
		out[i].AllocatedAmount = creditShares[k].Neg()
	}

	return out, matched
}
