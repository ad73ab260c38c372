package allocation

import (
	fpmath "ContraLedger/internal/math"

	"github.com/shopspring/decimal"
)

// Totals is the header aggregate computed by ComputeTotals.
type Totals struct {
	PositiveSum           decimal.Decimal `json:"positive_sum"`
	NegativeAbsSum        decimal.Decimal `json:"negative_abs_sum"`
	AllocatedTotal        decimal.Decimal `json:"allocated_total"`
	AllocatedTotalLocal   decimal.Decimal `json:"allocated_total_local"`
	AllocatedTotalCity    decimal.Decimal `json:"allocated_total_city"`
	ExchangeGainLossTotal decimal.Decimal `json:"exchange_gain_loss_total"`
	UnallocatedTotal      decimal.Decimal `json:"unallocated_total"`
}

// ComputeTotals aggregates the line allocations into header totals.
//
// The allocated total is min(sum of positive allocations, sum of |negative
// allocations|): a set-off never nets more than its smaller side.
func ComputeTotals(lines []OutstandingLine, settlementBalance decimal.Decimal, policy fpmath.DecimalPolicy) Totals {
	positive := decimal.Zero
	negative := decimal.Zero
	local := decimal.Zero
	city := decimal.Zero
	gainLoss := decimal.Zero

	for _, l := range lines {
		switch l.AllocatedAmount.Sign() {
		case 1:
			positive = positive.Add(l.AllocatedAmount)
		case -1:
			negative = negative.Add(l.AllocatedAmount.Abs())
		}
		local = local.Add(l.AllocatedAmountLocal)
		city = city.Add(l.AllocatedAmountCity)
		gainLoss = gainLoss.Add(l.ExchangeGainLoss)
	}

	t := Totals{
		PositiveSum:           policy.Amount(positive),
		NegativeAbsSum:        policy.Amount(negative),
		AllocatedTotalLocal:   policy.Local(local),
		AllocatedTotalCity:    policy.Local(city),
		ExchangeGainLossTotal: policy.Local(gainLoss),
	}
	t.AllocatedTotal = fpmath.Min(t.PositiveSum, t.NegativeAbsSum)
	t.UnallocatedTotal = policy.Amount(settlementBalance.Sub(t.AllocatedTotal))

	return t
}

// ApplyTotals writes t into the derived header fields.
func ApplyTotals(h Header, t Totals) Header {
	h.AllocatedTotal = t.AllocatedTotal
	h.AllocatedTotalLocal = t.AllocatedTotalLocal
	h.AllocatedTotalCity = t.AllocatedTotalCity
	h.UnallocatedTotal = t.UnallocatedTotal
	h.TotalExchangeGainLoss = t.ExchangeGainLossTotal
	return h
}
