package allocation

import (
	fpmath "ContraLedger/internal/math"

	"github.com/shopspring/decimal"
)

// Rates carries the settlement rates a recalculation runs against.
// City is the optional secondary local currency rate.
type Rates struct {
	Settlement decimal.Decimal
	City       *decimal.Decimal
}

// RecalcLocalAndGainLoss derives the local-currency fields of one line from
// its AllocatedAmount. AllocatedAmount and DocumentBalance are left untouched.
//
//	AllocatedAmountLocal = round(alloc * settlementRate)
//	ownShare             = round(alloc * documentRate)
//	ExchangeGainLoss     = round(ownShare - AllocatedAmountLocal)
//
// CentDifference is only set when the line is fully allocated: it is the part
// of DocumentBalanceLocal the own-rate conversion fails to reconcile.
func RecalcLocalAndGainLoss(line OutstandingLine, settlementRate decimal.Decimal, policy fpmath.DecimalPolicy) OutstandingLine {
	alloc := line.AllocatedAmount
	settlementRate = policy.Rate(settlementRate)
	documentRate := policy.Rate(line.DocumentExchangeRate)

	line.AllocatedAmountLocal = fpmath.MulRound(alloc, settlementRate, policy.LocalAmountDecimals)

	ownShare := fpmath.MulRound(alloc, documentRate, policy.LocalAmountDecimals)
	line.ExchangeGainLoss = policy.Local(ownShare.Sub(line.AllocatedAmountLocal))

	line.CentDifference = decimal.Zero
	if !alloc.IsZero() && alloc.Abs().Equal(line.DocumentBalance.Abs()) && !line.DocumentBalanceLocal.IsZero() {
		line.CentDifference = policy.Local(line.DocumentBalanceLocal.Sub(ownShare))
	}

	return line
}

// RecalcCity fills AllocatedAmountCity from the secondary local currency rate.
// A nil rate clears the field.
func RecalcCity(line OutstandingLine, cityRate *decimal.Decimal, policy fpmath.DecimalPolicy) OutstandingLine {
	if cityRate == nil {
		line.AllocatedAmountCity = decimal.Zero
		return line
	}
	line.AllocatedAmountCity = fpmath.MulRound(line.AllocatedAmount, policy.Rate(*cityRate), policy.LocalAmountDecimals)
	return line
}

// RecalcAll recalculates every line, e.g. after a rate change or an
// auto-allocation pass.
func RecalcAll(lines []OutstandingLine, rates Rates, policy fpmath.DecimalPolicy) []OutstandingLine {
	out := make([]OutstandingLine, len(lines))
	for i, line := range lines {
		line = RecalcLocalAndGainLoss(line, rates.Settlement, policy)
		out[i] = RecalcCity(line, rates.City, policy)
	}
	return out
}
