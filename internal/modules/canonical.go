package modules

import (
	"ContraLedger/internal/allocation"

	"github.com/shopspring/decimal"
)

// signed applies the engine sign convention to a module magnitude.
func signed(magnitude decimal.Decimal, credit bool) decimal.Decimal {
	if credit {
		return magnitude.Abs().Neg()
	}
	return magnitude.Abs()
}

func canonicalLine(no int, ref allocation.DocumentRef, rate, balance, balanceLocal, allocated decimal.Decimal, credit bool, version int64) allocation.OutstandingLine {
	return allocation.OutstandingLine{
		LineNo:               no,
		Document:             ref,
		DocumentExchangeRate: rate,
		DocumentBalance:      signed(balance, credit),
		DocumentBalanceLocal: signed(balanceLocal, credit),
		AllocatedAmount:      signed(allocated, credit),
		EditVersion:          version,
	}
}

// byDocumentID indexes lines for write-back.
func byDocumentID(lines []allocation.OutstandingLine) map[string]allocation.OutstandingLine {
	m := make(map[string]allocation.OutstandingLine, len(lines))
	for _, l := range lines {
		m[l.Document.ID] = l
	}
	return m
}
