// Package allocation implements the set-off engine: it matches a settlement
// against outstanding documents, distributes the allocation across them and
// derives local-currency amounts, exchange gain/loss and header totals.
//
// Every operation is a pure function over a line collection plus a
// math.DecimalPolicy. Operations return new slices; inputs are never mutated.
package allocation

import (
	"github.com/shopspring/decimal"
)

// DocumentRef identifies the source document. Opaque to the engine.
type DocumentRef struct {
	Kind   string `json:"kind" yaml:"kind"`     // transaction kind, e.g. INV, CN, DN, RF
	ID     string `json:"id" yaml:"id"`         // document id in the owning module
	Number string `json:"number" yaml:"number"` // human document number
}

// OutstandingLine is one document being settled.
//
// DocumentBalance carries the debit/credit sign: positive for debit items
// (invoices), negative for credit items (credit notes, refunds). The sign never
// changes during allocation. AllocatedAmount is either zero or carries the same
// sign, with |AllocatedAmount| <= |DocumentBalance|.
type OutstandingLine struct {
	LineNo   int         `json:"line_no" yaml:"line_no"`
	Document DocumentRef `json:"document" yaml:"document"`

	DocumentExchangeRate decimal.Decimal `json:"document_exchange_rate" yaml:"document_exchange_rate"`
	DocumentBalance      decimal.Decimal `json:"document_balance" yaml:"document_balance"`
	DocumentBalanceLocal decimal.Decimal `json:"document_balance_local" yaml:"document_balance_local"`

	AllocatedAmount decimal.Decimal `json:"allocated_amount" yaml:"allocated_amount"`

	// Derived by RecalcLocalAndGainLoss.
	AllocatedAmountLocal decimal.Decimal `json:"allocated_amount_local" yaml:"allocated_amount_local"`
	AllocatedAmountCity  decimal.Decimal `json:"allocated_amount_city" yaml:"allocated_amount_city"`
	ExchangeGainLoss     decimal.Decimal `json:"exchange_gain_loss" yaml:"exchange_gain_loss"`
	CentDifference       decimal.Decimal `json:"cent_difference" yaml:"cent_difference"`

	// Optimistic concurrency counter of the backing store, passed through.
	EditVersion int64 `json:"edit_version" yaml:"edit_version"`
}

// IsDebit reports whether the line is a debit item.
func (l OutstandingLine) IsDebit() bool {
	return l.DocumentBalance.IsPositive()
}

// IsCredit reports whether the line is a credit item.
func (l OutstandingLine) IsCredit() bool {
	return l.DocumentBalance.IsNegative()
}

// Header holds the settlement-level fields. The caller owns it; NetTotals
// produces the derived aggregates written back through ApplyTotals.
type Header struct {
	// ISO currency of the settlement; rate updates are routed by it
	SettlementCurrency string `json:"settlement_currency" yaml:"settlement_currency"`

	SettlementBalance          decimal.Decimal  `json:"settlement_balance" yaml:"settlement_balance"`
	SettlementExchangeRate     decimal.Decimal  `json:"settlement_exchange_rate" yaml:"settlement_exchange_rate"`
	SettlementCityExchangeRate *decimal.Decimal `json:"settlement_city_exchange_rate,omitempty" yaml:"settlement_city_exchange_rate,omitempty"`

	AllocatedTotal        decimal.Decimal `json:"allocated_total" yaml:"allocated_total"`
	AllocatedTotalLocal   decimal.Decimal `json:"allocated_total_local" yaml:"allocated_total_local"`
	AllocatedTotalCity    decimal.Decimal `json:"allocated_total_city" yaml:"allocated_total_city"`
	UnallocatedTotal      decimal.Decimal `json:"unallocated_total" yaml:"unallocated_total"`
	TotalExchangeGainLoss decimal.Decimal `json:"total_exchange_gain_loss" yaml:"total_exchange_gain_loss"`
}

// Rates returns the rates used by RecalcAll.
func (h Header) Rates() Rates {
	return Rates{Settlement: h.SettlementExchangeRate, City: h.SettlementCityExchangeRate}
}

// Clone returns a deep copy of lines.
func Clone(lines []OutstandingLine) []OutstandingLine {
	if lines == nil {
		return nil
	}
	out := make([]OutstandingLine, len(lines))
	copy(out, lines)
	return out
}

// IndexOf returns the slice index of lineNo, or -1.
func IndexOf(lines []OutstandingLine, lineNo int) int {
	for i := range lines {
		if lines[i].LineNo == lineNo {
			return i
		}
	}
	return -1
}
