package modules

import (
	"ContraLedger/internal/allocation"

	"github.com/shopspring/decimal"
)

// Ledger is the side of a GL contra item.
type Ledger string

const (
	LedgerAR Ledger = "AR"
	LedgerAP Ledger = "AP"
)

// GLContraDocument is an AR or AP item in a contra. AR items are debits, AP
// items are credits.
type GLContraDocument struct {
	Ledger       Ledger          `json:"ledger" yaml:"ledger"`
	DocKey       string          `json:"doc_key" yaml:"doc_key"`
	DocNo        string          `json:"doc_no" yaml:"doc_no"`
	Rate         decimal.Decimal `json:"rate" yaml:"rate"`
	Amount       decimal.Decimal `json:"amount" yaml:"amount"`
	AmountLocal  decimal.Decimal `json:"amount_local" yaml:"amount_local"`
	ContraAmount decimal.Decimal `json:"contra_amount" yaml:"contra_amount"`
	ContraLocal  decimal.Decimal `json:"contra_local" yaml:"contra_local"`
	GainLoss     decimal.Decimal `json:"gain_loss" yaml:"gain_loss"`
	Version      int64           `json:"version" yaml:"version"`
}

type GLContraDocuments []GLContraDocument

func (docs GLContraDocuments) Lines() []allocation.OutstandingLine {
	out := make([]allocation.OutstandingLine, 0, len(docs))
	for i, d := range docs {
		ref := allocation.DocumentRef{Kind: string(d.Ledger), ID: d.DocKey, Number: d.DocNo}
		out = append(out, canonicalLine(i+1, ref, d.Rate, d.Amount, d.AmountLocal, d.ContraAmount, d.Ledger == LedgerAP, d.Version))
	}
	return out
}

func (docs GLContraDocuments) WriteBack(lines []allocation.OutstandingLine) GLContraDocuments {
	idx := byDocumentID(lines)
	out := make(GLContraDocuments, len(docs))
	for i, d := range docs {
		if l, ok := idx[d.DocKey]; ok {
			d.ContraAmount = l.AllocatedAmount.Abs()
			d.ContraLocal = l.AllocatedAmountLocal.Abs()
			d.GainLoss = l.ExchangeGainLoss
			d.Version = l.EditVersion
		}
		out[i] = d
	}
	return out
}
