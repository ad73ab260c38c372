package modules

import (
	"ContraLedger/internal/allocation"

	"github.com/shopspring/decimal"
)

// AR document types that reduce what the customer owes.
var arCreditTypes = map[string]bool{
	"CN": true, // credit note
	"PM": true, // payment
	"DP": true, // deposit
}

// ARSetOffDocument is a customer document in an AR set-off. Amounts are stored
// as magnitudes; the document type decides the side.
type ARSetOffDocument struct {
	DocType          string          `json:"doc_type" yaml:"doc_type"`
	DocKey           string          `json:"doc_key" yaml:"doc_key"`
	DocNo            string          `json:"doc_no" yaml:"doc_no"`
	Rate             decimal.Decimal `json:"rate" yaml:"rate"`
	Outstanding      decimal.Decimal `json:"outstanding" yaml:"outstanding"`
	OutstandingLocal decimal.Decimal `json:"outstanding_local" yaml:"outstanding_local"`
	SetOffAmount     decimal.Decimal `json:"set_off_amount" yaml:"set_off_amount"`
	SetOffLocal      decimal.Decimal `json:"set_off_local" yaml:"set_off_local"`
	GainLoss         decimal.Decimal `json:"gain_loss" yaml:"gain_loss"`
	Version          int64           `json:"version" yaml:"version"`
}

func (d ARSetOffDocument) isCredit() bool {
	return arCreditTypes[d.DocType]
}

type ARSetOffDocuments []ARSetOffDocument

// Lines maps the documents to outstanding lines in order.
func (docs ARSetOffDocuments) Lines() []allocation.OutstandingLine {
	out := make([]allocation.OutstandingLine, 0, len(docs))
	for i, d := range docs {
		ref := allocation.DocumentRef{Kind: d.DocType, ID: d.DocKey, Number: d.DocNo}
		out = append(out, canonicalLine(i+1, ref, d.Rate, d.Outstanding, d.OutstandingLocal, d.SetOffAmount, d.isCredit(), d.Version))
	}
	return out
}

// WriteBack copies allocation results onto the documents, matched by DocKey.
// Documents without a line are returned unchanged.
func (docs ARSetOffDocuments) WriteBack(lines []allocation.OutstandingLine) ARSetOffDocuments {
	idx := byDocumentID(lines)
	out := make(ARSetOffDocuments, len(docs))
	for i, d := range docs {
		if l, ok := idx[d.DocKey]; ok {
			d.SetOffAmount = l.AllocatedAmount.Abs()
			d.SetOffLocal = l.AllocatedAmountLocal.Abs()
			d.GainLoss = l.ExchangeGainLoss
			d.Version = l.EditVersion
		}
		out[i] = d
	}
	return out
}
