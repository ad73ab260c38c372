package modules

import (
	"ContraLedger/internal/allocation"

	"github.com/shopspring/decimal"
)

// Direction says whose documents a cash-book payment settles.
type Direction string

const (
	DirectionPayable    Direction = "payable"
	DirectionReceivable Direction = "receivable"
)

// CBPaymentDocument is a document knocked off by a cash-book payment.
// Balance is stored positive in the module; credit notes carry TransType CN.
type CBPaymentDocument struct {
	TransType    string          `json:"trans_type" yaml:"trans_type"`
	Direction    Direction       `json:"direction" yaml:"direction"`
	DocKey       string          `json:"doc_key" yaml:"doc_key"`
	DocNo        string          `json:"doc_no" yaml:"doc_no"`
	Rate         decimal.Decimal `json:"rate" yaml:"rate"`
	Balance      decimal.Decimal `json:"balance" yaml:"balance"`
	BalanceLocal decimal.Decimal `json:"balance_local" yaml:"balance_local"`
	PayAmount    decimal.Decimal `json:"pay_amount" yaml:"pay_amount"`
	PayLocal     decimal.Decimal `json:"pay_local" yaml:"pay_local"`
	GainLoss     decimal.Decimal `json:"gain_loss" yaml:"gain_loss"`
	Version      int64           `json:"version" yaml:"version"`
}

func (d CBPaymentDocument) isCredit() bool {
	return d.TransType == "CN"
}

func (d CBPaymentDocument) kind() string {
	if d.Direction == DirectionReceivable {
		return "AR:" + d.TransType
	}
	return "AP:" + d.TransType
}

type CBPaymentDocuments []CBPaymentDocument

func (docs CBPaymentDocuments) Lines() []allocation.OutstandingLine {
	out := make([]allocation.OutstandingLine, 0, len(docs))
	for i, d := range docs {
		ref := allocation.DocumentRef{Kind: d.kind(), ID: d.DocKey, Number: d.DocNo}
		out = append(out, canonicalLine(i+1, ref, d.Rate, d.Balance, d.BalanceLocal, d.PayAmount, d.isCredit(), d.Version))
	}
	return out
}

func (docs CBPaymentDocuments) WriteBack(lines []allocation.OutstandingLine) CBPaymentDocuments {
	idx := byDocumentID(lines)
	out := make(CBPaymentDocuments, len(docs))
	for i, d := range docs {
		if l, ok := idx[d.DocKey]; ok {
			d.PayAmount = l.AllocatedAmount.Abs()
			d.PayLocal = l.AllocatedAmountLocal.Abs()
			d.GainLoss = l.ExchangeGainLoss
			d.Version = l.EditVersion
		}
		out[i] = d
	}
	return out
}
