package modules_test

import (
	"encoding/json"
	"testing"

	"ContraLedger/internal/allocation"
	fpmath "ContraLedger/internal/math"
	"ContraLedger/internal/modules"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestParseKind(t *testing.T) {
	k, err := modules.ParseKind(" AR_SetOff ")
	require.NoError(t, err)
	require.Equal(t, modules.KindARSetOff, k)

	_, err = modules.ParseKind("payroll")
	require.ErrorIs(t, err, modules.ErrUnknownKind)
}

func TestPolicyFor(t *testing.T) {
	require.Equal(t, int32(8), modules.DefaultPolicy(modules.KindCBPayment).ExchangeRateDecimals)
	require.Equal(t, fpmath.DefaultPolicy, modules.DefaultPolicy("unknown"))

	override := fpmath.DecimalPolicy{AmountDecimals: 0, LocalAmountDecimals: 0, ExchangeRateDecimals: 4}
	got := modules.PolicyFor(modules.KindARSetOff, map[modules.Kind]fpmath.DecimalPolicy{modules.KindARSetOff: override})
	require.Equal(t, override, got)
	require.Equal(t, modules.DefaultPolicy(modules.KindGLContra), modules.PolicyFor(modules.KindGLContra, nil))
}

func TestARSetOff_SignsByDocType(t *testing.T) {
	docs := modules.ARSetOffDocuments{
		{DocType: "INV", DocKey: "i1", DocNo: "IV-001", Rate: d("1"), Outstanding: d("1000"), OutstandingLocal: d("1000")},
		{DocType: "CN", DocKey: "c1", DocNo: "CN-001", Rate: d("1"), Outstanding: d("600"), OutstandingLocal: d("600")},
	}

	lines := docs.Lines()

	require.Len(t, lines, 2)
	require.Equal(t, 1, lines[0].LineNo)
	require.True(t, lines[0].IsDebit())
	require.True(t, lines[1].IsCredit())
	require.True(t, d("-600").Equal(lines[1].DocumentBalance))
	require.Equal(t, "CN-001", lines[1].Document.Number)
}

func TestARSetOff_WriteBack(t *testing.T) {
	docs := modules.ARSetOffDocuments{
		{DocType: "INV", DocKey: "i1", Rate: d("1"), Outstanding: d("1000")},
		{DocType: "CN", DocKey: "c1", Rate: d("1"), Outstanding: d("600")},
		{DocType: "INV", DocKey: "untouched", Rate: d("1"), Outstanding: d("5")},
	}
	lines, _ := allocation.AutoAllocate(docs[:2].Lines(), fpmath.DefaultPolicy)
	lines = allocation.RecalcAll(lines, allocation.Rates{Settlement: d("1")}, fpmath.DefaultPolicy)

	out := docs.WriteBack(lines)

	require.True(t, d("600").Equal(out[0].SetOffAmount))
	require.True(t, d("600").Equal(out[1].SetOffAmount))
	require.True(t, d("600").Equal(out[1].SetOffLocal))
	require.True(t, out[2].SetOffAmount.IsZero())
	require.True(t, docs[0].SetOffAmount.IsZero())
}

func TestCBPayment_CreditNotesAreNegative(t *testing.T) {
	docs := modules.CBPaymentDocuments{
		{TransType: "INV", Direction: modules.DirectionPayable, DocKey: "p1", Rate: d("4.2"), Balance: d("300"), PayAmount: d("100")},
		{TransType: "CN", Direction: modules.DirectionPayable, DocKey: "p2", Rate: d("4.2"), Balance: d("50"), PayAmount: d("20")},
	}

	lines := docs.Lines()

	require.Equal(t, "AP:INV", lines[0].Document.Kind)
	require.True(t, d("100").Equal(lines[0].AllocatedAmount))
	require.True(t, d("-20").Equal(lines[1].AllocatedAmount))
	require.NoError(t, allocation.CheckLines(lines))
}

func TestGLContra_LedgerSides(t *testing.T) {
	docs := modules.GLContraDocuments{
		{Ledger: modules.LedgerAR, DocKey: "ar1", Rate: d("1"), Amount: d("80")},
		{Ledger: modules.LedgerAP, DocKey: "ap1", Rate: d("1"), Amount: d("120")},
	}

	lines, applied := allocation.AutoAllocate(docs.Lines(), fpmath.DefaultPolicy)
	require.True(t, d("80").Equal(applied))

	out := docs.WriteBack(lines)
	require.True(t, d("80").Equal(out[0].ContraAmount))
	require.True(t, d("80").Equal(out[1].ContraAmount))
}

func TestDecode_JSONAndYAML(t *testing.T) {
	raw := []byte(`[{"ledger":"AR","doc_key":"a","amount":"10.50","rate":"1"},{"ledger":"AP","doc_key":"b","amount":"4","rate":"1"}]`)
	lines, err := modules.Decode(modules.KindGLContra, func(v any) error { return json.Unmarshal(raw, v) })
	require.NoError(t, err)
	require.Len(t, lines, 2)
	require.True(t, d("-4").Equal(lines[1].DocumentBalance))

	src := `
- doc_type: INV
  doc_key: x
  outstanding: "12.34"
  rate: "1"
`
	var node yaml.Node
	require.NoError(t, yaml.Unmarshal([]byte(src), &node))
	lines, err = modules.Decode(modules.KindARSetOff, node.Decode)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	require.True(t, d("12.34").Equal(lines[0].DocumentBalance))

	_, err = modules.Decode("nope", node.Decode)
	require.ErrorIs(t, err, modules.ErrUnknownKind)

	_, err = modules.Decode(modules.KindCBPayment, func(v any) error { return json.Unmarshal([]byte(`{`), v) })
	require.Error(t, err)
}
