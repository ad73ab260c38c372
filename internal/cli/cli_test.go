package cli_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ContraLedger/internal/allocation"
	"ContraLedger/internal/cli"
	"ContraLedger/internal/modules"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const arWorksheet = `
module: ar_setoff
header:
  settlement_currency: USD
  settlement_balance: "500"
  settlement_exchange_rate: "4.5"
documents:
  - {doc_type: IV, doc_key: k1, doc_no: IV-0001, rate: "4.4", outstanding: "300"}
  - {doc_type: IV, doc_key: k2, doc_no: IV-0002, rate: "4.4", outstanding: "100"}
  - {doc_type: CN, doc_key: k3, doc_no: CN-0001, rate: "4.5", outstanding: "200"}
`

type arOutput struct {
	Module     modules.Kind              `yaml:"module"`
	Header     allocation.Header         `yaml:"header"`
	Applied    *decimal.Decimal          `yaml:"applied"`
	AutoZeroed bool                      `yaml:"auto_zeroed"`
	Documents  modules.ARSetOffDocuments `yaml:"documents"`
}

func writeWorksheet(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "worksheet.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := cli.NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func decodeAR(t *testing.T, out string) arOutput {
	t.Helper()
	var res arOutput
	require.NoError(t, yaml.Unmarshal([]byte(out), &res))
	return res
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestAuto_WritesBackModuleDocuments(t *testing.T) {
	out, err := run(t, "auto", writeWorksheet(t, arWorksheet))
	require.NoError(t, err)

	res := decodeAR(t, out)
	require.Equal(t, modules.KindARSetOff, res.Module)
	require.NotNil(t, res.Applied)
	require.True(t, d("200").Equal(*res.Applied))

	// 200 of debits scaled 3:1 across the invoices, the credit note in full
	require.True(t, d("150").Equal(res.Documents[0].SetOffAmount))
	require.True(t, d("50").Equal(res.Documents[1].SetOffAmount))
	require.True(t, d("200").Equal(res.Documents[2].SetOffAmount))
	require.True(t, d("200").Equal(res.Header.AllocatedTotal))
	require.True(t, d("300").Equal(res.Header.UnallocatedTotal))

	// Gain/loss on the invoices comes from the 4.4 -> 4.5 rate move
	require.False(t, res.Documents[0].GainLoss.IsZero())
	require.True(t, res.Documents[2].GainLoss.IsZero())
}

func TestAuto_Ceiling(t *testing.T) {
	out, err := run(t, "auto", writeWorksheet(t, arWorksheet), "--ceiling", "80")
	require.NoError(t, err)

	res := decodeAR(t, out)
	require.True(t, d("80").Equal(*res.Applied))
	require.True(t, d("80").Equal(res.Documents[2].SetOffAmount))

	_, err = run(t, "auto", writeWorksheet(t, arWorksheet), "--ceiling", "lots")
	require.Error(t, err)
}

func TestEdit(t *testing.T) {
	path := writeWorksheet(t, arWorksheet)

	out, err := run(t, "edit", path, "--line", "1", "--amount", "120")
	require.NoError(t, err)
	res := decodeAR(t, out)
	require.False(t, res.AutoZeroed)
	require.True(t, d("120").Equal(res.Documents[0].SetOffAmount))

	// Clamped to the document balance
	out, err = run(t, "edit", path, "--line", "2", "--amount", "999")
	require.NoError(t, err)
	res = decodeAR(t, out)
	require.True(t, d("100").Equal(res.Documents[1].SetOffAmount))

	_, err = run(t, "edit", path, "--line", "9", "--amount", "1")
	require.Error(t, err)

	_, err = run(t, "edit", path, "--line", "1")
	require.Error(t, err)
}

func TestEdit_FullyAllocatedLineIsForcedToZero(t *testing.T) {
	ws := strings.Replace(arWorksheet, `outstanding: "100"}`, `outstanding: "100", set_off_amount: "100"}`, 1)

	out, err := run(t, "edit", writeWorksheet(t, ws), "--line", "2", "--amount", "30")
	require.NoError(t, err)
	res := decodeAR(t, out)
	require.True(t, res.AutoZeroed)
	require.True(t, res.Documents[1].SetOffAmount.IsZero())
}

func TestEdit_ZeroSettlementBalance(t *testing.T) {
	ws := strings.Replace(arWorksheet, `settlement_balance: "500"`, `settlement_balance: "0"`, 1)

	_, err := run(t, "edit", writeWorksheet(t, ws), "--line", "1", "--amount", "10")
	require.Error(t, err)
}

func TestRatesAndTotals(t *testing.T) {
	ws := strings.Replace(arWorksheet, `outstanding: "300"}`, `outstanding: "300", set_off_amount: "100"}`, 1)
	ws = strings.Replace(ws, `outstanding: "200"}`, `outstanding: "200", set_off_amount: "100"}`, 1)
	path := writeWorksheet(t, ws)

	out, err := run(t, "totals", path)
	require.NoError(t, err)
	res := decodeAR(t, out)
	require.Nil(t, res.Applied)
	require.True(t, d("100").Equal(res.Header.AllocatedTotal))
	// Invoice at 4.4 settled at 4.5; the credit note is at the settlement rate
	require.True(t, d("-10").Equal(res.Header.TotalExchangeGainLoss))

	out, err = run(t, "rates", path, "--rate", "4.4")
	require.NoError(t, err)
	res = decodeAR(t, out)
	require.True(t, d("4.4").Equal(res.Header.SettlementExchangeRate))
	require.True(t, res.Documents[0].GainLoss.IsZero())

	_, err = run(t, "rates", path, "--rate", "0")
	require.Error(t, err)
}

func TestTableFormat(t *testing.T) {
	out, err := run(t, "auto", writeWorksheet(t, arWorksheet), "-o", "table")
	require.NoError(t, err)
	require.Contains(t, out, "DOC NO")
	require.Contains(t, out, "IV-0001")
	require.Contains(t, out, "applied 200")

	_, err = run(t, "totals", writeWorksheet(t, arWorksheet), "-o", "xml")
	require.Error(t, err)
}

func TestWorksheetErrors(t *testing.T) {
	_, err := run(t, "totals", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = run(t, "totals", writeWorksheet(t, "module: payroll\n"))
	require.ErrorIs(t, err, modules.ErrUnknownKind)

	ws, err := cli.ParseWorksheet([]byte("module: GL_CONTRA\nheader:\n  settlement_exchange_rate: \"1\"\n"))
	require.NoError(t, err)
	require.Equal(t, modules.KindGLContra, ws.Module)
	lines, err := ws.Lines()
	require.NoError(t, err)
	require.Empty(t, lines)
}
