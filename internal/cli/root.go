// Package cli implements allocctl, an offline tool that runs the allocation
// engine over a YAML worksheet and prints the result.
package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"ContraLedger/internal/allocation"
	"ContraLedger/internal/modules"
	"ContraLedger/internal/session"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Result is what every command prints.
type Result struct {
	Module     modules.Kind      `yaml:"module"`
	Header     allocation.Header `yaml:"header"`
	Applied    *decimal.Decimal  `yaml:"applied,omitempty"`
	AutoZeroed bool              `yaml:"auto_zeroed,omitempty"`
	Documents  interface{}       `yaml:"documents"`
}

// NewRootCmd builds the allocctl command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "allocctl",
		Short: "Run set-off allocations over a worksheet file",
		Long: `allocctl loads a settlement worksheet (module, header and documents in the
module's own shape), applies one allocation step and prints the worksheet
back with allocations, local amounts, gain/loss and header totals filled in.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringP("format", "o", "yaml", "Output format: yaml or table")

	root.AddCommand(newAutoCmd(), newEditCmd(), newRatesCmd(), newTotalsCmd())
	return root
}

// ─── auto ───────────────────────────────────────────────────────────────────

func newAutoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auto WORKSHEET",
		Short: "Net debits against credits automatically",
		Args:  cobra.ExactArgs(1),
		RunE:  runAuto,
	}
	cmd.Flags().String("ceiling", "", "Never match more than this amount")
	return cmd
}

func runAuto(cmd *cobra.Command, args []string) error {
	ws, s, err := open(args[0])
	if err != nil {
		return err
	}

	ceiling := decimal.Zero
	if v, _ := cmd.Flags().GetString("ceiling"); v != "" {
		if ceiling, err = decimal.NewFromString(v); err != nil {
			return fmt.Errorf("invalid --ceiling: %w", err)
		}
	}

	s, applied, err := s.AutoAllocateWithin(ceiling)
	if err != nil {
		return err
	}
	return render(cmd, ws, s, func(r *Result) { r.Applied = &applied })
}

// ─── edit ───────────────────────────────────────────────────────────────────

func newEditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edit WORKSHEET",
		Short: "Set the allocation of one line by hand",
		Long: `Set the allocation of one line. The amount is clamped to what the line
and the rest of the settlement allow; a line with nothing left to allocate
is forced to zero.`,
		Args: cobra.ExactArgs(1),
		RunE: runEdit,
	}
	cmd.Flags().Int("line", 0, "Line number to edit (required)")
	cmd.Flags().String("amount", "", "Requested allocation (required)")
	cmd.Flags().Bool("netting-cap", false, "Also cap at what the opposite side can absorb")
	cmd.MarkFlagRequired("line")
	cmd.MarkFlagRequired("amount")
	return cmd
}

func runEdit(cmd *cobra.Command, args []string) error {
	ws, s, err := open(args[0])
	if err != nil {
		return err
	}

	lineNo, _ := cmd.Flags().GetInt("line")
	raw, _ := cmd.Flags().GetString("amount")
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("invalid --amount: %w", err)
	}

	var opts []allocation.EditOption
	if capped, _ := cmd.Flags().GetBool("netting-cap"); capped {
		opts = append(opts, allocation.WithNettingCap())
	}

	s, zeroed, err := s.EditAllocation(lineNo, amount, opts...)
	if err != nil {
		return err
	}
	return render(cmd, ws, s, func(r *Result) { r.AutoZeroed = zeroed })
}

// ─── rates ──────────────────────────────────────────────────────────────────

func newRatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rates WORKSHEET",
		Short: "Change the settlement exchange rates and recalculate",
		Args:  cobra.ExactArgs(1),
		RunE:  runRates,
	}
	cmd.Flags().String("rate", "", "Settlement exchange rate (required)")
	cmd.Flags().String("city-rate", "", "Secondary currency rate")
	cmd.MarkFlagRequired("rate")
	return cmd
}

func runRates(cmd *cobra.Command, args []string) error {
	ws, s, err := open(args[0])
	if err != nil {
		return err
	}

	raw, _ := cmd.Flags().GetString("rate")
	rate, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("invalid --rate: %w", err)
	}
	var city *decimal.Decimal
	if v, _ := cmd.Flags().GetString("city-rate"); v != "" {
		c, err := decimal.NewFromString(v)
		if err != nil {
			return fmt.Errorf("invalid --city-rate: %w", err)
		}
		city = &c
	}

	s, err = s.ChangeRates(rate, city)
	if err != nil {
		return err
	}
	return render(cmd, ws, s, nil)
}

// ─── totals ─────────────────────────────────────────────────────────────────

func newTotalsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "totals WORKSHEET",
		Short: "Recalculate derived amounts and header totals without allocating",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, s, err := open(args[0])
			if err != nil {
				return err
			}
			return render(cmd, ws, s, nil)
		},
	}
}

// --- helpers ---

func open(path string) (*Worksheet, session.Session, error) {
	ws, err := LoadWorksheet(path)
	if err != nil {
		return nil, session.Session{}, err
	}
	s, err := ws.Session()
	if err != nil {
		return nil, session.Session{}, err
	}
	return ws, s, nil
}

func render(cmd *cobra.Command, ws *Worksheet, s session.Session, decorate func(*Result)) error {
	docs, err := ws.WriteBack(s.Lines())
	if err != nil {
		return err
	}
	res := Result{Module: s.Kind(), Header: s.Header(), Documents: docs}
	if decorate != nil {
		decorate(&res)
	}

	out := cmd.OutOrStdout()
	format, _ := cmd.Flags().GetString("format")
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(res); err != nil {
			return err
		}
		return enc.Close()
	case "table":
		return writeTable(out, res, s.Lines())
	default:
		return fmt.Errorf("unknown --format %q (use yaml or table)", format)
	}
}

func writeTable(out io.Writer, res Result, lines []allocation.OutstandingLine) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "LINE\tKIND\tDOC NO\tBALANCE\tALLOCATED\tLOCAL\tGAIN/LOSS\t")
	for _, l := range lines {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t\n",
			l.LineNo, l.Document.Kind, l.Document.Number,
			l.DocumentBalance, l.AllocatedAmount, l.AllocatedAmountLocal, l.ExchangeGainLoss)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	h := res.Header
	fmt.Fprintf(out, "\nsettlement %s %s  allocated %s  unallocated %s  gain/loss %s\n",
		h.SettlementCurrency, h.SettlementBalance, h.AllocatedTotal, h.UnallocatedTotal, h.TotalExchangeGainLoss)
	if res.Applied != nil {
		fmt.Fprintf(out, "applied %s\n", res.Applied)
	}
	if res.AutoZeroed {
		fmt.Fprintln(out, "line forced to zero: nothing left to allocate")
	}
	return nil
}
