package allocation

import (
	"errors"
	"fmt"

	fpmath "ContraLedger/internal/math"

	"github.com/shopspring/decimal"
)

// ErrInvariantViolation is the sentinel wrapped by every InvariantError.
var ErrInvariantViolation = errors.New("allocation: invariant violation")

// Invariant names a rule checked by CheckInvariants.
type Invariant string

const (
	InvariantSign        Invariant = "sign"
	InvariantMagnitude   Invariant = "magnitude"
	InvariantNetting     Invariant = "netting"
	InvariantUnallocated Invariant = "unallocated"
	InvariantLineNo      Invariant = "line_no"
)

// InvariantError describes the first broken rule.
type InvariantError struct {
	Rule   Invariant
	LineNo int // 0 for header-level rules
	Detail string
}

func (e *InvariantError) Error() string {
	if e.LineNo == 0 {
		return fmt.Sprintf("%s: %s: %s", ErrInvariantViolation, e.Rule, e.Detail)
	}
	return fmt.Sprintf("%s: %s: line %d: %s", ErrInvariantViolation, e.Rule, e.LineNo, e.Detail)
}

func (e *InvariantError) Unwrap() error {
	return ErrInvariantViolation
}

// CheckLines verifies the per-line rules: unique line numbers, allocation sign
// follows the balance sign, allocation never exceeds the balance.
func CheckLines(lines []OutstandingLine) error {
	seen := make(map[int]struct{}, len(lines))
	for _, l := range lines {
		if _, dup := seen[l.LineNo]; dup {
			return &InvariantError{Rule: InvariantLineNo, LineNo: l.LineNo, Detail: "duplicate line number"}
		}
		seen[l.LineNo] = struct{}{}

		if !fpmath.SameSign(l.AllocatedAmount, l.DocumentBalance) {
			return &InvariantError{
				Rule:   InvariantSign,
				LineNo: l.LineNo,
				Detail: fmt.Sprintf("allocated %s against balance %s", l.AllocatedAmount, l.DocumentBalance),
			}
		}

		if l.AllocatedAmount.Abs().GreaterThan(l.DocumentBalance.Abs()) {
			return &InvariantError{
				Rule:   InvariantMagnitude,
				LineNo: l.LineNo,
				Detail: fmt.Sprintf("|allocated| %s exceeds |balance| %s", l.AllocatedAmount.Abs(), l.DocumentBalance.Abs()),
			}
		}
	}
	return nil
}

// CheckInvariants verifies the per-line rules plus the netting and
// unallocated identities of t.
func CheckInvariants(lines []OutstandingLine, t Totals, settlementBalance decimal.Decimal, policy fpmath.DecimalPolicy) error {
	if err := CheckLines(lines); err != nil {
		return err
	}

	want := ComputeTotals(lines, settlementBalance, policy)
	if !t.AllocatedTotal.Equal(fpmath.Min(want.PositiveSum, want.NegativeAbsSum)) {
		return &InvariantError{
			Rule:   InvariantNetting,
			Detail: fmt.Sprintf("allocated total %s, sides %s/%s", t.AllocatedTotal, want.PositiveSum, want.NegativeAbsSum),
		}
	}

	if !t.UnallocatedTotal.Equal(policy.Amount(settlementBalance.Sub(t.AllocatedTotal))) {
		return &InvariantError{
			Rule:   InvariantUnallocated,
			Detail: fmt.Sprintf("unallocated %s, balance %s, allocated %s", t.UnallocatedTotal, settlementBalance, t.AllocatedTotal),
		}
	}

	return nil
}
