package allocation

import (
	"fmt"

	fpmath "ContraLedger/internal/math"

	"github.com/shopspring/decimal"
)

type editConfig struct {
	nettingCap bool
}

// EditOption tunes ValidateManualEdit.
type EditOption func(*editConfig)

// WithNettingCap additionally bounds the edited line by what the opposite side
// can still absorb: sum(|opposite balances|) - sum(|other allocations on this side|).
func WithNettingCap() EditOption {
	return func(c *editConfig) { c.nettingCap = true }
}

// ValidateManualEdit validates and clamps a user-edited allocation for the line
// at rowIndex. It never fails on numeric input: wrong signs are flipped,
// overshoots are clamped and exhausted lines are zeroed. The returned flag is
// true only when the line was forced to zero.
//
// rowIndex must address an existing line; anything else is a programming
// error and panics.
func ValidateManualEdit(
	lines []OutstandingLine,
	rowIndex int,
	requested decimal.Decimal,
	policy fpmath.DecimalPolicy,
	opts ...EditOption,
) (OutstandingLine, bool) {
	if rowIndex < 0 || rowIndex >= len(lines) {
		panic(fmt.Sprintf("allocation: manual edit row %d out of range [0,%d)", rowIndex, len(lines)))
	}

	var cfg editConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	line := lines[rowIndex]
	balance := policy.Limit(line.DocumentBalance)
	current := line.AllocatedAmount

	amount := fpmath.WithSignOf(policy.Amount(requested), balance)

	if amount.IsZero() {
		line.AllocatedAmount = decimal.Zero
		// Zeroing a line that had an allocation because of a zero balance is
		// still a forced correction.
		return line, balance.IsZero() && !requested.IsZero()
	}

	if amount.Equal(current) {
		return line, false
	}

	remaining := balance.Abs().Sub(current.Abs())
	limit := balance.Abs()

	if cfg.nettingCap {
		capacity := nettingCapacity(lines, rowIndex, policy)
		remaining = fpmath.Min(remaining, capacity)
		limit = fpmath.Min(limit, capacity)
	}

	if !remaining.IsPositive() {
		line.AllocatedAmount = decimal.Zero
		return line, true
	}

	line.AllocatedAmount = fpmath.ClampAbs(amount, limit)
	return line, false
}

// ApplyManualEdit runs ValidateManualEdit and returns a new collection with the
// edited line replaced.
func ApplyManualEdit(
	lines []OutstandingLine,
	rowIndex int,
	requested decimal.Decimal,
	policy fpmath.DecimalPolicy,
	opts ...EditOption,
) ([]OutstandingLine, bool) {
	line, zeroed := ValidateManualEdit(lines, rowIndex, requested, policy, opts...)
	out := Clone(lines)
	out[rowIndex] = line
	return out, zeroed
}

func nettingCapacity(lines []OutstandingLine, rowIndex int, policy fpmath.DecimalPolicy) decimal.Decimal {
	edited := lines[rowIndex]
	opposite := decimal.Zero
	sameOthers := decimal.Zero

	for i, l := range lines {
		switch {
		case l.DocumentBalance.Sign() == 0:
			continue
		case l.DocumentBalance.Sign() != edited.DocumentBalance.Sign():
			opposite = opposite.Add(policy.Limit(l.DocumentBalance).Abs())
		case i != rowIndex:
			sameOthers = sameOthers.Add(l.AllocatedAmount.Abs())
		}
	}

	return policy.Amount(opposite.Sub(sameOthers))
}
