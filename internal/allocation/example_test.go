package allocation_test

import (
	"fmt"

	"ContraLedger/internal/allocation"
	fpmath "ContraLedger/internal/math"

	"github.com/shopspring/decimal"
)

func ExampleAutoAllocate() {
	lines := []allocation.OutstandingLine{
		{LineNo: 1, DocumentBalance: decimal.RequireFromString("1000.00"), DocumentExchangeRate: decimal.NewFromInt(1)},
		{LineNo: 2, DocumentBalance: decimal.RequireFromString("-600.00"), DocumentExchangeRate: decimal.NewFromInt(1)},
	}

	lines, applied := allocation.AutoAllocate(lines, fpmath.DefaultPolicy)

	fmt.Println(applied.StringFixed(2))
	fmt.Println(lines[0].AllocatedAmount.StringFixed(2), lines[1].AllocatedAmount.StringFixed(2))

	// Output:
	// 600.00
	// 600.00 -600.00
}
