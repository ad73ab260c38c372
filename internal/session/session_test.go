package session_test

import (
	"testing"

	"ContraLedger/internal/allocation"
	fpmath "ContraLedger/internal/math"
	"ContraLedger/internal/modules"
	"ContraLedger/internal/session"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func seed(id, balance string) allocation.OutstandingLine {
	return allocation.OutstandingLine{
		Document:             allocation.DocumentRef{Kind: "INV", ID: id, Number: id},
		DocumentExchangeRate: d("1"),
		DocumentBalance:      d(balance),
		DocumentBalanceLocal: d(balance),
	}
}

func newSession(t *testing.T, balance string) session.Session {
	t.Helper()
	s, err := session.New(uuid.New(), modules.KindARSetOff, fpmath.DefaultPolicy, allocation.Header{
		SettlementBalance:      d(balance),
		SettlementExchangeRate: d("1"),
	})
	require.NoError(t, err)
	return s
}

// ============================================================================
// Lifecycle
// ============================================================================

func TestNew_RejectsBadInput(t *testing.T) {
	_, err := session.New(uuid.New(), modules.KindARSetOff, fpmath.DecimalPolicy{AmountDecimals: -1}, allocation.Header{SettlementExchangeRate: d("1")})
	require.ErrorIs(t, err, fpmath.ErrNegativeDecimals)

	_, err = session.New(uuid.New(), modules.KindARSetOff, fpmath.DefaultPolicy, allocation.Header{})
	require.ErrorIs(t, err, session.ErrInvalidRate)
}

func TestNew_UnallocatedIsBalance(t *testing.T) {
	s := newSession(t, "250")
	require.True(t, d("250").Equal(s.Header().UnallocatedTotal))
	require.Empty(t, s.Lines())
	require.Equal(t, int64(0), s.Version())
}

func TestOpen_StartsAtVersionOneWithNothingToUndo(t *testing.T) {
	s, err := session.Open(uuid.New(), modules.KindCBPayment, fpmath.DefaultPolicy, allocation.Header{
		SettlementBalance:      d("99.995"),
		SettlementExchangeRate: d("1"),
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), s.Version())
	require.False(t, s.CanUndo())
	require.True(t, d("100.00").Equal(s.Header().SettlementBalance))
	require.True(t, d("100.00").Equal(s.Header().UnallocatedTotal))

	_, err = s.Undo()
	require.ErrorIs(t, err, session.ErrNothingToUndo)

	_, err = session.Open(uuid.New(), modules.KindCBPayment, fpmath.DefaultPolicy, allocation.Header{})
	require.ErrorIs(t, err, session.ErrInvalidRate)
}

func TestAddDocuments_AssignsLineNumbers(t *testing.T) {
	s := newSession(t, "0")

	s, err := s.AddDocuments(seed("a", "100"), seed("b", "-40"))
	require.NoError(t, err)
	s, err = s.AddDocuments(withAllocation(seed("c", "10"), "10"))
	require.NoError(t, err)

	lines := s.Lines()
	require.Equal(t, []int{1, 2, 3}, lineNos(lines))
	require.True(t, lines[2].AllocatedAmount.IsZero())
	require.Equal(t, int64(2), s.Version())

	_, err = s.AddDocuments(seed("a", "1"))
	require.ErrorIs(t, err, session.ErrDuplicateDocument)
}

func TestRemoveLine_RetotalsWithoutIt(t *testing.T) {
	s := newSession(t, "1000")
	s, err := s.AddDocuments(seed("inv", "1000"), seed("cn1", "-600"), seed("cn2", "-100"))
	require.NoError(t, err)
	s, applied, err := s.AutoAllocate()
	require.NoError(t, err)
	require.True(t, d("700").Equal(applied))

	s, err = s.RemoveLine(3)
	require.NoError(t, err)

	// the debit side still carries 700 until the next auto pass
	require.True(t, d("600").Equal(s.Header().AllocatedTotal))
	require.True(t, d("400").Equal(s.Header().UnallocatedTotal))

	_, err = s.RemoveLine(3)
	require.ErrorIs(t, err, session.ErrLineNotFound)

	s, err = s.AddDocuments(seed("cn3", "-5"))
	require.NoError(t, err)
	require.Equal(t, []int{1, 2, 3}, lineNos(s.Lines()))
}

func TestReorder_KeepsLineIdentity(t *testing.T) {
	s := newSession(t, "10")
	s, err := s.AddDocuments(seed("a", "5"), seed("b", "-5"), seed("c", "3"))
	require.NoError(t, err)
	s, _, err = s.AutoAllocate()
	require.NoError(t, err)
	before := s.Lines()

	s, err = s.Reorder([]int{3, 1, 2})
	require.NoError(t, err)

	after := s.Lines()
	require.Equal(t, []int{3, 1, 2}, lineNos(after))
	require.Equal(t, before[0], after[1])
	require.Equal(t, before[2], after[0])
	require.Equal(t, before[0].AllocatedAmount, after[1].AllocatedAmount)

	_, err = s.Reorder([]int{1, 2})
	require.ErrorIs(t, err, session.ErrInvalidOrder)
	_, err = s.Reorder([]int{1, 1, 2})
	require.ErrorIs(t, err, session.ErrInvalidOrder)
	_, err = s.Reorder([]int{1, 2, 9})
	require.ErrorIs(t, err, session.ErrLineNotFound)
}

// ============================================================================
// Allocation
// ============================================================================

func TestEditAllocation_ZeroBalanceGuard(t *testing.T) {
	s := newSession(t, "0")
	s, err := s.AddDocuments(seed("inv", "500"))
	require.NoError(t, err)

	_, _, err = s.EditAllocation(1, d("300"))
	require.ErrorIs(t, err, session.ErrZeroSettlementBalance)

	s, err = s.SetSettlementBalance(d("500"))
	require.NoError(t, err)
	s, zeroed, err := s.EditAllocation(1, d("300"))
	require.NoError(t, err)
	require.False(t, zeroed)
	require.True(t, d("300").Equal(s.Lines()[0].AllocatedAmount))
	require.True(t, d("300").Equal(s.Lines()[0].AllocatedAmountLocal))
}

func TestEditAllocation_ReportsAutoZeroed(t *testing.T) {
	s := newSession(t, "200")
	s, err := s.AddDocuments(seed("inv", "200"))
	require.NoError(t, err)
	s, _, err = s.EditAllocation(1, d("200"))
	require.NoError(t, err)

	s, zeroed, err := s.EditAllocation(1, d("50"))
	require.NoError(t, err)
	require.True(t, zeroed)
	require.True(t, s.Lines()[0].AllocatedAmount.IsZero())

	_, _, err = s.EditAllocation(42, d("1"))
	require.ErrorIs(t, err, session.ErrLineNotFound)
}

func TestEditAllocation_NettingCapOption(t *testing.T) {
	s := newSession(t, "100")
	s, err := s.AddDocuments(seed("inv", "300"), seed("cn", "-80"))
	require.NoError(t, err)

	s, _, err = s.EditAllocation(1, d("300"), allocation.WithNettingCap())
	require.NoError(t, err)
	require.True(t, d("80").Equal(s.Lines()[0].AllocatedAmount))
}

func TestChangeRates_RecalculatesAll(t *testing.T) {
	s := newSession(t, "100")
	s, err := s.AddDocuments(seed("inv", "100"), seed("cn", "-100"))
	require.NoError(t, err)
	s, _, err = s.AutoAllocate()
	require.NoError(t, err)

	city := d("0.25")
	s, err = s.ChangeRates(d("1.1"), &city)
	require.NoError(t, err)

	lines := s.Lines()
	require.True(t, d("110").Equal(lines[0].AllocatedAmountLocal))
	require.True(t, d("-10").Equal(lines[0].ExchangeGainLoss))
	require.True(t, d("25").Equal(lines[0].AllocatedAmountCity))
	require.True(t, d("0").Equal(s.Header().AllocatedTotalLocal))
	require.NotNil(t, s.Header().SettlementCityExchangeRate)

	_, err = s.ChangeRates(decimal.Zero, nil)
	require.ErrorIs(t, err, session.ErrInvalidRate)
}

func TestAdoptAllocatedTotal(t *testing.T) {
	s := newSession(t, "0")
	s, adopted, err := s.AdoptAllocatedTotal()
	require.NoError(t, err)
	require.False(t, adopted)

	s, err = s.AddDocuments(seed("inv", "1000"), seed("cn", "-600"))
	require.NoError(t, err)
	s, _, err = s.AutoAllocate()
	require.NoError(t, err)

	s, adopted, err = s.AdoptAllocatedTotal()
	require.NoError(t, err)
	require.True(t, adopted)
	require.True(t, d("600").Equal(s.Header().SettlementBalance))
	require.True(t, s.Header().UnallocatedTotal.IsZero())

	_, adopted, err = s.AdoptAllocatedTotal()
	require.NoError(t, err)
	require.False(t, adopted)
}

// ============================================================================
// History and digest
// ============================================================================

func TestUndo(t *testing.T) {
	s := newSession(t, "100")
	s, err := s.AddDocuments(seed("inv", "100"), seed("cn", "-50"))
	require.NoError(t, err)
	beforeAuto := s.Lines()

	s, _, err = s.AutoAllocate()
	require.NoError(t, err)
	require.True(t, d("50").Equal(s.Header().AllocatedTotal))

	s, err = s.Undo()
	require.NoError(t, err)
	require.Equal(t, beforeAuto, s.Lines())
	require.True(t, s.Header().AllocatedTotal.IsZero())
	require.Equal(t, int64(3), s.Version())

	s, err = s.Undo()
	require.NoError(t, err)
	require.Empty(t, s.Lines())

	_, err = s.Undo()
	require.ErrorIs(t, err, session.ErrNothingToUndo)
}

func TestUndo_HistoryIsBounded(t *testing.T) {
	s := newSession(t, "100").WithHistoryLimit(2)
	var err error
	for _, v := range []string{"1", "2", "3", "4"} {
		s, err = s.SetSettlementBalance(d(v))
		require.NoError(t, err)
	}

	s, err = s.Undo()
	require.NoError(t, err)
	s, err = s.Undo()
	require.NoError(t, err)
	require.True(t, d("2").Equal(s.Header().SettlementBalance))
	require.False(t, s.CanUndo())
}

func TestOperationsDoNotMutateReceiver(t *testing.T) {
	s := newSession(t, "100")
	s, err := s.AddDocuments(seed("inv", "100"), seed("cn", "-100"))
	require.NoError(t, err)
	digest := s.Digest()

	_, _, err = s.AutoAllocate()
	require.NoError(t, err)
	_, _, err = s.EditAllocation(2, d("30"))
	require.NoError(t, err)

	require.Equal(t, digest, s.Digest())
	require.True(t, s.Lines()[0].AllocatedAmount.IsZero())
}

func TestDigest_TracksContentNotVersion(t *testing.T) {
	s := newSession(t, "100")
	s, err := s.AddDocuments(seed("inv", "100"))
	require.NoError(t, err)
	clean := s.Digest()

	edited, _, err := s.EditAllocation(1, d("10"))
	require.NoError(t, err)
	require.NotEqual(t, clean, edited.Digest())

	back, _, err := edited.EditAllocation(1, decimal.Zero)
	require.NoError(t, err)
	require.Equal(t, clean, back.Digest())
	require.NotEqual(t, s.Version(), back.Version())
}

func TestRestore(t *testing.T) {
	s := newSession(t, "100")
	s, err := s.AddDocuments(seed("inv", "100"), seed("cn", "-30"))
	require.NoError(t, err)
	s, _, err = s.AutoAllocate()
	require.NoError(t, err)

	restored, err := session.Restore(s.Snapshot())
	require.NoError(t, err)
	require.Equal(t, s.Digest(), restored.Digest())
	require.Equal(t, s.Version(), restored.Version())
	require.False(t, restored.CanUndo())

	bad := s.Snapshot()
	bad.Lines[0].AllocatedAmount = d("-1")
	_, err = session.Restore(bad)
	require.ErrorIs(t, err, allocation.ErrInvariantViolation)
}

func TestRestore_ExtraPrecisionBalancesStayWithinBalance(t *testing.T) {
	inv := seed("inv", "100.005")
	inv.LineNo = 1
	cn := seed("cn", "-200.00")
	cn.LineNo = 2
	restored, err := session.Restore(session.Snapshot{
		ID:     uuid.New(),
		Kind:   modules.KindARSetOff,
		Policy: fpmath.DefaultPolicy,
		Header: allocation.Header{SettlementBalance: d("100"), SettlementExchangeRate: d("1")},
		Lines:  []allocation.OutstandingLine{inv, cn},
	})
	require.NoError(t, err)

	auto, applied, err := restored.AutoAllocate()
	require.NoError(t, err)
	require.True(t, d("100.00").Equal(applied), "applied %s", applied)

	edited, zeroed, err := restored.EditAllocation(1, d("500"))
	require.NoError(t, err)
	require.False(t, zeroed)
	require.True(t, d("100.00").Equal(edited.Lines()[0].AllocatedAmount))
	require.NoError(t, allocation.CheckLines(auto.Lines()))
}

// --- Test helpers ---

func withAllocation(l allocation.OutstandingLine, amount string) allocation.OutstandingLine {
	l.AllocatedAmount = d(amount)
	return l
}

func lineNos(lines []allocation.OutstandingLine) []int {
	out := make([]int, len(lines))
	for i, l := range lines {
		out[i] = l.LineNo
	}
	return out
}
