package query_test

import (
	"context"
	"testing"
	"time"

	"ContraLedger/internal/allocation"
	"ContraLedger/internal/core"
	"ContraLedger/internal/event"
	"ContraLedger/internal/modules"
	"ContraLedger/internal/persistence"
	"ContraLedger/internal/query"
	"ContraLedger/internal/testutil"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestClampLimit(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, query.DefaultPageSize},
		{-3, query.DefaultPageSize},
		{1, 1},
		{query.MaxPageSize, query.MaxPageSize},
		{query.MaxPageSize + 1, query.MaxPageSize},
	}
	for _, tt := range tests {
		if got := query.ClampLimit(tt.in); got != tt.want {
			t.Errorf("clampLimit(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

// ============================================================================
// Integration: persisted settlements through the read side
// ============================================================================

func TestIntegration_QueryService(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	coreOut := make(chan core.Output, 16)
	proc := core.NewProcessor(coreOut, nil, core.ProcessorConfig{})

	id := uuid.New()
	meta := func() event.Meta {
		return event.Meta{CommandID: uuid.New(), SettlementID: id, Expected: event.AnyVersion, Issued: time.Now().UTC()}
	}
	cmds := []event.Command{
		&event.OpenSettlement{Meta: meta(), Module: modules.KindARSetOff, Header: allocation.Header{
			SettlementCurrency:     "MYR",
			SettlementBalance:      decimal.NewFromInt(500),
			SettlementExchangeRate: decimal.NewFromInt(1),
		}},
		&event.AddDocuments{Meta: meta(), Documents: []allocation.OutstandingLine{
			{Document: allocation.DocumentRef{Kind: "IV", ID: "i1"}, DocumentExchangeRate: decimal.NewFromInt(1), DocumentBalance: decimal.NewFromInt(200)},
			{Document: allocation.DocumentRef{Kind: "CN", ID: "c1"}, DocumentExchangeRate: decimal.NewFromInt(1), DocumentBalance: decimal.NewFromInt(-200)},
		}},
		&event.AutoAllocate{Meta: meta()},
	}
	for _, cmd := range cmds {
		_, err := proc.Process(ctx, cmd)
		require.NoError(t, err)
	}

	workerIn := make(chan persistence.CoreOutput, len(cmds))
	for range cmds {
		o := <-coreOut
		workerIn <- persistence.NewCoreOutput(o.Envelope, o.Snapshot)
	}
	close(workerIn)
	require.NoError(t, persistence.NewPersistenceWorker(db, workerIn, 10, 10*time.Millisecond, nil, zerolog.Nop()).Run(ctx))

	qs := query.NewQueryService(db)

	stored, err := qs.GetSettlement(ctx, id)
	require.NoError(t, err)
	require.Equal(t, int64(3), stored.Version)
	require.Equal(t, int64(2), stored.LastSequence)
	require.Len(t, stored.Digest, 64)

	list, err := qs.ListSettlements(ctx, query.ListFilter{Module: "ar_setoff", Currency: "MYR"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, 2, list[0].LineCount)
	require.True(t, decimal.NewFromInt(200).Equal(list[0].AllocatedTotal))

	list, err = qs.ListSettlements(ctx, query.ListFilter{Currency: "USD"})
	require.NoError(t, err)
	require.Empty(t, list)

	history, err := qs.GetCommandHistory(ctx, id, 2, nil)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, "AutoAllocate", history[0].CommandType)

	before := history[1].Sequence
	older, err := qs.GetCommandHistory(ctx, id, 0, &before)
	require.NoError(t, err)
	require.Len(t, older, 1)
	require.Equal(t, "OpenSettlement", older[0].CommandType)

	report, err := qs.VerifyIntegrity(ctx)
	require.NoError(t, err)
	require.True(t, report.IsHealthy)
	require.EqualValues(t, 3, report.CheckedSequences)

	_, err = qs.GetSettlement(ctx, uuid.New())
	require.ErrorIs(t, err, persistence.ErrSettlementNotFound)
}
