package persistence_test

import (
	"context"
	"testing"
	"time"

	"ContraLedger/internal/allocation"
	"ContraLedger/internal/core"
	"ContraLedger/internal/event"
	"ContraLedger/internal/modules"
	"ContraLedger/internal/persistence"
	"ContraLedger/internal/testutil"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Integration: processor -> worker -> store -> processor
// ============================================================================

func TestIntegration_PersistAndReload(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store := persistence.NewSettlementStore(db)
	checker := persistence.NewPostgresIdempotencyChecker(db)

	coreOut := make(chan core.Output, 16)
	proc := core.NewProcessor(coreOut, nil, core.ProcessorConfig{Loader: store, DBChecker: checker})

	id := uuid.New()
	meta := func() event.Meta {
		return event.Meta{CommandID: uuid.New(), SettlementID: id, Expected: event.AnyVersion, Issued: time.Now().UTC()}
	}
	city := decimal.RequireFromString("0.5")
	cmds := []event.Command{
		&event.OpenSettlement{Meta: meta(), Module: modules.KindGLContra, Header: allocation.Header{
			SettlementCurrency:         "SGD",
			SettlementBalance:          decimal.NewFromInt(300),
			SettlementExchangeRate:     decimal.RequireFromString("3.1"),
			SettlementCityExchangeRate: &city,
		}},
		&event.AddDocuments{Meta: meta(), Documents: []allocation.OutstandingLine{
			{Document: allocation.DocumentRef{Kind: "AR", ID: "r1"}, DocumentExchangeRate: decimal.NewFromInt(3), DocumentBalance: decimal.NewFromInt(300)},
			{Document: allocation.DocumentRef{Kind: "AP", ID: "p1"}, DocumentExchangeRate: decimal.NewFromInt(3), DocumentBalance: decimal.NewFromInt(-200)},
		}},
		&event.AutoAllocate{Meta: meta()},
	}
	for _, cmd := range cmds {
		_, err := proc.Process(ctx, cmd)
		require.NoError(t, err)
	}

	workerIn := make(chan persistence.CoreOutput, 16)
	for i := 0; i < len(cmds); i++ {
		o := <-coreOut
		workerIn <- persistence.NewCoreOutput(o.Envelope, o.Snapshot)
	}
	close(workerIn)
	require.NoError(t, persistence.NewPersistenceWorker(db, workerIn, 10, 10*time.Millisecond, nil, zerolog.Nop()).Run(ctx))

	snap, err := store.GetSettlement(ctx, id)
	require.NoError(t, err)
	require.Equal(t, int64(3), snap.Version)
	require.Len(t, snap.Lines, 2)
	require.True(t, decimal.NewFromInt(200).Equal(snap.Header.AllocatedTotal))
	require.True(t, snap.Header.SettlementCityExchangeRate.Equal(city))
	require.Equal(t, "p1", snap.Lines[1].Document.ID)

	tip, err := store.LoadChainTip(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), tip.Sequence)
	require.Equal(t, proc.GetStateHash(), tip.StateHash)

	rows, err := store.LoadCommandsFrom(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	for i := 1; i < len(rows); i++ {
		require.Equal(t, rows[i-1].StateHash, rows[i].PrevHash, "chain break at %d", rows[i].Sequence)
	}
	require.Equal(t, "AutoAllocate", rows[2].CommandType)

	digest, err := store.StoredDigest(ctx, id)
	require.NoError(t, err)
	require.Equal(t, snap.Digest(), digest)

	dup, err := checker.IsDuplicate("AutoAllocate", cmds[2].IdempotencyKey())
	require.NoError(t, err)
	require.True(t, dup)

	// a fresh processor loads the settlement lazily and continues its versions
	fresh := core.NewProcessor(make(chan core.Output, 4), nil, core.ProcessorConfig{
		Loader:        store,
		StartSequence: tip.Sequence + 1,
		PrevHash:      &tip.StateHash,
	})
	res, err := fresh.Process(ctx, &event.EditAllocation{
		Meta:   event.Meta{CommandID: uuid.New(), SettlementID: id, Expected: 3},
		LineNo: 1,
		Amount: decimal.NewFromInt(150),
	})
	require.NoError(t, err)
	require.Equal(t, int64(4), res.Snapshot.Version)
	require.Equal(t, int64(3), res.Envelope.Sequence)
}

func TestIntegration_StaleUpsertIsIgnored(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	w := persistence.NewCommandLogWriter(db)
	id := uuid.New()
	row := persistence.SettlementRow{LastSequence: 1, Digest: make([]byte, 32)}
	row.Snapshot.ID = id
	row.Snapshot.Kind = modules.KindARSetOff
	row.Snapshot.Policy = modules.DefaultPolicy(modules.KindARSetOff)
	row.Snapshot.Header.SettlementExchangeRate = decimal.NewFromInt(1)
	row.Snapshot.Version = 5

	written, err := w.UpsertSettlement(ctx, db, row)
	require.NoError(t, err)
	require.True(t, written)

	row.Snapshot.Version = 4
	written, err = w.UpsertSettlement(ctx, db, row)
	require.NoError(t, err)
	require.False(t, written)

	snap, err := persistence.NewSettlementStore(db).LoadSettlement(ctx, id)
	require.NoError(t, err)
	require.Equal(t, int64(5), snap.Version)

	missing, err := persistence.NewSettlementStore(db).LoadSettlement(ctx, uuid.New())
	require.NoError(t, err)
	require.Nil(t, missing)
}
