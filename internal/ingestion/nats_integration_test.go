package ingestion_test

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"ContraLedger/internal/allocation"
	"ContraLedger/internal/core"
	"ContraLedger/internal/ingestion"
	"ContraLedger/internal/observability"
	"ContraLedger/internal/testutil"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func connectTestNATS(t *testing.T) jetstream.JetStream {
	t.Helper()
	testutil.RequireIntegration(t)

	nc, js, err := ingestion.ConnectNATS(testutil.TestNATSURL(), zerolog.Nop())
	if err != nil {
		t.Skipf("test nats not available: %v", err)
	}
	t.Cleanup(nc.Close)

	var buf bytes.Buffer
	logger := observability.NewLoggerTo(&buf, "ingestion", zerolog.InfoLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, ingestion.EnsureStreams(ctx, js, logger))
	require.NoError(t, ingestion.EnsureOutboundStream(ctx, js, logger))

	for _, stream := range []string{"CONTRA_COMMANDS", "CONTRA_RATES", "CONTRA_EVENTS"} {
		require.Contains(t, buf.String(), `"stream":"`+stream+`"`)
	}
	require.Contains(t, buf.String(), `"component":"ingestion"`)
	return js
}

// ============================================================================
// Test: JetStream command intake
// ============================================================================

func TestNATS_CommandReachesProcessor(t *testing.T) {
	js := connectTestNATS(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	persistChan := make(chan core.Output, 16)
	proc := core.NewProcessor(persistChan, nil, core.ProcessorConfig{})
	go proc.Run(ctx)

	id := uuid.New()
	rawChan := make(chan ingestion.RawMessage, 16)
	sub := ingestion.NewNATSSubscriber(js, rawChan, zerolog.Nop())
	require.NoError(t, sub.Subscribe(ctx, []ingestion.SubjectConfig{{
		Subject:      ingestion.CommandSubjectPrefix + ".*." + id.String(),
		Kind:         ingestion.MessageCommand,
		ConsumerName: "contra-it-" + id.String(),
		StreamName:   "CONTRA_COMMANDS",
	}}))
	defer sub.Stop()
	go ingestion.NewDispatcher(proc, nil, zerolog.Nop()).Run(ctx, rawChan)

	body := `{"command_id":"` + uuid.NewString() + `","settlement_id":"` + id.String() + `",` +
		`"module":"cb_payment","header":{"settlement_currency":"MYR","settlement_balance":"250","settlement_exchange_rate":"1"}}`
	_, err := js.Publish(ctx, ingestion.CommandSubjectPrefix+".OpenSettlement."+id.String(), []byte(body))
	require.NoError(t, err)

	select {
	case out := <-persistChan:
		require.Equal(t, id, out.Envelope.SettlementID)
		require.EqualValues(t, 1, out.Snapshot.Version)
	case <-time.After(10 * time.Second):
		t.Fatal("command not applied")
	}

	snap, err := proc.Settlement(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "250", snap.Header.SettlementBalance.String())
}

// ============================================================================
// Test: Outbound publishing
// ============================================================================

func TestNATS_PublisherRoundTrip(t *testing.T) {
	js := connectTestNATS(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	in := make(chan ingestion.PublishableEvent, 1)
	evt := ingestion.PublishableEvent{
		Sequence:       7,
		CommandType:    "AutoAllocate",
		IdempotencyKey: uuid.NewString(),
		SettlementID:   uuid.New(),
		Module:         "ar_setoff",
		Version:        3,
		Header:         allocation.Header{SettlementCurrency: "MYR"},
		Timestamp:      time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	in <- evt
	close(in)
	require.NoError(t, ingestion.NewOutboundPublisher(js, in, zerolog.Nop()).Run(ctx))

	consumer, err := js.OrderedConsumer(ctx, "CONTRA_EVENTS", jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{evt.Subject()},
	})
	require.NoError(t, err)
	msg, err := consumer.Next(jetstream.FetchMaxWait(5 * time.Second))
	require.NoError(t, err)

	var got ingestion.PublishableEvent
	require.NoError(t, json.Unmarshal(msg.Data(), &got))
	require.Equal(t, evt.Sequence, got.Sequence)
	require.Equal(t, evt.SettlementID, got.SettlementID)
	require.Equal(t, evt.Version, got.Version)
}
