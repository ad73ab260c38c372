package ingestion_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"ContraLedger/internal/core"
	"ContraLedger/internal/event"
	"ContraLedger/internal/ingestion"
	"ContraLedger/internal/observability"
	"ContraLedger/internal/session"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// --- Test helpers ---

type fakeSubmitter struct {
	commands []event.Command
	rates    []*event.RateUpdate
	result   core.Result
	err      error
}

func (f *fakeSubmitter) Submit(_ context.Context, cmd event.Command) (core.Result, error) {
	f.commands = append(f.commands, cmd)
	return f.result, f.err
}

func (f *fakeSubmitter) SubmitRateUpdate(_ context.Context, u *event.RateUpdate) ([]core.Result, error) {
	f.rates = append(f.rates, u)
	return []core.Result{f.result}, f.err
}

type acks struct {
	ack, nak, term int
}

func message(kind ingestion.MessageKind, subject, body string, a *acks) ingestion.RawMessage {
	return ingestion.RawMessage{
		Kind:      kind,
		Subject:   subject,
		Data:      []byte(body),
		Timestamp: time.Now(),
		AckFunc:   func() { a.ack++ },
		NakFunc:   func() { a.nak++ },
		TermFunc:  func() { a.term++ },
	}
}

func undoBody() string {
	return `{"command_id":"` + uuid.NewString() + `","settlement_id":"` + uuid.NewString() + `"}`
}

func newDispatcher(s ingestion.Submitter) *ingestion.Dispatcher {
	return ingestion.NewDispatcher(s, observability.NewMetrics(prometheus.NewRegistry()), zerolog.Nop())
}

// ============================================================================
// Test: Ack handling
// ============================================================================

func TestDispatch_AppliedIsAcked(t *testing.T) {
	sub := &fakeSubmitter{}
	var a acks

	newDispatcher(sub).Dispatch(context.Background(), message(ingestion.MessageCommand, "contra.commands.Undo", undoBody(), &a))

	require.Len(t, sub.commands, 1)
	require.Equal(t, event.CommandTypeUndo, sub.commands[0].CommandType())
	require.Equal(t, acks{ack: 1}, a)
}

func TestDispatch_RejectionIsAcked(t *testing.T) {
	sub := &fakeSubmitter{err: session.ErrNothingToUndo}
	var a acks

	newDispatcher(sub).Dispatch(context.Background(), message(ingestion.MessageCommand, "contra.commands.Undo", undoBody(), &a))

	require.Equal(t, acks{ack: 1}, a)
}

func TestDispatch_InfrastructureFailureIsNaked(t *testing.T) {
	sub := &fakeSubmitter{err: errors.New("load settlement: connection refused")}
	var a acks

	newDispatcher(sub).Dispatch(context.Background(), message(ingestion.MessageCommand, "contra.commands.Undo", undoBody(), &a))

	require.Equal(t, acks{nak: 1}, a)
}

func TestDispatch_MalformedIsTerminated(t *testing.T) {
	sub := &fakeSubmitter{}
	d := newDispatcher(sub)

	var a acks
	d.Dispatch(context.Background(), message(ingestion.MessageCommand, "contra.commands.Undo", `{`, &a))
	d.Dispatch(context.Background(), message(ingestion.MessageCommand, "contra.commands.Explode", undoBody(), &a))
	d.Dispatch(context.Background(), message(ingestion.MessageRate, "contra.rates.USD", `{"settlement_rate":"1"}`, &a))

	require.Empty(t, sub.commands)
	require.Empty(t, sub.rates)
	require.Equal(t, acks{term: 3}, a)
}

func TestDispatch_RateUpdate(t *testing.T) {
	sub := &fakeSubmitter{}
	var a acks
	body := `{"update_id":"` + uuid.NewString() + `","settlement_rate":"3.95"}`

	newDispatcher(sub).Dispatch(context.Background(), message(ingestion.MessageRate, "contra.rates.eur", body, &a))

	require.Len(t, sub.rates, 1)
	require.Equal(t, "EUR", sub.rates[0].Currency)
	require.Equal(t, acks{ack: 1}, a)
}

func TestDispatcher_RunStopsOnClose(t *testing.T) {
	sub := &fakeSubmitter{}
	raw := make(chan ingestion.RawMessage, 2)
	var a acks
	raw <- message(ingestion.MessageCommand, "contra.commands.Undo", undoBody(), &a)
	raw <- message(ingestion.MessageCommand, "contra.commands.Undo", undoBody(), &a)
	close(raw)

	require.NoError(t, newDispatcher(sub).Run(context.Background(), raw))
	require.Len(t, sub.commands, 2)
	require.Equal(t, 2, a.ack)
}

// ============================================================================
// Test: Submit shim and outbound subjects
// ============================================================================

func TestSubmitService_UsesRouteSettlement(t *testing.T) {
	sub := &fakeSubmitter{}
	id := uuid.New()

	_, err := ingestion.NewSubmitService(sub).Submit(context.Background(), "AutoAllocate", id,
		[]byte(`{"command_id":"`+uuid.NewString()+`"}`))
	require.NoError(t, err)
	require.Len(t, sub.commands, 1)
	require.Equal(t, id, sub.commands[0].Settlement())
	require.False(t, sub.commands[0].IssuedAt().IsZero())

	_, err = ingestion.NewSubmitService(sub).Submit(context.Background(), "Nope", id, []byte(`{}`))
	require.ErrorIs(t, err, ingestion.ErrUnknownCommandType)
	require.ErrorIs(t, err, ingestion.ErrMalformedCommand)
}

func TestPublishableEvent_Subject(t *testing.T) {
	id := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	evt := ingestion.PublishableEvent{CommandType: "EditAllocation", SettlementID: id}

	require.Equal(t, "contra.events.EditAllocation.550e8400-e29b-41d4-a716-446655440000", evt.Subject())
}
