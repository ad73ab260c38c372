package ingestion

import (
	"context"

	"ContraLedger/internal/core"
	"ContraLedger/internal/event"
	"ContraLedger/internal/observability"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Submitter is the processor surface the transports need.
type Submitter interface {
	Submit(ctx context.Context, cmd event.Command) (core.Result, error)
	SubmitRateUpdate(ctx context.Context, u *event.RateUpdate) ([]core.Result, error)
}

// Dispatcher parses raw NATS messages and submits them to the processor.
//
// Messages are acked once the processor has answered, whether the command was
// applied or rejected: a rejected command is rejected again on redelivery.
// Only infrastructure failures are NAKed. Malformed bodies are terminated.
type Dispatcher struct {
	submitter Submitter
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewDispatcher(submitter Submitter, metrics *observability.Metrics, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		submitter: submitter,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run dispatches messages until ctx is cancelled or rawChan is closed.
func (d *Dispatcher) Run(ctx context.Context, rawChan <-chan RawMessage) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-rawChan:
			if !ok {
				return nil
			}
			d.Dispatch(ctx, raw)
		}
	}
}

// Dispatch handles one message and settles its ack state.
func (d *Dispatcher) Dispatch(ctx context.Context, raw RawMessage) {
	switch raw.Kind {
	case MessageRate:
		d.dispatchRate(ctx, raw)
	default:
		d.dispatchCommand(ctx, raw)
	}
}

func (d *Dispatcher) dispatchCommand(ctx context.Context, raw RawMessage) {
	commandType, err := SubjectToken(raw.Subject, CommandSubjectPrefix)
	if err == nil {
		var cmd event.Command
		cmd, err = ParseCommand(commandType, uuid.Nil, raw.Timestamp, raw.Data)
		if err == nil {
			res, err := d.submitter.Submit(ctx, cmd)
			result := "applied"
			if err == nil && res.Duplicate {
				result = "duplicate"
			}
			d.settle(raw, "command", result, err)
			return
		}
	}

	d.logger.Warn().Err(err).Str("subject", raw.Subject).Msg("malformed command")
	d.record("command", "malformed")
	call(raw.TermFunc)
}

func (d *Dispatcher) dispatchRate(ctx context.Context, raw RawMessage) {
	currency, err := SubjectToken(raw.Subject, RateSubjectPrefix)
	if err == nil {
		var u *event.RateUpdate
		u, err = ParseRateUpdate(currency, raw.Timestamp, raw.Data)
		if err == nil {
			results, err := d.submitter.SubmitRateUpdate(ctx, u)
			if d.metrics != nil {
				d.metrics.RateUpdates.WithLabelValues(u.Currency).Inc()
			}
			d.logger.Info().
				Str("currency", u.Currency).
				Int("settlements", len(results)).
				Msg("rate update applied")
			d.settle(raw, "rate", "applied", err)
			return
		}
	}

	d.logger.Warn().Err(err).Str("subject", raw.Subject).Msg("malformed rate update")
	d.record("rate", "malformed")
	call(raw.TermFunc)
}

func (d *Dispatcher) settle(raw RawMessage, source, result string, err error) {
	switch {
	case err == nil:
		d.record(source, result)
		call(raw.AckFunc)
	case core.IsRejection(err):
		d.logger.Warn().Err(err).Str("subject", raw.Subject).Msg("command rejected")
		d.record(source, "rejected")
		call(raw.AckFunc)
	default:
		d.logger.Error().Err(err).Str("subject", raw.Subject).Msg("submit failed, will be redelivered")
		d.record(source, "retry")
		call(raw.NakFunc)
	}
}

func (d *Dispatcher) record(source, result string) {
	if d.metrics != nil {
		d.metrics.IngestMessages.WithLabelValues(source, result).Inc()
	}
}

func call(f func()) {
	if f != nil {
		f()
	}
}
