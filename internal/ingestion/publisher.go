package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ContraLedger/internal/allocation"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const EventSubjectPrefix = "contra.events"

// OutboundPublisher publishes applied commands to NATS for downstream
// consumers (the owning AR/CB/GL modules).
// Subjects follow the pattern: contra.events.{command_type}.{settlement_id}
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan PublishableEvent
	logger    zerolog.Logger
}

// PublishableEvent is an applied command with the resulting settlement state.
type PublishableEvent struct {
	Sequence       int64                        `json:"sequence"`
	CommandType    string                       `json:"command_type"`
	IdempotencyKey string                       `json:"idempotency_key"`
	SettlementID   uuid.UUID                    `json:"settlement_id"`
	Module         string                       `json:"module"`
	Version        int64                        `json:"version"`
	AutoZeroed     bool                         `json:"auto_zeroed,omitempty"`
	Header         allocation.Header            `json:"header"`
	Lines          []allocation.OutstandingLine `json:"lines"`
	StateHash      []byte                       `json:"state_hash"`
	Timestamp      time.Time                    `json:"timestamp"`
}

// Subject returns the NATS subject of evt.
func (evt PublishableEvent) Subject() string {
	return fmt.Sprintf("%s.%s.%s", EventSubjectPrefix, evt.CommandType, evt.SettlementID)
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan PublishableEvent, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		logger:    logger,
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case evt, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, evt); err != nil {
				op.logger.Warn().
					Err(err).
					Int64("sequence", evt.Sequence).
					Str("subject", evt.Subject()).
					Msg("outbound publish failed")
				// Non-fatal: downstream consumers can read settlement.commands directly
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, evt PublishableEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	// Msg id lets JetStream drop a republish inside its duplicate window
	_, err = op.js.Publish(ctx, evt.Subject(), data, jetstream.WithMsgID(evt.IdempotencyKey))
	return err
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       "CONTRA_EVENTS",
		Subjects:   []string{EventSubjectPrefix + ".>"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     72 * time.Hour,
		Duplicates: 2 * time.Minute,
		Replicas:   1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	logger.Info().Str("stream", "CONTRA_EVENTS").Msg("ensured stream")
	return nil
}
