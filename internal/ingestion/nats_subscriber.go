package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	CommandSubjectPrefix = "contra.commands"
	RateSubjectPrefix    = "contra.rates"

	commandStream = "CONTRA_COMMANDS"
	rateStream    = "CONTRA_RATES"

	inboundMaxAge = 72 * time.Hour
	maxDeliver    = 5
	ackWait       = 30 * time.Second
	redeliveryGap = time.Second
)

// MessageKind tells the dispatcher how to parse a message body.
type MessageKind int

const (
	MessageCommand MessageKind = iota
	MessageRate
)

// RawMessage is an inbound message before parsing. Exactly one of the
// settle funcs is called per message.
type RawMessage struct {
	Kind      MessageKind
	Subject   string
	Data      []byte
	Timestamp time.Time
	AckFunc   func() // applied or rejected for good
	NakFunc   func() // transient failure, redeliver
	TermFunc  func() // malformed, never redeliver
}

// SubjectConfig binds a subject filter to a durable consumer on a stream.
type SubjectConfig struct {
	Subject      string
	Kind         MessageKind
	ConsumerName string
	StreamName   string
}

// DefaultSubjects: contra.commands.{type} and contra.rates.{currency}.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: CommandSubjectPrefix + ".>", Kind: MessageCommand, ConsumerName: "contra-commands", StreamName: commandStream},
		{Subject: RateSubjectPrefix + ".>", Kind: MessageRate, ConsumerName: "contra-rates", StreamName: rateStream},
	}
}

// inboundStreams lists the streams DefaultSubjects consume from.
func inboundStreams() []jetstream.StreamConfig {
	stream := func(name, prefix string) jetstream.StreamConfig {
		return jetstream.StreamConfig{
			Name:      name,
			Subjects:  []string{prefix + ".>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    inboundMaxAge,
			Replicas:  1,
		}
	}
	return []jetstream.StreamConfig{
		stream(commandStream, CommandSubjectPrefix),
		stream(rateStream, RateSubjectPrefix),
	}
}

// EnsureStreams creates or updates the inbound streams.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	for _, cfg := range inboundStreams() {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		logger.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}
	return nil
}

// NATSSubscriber feeds JetStream messages to the dispatcher through rawChan.
type NATSSubscriber struct {
	js        jetstream.JetStream
	rawChan   chan<- RawMessage
	consumers []jetstream.ConsumeContext
	logger    zerolog.Logger
}

func NewNATSSubscriber(js jetstream.JetStream, rawChan chan<- RawMessage, logger zerolog.Logger) *NATSSubscriber {
	return &NATSSubscriber{js: js, rawChan: rawChan, logger: logger}
}

// Subscribe starts one durable, explicitly acked consumer per subject.
// Messages still waiting for rawChan when ctx ends are nak'd.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, sc := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, sc.StreamName, jetstream.ConsumerConfig{
			Durable:       sc.ConsumerName,
			FilterSubject: sc.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       ackWait,
			MaxDeliver:    maxDeliver,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", sc.ConsumerName, err)
		}

		cc, err := consumer.Consume(ns.deliver(ctx, sc.Kind))
		if err != nil {
			return fmt.Errorf("consume %s: %w", sc.ConsumerName, err)
		}
		ns.consumers = append(ns.consumers, cc)
		ns.logger.Info().Str("subject", sc.Subject).Str("consumer", sc.ConsumerName).Msg("subscribed")
	}
	return nil
}

func (ns *NATSSubscriber) deliver(ctx context.Context, kind MessageKind) jetstream.MessageHandler {
	return func(msg jetstream.Msg) {
		// Stream time, so a redelivered command keeps its original issue time
		received := time.Now().UTC()
		if md, err := msg.Metadata(); err == nil {
			received = md.Timestamp.UTC()
		}

		raw := RawMessage{
			Kind:      kind,
			Subject:   msg.Subject(),
			Data:      msg.Data(),
			Timestamp: received,
			AckFunc:   func() { msg.Ack() },
			NakFunc:   func() { msg.NakWithDelay(redeliveryGap) },
			TermFunc:  func() { msg.Term() },
		}
		select {
		case ns.rawChan <- raw:
		case <-ctx.Done():
			msg.Nak()
		}
	}
}

// Stop drains no further messages; unacked ones are redelivered later.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.consumers = nil
	ns.logger.Info().Msg("NATS subscribers stopped")
}

// ConnectNATS connects with unlimited reconnects and returns a JetStream
// handle on the connection.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("contraledger"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}
	return nc, js, nil
}
