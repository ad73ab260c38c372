package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"ContraLedger/internal/allocation"
	"ContraLedger/internal/event"
	fpmath "ContraLedger/internal/math"
	"ContraLedger/internal/modules"
	"ContraLedger/internal/observability"
	"ContraLedger/internal/session"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrSettlementNotFound = errors.New("core: settlement not found")
	ErrSettlementExists   = errors.New("core: settlement already open")
	ErrUnknownCommand     = errors.New("core: unknown command")
	ErrStopped            = errors.New("core: processor stopped")
)

// SessionLoader fetches a persisted settlement the processor has not seen
// since start. A nil snapshot with a nil error means not found.
type SessionLoader interface {
	LoadSettlement(ctx context.Context, id uuid.UUID) (*session.Snapshot, error)
}

// Output is emitted once per applied command.
type Output struct {
	Envelope *event.Envelope
	Snapshot session.Snapshot
}

// Result is returned to the submitter of a command.
type Result struct {
	// Nil for duplicates
	Envelope *event.Envelope

	Snapshot  session.Snapshot
	Duplicate bool
}

// ProcessorConfig wires optional collaborators. Zero values are usable.
type ProcessorConfig struct {
	StartSequence int64
	PrevHash      *[32]byte
	LRUCapacity   int
	HistoryLimit  int
	InboxSize     int
	Policies      map[modules.Kind]fpmath.DecimalPolicy
	DBChecker     DBIdempotencyChecker
	Loader        SessionLoader
	Metrics       *observability.Metrics
	Logger        *zerolog.Logger
}

// Processor is the single-threaded command processor. It owns every open
// settlement session; each command runs its whole edit, recalculate and
// retotal sequence before the next one starts.
type Processor struct {
	sequence     int64
	hasher       *StateHasher
	sessions     map[uuid.UUID]session.Session
	idempotency  *IdempotencyChecker
	versions     *VersionValidator
	policies     map[modules.Kind]fpmath.DecimalPolicy
	historyLimit int
	loader       SessionLoader
	metrics      *observability.Metrics
	logger       zerolog.Logger

	persistChan chan<- Output
	publishChan chan<- Output

	inbox chan request
	done  chan struct{}
}

type request struct {
	ctx    context.Context
	cmd    event.Command
	rate   *event.RateUpdate
	lookup *uuid.UUID
	reply  chan response
}

type response struct {
	results []Result
	err     error
}

func NewProcessor(persistChan, publishChan chan<- Output, cfg ProcessorConfig) *Processor {
	if cfg.LRUCapacity <= 0 {
		cfg.LRUCapacity = 100_000
	}
	if cfg.HistoryLimit == 0 {
		cfg.HistoryLimit = session.DefaultHistoryLimit
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 1024
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	hasher := NewStateHasher()
	if cfg.PrevHash != nil {
		hasher.Reset(*cfg.PrevHash)
	}
	idempotency := NewIdempotencyChecker(cfg.LRUCapacity, cfg.DBChecker)
	idempotency.Export(cfg.Metrics)
	versions := NewVersionValidator()
	versions.Export(cfg.Metrics)

	return &Processor{
		sequence:     cfg.StartSequence,
		hasher:       hasher,
		sessions:     make(map[uuid.UUID]session.Session),
		idempotency:  idempotency,
		versions:     versions,
		policies:     cfg.Policies,
		historyLimit: cfg.HistoryLimit,
		loader:       cfg.Loader,
		metrics:      cfg.Metrics,
		logger:       logger,
		persistChan:  persistChan,
		publishChan:  publishChan,
		inbox:        make(chan request, cfg.InboxSize),
		done:         make(chan struct{}),
	}
}

// Run serves Submit, SubmitRateUpdate and Settlement until ctx is cancelled.
// It must be the only goroutine calling Process.
func (p *Processor) Run(ctx context.Context) error {
	defer close(p.done)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-p.inbox:
			var resp response
			switch {
			case req.cmd != nil:
				res, err := p.Process(req.ctx, req.cmd)
				resp = response{results: []Result{res}, err: err}
			case req.rate != nil:
				resp.results, resp.err = p.ProcessRateUpdate(req.ctx, req.rate)
			case req.lookup != nil:
				snap, err := p.lookup(req.ctx, *req.lookup)
				resp = response{results: []Result{{Snapshot: snap}}, err: err}
			}
			// reply is buffered; a gone submitter never blocks the loop
			req.reply <- resp
		}
	}
}

// Submit hands cmd to the processor goroutine and waits for the result.
func (p *Processor) Submit(ctx context.Context, cmd event.Command) (Result, error) {
	resp, err := p.roundTrip(ctx, request{ctx: ctx, cmd: cmd})
	if err != nil {
		return Result{}, err
	}
	return resp.results[0], resp.err
}

// SubmitRateUpdate fans a rate update out through the processor goroutine.
func (p *Processor) SubmitRateUpdate(ctx context.Context, u *event.RateUpdate) ([]Result, error) {
	resp, err := p.roundTrip(ctx, request{ctx: ctx, rate: u})
	if err != nil {
		return nil, err
	}
	return resp.results, resp.err
}

// Settlement returns the current in-memory snapshot of a settlement, loading
// it from the store when needed.
func (p *Processor) Settlement(ctx context.Context, id uuid.UUID) (session.Snapshot, error) {
	resp, err := p.roundTrip(ctx, request{ctx: ctx, lookup: &id})
	if err != nil {
		return session.Snapshot{}, err
	}
	return resp.results[0].Snapshot, resp.err
}

func (p *Processor) roundTrip(ctx context.Context, req request) (response, error) {
	req.reply = make(chan response, 1)

	select {
	case p.inbox <- req:
	case <-p.done:
		return response{}, ErrStopped
	case <-ctx.Done():
		return response{}, ctx.Err()
	}

	select {
	case resp := <-req.reply:
		return resp, nil
	case <-p.done:
		return response{}, ErrStopped
	case <-ctx.Done():
		return response{}, ctx.Err()
	}
}

// Process is the main processing pipeline
func (p *Processor) Process(ctx context.Context, cmd event.Command) (Result, error) {
	start := time.Now()
	commandType := cmd.CommandType().String()
	idempotencyKey := cmd.IdempotencyKey()
	settlementID := cmd.Settlement()

	// Step 1: Idempotency check (two-tier)
	if p.idempotency.IsDuplicate(commandType, idempotencyKey) {
		p.reject(commandType, "duplicate")
		res := Result{Duplicate: true}
		if s, ok := p.sessions[settlementID]; ok {
			res.Snapshot = s.Snapshot()
		}
		return res, nil
	}

	// Step 2: Resolve the session
	current, err := p.resolve(ctx, cmd)
	if err != nil {
		p.reject(commandType, reasonFor(err))
		return Result{}, err
	}

	// Step 3: Optimistic concurrency
	if _, opening := cmd.(*event.OpenSettlement); !opening {
		if err := p.versions.Validate(settlementID, current.Version(), cmd.ExpectedVersion()); err != nil {
			p.reject(commandType, reasonFor(err))
			return Result{}, err
		}
	}

	// Step 4: Apply
	next, outcome, err := p.apply(current, cmd)
	if err != nil {
		p.reject(commandType, reasonFor(err))
		p.logger.Warn().
			Err(err).
			Str("command_type", commandType).
			Str("settlement_id", settlementID.String()).
			Msg("command rejected")
		return Result{}, err
	}

	payload, err := json.Marshal(cmd)
	if err != nil {
		return Result{}, fmt.Errorf("core: marshal %s: %w", commandType, err)
	}

	// Step 5: Envelope with chained hash
	digest := next.Digest()
	envelope := &event.Envelope{
		Sequence:       p.sequence,
		IdempotencyKey: idempotencyKey,
		CommandType:    cmd.CommandType(),
		SettlementID:   settlementID,
		Version:        next.Version(),
		Timestamp:      cmd.IssuedAt(),
		Payload:        payload,
		Outcome:        outcome,
		Digest:         digest,
		PrevHash:       p.hasher.GetPrevHash(),
	}
	envelope.StateHash = p.hasher.ComputeHash(p.sequence, digest)

	p.sessions[settlementID] = next
	p.sequence++

	// Step 6: Emit
	output := Output{Envelope: envelope, Snapshot: next.Snapshot()}
	p.emit(output)

	// Step 7: Mark as processed
	p.idempotency.MarkProcessed(commandType, idempotencyKey)

	if p.metrics != nil {
		p.metrics.CommandsApplied.WithLabelValues(commandType).Inc()
		p.metrics.CommandDuration.WithLabelValues(commandType).Observe(time.Since(start).Seconds())
		p.metrics.Sequence.Set(float64(p.sequence))
		p.metrics.OpenSettlements.Set(float64(len(p.sessions)))
		p.metrics.DedupLRUSize.Set(float64(p.idempotency.Size()))
		if outcome.AutoZeroed {
			p.metrics.AutoZeroedEdits.Inc()
		}
		if cmd.CommandType() == event.CommandTypeAutoAllocate {
			p.metrics.AutoAllocated.Inc()
		}
	}

	p.logger.Debug().
		Int64("sequence", envelope.Sequence).
		Str("command_type", commandType).
		Str("settlement_id", settlementID.String()).
		Int64("version", envelope.Version).
		Msg("command applied")

	return Result{Envelope: envelope, Snapshot: output.Snapshot}, nil
}

// ProcessRateUpdate applies u to every open settlement in its currency, in
// settlement id order. A failure on one settlement does not stop the others;
// all failures are joined into the returned error.
func (p *Processor) ProcessRateUpdate(ctx context.Context, u *event.RateUpdate) ([]Result, error) {
	ids := make([]uuid.UUID, 0)
	for id, s := range p.sessions {
		if strings.EqualFold(s.Header().SettlementCurrency, u.Currency) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		return ids[i].String() < ids[j].String()
	})

	results := make([]Result, 0, len(ids))
	var errs []error
	for _, id := range ids {
		res, err := p.Process(ctx, u.CommandFor(id))
		if err != nil {
			errs = append(errs, fmt.Errorf("settlement %s: %w", id, err))
			continue
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

// emit sends to the persist channel with a BLOCKING send (backpressure, no
// command is lost) and to the publish channel with a dropping send.
func (p *Processor) emit(output Output) {
	select {
	case p.persistChan <- output:
	default:
		if p.metrics != nil {
			p.metrics.PersistBackpressure.Inc()
		}
		p.persistChan <- output
	}

	if p.publishChan == nil {
		return
	}
	select {
	case p.publishChan <- output:
	default:
		// Consumers can rebuild from the command log
		if p.metrics != nil {
			p.metrics.PublishDrops.Inc()
		}
	}
}

func (p *Processor) resolve(ctx context.Context, cmd event.Command) (session.Session, error) {
	id := cmd.Settlement()

	if open, ok := cmd.(*event.OpenSettlement); ok {
		if _, err := p.load(ctx, id); err == nil {
			return session.Session{}, fmt.Errorf("%w: %s", ErrSettlementExists, id)
		} else if !errors.Is(err, ErrSettlementNotFound) {
			return session.Session{}, err
		}
		return p.open(open)
	}

	return p.load(ctx, id)
}

func (p *Processor) open(cmd *event.OpenSettlement) (session.Session, error) {
	kind, err := modules.ParseKind(string(cmd.Module))
	if err != nil {
		return session.Session{}, err
	}
	policy := modules.PolicyFor(kind, p.policies)
	if cmd.Policy != nil {
		policy = *cmd.Policy
	}
	s, err := session.Open(cmd.SettlementID, kind, policy, cmd.Header)
	if err != nil {
		return session.Session{}, err
	}
	return s.WithHistoryLimit(p.historyLimit), nil
}

func (p *Processor) load(ctx context.Context, id uuid.UUID) (session.Session, error) {
	if s, ok := p.sessions[id]; ok {
		return s, nil
	}
	if p.loader == nil {
		return session.Session{}, fmt.Errorf("%w: %s", ErrSettlementNotFound, id)
	}

	snap, err := p.loader.LoadSettlement(ctx, id)
	if err != nil {
		return session.Session{}, fmt.Errorf("core: load settlement %s: %w", id, err)
	}
	if snap == nil {
		return session.Session{}, fmt.Errorf("%w: %s", ErrSettlementNotFound, id)
	}

	s, err := session.Restore(*snap)
	if err != nil {
		return session.Session{}, fmt.Errorf("core: restore settlement %s: %w", id, err)
	}
	s = s.WithHistoryLimit(p.historyLimit)
	p.sessions[id] = s
	return s, nil
}

func (p *Processor) lookup(ctx context.Context, id uuid.UUID) (session.Snapshot, error) {
	s, err := p.load(ctx, id)
	if err != nil {
		return session.Snapshot{}, err
	}
	return s.Snapshot(), nil
}

// apply dispatches one command to the session.
func (p *Processor) apply(s session.Session, cmd event.Command) (session.Session, event.Outcome, error) {
	var outcome event.Outcome

	switch c := cmd.(type) {
	case *event.OpenSettlement:
		// resolve already opened the session at version 1
		return s, outcome, nil

	case *event.AddDocuments:
		next, err := s.AddDocuments(c.Documents...)
		return next, outcome, err

	case *event.RemoveDocument:
		next, err := s.RemoveLine(c.LineNo)
		return next, outcome, err

	case *event.ReorderLines:
		next, err := s.Reorder(c.LineNos)
		return next, outcome, err

	case *event.AutoAllocate:
		next, applied, err := s.AutoAllocateWithin(c.Ceiling)
		outcome.Applied = applied
		return next, outcome, err

	case *event.EditAllocation:
		var opts []allocation.EditOption
		if c.NettingCap {
			opts = append(opts, allocation.WithNettingCap())
		}
		next, zeroed, err := s.EditAllocation(c.LineNo, c.Amount, opts...)
		outcome.AutoZeroed = zeroed
		return next, outcome, err

	case *event.ChangeRates:
		next, err := s.ChangeRates(c.SettlementRate, c.CityRate)
		return next, outcome, err

	case *event.SetSettlementBalance:
		next, err := s.SetSettlementBalance(c.Balance)
		return next, outcome, err

	case *event.AdoptAllocatedTotal:
		next, adopted, err := s.AdoptAllocatedTotal()
		outcome.Adopted = adopted
		return next, outcome, err

	case *event.Undo:
		next, err := s.Undo()
		return next, outcome, err

	default:
		return s, outcome, fmt.Errorf("%w: %T", ErrUnknownCommand, cmd)
	}
}

func (p *Processor) reject(commandType, reason string) {
	if p.metrics != nil {
		p.metrics.CommandsRejected.WithLabelValues(commandType, reason).Inc()
	}
}

// reasonFor maps an error to a bounded metric label.
func reasonFor(err error) string {
	switch {
	case errors.Is(err, ErrVersionConflict):
		return "version_conflict"
	case errors.Is(err, ErrSettlementNotFound):
		return "not_found"
	case errors.Is(err, ErrSettlementExists):
		return "exists"
	case errors.Is(err, session.ErrZeroSettlementBalance):
		return "zero_balance"
	case errors.Is(err, allocation.ErrInvariantViolation):
		return "invariant"
	default:
		return "invalid"
	}
}

// IsRejection reports whether err is a verdict on the command itself, as
// opposed to an infrastructure failure. Redelivering a rejected command
// yields the same rejection.
func IsRejection(err error) bool {
	for _, target := range []error{
		ErrVersionConflict,
		ErrSettlementNotFound,
		ErrSettlementExists,
		ErrUnknownCommand,
		session.ErrZeroSettlementBalance,
		session.ErrLineNotFound,
		session.ErrDuplicateDocument,
		session.ErrInvalidOrder,
		session.ErrNothingToUndo,
		session.ErrInvalidRate,
		allocation.ErrInvariantViolation,
		modules.ErrUnknownKind,
		fpmath.ErrNegativeDecimals,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// WarmLRU loads recently applied command keys (see CompositeKey).
func (p *Processor) WarmLRU(keys []string) {
	p.idempotency.Warm(keys)
}

// GetSequence returns the next sequence to be assigned.
func (p *Processor) GetSequence() int64 {
	return p.sequence
}

// GetStateHash returns the chain tip.
func (p *Processor) GetStateHash() [32]byte {
	return p.hasher.GetPrevHash()
}
