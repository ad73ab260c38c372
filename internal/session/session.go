// Package session owns the caller side of an allocation: the line collection
// and header of one settlement, the order in which engine operations run, and
// the undo history.
//
// A Session is a value. Every operation returns a new Session and leaves the
// receiver untouched, so an older value is always a consistent snapshot.
package session

import (
	"errors"
	"fmt"

	"ContraLedger/internal/allocation"
	fpmath "ContraLedger/internal/math"
	"ContraLedger/internal/modules"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrZeroSettlementBalance = errors.New("session: zero settlement balance")
	ErrLineNotFound          = errors.New("session: line not found")
	ErrDuplicateDocument     = errors.New("session: document already in settlement")
	ErrInvalidOrder          = errors.New("session: reorder must list every line exactly once")
	ErrNothingToUndo         = errors.New("session: nothing to undo")
	ErrInvalidRate           = errors.New("session: exchange rate must be positive")
)

// DefaultHistoryLimit bounds the undo stack.
const DefaultHistoryLimit = 32

// Session is one settlement being allocated.
type Session struct {
	id      uuid.UUID
	kind    modules.Kind
	policy  fpmath.DecimalPolicy
	header  allocation.Header
	lines   []allocation.OutstandingLine
	version int64
	history History
}

// New opens an empty session. The header's derived totals are recomputed.
func New(id uuid.UUID, kind modules.Kind, policy fpmath.DecimalPolicy, header allocation.Header) (Session, error) {
	if err := policy.Validate(); err != nil {
		return Session{}, err
	}
	if !header.SettlementExchangeRate.IsPositive() {
		return Session{}, fmt.Errorf("%w: settlement rate %s", ErrInvalidRate, header.SettlementExchangeRate)
	}
	s := Session{
		id:      id,
		kind:    kind,
		policy:  policy,
		header:  header,
		lines:   []allocation.OutstandingLine{},
		history: NewHistory(DefaultHistoryLimit),
	}
	s.header = allocation.ApplyTotals(s.header, allocation.ComputeTotals(nil, header.SettlementBalance, policy))
	return s, nil
}

func (s Session) ID() uuid.UUID                { return s.id }
func (s Session) Kind() modules.Kind           { return s.kind }
func (s Session) Policy() fpmath.DecimalPolicy { return s.policy }
func (s Session) Header() allocation.Header    { return s.header }
func (s Session) Version() int64               { return s.version }

// Lines returns a copy of the lines in display order.
func (s Session) Lines() []allocation.OutstandingLine {
	return allocation.Clone(s.lines)
}

// Totals recomputes the header aggregate from the current lines.
func (s Session) Totals() allocation.Totals {
	return allocation.ComputeTotals(s.lines, s.header.SettlementBalance, s.policy)
}

// CanUndo reports whether Undo has a snapshot to return to.
func (s Session) CanUndo() bool {
	return s.history.Len() > 0
}

// commit retotals lines, checks every invariant and returns the successor
// session with the receiver pushed onto the history.
func (s Session) commit(header allocation.Header, lines []allocation.OutstandingLine) (Session, error) {
	totals := allocation.ComputeTotals(lines, header.SettlementBalance, s.policy)
	if err := allocation.CheckInvariants(lines, totals, header.SettlementBalance, s.policy); err != nil {
		return s, err
	}

	next := s
	next.header = allocation.ApplyTotals(header, totals)
	next.lines = lines
	next.version = s.version + 1
	next.history = s.history.Push(s.snapshot())
	return next, nil
}

func (s Session) indexOf(lineNo int) (int, error) {
	i := allocation.IndexOf(s.lines, lineNo)
	if i < 0 {
		return -1, fmt.Errorf("%w: line %d", ErrLineNotFound, lineNo)
	}
	return i, nil
}

func (s Session) nextLineNo() int {
	next := 1
	for _, l := range s.lines {
		if l.LineNo >= next {
			next = l.LineNo + 1
		}
	}
	return next
}

// AddDocuments appends outstanding documents as new lines. Line numbers are
// assigned sequentially after the highest existing one and every seed starts
// unallocated.
func (s Session) AddDocuments(seeds ...allocation.OutstandingLine) (Session, error) {
	seen := make(map[string]struct{}, len(s.lines)+len(seeds))
	for _, l := range s.lines {
		seen[l.Document.ID] = struct{}{}
	}

	lines := allocation.Clone(s.lines)
	next := s.nextLineNo()
	rates := s.header.Rates()

	for _, seed := range seeds {
		if seed.Document.ID != "" {
			if _, dup := seen[seed.Document.ID]; dup {
				return s, fmt.Errorf("%w: %s", ErrDuplicateDocument, seed.Document.ID)
			}
			seen[seed.Document.ID] = struct{}{}
		}

		seed.LineNo = next
		next++
		seed.DocumentBalance = s.policy.Amount(seed.DocumentBalance)
		seed.DocumentBalanceLocal = s.policy.Local(seed.DocumentBalanceLocal)
		seed.AllocatedAmount = decimal.Zero
		seed = allocation.RecalcLocalAndGainLoss(seed, rates.Settlement, s.policy)
		seed = allocation.RecalcCity(seed, rates.City, s.policy)
		lines = append(lines, seed)
	}

	return s.commit(s.header, lines)
}

// RemoveLine drops a document from the settlement. Its allocation leaves the
// totals with it.
func (s Session) RemoveLine(lineNo int) (Session, error) {
	i, err := s.indexOf(lineNo)
	if err != nil {
		return s, err
	}
	lines := make([]allocation.OutstandingLine, 0, len(s.lines)-1)
	lines = append(lines, s.lines[:i]...)
	lines = append(lines, s.lines[i+1:]...)
	return s.commit(s.header, lines)
}

// Reorder changes the display order. lineNos must be a permutation of the
// current line numbers; no line field changes.
func (s Session) Reorder(lineNos []int) (Session, error) {
	if len(lineNos) != len(s.lines) {
		return s, fmt.Errorf("%w: got %d of %d lines", ErrInvalidOrder, len(lineNos), len(s.lines))
	}
	lines := make([]allocation.OutstandingLine, 0, len(lineNos))
	used := make(map[int]struct{}, len(lineNos))
	for _, no := range lineNos {
		if _, dup := used[no]; dup {
			return s, fmt.Errorf("%w: line %d repeated", ErrInvalidOrder, no)
		}
		used[no] = struct{}{}
		i := allocation.IndexOf(s.lines, no)
		if i < 0 {
			return s, fmt.Errorf("%w: line %d", ErrLineNotFound, no)
		}
		lines = append(lines, s.lines[i])
	}
	return s.commit(s.header, lines)
}

// AutoAllocate nets every debit against every credit, recalculates all lines
// and retotals. The matched amount is returned.
func (s Session) AutoAllocate() (Session, decimal.Decimal, error) {
	return s.AutoAllocateWithin(decimal.Zero)
}

// AutoAllocateWithin is AutoAllocate capped at ceiling. A non-positive ceiling
// means no cap.
func (s Session) AutoAllocateWithin(ceiling decimal.Decimal) (Session, decimal.Decimal, error) {
	lines, applied := allocation.AutoAllocateWithin(s.lines, ceiling, s.policy)
	lines = allocation.RecalcAll(lines, s.header.Rates(), s.policy)
	next, err := s.commit(s.header, lines)
	if err != nil {
		return s, decimal.Zero, err
	}
	return next, applied, nil
}

// EditAllocation applies a user-typed allocation to one line. Edits are
// refused while the settlement balance is zero. The returned flag reports
// that the line was forced to zero.
func (s Session) EditAllocation(lineNo int, requested decimal.Decimal, opts ...allocation.EditOption) (Session, bool, error) {
	if s.header.SettlementBalance.IsZero() {
		return s, false, ErrZeroSettlementBalance
	}
	i, err := s.indexOf(lineNo)
	if err != nil {
		return s, false, err
	}

	lines, zeroed := allocation.ApplyManualEdit(s.lines, i, requested, s.policy, opts...)
	lines[i] = allocation.RecalcLocalAndGainLoss(lines[i], s.header.SettlementExchangeRate, s.policy)
	lines[i] = allocation.RecalcCity(lines[i], s.header.SettlementCityExchangeRate, s.policy)

	next, err := s.commit(s.header, lines)
	if err != nil {
		return s, false, err
	}
	return next, zeroed, nil
}

// ChangeRates sets new settlement rates and recalculates every line. A nil
// city rate removes the secondary currency.
func (s Session) ChangeRates(settlement decimal.Decimal, city *decimal.Decimal) (Session, error) {
	if !settlement.IsPositive() {
		return s, fmt.Errorf("%w: settlement rate %s", ErrInvalidRate, settlement)
	}
	if city != nil && !city.IsPositive() {
		return s, fmt.Errorf("%w: city rate %s", ErrInvalidRate, city)
	}

	header := s.header
	header.SettlementExchangeRate = s.policy.Rate(settlement)
	header.SettlementCityExchangeRate = nil
	if city != nil {
		c := s.policy.Rate(*city)
		header.SettlementCityExchangeRate = &c
	}

	lines := allocation.RecalcAll(s.lines, header.Rates(), s.policy)
	return s.commit(header, lines)
}

// Open is New for a settlement opened by a command. The settlement balance is
// rounded and the session starts at version 1 with nothing to undo.
func Open(id uuid.UUID, kind modules.Kind, policy fpmath.DecimalPolicy, header allocation.Header) (Session, error) {
	if err := policy.Validate(); err != nil {
		return Session{}, err
	}
	header.SettlementBalance = policy.Amount(header.SettlementBalance)
	s, err := New(id, kind, policy, header)
	if err != nil {
		return Session{}, err
	}
	s.version = 1
	return s, nil
}

// SetSettlementBalance changes the amount available to allocate.
func (s Session) SetSettlementBalance(balance decimal.Decimal) (Session, error) {
	header := s.header
	header.SettlementBalance = s.policy.Amount(balance)
	return s.commit(header, s.lines)
}

// AdoptAllocatedTotal copies the allocated total into a zero settlement
// balance when lines exist. Otherwise the session is returned unchanged and
// the flag is false.
func (s Session) AdoptAllocatedTotal() (Session, bool, error) {
	if !s.header.SettlementBalance.IsZero() || len(s.lines) == 0 {
		return s, false, nil
	}
	header := s.header
	header.SettlementBalance = s.Totals().AllocatedTotal
	next, err := s.commit(header, s.lines)
	if err != nil {
		return s, false, err
	}
	return next, true, nil
}

// Undo returns to the snapshot before the last mutation. The version keeps
// increasing so stores see the undo as a new edit.
func (s Session) Undo() (Session, error) {
	prev, rest, ok := s.history.Pop()
	if !ok {
		return s, ErrNothingToUndo
	}
	next := s
	next.header = prev.Header
	next.lines = allocation.Clone(prev.Lines)
	next.version = s.version + 1
	next.history = rest
	return next, nil
}

// WithHistoryLimit returns s with an empty undo history bounded by limit.
func (s Session) WithHistoryLimit(limit int) Session {
	s.history = NewHistory(limit)
	return s
}
