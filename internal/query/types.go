package query

import (
	"encoding/json"
	"time"

	"ContraLedger/internal/session"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SettlementSummary is one row of a settlement listing.
type SettlementSummary struct {
	ID                 uuid.UUID       `json:"id"`
	Module             string          `json:"module"`
	Version            int64           `json:"version"`
	SettlementCurrency string          `json:"settlement_currency"`
	SettlementBalance  decimal.Decimal `json:"settlement_balance"`
	AllocatedTotal     decimal.Decimal `json:"allocated_total"`
	UnallocatedTotal   decimal.Decimal `json:"unallocated_total"`
	LineCount          int             `json:"line_count"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// SettlementResponse is a persisted settlement with its bookkeeping fields.
type SettlementResponse struct {
	session.Snapshot
	Digest       string    `json:"digest"`
	LastSequence int64     `json:"last_sequence"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CommandHistoryEntry represents an applied command for API queries.
type CommandHistoryEntry struct {
	Sequence    int64           `json:"sequence"`
	CommandID   string          `json:"command_id"`
	CommandType string          `json:"command_type"`
	Version     int64           `json:"version"`
	Payload     json.RawMessage `json:"payload"`
	Outcome     json.RawMessage `json:"outcome"`
	IssuedAt    time.Time       `json:"issued_at"`
}

// ListFilter narrows ListSettlements. Zero fields do not filter.
type ListFilter struct {
	Module   string
	Currency string
	// Cursor: only settlements updated strictly before this time
	Before *time.Time
	Limit  int
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool             `json:"is_healthy"`
	HashChainBreaks  []int64          `json:"hash_chain_breaks,omitempty"`
	NettingMismatch  []NettingProblem `json:"netting_mismatch,omitempty"`
	CheckedSequences int64            `json:"checked_sequences"`
}

// NettingProblem is a settlement whose stored allocated total is not
// min(debit allocations, |credit allocations|) over its stored lines.
type NettingProblem struct {
	SettlementID   uuid.UUID       `json:"settlement_id"`
	AllocatedTotal decimal.Decimal `json:"allocated_total"`
	DebitSide      decimal.Decimal `json:"debit_side"`
	CreditSide     decimal.Decimal `json:"credit_side"`
}
