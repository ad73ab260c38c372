package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"ContraLedger/internal/allocation"
	"ContraLedger/internal/modules"
	"ContraLedger/internal/session"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var ErrSettlementNotFound = errors.New("persistence: settlement not found")

// SettlementStore loads persisted settlements back into session snapshots
// and reports the command log tip for recovery.
type SettlementStore struct {
	db *sql.DB
}

// ChainTip is the last persisted command, the point the processor resumes from.
type ChainTip struct {
	Sequence  int64
	StateHash [32]byte
}

func NewSettlementStore(db *sql.DB) *SettlementStore {
	return &SettlementStore{db: db}
}

// LoadSettlement returns the stored snapshot, or nil when the settlement was
// never persisted. It implements core.SessionLoader.
func (s *SettlementStore) LoadSettlement(ctx context.Context, id uuid.UUID) (*session.Snapshot, error) {
	snap, err := s.GetSettlement(ctx, id)
	if errors.Is(err, ErrSettlementNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// GetSettlement reads the header and lines of one settlement.
func (s *SettlementStore) GetSettlement(ctx context.Context, id uuid.UUID) (*session.Snapshot, error) {
	snap := &session.Snapshot{ID: id}
	var kind string
	var city decimal.NullDecimal
	h := &snap.Header

	err := s.db.QueryRowContext(ctx, `
		SELECT module, edit_version,
		       amount_decimals, local_amount_decimals, exchange_rate_decimals,
		       settlement_currency, settlement_balance, settlement_rate, city_rate,
		       allocated_total, allocated_total_local, allocated_total_city,
		       unallocated_total, total_exchange_gain_loss
		FROM settlement.settlements
		WHERE id = $1
	`, id).Scan(
		&kind, &snap.Version,
		&snap.Policy.AmountDecimals, &snap.Policy.LocalAmountDecimals, &snap.Policy.ExchangeRateDecimals,
		&h.SettlementCurrency, &h.SettlementBalance, &h.SettlementExchangeRate, &city,
		&h.AllocatedTotal, &h.AllocatedTotalLocal, &h.AllocatedTotalCity,
		&h.UnallocatedTotal, &h.TotalExchangeGainLoss,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSettlementNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load settlement %s: %w", id, err)
	}

	snap.Kind = modules.Kind(kind)
	if city.Valid {
		rate := city.Decimal
		h.SettlementCityExchangeRate = &rate
	}

	lines, err := s.loadLines(ctx, id)
	if err != nil {
		return nil, err
	}
	snap.Lines = lines
	return snap, nil
}

func (s *SettlementStore) loadLines(ctx context.Context, id uuid.UUID) ([]allocation.OutstandingLine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT line_no, doc_kind, doc_id, doc_no,
		       document_rate, document_balance, document_balance_local,
		       allocated_amount, allocated_amount_local, allocated_amount_city,
		       exchange_gain_loss, cent_difference, edit_version
		FROM settlement.lines
		WHERE settlement_id = $1
		ORDER BY display_order
	`, id)
	if err != nil {
		return nil, fmt.Errorf("load lines %s: %w", id, err)
	}
	defer rows.Close()

	lines := []allocation.OutstandingLine{}
	for rows.Next() {
		var l allocation.OutstandingLine
		if err := rows.Scan(
			&l.LineNo, &l.Document.Kind, &l.Document.ID, &l.Document.Number,
			&l.DocumentExchangeRate, &l.DocumentBalance, &l.DocumentBalanceLocal,
			&l.AllocatedAmount, &l.AllocatedAmountLocal, &l.AllocatedAmountCity,
			&l.ExchangeGainLoss, &l.CentDifference, &l.EditVersion,
		); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// StoredDigest returns the digest saved with the settlement, used to tell a
// caller whether its session has unsaved changes.
func (s *SettlementStore) StoredDigest(ctx context.Context, id uuid.UUID) ([32]byte, error) {
	var digest [32]byte
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT digest FROM settlement.settlements WHERE id = $1`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return digest, fmt.Errorf("%w: %s", ErrSettlementNotFound, id)
	}
	if err != nil {
		return digest, err
	}
	copy(digest[:], raw)
	return digest, nil
}

// LoadChainTip returns the last persisted command, or nil for an empty log.
func (s *SettlementStore) LoadChainTip(ctx context.Context) (*ChainTip, error) {
	var tip ChainTip
	var hash []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT sequence, state_hash FROM settlement.commands
		ORDER BY sequence DESC
		LIMIT 1
	`).Scan(&tip.Sequence, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Empty log: cold start
	}
	if err != nil {
		return nil, fmt.Errorf("load chain tip: %w", err)
	}
	copy(tip.StateHash[:], hash)
	return &tip, nil
}

// LoadCommandsFrom loads command rows from a given sequence, for audit and
// chain verification.
func (s *SettlementStore) LoadCommandsFrom(ctx context.Context, fromSequence int64, limit int) ([]CommandRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sequence, command_id, command_type, settlement_id, version,
		       payload, outcome, digest, state_hash, prev_hash, issued_at
		FROM settlement.commands
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var commands []CommandRow
	for rows.Next() {
		var c CommandRow
		if err := rows.Scan(
			&c.Sequence, &c.CommandID, &c.CommandType, &c.SettlementID, &c.Version,
			&c.Payload, &c.Outcome, &c.Digest, &c.StateHash, &c.PrevHash, &c.IssuedAt,
		); err != nil {
			return nil, err
		}
		commands = append(commands, c)
	}

	return commands, rows.Err()
}
