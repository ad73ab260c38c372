package query

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"ContraLedger/internal/persistence"

	"github.com/google/uuid"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// QueryService provides read-only access to persisted settlements and the
// command log. Live state of an open settlement is served by the processor;
// this is the view of what has been committed to Postgres.
type QueryService struct {
	db    *sql.DB
	store *persistence.SettlementStore
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db, store: persistence.NewSettlementStore(db)}
}

// GetSettlement returns a persisted settlement with its lines.
func (qs *QueryService) GetSettlement(ctx context.Context, id uuid.UUID) (*SettlementResponse, error) {
	snap, err := qs.store.GetSettlement(ctx, id)
	if err != nil {
		return nil, err
	}

	resp := &SettlementResponse{Snapshot: *snap}
	var digest []byte
	err = qs.db.QueryRowContext(ctx, `
		SELECT digest, last_sequence, updated_at
		FROM settlement.settlements
		WHERE id = $1
	`, id).Scan(&digest, &resp.LastSequence, &resp.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("settlement metadata %s: %w", id, err)
	}
	resp.Digest = hex.EncodeToString(digest)
	return resp, nil
}

// ListSettlements returns settlements newest first.
// Supports cursor-based pagination on updated_at.
func (qs *QueryService) ListSettlements(ctx context.Context, f ListFilter) ([]SettlementSummary, error) {
	query := `
		SELECT s.id, s.module, s.edit_version, s.settlement_currency,
		       s.settlement_balance, s.allocated_total, s.unallocated_total,
		       (SELECT COUNT(*) FROM settlement.lines l WHERE l.settlement_id = s.id),
		       s.updated_at
		FROM settlement.settlements s
		WHERE TRUE
	`
	args := []interface{}{}
	argIdx := 1

	if f.Module != "" {
		query += fmt.Sprintf(" AND s.module = $%d", argIdx)
		args = append(args, f.Module)
		argIdx++
	}

	if f.Currency != "" {
		query += fmt.Sprintf(" AND s.settlement_currency = $%d", argIdx)
		args = append(args, f.Currency)
		argIdx++
	}

	if f.Before != nil {
		query += fmt.Sprintf(" AND s.updated_at < $%d", argIdx)
		args = append(args, *f.Before)
		argIdx++
	}

	query += " ORDER BY s.updated_at DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, clampLimit(f.Limit))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SettlementSummary
	for rows.Next() {
		var s SettlementSummary
		if err := rows.Scan(
			&s.ID, &s.Module, &s.Version, &s.SettlementCurrency,
			&s.SettlementBalance, &s.AllocatedTotal, &s.UnallocatedTotal,
			&s.LineCount, &s.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, s)
	}

	return out, rows.Err()
}

// GetCommandHistory returns the commands applied to one settlement, newest
// first, with pagination on sequence.
func (qs *QueryService) GetCommandHistory(
	ctx context.Context,
	settlementID uuid.UUID,
	limit int,
	beforeSequence *int64,
) ([]CommandHistoryEntry, error) {
	query := `
		SELECT sequence, command_id, command_type, version, payload, outcome, issued_at
		FROM settlement.commands
		WHERE settlement_id = $1
	`
	args := []interface{}{settlementID}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, clampLimit(limit))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []CommandHistoryEntry
	for rows.Next() {
		var e CommandHistoryEntry
		var payload, outcome []byte
		if err := rows.Scan(
			&e.Sequence, &e.CommandID, &e.CommandType, &e.Version,
			&payload, &outcome, &e.IssuedAt,
		); err != nil {
			return nil, err
		}
		e.Payload = json.RawMessage(payload)
		e.Outcome = json.RawMessage(outcome)
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks hash chain continuity of the command log and the
// netting identity of every stored settlement.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	if err := qs.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM settlement.commands`,
	).Scan(&report.CheckedSequences); err != nil {
		return nil, err
	}

	// Check hash chain continuity
	rows, err := qs.db.QueryContext(ctx, `
		SELECT c1.sequence
		FROM settlement.commands c1
		LEFT JOIN settlement.commands c2 ON c2.sequence = c1.sequence - 1
		WHERE c1.sequence > 0 AND c1.prev_hash != COALESCE(c2.state_hash, c1.prev_hash)
		ORDER BY c1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Allocated total must equal the smaller side of the stored lines
	nettingRows, err := qs.db.QueryContext(ctx, `
		SELECT s.id, s.allocated_total, sides.debit, sides.credit
		FROM settlement.settlements s
		JOIN (
			SELECT settlement_id,
			       COALESCE(SUM(allocated_amount) FILTER (WHERE allocated_amount > 0), 0) AS debit,
			       COALESCE(-SUM(allocated_amount) FILTER (WHERE allocated_amount < 0), 0) AS credit
			FROM settlement.lines
			GROUP BY settlement_id
		) sides ON sides.settlement_id = s.id
		WHERE s.allocated_total != LEAST(sides.debit, sides.credit)
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer nettingRows.Close()

	for nettingRows.Next() {
		var p NettingProblem
		if err := nettingRows.Scan(&p.SettlementID, &p.AllocatedTotal, &p.DebitSide, &p.CreditSide); err != nil {
			return nil, err
		}
		report.NettingMismatch = append(report.NettingMismatch, p)
	}
	if err := nettingRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.NettingMismatch) == 0
	return report, nil
}

// --- helpers ---

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultPageSize
	case limit > MaxPageSize:
		return MaxPageSize
	default:
		return limit
	}
}
