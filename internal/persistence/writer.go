package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"ContraLedger/internal/event"
	"ContraLedger/internal/session"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// CommandLogWriter writes the command log and the settlement state using
// multi-row INSERTs.
type CommandLogWriter struct {
	db *sql.DB
}

// CommandRow represents a row in settlement.commands
type CommandRow struct {
	Sequence     int64
	CommandID    string
	CommandType  string
	SettlementID uuid.UUID
	Version      int64
	Payload      []byte // JSON-encoded command
	Outcome      []byte
	Digest       []byte
	StateHash    []byte
	PrevHash     []byte
	IssuedAt     time.Time
}

// SettlementRow is the full persisted state of one settlement after a command.
type SettlementRow struct {
	Snapshot     session.Snapshot
	Digest       []byte
	LastSequence int64
}

func NewCommandLogWriter(db *sql.DB) *CommandLogWriter {
	return &CommandLogWriter{db: db}
}

// NewCoreOutput converts one processor output into its rows.
func NewCoreOutput(env *event.Envelope, snap session.Snapshot) CoreOutput {
	outcome, err := json.Marshal(env.Outcome)
	if err != nil {
		outcome = []byte("{}")
	}
	return CoreOutput{
		Command: CommandRow{
			Sequence:     env.Sequence,
			CommandID:    env.IdempotencyKey,
			CommandType:  env.CommandType.String(),
			SettlementID: env.SettlementID,
			Version:      env.Version,
			Payload:      env.Payload,
			Outcome:      outcome,
			Digest:       env.Digest[:],
			StateHash:    env.StateHash[:],
			PrevHash:     env.PrevHash[:],
			IssuedAt:     env.Timestamp,
		},
		Settlement: SettlementRow{
			Snapshot:     snap,
			Digest:       env.Digest[:],
			LastSequence: env.Sequence,
		},
	}
}

// WriteCommandBatch writes a batch of commands to settlement.commands.
func (w *CommandLogWriter) WriteCommandBatch(ctx context.Context, ex execer, commands []CommandRow) error {
	if len(commands) == 0 {
		return nil
	}

	query := `INSERT INTO settlement.commands
		(sequence, command_id, command_type, settlement_id, version, payload, outcome, digest, state_hash, prev_hash, issued_at)
		VALUES `

	const cols = 11
	values := make([]string, 0, len(commands))
	args := make([]any, 0, len(commands)*cols)

	for i, c := range commands {
		values = append(values, placeholders(i*cols, cols))
		args = append(args,
			c.Sequence, c.CommandID, c.CommandType, c.SettlementID, c.Version,
			c.Payload, c.Outcome, c.Digest, c.StateHash, c.PrevHash, c.IssuedAt,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING" // Idempotent writes

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// UpsertSettlement writes the header row and replaces the lines. The upsert
// only wins when edit_version moves forward; it reports false for a stale
// write, leaving the stored state untouched.
func (w *CommandLogWriter) UpsertSettlement(ctx context.Context, ex execer, row SettlementRow) (bool, error) {
	snap := row.Snapshot
	h := snap.Header

	res, err := ex.ExecContext(ctx, `
		INSERT INTO settlement.settlements (
			id, module, edit_version,
			amount_decimals, local_amount_decimals, exchange_rate_decimals,
			settlement_currency, settlement_balance, settlement_rate, city_rate,
			allocated_total, allocated_total_local, allocated_total_city,
			unallocated_total, total_exchange_gain_loss,
			digest, last_sequence, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, NOW())
		ON CONFLICT (id) DO UPDATE SET
			module = EXCLUDED.module,
			edit_version = EXCLUDED.edit_version,
			amount_decimals = EXCLUDED.amount_decimals,
			local_amount_decimals = EXCLUDED.local_amount_decimals,
			exchange_rate_decimals = EXCLUDED.exchange_rate_decimals,
			settlement_currency = EXCLUDED.settlement_currency,
			settlement_balance = EXCLUDED.settlement_balance,
			settlement_rate = EXCLUDED.settlement_rate,
			city_rate = EXCLUDED.city_rate,
			allocated_total = EXCLUDED.allocated_total,
			allocated_total_local = EXCLUDED.allocated_total_local,
			allocated_total_city = EXCLUDED.allocated_total_city,
			unallocated_total = EXCLUDED.unallocated_total,
			total_exchange_gain_loss = EXCLUDED.total_exchange_gain_loss,
			digest = EXCLUDED.digest,
			last_sequence = EXCLUDED.last_sequence,
			updated_at = NOW()
		WHERE settlement.settlements.edit_version < EXCLUDED.edit_version
	`,
		snap.ID, string(snap.Kind), snap.Version,
		snap.Policy.AmountDecimals, snap.Policy.LocalAmountDecimals, snap.Policy.ExchangeRateDecimals,
		h.SettlementCurrency, h.SettlementBalance, h.SettlementExchangeRate, nullDecimal(h.SettlementCityExchangeRate),
		h.AllocatedTotal, h.AllocatedTotalLocal, h.AllocatedTotalCity,
		h.UnallocatedTotal, h.TotalExchangeGainLoss,
		row.Digest, row.LastSequence,
	)
	if err != nil {
		return false, fmt.Errorf("upsert settlement %s: %w", snap.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	if _, err := ex.ExecContext(ctx, `DELETE FROM settlement.lines WHERE settlement_id = $1`, snap.ID); err != nil {
		return false, fmt.Errorf("clear lines %s: %w", snap.ID, err)
	}
	if err := w.writeLines(ctx, ex, snap); err != nil {
		return false, fmt.Errorf("write lines %s: %w", snap.ID, err)
	}
	return true, nil
}

func (w *CommandLogWriter) writeLines(ctx context.Context, ex execer, snap session.Snapshot) error {
	if len(snap.Lines) == 0 {
		return nil
	}

	query := `INSERT INTO settlement.lines
		(settlement_id, line_no, display_order, doc_kind, doc_id, doc_no,
		 document_rate, document_balance, document_balance_local,
		 allocated_amount, allocated_amount_local, allocated_amount_city,
		 exchange_gain_loss, cent_difference, edit_version)
		VALUES `

	const cols = 15
	values := make([]string, 0, len(snap.Lines))
	args := make([]any, 0, len(snap.Lines)*cols)

	for i, l := range snap.Lines {
		values = append(values, placeholders(i*cols, cols))
		args = append(args,
			snap.ID, l.LineNo, i, l.Document.Kind, l.Document.ID, l.Document.Number,
			l.DocumentExchangeRate, l.DocumentBalance, l.DocumentBalanceLocal,
			l.AllocatedAmount, l.AllocatedAmountLocal, l.AllocatedAmountCity,
			l.ExchangeGainLoss, l.CentDifference, l.EditVersion,
		)
	}

	_, err := ex.ExecContext(ctx, query+strings.Join(values, ", "), args...)
	return err
}

// placeholders renders "($base+1, ..., $base+n)".
func placeholders(base, n int) string {
	var b strings.Builder
	b.WriteByte('(')
	for i := 1; i <= n; i++ {
		if i > 1 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "$%d", base+i)
	}
	b.WriteByte(')')
	return b.String()
}

func nullDecimal(v *decimal.Decimal) decimal.NullDecimal {
	if v == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *v, Valid: true}
}
