package ingestion

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"ContraLedger/internal/allocation"
	"ContraLedger/internal/event"
	"ContraLedger/internal/modules"

	"github.com/google/uuid"
)

var (
	ErrUnknownCommandType = errors.New("ingestion: unknown command type")
	ErrMissingCommandID   = errors.New("ingestion: missing command_id")
	ErrMissingSettlement  = errors.New("ingestion: missing settlement_id")
	ErrSettlementMismatch = errors.New("ingestion: settlement_id does not match route")
	ErrBadSubject         = errors.New("ingestion: unexpected subject")

	// Wraps every parse failure returned by SubmitService
	ErrMalformedCommand = errors.New("ingestion: malformed command")
)

// ParseCommand converts a JSON command body into a typed event.Command.
//
// settlementID and issued are defaults taken from the transport (NATS message
// time, HTTP route). A body that names a different settlement is rejected.
// A missing expected_version means the command applies to any version.
func ParseCommand(commandType string, settlementID uuid.UUID, issued time.Time, data []byte) (event.Command, error) {
	ct := event.ParseCommandType(commandType)
	meta := event.Meta{
		SettlementID: settlementID,
		Expected:     event.AnyVersion,
		Issued:       issued,
	}

	var cmd event.Command
	var err error
	switch ct {
	case event.CommandTypeAddDocuments:
		cmd, err = parseAddDocuments(meta, data)
	case event.CommandTypeUnknown:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommandType, commandType)
	default:
		cmd = newCommand(ct, meta)
		err = json.Unmarshal(data, cmd)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", ct, err)
	}

	if cmd.IdempotencyKey() == uuid.Nil.String() {
		return nil, fmt.Errorf("parse %s: %w", ct, ErrMissingCommandID)
	}
	if cmd.Settlement() == uuid.Nil {
		return nil, fmt.Errorf("parse %s: %w", ct, ErrMissingSettlement)
	}
	if settlementID != uuid.Nil && cmd.Settlement() != settlementID {
		return nil, fmt.Errorf("parse %s: %w: body=%s route=%s", ct, ErrSettlementMismatch, cmd.Settlement(), settlementID)
	}
	return cmd, nil
}

func newCommand(ct event.CommandType, meta event.Meta) event.Command {
	switch ct {
	case event.CommandTypeOpenSettlement:
		return &event.OpenSettlement{Meta: meta}
	case event.CommandTypeRemoveDocument:
		return &event.RemoveDocument{Meta: meta}
	case event.CommandTypeReorderLines:
		return &event.ReorderLines{Meta: meta}
	case event.CommandTypeAutoAllocate:
		return &event.AutoAllocate{Meta: meta}
	case event.CommandTypeEditAllocation:
		return &event.EditAllocation{Meta: meta}
	case event.CommandTypeChangeRates:
		return &event.ChangeRates{Meta: meta}
	case event.CommandTypeSetSettlementBalance:
		return &event.SetSettlementBalance{Meta: meta}
	case event.CommandTypeAdoptAllocatedTotal:
		return &event.AdoptAllocatedTotal{Meta: meta}
	case event.CommandTypeUndo:
		return &event.Undo{Meta: meta}
	default:
		return &event.AddDocuments{Meta: meta}
	}
}

// --- JSON wire formats ---

// addDocumentsJSON accepts either canonical lines or, when module is set,
// the owning module's own document shape.
type addDocumentsJSON struct {
	event.Meta
	Module    string          `json:"module"`
	Documents json.RawMessage `json:"documents"`
}

func parseAddDocuments(meta event.Meta, data []byte) (*event.AddDocuments, error) {
	j := addDocumentsJSON{Meta: meta}
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, err
	}

	cmd := &event.AddDocuments{Meta: j.Meta}
	if len(j.Documents) == 0 {
		return cmd, nil
	}

	if j.Module == "" {
		var lines []allocation.OutstandingLine
		if err := json.Unmarshal(j.Documents, &lines); err != nil {
			return nil, fmt.Errorf("parse documents: %w", err)
		}
		cmd.Documents = lines
		return cmd, nil
	}

	kind, err := modules.ParseKind(j.Module)
	if err != nil {
		return nil, err
	}
	lines, err := modules.Decode(kind, func(v any) error { return json.Unmarshal(j.Documents, v) })
	if err != nil {
		return nil, err
	}
	cmd.Documents = lines
	return cmd, nil
}

// ParseRateUpdate converts a JSON rate publication. The currency defaults to
// the subject's last token.
func ParseRateUpdate(currency string, issued time.Time, data []byte) (*event.RateUpdate, error) {
	u := &event.RateUpdate{Currency: currency, IssuedAt: issued}
	if err := json.Unmarshal(data, u); err != nil {
		return nil, fmt.Errorf("parse RateUpdate: %w", err)
	}
	if u.UpdateID == uuid.Nil {
		return nil, fmt.Errorf("parse RateUpdate: missing update_id")
	}
	if u.Currency == "" {
		return nil, fmt.Errorf("parse RateUpdate: missing currency")
	}
	if !u.SettlementRate.IsPositive() {
		return nil, fmt.Errorf("parse RateUpdate: settlement_rate must be positive")
	}
	u.Currency = strings.ToUpper(u.Currency)
	return u, nil
}

// SubjectToken returns the token after prefix, e.g. the command type of
// "contra.commands.AutoAllocate".
func SubjectToken(subject, prefix string) (string, error) {
	rest, ok := strings.CutPrefix(subject, prefix+".")
	if !ok || rest == "" {
		return "", fmt.Errorf("%w: %s", ErrBadSubject, subject)
	}
	// contra.commands.{type}.{anything}
	token, _, _ := strings.Cut(rest, ".")
	return token, nil
}
