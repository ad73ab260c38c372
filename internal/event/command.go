package event

import (
	"time"

	"ContraLedger/internal/allocation"
	fpmath "ContraLedger/internal/math"
	"ContraLedger/internal/modules"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AnyVersion disables the optimistic concurrency check of a command.
const AnyVersion int64 = -1

// Command is the interface all command payloads must implement
type Command interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// CommandType returns the discriminator
	CommandType() CommandType

	// Settlement returns the target settlement id
	Settlement() uuid.UUID

	// ExpectedVersion is the settlement version the issuer edited against,
	// or AnyVersion
	ExpectedVersion() int64

	// IssuedAt is the versioned input timestamp
	IssuedAt() time.Time
}

// Meta holds the fields every command carries.
type Meta struct {
	CommandID    uuid.UUID `json:"command_id"`
	SettlementID uuid.UUID `json:"settlement_id"`
	Expected     int64     `json:"expected_version"`
	Issued       time.Time `json:"issued_at"`
}

func (m Meta) IdempotencyKey() string { return m.CommandID.String() }
func (m Meta) Settlement() uuid.UUID  { return m.SettlementID }
func (m Meta) ExpectedVersion() int64 { return m.Expected }
func (m Meta) IssuedAt() time.Time    { return m.Issued }

type OpenSettlement struct {
	Meta
	Module modules.Kind `json:"module"`
	// Nil selects the module's configured policy
	Policy *fpmath.DecimalPolicy `json:"policy,omitempty"`
	Header allocation.Header     `json:"header"`
}

func (c *OpenSettlement) CommandType() CommandType { return CommandTypeOpenSettlement }

type AddDocuments struct {
	Meta
	Documents []allocation.OutstandingLine `json:"documents"`
}

func (c *AddDocuments) CommandType() CommandType { return CommandTypeAddDocuments }

type RemoveDocument struct {
	Meta
	LineNo int `json:"line_no"`
}

func (c *RemoveDocument) CommandType() CommandType { return CommandTypeRemoveDocument }

type ReorderLines struct {
	Meta
	LineNos []int `json:"line_nos"`
}

func (c *ReorderLines) CommandType() CommandType { return CommandTypeReorderLines }

type AutoAllocate struct {
	Meta
	// Zero means no cap
	Ceiling decimal.Decimal `json:"ceiling"`
}

func (c *AutoAllocate) CommandType() CommandType { return CommandTypeAutoAllocate }

type EditAllocation struct {
	Meta
	LineNo     int             `json:"line_no"`
	Amount     decimal.Decimal `json:"amount"`
	NettingCap bool            `json:"netting_cap"`
}

func (c *EditAllocation) CommandType() CommandType { return CommandTypeEditAllocation }

type ChangeRates struct {
	Meta
	SettlementRate decimal.Decimal  `json:"settlement_rate"`
	CityRate       *decimal.Decimal `json:"city_rate,omitempty"`
}

func (c *ChangeRates) CommandType() CommandType { return CommandTypeChangeRates }

type SetSettlementBalance struct {
	Meta
	Balance decimal.Decimal `json:"balance"`
}

func (c *SetSettlementBalance) CommandType() CommandType { return CommandTypeSetSettlementBalance }

type AdoptAllocatedTotal struct {
	Meta
}

func (c *AdoptAllocatedTotal) CommandType() CommandType { return CommandTypeAdoptAllocatedTotal }

type Undo struct {
	Meta
}

func (c *Undo) CommandType() CommandType { return CommandTypeUndo }
