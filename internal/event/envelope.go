package event

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CommandType discriminator for command payloads
type CommandType int32

const (
	CommandTypeUnknown CommandType = iota
	CommandTypeOpenSettlement
	CommandTypeAddDocuments
	CommandTypeRemoveDocument
	CommandTypeReorderLines
	CommandTypeAutoAllocate
	CommandTypeEditAllocation
	CommandTypeChangeRates
	CommandTypeSetSettlementBalance
	CommandTypeAdoptAllocatedTotal
	CommandTypeUndo
)

var commandTypeNames = map[CommandType]string{
	CommandTypeOpenSettlement:       "OpenSettlement",
	CommandTypeAddDocuments:         "AddDocuments",
	CommandTypeRemoveDocument:       "RemoveDocument",
	CommandTypeReorderLines:         "ReorderLines",
	CommandTypeAutoAllocate:         "AutoAllocate",
	CommandTypeEditAllocation:       "EditAllocation",
	CommandTypeChangeRates:          "ChangeRates",
	CommandTypeSetSettlementBalance: "SetSettlementBalance",
	CommandTypeAdoptAllocatedTotal:  "AdoptAllocatedTotal",
	CommandTypeUndo:                 "Undo",
}

func (ct CommandType) String() string {
	if name, ok := commandTypeNames[ct]; ok {
		return name
	}
	return "Unknown"
}

// ParseCommandType maps a wire name back to its CommandType.
func ParseCommandType(name string) CommandType {
	for ct, n := range commandTypeNames {
		if n == name {
			return ct
		}
	}
	return CommandTypeUnknown
}

// CommandTypes lists every known type in declaration order.
func CommandTypes() []CommandType {
	out := make([]CommandType, 0, len(commandTypeNames))
	for ct := CommandTypeOpenSettlement; ct <= CommandTypeUndo; ct++ {
		out = append(out, ct)
	}
	return out
}

// Outcome carries the engine signals of an applied command.
type Outcome struct {
	// Matched amount of an auto-allocation
	Applied decimal.Decimal `json:"applied"`

	// Manual edit was forced to zero
	AutoZeroed bool `json:"auto_zeroed"`

	// Zero settlement balance replaced by the allocated total
	Adopted bool `json:"adopted"`
}

// Envelope wraps every applied command in the log
type Envelope struct {
	// Global monotonic sequence assigned by the processor
	Sequence int64 `json:"sequence"`

	// Command id, the idempotency key
	IdempotencyKey string `json:"idempotency_key"`

	CommandType  CommandType `json:"command_type"`
	SettlementID uuid.UUID   `json:"settlement_id"`

	// Settlement version after the command
	Version int64 `json:"version"`

	// Issue time carried by the command (NOT wall-clock)
	Timestamp time.Time `json:"timestamp"`

	// JSON-encoded command
	Payload []byte `json:"payload"`

	Outcome Outcome `json:"outcome"`

	// SHA-256 of settlement content after the command
	Digest [32]byte `json:"digest"`

	// Chain hash over sequence and digest, and its predecessor
	StateHash [32]byte `json:"state_hash"`
	PrevHash  [32]byte `json:"prev_hash"`
}
