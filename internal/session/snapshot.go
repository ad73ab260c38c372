package session

import (
	"crypto/sha256"
	"encoding/binary"

	"ContraLedger/internal/allocation"
	fpmath "ContraLedger/internal/math"
	"ContraLedger/internal/modules"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Snapshot is the persisted form of a Session.
type Snapshot struct {
	ID      uuid.UUID                    `json:"id"`
	Kind    modules.Kind                 `json:"kind"`
	Policy  fpmath.DecimalPolicy         `json:"policy"`
	Header  allocation.Header            `json:"header"`
	Lines   []allocation.OutstandingLine `json:"lines"`
	Version int64                        `json:"version"`
}

func (s Session) snapshot() Snapshot {
	return Snapshot{
		ID:      s.id,
		Kind:    s.kind,
		Policy:  s.policy,
		Header:  s.header,
		Lines:   allocation.Clone(s.lines),
		Version: s.version,
	}
}

// Snapshot returns the current state without history.
func (s Session) Snapshot() Snapshot {
	return s.snapshot()
}

// Restore rebuilds a session from a stored snapshot. The history starts
// empty.
func Restore(snap Snapshot) (Session, error) {
	if err := snap.Policy.Validate(); err != nil {
		return Session{}, err
	}
	if err := allocation.CheckLines(snap.Lines); err != nil {
		return Session{}, err
	}
	lines := allocation.Clone(snap.Lines)
	if lines == nil {
		lines = []allocation.OutstandingLine{}
	}
	return Session{
		id:      snap.ID,
		kind:    snap.Kind,
		policy:  snap.Policy,
		header:  snap.Header,
		lines:   lines,
		version: snap.Version,
		history: NewHistory(DefaultHistoryLimit),
	}, nil
}

// Digest hashes the allocation content of the session: header, lines in
// display order and policy. Version and history are excluded, so two
// sessions with the same content share a digest. Compare with the stored
// digest to tell whether there are unsaved changes.
func (s Session) Digest() [32]byte {
	return s.snapshot().Digest()
}

// Digest is the canonical SHA-256 of the snapshot content.
func (snap Snapshot) Digest() [32]byte {
	h := sha256.New()

	writeString(h, snap.ID.String())
	writeString(h, string(snap.Kind))
	writeInt(h, int64(snap.Policy.AmountDecimals))
	writeInt(h, int64(snap.Policy.LocalAmountDecimals))
	writeInt(h, int64(snap.Policy.ExchangeRateDecimals))

	writeString(h, snap.Header.SettlementCurrency)
	writeDecimal(h, snap.Header.SettlementBalance)
	writeDecimal(h, snap.Header.SettlementExchangeRate)
	if snap.Header.SettlementCityExchangeRate != nil {
		writeDecimal(h, *snap.Header.SettlementCityExchangeRate)
	} else {
		writeString(h, "")
	}

	writeInt(h, int64(len(snap.Lines)))
	for _, l := range snap.Lines {
		writeInt(h, int64(l.LineNo))
		writeString(h, l.Document.Kind)
		writeString(h, l.Document.ID)
		writeString(h, l.Document.Number)
		writeDecimal(h, l.DocumentExchangeRate)
		writeDecimal(h, l.DocumentBalance)
		writeDecimal(h, l.DocumentBalanceLocal)
		writeDecimal(h, l.AllocatedAmount)
	}

	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

type byteWriter interface {
	Write(p []byte) (int, error)
}

// writeString writes a length-prefixed string.
func writeString(w byteWriter, s string) {
	writeInt(w, int64(len(s)))
	w.Write([]byte(s))
}

// writeInt writes v as 8 bytes little endian.
func writeInt(w byteWriter, v int64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v))
	w.Write(buf[:])
}

// writeDecimal normalizes trailing zeros so 1.50 and 1.5 hash the same.
func writeDecimal(w byteWriter, v decimal.Decimal) {
	writeString(w, v.String())
}
