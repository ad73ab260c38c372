package core

import (
	"errors"
	"fmt"

	"ContraLedger/internal/event"
	"ContraLedger/internal/observability"

	"github.com/google/uuid"
)

var ErrVersionConflict = errors.New("core: version conflict")

// Conflict kinds, also the label values of contra_version_conflicts_total.
const (
	ConflictStale = "stale"
	ConflictAhead = "ahead"
)

// VersionValidator checks the version a command was issued against.
type VersionValidator struct {
	prom *observability.Metrics
}

func NewVersionValidator() *VersionValidator {
	return &VersionValidator{}
}

// Export counts conflicts into prometheus. Nil is allowed.
func (vv *VersionValidator) Export(m *observability.Metrics) {
	vv.prom = m
}

// Validate accepts event.AnyVersion or an exact match with current.
// Anything else means the issuer edited a stale copy.
func (vv *VersionValidator) Validate(settlementID uuid.UUID, current, expected int64) error {
	if expected == event.AnyVersion || expected == current {
		return nil
	}

	kind := ConflictStale
	if expected > current {
		// Issuer claims a version that was never produced
		kind = ConflictAhead
	}
	if vv.prom != nil {
		vv.prom.VersionConflicts.WithLabelValues(kind).Inc()
	}
	return fmt.Errorf("%w: settlement=%s, expected=%d, current=%d, kind=%s",
		ErrVersionConflict, settlementID, expected, current, kind)
}
