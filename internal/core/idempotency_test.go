package core_test

import (
	"errors"
	"testing"

	"ContraLedger/internal/core"
	"ContraLedger/internal/observability"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type stubDB struct {
	known map[string]bool
	err   error
}

func (s *stubDB) IsDuplicate(commandType, key string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return s.known[core.CompositeKey(commandType, key)], nil
}

func TestIdempotencyLRU_Evicts(t *testing.T) {
	lru := core.NewIdempotencyLRU(2)
	lru.Add("a")
	lru.Add("b")
	require.True(t, lru.Contains("a"))

	lru.Add("c") // evicts b, a was promoted
	require.False(t, lru.Contains("b"))
	require.True(t, lru.Contains("a"))
	require.Equal(t, 2, lru.Size())
	require.Equal(t, int64(1), lru.Evictions())
}

func TestIdempotencyChecker_TwoTiers(t *testing.T) {
	db := &stubDB{known: map[string]bool{core.CompositeKey("Undo", "k1"): true}}
	ic := core.NewIdempotencyChecker(10, db)

	require.True(t, ic.IsDuplicate("Undo", "k1"))
	lru, pg := ic.GetMetrics().GetDuplicates("Undo")
	require.Equal(t, int64(0), lru)
	require.Equal(t, int64(1), pg)

	// promoted to the LRU
	require.True(t, ic.IsDuplicate("Undo", "k1"))
	lru, _ = ic.GetMetrics().GetDuplicates("Undo")
	require.Equal(t, int64(1), lru)

	require.False(t, ic.IsDuplicate("Undo", "k2"))
	ic.MarkProcessed("Undo", "k2")
	require.True(t, ic.IsDuplicate("Undo", "k2"))
}

func TestIdempotencyChecker_Tier2ErrorIsNotDuplicate(t *testing.T) {
	ic := core.NewIdempotencyChecker(10, &stubDB{err: errors.New("timeout")})

	require.False(t, ic.IsDuplicate("Undo", "k"))
	require.Equal(t, int64(1), ic.GetMetrics().GetTier2Errors())
}

func TestIdempotencyChecker_ExportsToPrometheus(t *testing.T) {
	m := observability.NewMetrics(prometheus.NewRegistry())
	db := &stubDB{known: map[string]bool{core.CompositeKey("Undo", "k1"): true}}
	ic := core.NewIdempotencyChecker(10, db)
	ic.Export(m)

	require.True(t, ic.IsDuplicate("Undo", "k1"))
	require.True(t, ic.IsDuplicate("Undo", "k1"))
	require.Equal(t, 1.0, promtest.ToFloat64(m.IdempotencyDuplicates.WithLabelValues("postgres")))
	require.Equal(t, 1.0, promtest.ToFloat64(m.IdempotencyDuplicates.WithLabelValues("lru")))

	db.err = errors.New("timeout")
	require.False(t, ic.IsDuplicate("Undo", "k9"))
	require.Equal(t, 1.0, promtest.ToFloat64(m.DedupTier2Errors))
}

func TestVersionValidator(t *testing.T) {
	m := observability.NewMetrics(prometheus.NewRegistry())
	vv := core.NewVersionValidator()
	vv.Export(m)

	for i := 0; i < 5; i++ {
		id := uuid.New()
		require.NoError(t, vv.Validate(id, 3, 3))
		require.NoError(t, vv.Validate(id, 3, -1))
		require.ErrorIs(t, vv.Validate(id, 3, 2), core.ErrVersionConflict)
	}
	require.ErrorIs(t, vv.Validate(uuid.New(), 3, 4), core.ErrVersionConflict)

	// one series per kind, however many settlements conflicted
	require.Equal(t, 5.0, promtest.ToFloat64(m.VersionConflicts.WithLabelValues(core.ConflictStale)))
	require.Equal(t, 1.0, promtest.ToFloat64(m.VersionConflicts.WithLabelValues(core.ConflictAhead)))
	require.Equal(t, 2, promtest.CollectAndCount(m.VersionConflicts))
}

func TestVersionValidator_WithoutMetrics(t *testing.T) {
	vv := core.NewVersionValidator()
	require.ErrorIs(t, vv.Validate(uuid.New(), 1, 0), core.ErrVersionConflict)
}
