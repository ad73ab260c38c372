package core

import (
	"container/list"

	"ContraLedger/internal/observability"
)

// Dedup tiers, also the label values of contra_idempotency_duplicates_total.
const (
	TierLRU      = "lru"
	TierPostgres = "postgres"
)

// DBIdempotencyChecker looks a command up in the persisted command log.
type DBIdempotencyChecker interface {
	IsDuplicate(commandType string, commandID string) (bool, error)
}

// IdempotencyChecker answers "was this command already applied?" from a
// bounded in-memory LRU first and the command log second. A hit in the log is
// promoted into the LRU.
type IdempotencyChecker struct {
	recent  *IdempotencyLRU
	db      DBIdempotencyChecker
	metrics *IdempotencyMetrics
	prom    *observability.Metrics
}

func NewIdempotencyChecker(capacity int, db DBIdempotencyChecker) *IdempotencyChecker {
	return &IdempotencyChecker{
		recent:  NewIdempotencyLRU(capacity),
		db:      db,
		metrics: NewIdempotencyMetrics(),
	}
}

// Export mirrors the counters into prometheus. Nil is allowed.
func (ic *IdempotencyChecker) Export(m *observability.Metrics) {
	ic.prom = m
}

// CompositeKey is the LRU key of a command. It matches the keys returned by
// the command log for warming.
func CompositeKey(commandType string, commandID string) string {
	return commandType + ":" + commandID
}

func (ic *IdempotencyChecker) IsDuplicate(commandType string, commandID string) bool {
	key := CompositeKey(commandType, commandID)
	if ic.recent.Contains(key) {
		ic.recordDuplicate(commandType, TierLRU)
		return true
	}
	if ic.db == nil {
		return false
	}

	applied, err := ic.db.IsDuplicate(commandType, commandID)
	if err != nil {
		// A log outage must not block editing; the command log primary key
		// still refuses the replay at persist time.
		ic.metrics.tier2Errors++
		if ic.prom != nil {
			ic.prom.DedupTier2Errors.Inc()
		}
		return false
	}
	if !applied {
		return false
	}

	ic.recordDuplicate(commandType, TierPostgres)
	ic.recent.Add(key)
	return true
}

func (ic *IdempotencyChecker) recordDuplicate(commandType, tier string) {
	ic.metrics.duplicates[dedupKey{commandType, tier}]++
	if ic.prom != nil {
		ic.prom.IdempotencyDuplicates.WithLabelValues(tier).Inc()
	}
}

// MarkProcessed remembers an applied command.
func (ic *IdempotencyChecker) MarkProcessed(commandType string, commandID string) {
	ic.recent.Add(CompositeKey(commandType, commandID))
}

// Warm loads composite keys, oldest first, so the newest end up most recent.
func (ic *IdempotencyChecker) Warm(keys []string) {
	for _, k := range keys {
		ic.recent.Add(k)
	}
}

func (ic *IdempotencyChecker) Size() int {
	return ic.recent.Size()
}

func (ic *IdempotencyChecker) GetMetrics() *IdempotencyMetrics {
	return ic.metrics
}

// --- LRU ---

// IdempotencyLRU is a set of keys bounded by capacity, evicting the least
// recently used. Not thread-safe; only the processor goroutine touches it.
type IdempotencyLRU struct {
	capacity  int
	index     map[string]*list.Element
	order     *list.List // front = most recent; values are keys
	evictions int64
}

func NewIdempotencyLRU(capacity int) *IdempotencyLRU {
	if capacity <= 0 {
		capacity = 1
	}
	return &IdempotencyLRU{
		capacity: capacity,
		index:    make(map[string]*list.Element, capacity),
		order:    list.New(),
	}
}

// Contains reports whether key is held, and marks it most recent if so.
func (c *IdempotencyLRU) Contains(key string) bool {
	el, ok := c.index[key]
	if ok {
		c.order.MoveToFront(el)
	}
	return ok
}

func (c *IdempotencyLRU) Add(key string) {
	if c.Contains(key) {
		return
	}
	c.index[key] = c.order.PushFront(key)
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.index, oldest.Value.(string))
		c.evictions++
	}
}

func (c *IdempotencyLRU) Size() int {
	return c.order.Len()
}

func (c *IdempotencyLRU) Evictions() int64 {
	return c.evictions
}

// --- Metrics ---

type dedupKey struct {
	commandType string
	tier        string
}

// IdempotencyMetrics counts duplicates per command type and tier.
// Not thread-safe; only the processor goroutine touches it.
type IdempotencyMetrics struct {
	duplicates  map[dedupKey]int64
	tier2Errors int64
}

func NewIdempotencyMetrics() *IdempotencyMetrics {
	return &IdempotencyMetrics{duplicates: make(map[dedupKey]int64)}
}

func (m *IdempotencyMetrics) GetDuplicates(commandType string) (lru int64, postgres int64) {
	return m.duplicates[dedupKey{commandType, TierLRU}], m.duplicates[dedupKey{commandType, TierPostgres}]
}

func (m *IdempotencyMetrics) GetTier2Errors() int64 {
	return m.tier2Errors
}
