package core

import (
	"container/list"
	"fmt"

	boom "github.com/tylertreat/BoomFilters"
)

// IdempotencyChecker implements three-tier deduplication
type IdempotencyChecker struct {
	// Tier 0: inverse bloom filter. A hit is a definite duplicate (the
	// filter stores the key bytes themselves, so it never false-positives);
	// a miss falls through, since slots can be overwritten.
	ibf *boom.InverseBloomFilter

	// Tier 1: In-memory LRU
	lru *IdempotencyLRU

	// Tier 2: Postgres (injected via interface)
	dbChecker DBIdempotencyChecker

	// Metrics
	metrics *IdempotencyMetrics
}

// DBIdempotencyChecker is the interface for Postgres dedup lookup
type DBIdempotencyChecker interface {
	IsDuplicate(eventType string, idempotencyKey string) (bool, error)
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker) *IdempotencyChecker {
	return &IdempotencyChecker{
		ibf:       boom.NewInverseBloomFilter(uint(capacity)),
		lru:       NewIdempotencyLRU(capacity),
		dbChecker: dbChecker,
		metrics:   NewIdempotencyMetrics(),
	}
}

// IsDuplicate checks if event has been processed (three-tier lookup).
// Keys are only added on MarkProcessed, never here: an event that fails
// mid-processing must not poison the filters against its own redelivery.
func (ic *IdempotencyChecker) IsDuplicate(eventType string, idempotencyKey string) bool {
	compositeKey := fmt.Sprintf("%s:%s", eventType, idempotencyKey)

	// Tier 0: inverse bloom (hot path, definite duplicates only)
	if ic.ibf.Test([]byte(compositeKey)) {
		ic.metrics.RecordDuplicate(eventType, "bloom")
		return true
	}

	// Tier 1: LRU check
	if ic.lru.Contains(compositeKey) {
		ic.metrics.RecordDuplicate(eventType, "lru")
		return true
	}

	// Tier 2: Postgres check (cold path)
	if ic.dbChecker != nil {
		isDup, err := ic.dbChecker.IsDuplicate(eventType, idempotencyKey)
		if err != nil {
			// Log error but don't fail - conservative: assume not duplicate
			// This prevents a DB issue from blocking event processing
			ic.metrics.RecordTier2Error()
			return false
		}

		if isDup {
			ic.metrics.RecordDuplicate(eventType, "postgres")
			// Add to the fast tiers so we don't hit DB again
			ic.ibf.Add([]byte(compositeKey))
			ic.lru.Add(compositeKey)
			return true
		}
	}

	return false
}

// MarkProcessed adds key to the fast tiers after successful processing
func (ic *IdempotencyChecker) MarkProcessed(eventType string, idempotencyKey string) {
	compositeKey := fmt.Sprintf("%s:%s", eventType, idempotencyKey)
	ic.ibf.Add([]byte(compositeKey))
	ic.lru.Add(compositeKey)
}

// Warm preloads composite keys into the fast tiers. On restart, recent
// keys come back from the snapshot and from Postgres so replayed or
// redelivered events short-circuit before the cold-path DB lookup.
func (ic *IdempotencyChecker) Warm(keys []string) {
	for _, key := range keys {
		ic.ibf.Add([]byte(key))
	}
	ic.lru.WarmFromKeys(keys)
}

// Keys returns the LRU's contents, oldest first, for snapshotting.
func (ic *IdempotencyChecker) Keys() []string {
	return ic.lru.GetAllKeys()
}

// GetMetrics returns metrics for monitoring
func (ic *IdempotencyChecker) GetMetrics() *IdempotencyMetrics {
	return ic.metrics
}

// --- LRU Implementation ---

// IdempotencyLRU is an LRU cache for idempotency keys.
// Not thread-safe — only accessed from the single-threaded deterministic core.
type IdempotencyLRU struct {
	capacity int
	cache    map[string]*list.Element
	lruList  *list.List

	evictions int64 // For metrics
}

type lruEntry struct {
	key string
}

func NewIdempotencyLRU(capacity int) *IdempotencyLRU {
	return &IdempotencyLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		lruList:  list.New(),
	}
}

// Contains checks if key exists (promotes to front)
func (lru *IdempotencyLRU) Contains(key string) bool {
	elem, exists := lru.cache[key]
	if exists {
		// Move to front (most recently used)
		lru.lruList.MoveToFront(elem)
		return true
	}
	return false
}

// Add inserts a key (or promotes if exists)
func (lru *IdempotencyLRU) Add(key string) {
	// Check if already exists
	if elem, exists := lru.cache[key]; exists {
		lru.lruList.MoveToFront(elem)
		return
	}

	// Add new entry
	entry := &lruEntry{key: key}
	elem := lru.lruList.PushFront(entry)
	lru.cache[key] = elem

	// Evict if over capacity
	if lru.lruList.Len() > lru.capacity {
		lru.evictOldest()
	}
}

func (lru *IdempotencyLRU) evictOldest() {
	elem := lru.lruList.Back()
	if elem != nil {
		lru.lruList.Remove(elem)
		entry := elem.Value.(*lruEntry)
		delete(lru.cache, entry.key)
		lru.evictions++
	}
}

// WarmFromKeys loads a batch of composite keys into the LRU.
// On restart, recent idempotency keys come back from Postgres so recently
// processed events skip the cold-path DB lookup.
func (lru *IdempotencyLRU) WarmFromKeys(keys []string) {
	for _, key := range keys {
		if _, exists := lru.cache[key]; exists {
			continue
		}
		entry := &lruEntry{key: key}
		elem := lru.lruList.PushFront(entry)
		lru.cache[key] = elem

		if lru.lruList.Len() > lru.capacity {
			lru.evictOldest()
		}
	}
}

// GetAllKeys returns every cached key, oldest first, so that replaying
// them through WarmFromKeys reproduces the same recency order.
func (lru *IdempotencyLRU) GetAllKeys() []string {
	keys := make([]string, 0, lru.lruList.Len())
	for elem := lru.lruList.Back(); elem != nil; elem = elem.Prev() {
		keys = append(keys, elem.Value.(*lruEntry).key)
	}
	return keys
}

// Size returns current number of entries
func (lru *IdempotencyLRU) Size() int {
	return lru.lruList.Len()
}

// Evictions returns total evictions (for metrics)
func (lru *IdempotencyLRU) Evictions() int64 {
	return lru.evictions
}

// --- Metrics ---

// IdempotencyMetrics tracks dedup stats.
// Not thread-safe — only accessed from the single-threaded deterministic core.
type IdempotencyMetrics struct {
	duplicatesByTier map[string]map[string]int64 // tier -> event_type -> count
	tier2Errors      int64
}

func NewIdempotencyMetrics() *IdempotencyMetrics {
	return &IdempotencyMetrics{
		duplicatesByTier: make(map[string]map[string]int64),
	}
}

func (m *IdempotencyMetrics) RecordDuplicate(eventType string, tier string) {
	byType, ok := m.duplicatesByTier[tier]
	if !ok {
		byType = make(map[string]int64)
		m.duplicatesByTier[tier] = byType
	}
	byType[eventType]++
}

func (m *IdempotencyMetrics) RecordTier2Error() {
	m.tier2Errors++
}

func (m *IdempotencyMetrics) GetDuplicates(eventType string, tier string) int64 {
	return m.duplicatesByTier[tier][eventType]
}

func (m *IdempotencyMetrics) GetTier2Errors() int64 {
	return m.tier2Errors
}
