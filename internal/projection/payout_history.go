package projection

import (
	"github.com/google/uuid"
	"github.com/sasha-s/go-deadlock"
)

// PayoutEntry records one claim payout: which user drained which batch,
// for how many shares, and what the pro-rata asset amount came to.
type PayoutEntry struct {
	UserID      uuid.UUID `json:"user_id"`
	BatchID     uint64    `json:"batch_id"`
	ShareAmount int64     `json:"share_amount"`
	Amount      int64     `json:"amount"`
	Timestamp   int64     `json:"timestamp"`
}

// PayoutHistory is a bounded in-memory feed of recent payouts. The
// projection worker appends after each committed claim fold; query
// handlers read concurrently, so access is lock-guarded. Durable history
// lives in stake_log.journal; this feed only serves recent-activity
// queries without a DB round trip.
type PayoutHistory struct {
	mu       deadlock.RWMutex
	entries  []PayoutEntry
	capacity int
}

func NewPayoutHistory(capacity int) *PayoutHistory {
	return &PayoutHistory{
		entries:  make([]PayoutEntry, 0, capacity),
		capacity: capacity,
	}
}

// Add appends an entry, evicting the oldest beyond capacity.
func (p *PayoutHistory) Add(entry PayoutEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.entries = append(p.entries, entry)
	if len(p.entries) > p.capacity {
		excess := len(p.entries) - p.capacity
		p.entries = append(p.entries[:0], p.entries[excess:]...)
	}
}

// Recent returns the newest entries, newest first.
func (p *PayoutHistory) Recent(limit int) []PayoutEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]PayoutEntry, 0, limit)
	for i := len(p.entries) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, p.entries[i])
	}
	return result
}

// ByUser returns the newest entries for one user, newest first.
func (p *PayoutHistory) ByUser(userID uuid.UUID, limit int) []PayoutEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]PayoutEntry, 0, limit)
	for i := len(p.entries) - 1; i >= 0 && len(result) < limit; i-- {
		if p.entries[i].UserID == userID {
			result = append(result, p.entries[i])
		}
	}
	return result
}

// Len returns the current number of buffered entries.
func (p *PayoutHistory) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}
