package projection_test

import (
	"StakePool/internal/projection"
	"testing"

	"github.com/google/uuid"
)

func TestPayoutHistory_RecentNewestFirst(t *testing.T) {
	h := projection.NewPayoutHistory(16)
	user := uuid.New()

	for i := int64(0); i < 5; i++ {
		h.Add(projection.PayoutEntry{UserID: user, BatchID: uint64(i), Amount: i * 100, Timestamp: i})
	}

	recent := h.Recent(3)
	if len(recent) != 3 {
		t.Fatalf("recent: got %d entries, want 3", len(recent))
	}
	if recent[0].BatchID != 4 || recent[2].BatchID != 2 {
		t.Errorf("order: got batches %d..%d, want 4..2", recent[0].BatchID, recent[2].BatchID)
	}
}

func TestPayoutHistory_ByUserFilters(t *testing.T) {
	h := projection.NewPayoutHistory(16)
	alice := uuid.New()
	bob := uuid.New()

	h.Add(projection.PayoutEntry{UserID: alice, Amount: 10})
	h.Add(projection.PayoutEntry{UserID: bob, Amount: 20})
	h.Add(projection.PayoutEntry{UserID: alice, Amount: 30})

	got := h.ByUser(alice, 10)
	if len(got) != 2 {
		t.Fatalf("by user: got %d entries, want 2", len(got))
	}
	if got[0].Amount != 30 || got[1].Amount != 10 {
		t.Errorf("order: got amounts %d, %d; want 30, 10", got[0].Amount, got[1].Amount)
	}
}

func TestPayoutHistory_EvictsOldestAtCapacity(t *testing.T) {
	h := projection.NewPayoutHistory(3)

	for i := int64(1); i <= 5; i++ {
		h.Add(projection.PayoutEntry{BatchID: uint64(i)})
	}

	if h.Len() != 3 {
		t.Fatalf("len: got %d, want 3", h.Len())
	}
	recent := h.Recent(10)
	if recent[0].BatchID != 5 || recent[2].BatchID != 3 {
		t.Errorf("eviction: kept batches %d..%d, want 5..3", recent[0].BatchID, recent[2].BatchID)
	}
}
