package pool

import "fmt"

// UndelegationBatch is one closed settlement batch. BurnedShares and
// AssetAmount are frozen at close; later deposits, compounding or closes
// never change a closed batch's payout rate.
type UndelegationBatch struct {
	ID uint64 `json:"id"`

	// BurnedShares is the share total of the requests settled by this
	// batch, burned from custody at close.
	BurnedShares int64 `json:"burned_shares"`

	// AssetAmount is the asset reserved for this batch, floored to the
	// precision unit at close. Claims pay out pro rata against it.
	AssetAmount int64 `json:"asset_amount"`

	// ClaimedAsset is the asset paid out so far. Never exceeds
	// AssetAmount; the final residual after all claims is rounding dust.
	ClaimedAsset int64 `json:"claimed_asset"`

	// OpenRequests counts unclaimed requests in the batch. The batch is
	// collectable once confirmed and zero.
	OpenRequests int `json:"open_requests"`

	ClosedAt    int64 `json:"closed_at"`
	ConfirmedAt int64 `json:"confirmed_at"`
}

// BatchArena stores closed batches in a dense slice indexed by id offset.
// Ids are assigned sequentially, so position = id - firstID. Fully claimed
// confirmed batches are collected from the front, keeping the arena small
// without breaking the id math. Owned by the core goroutine.
type BatchArena struct {
	firstID uint64
	batches []UndelegationBatch
}

func NewBatchArena() *BatchArena {
	return &BatchArena{}
}

// Append stores a newly closed batch. Ids must arrive in sequence.
func (a *BatchArena) Append(b UndelegationBatch) error {
	if len(a.batches) == 0 {
		a.firstID = b.ID
		a.batches = append(a.batches, b)
		return nil
	}
	if want := a.firstID + uint64(len(a.batches)); b.ID != want {
		return fmt.Errorf("batch id %d out of sequence, want %d", b.ID, want)
	}
	a.batches = append(a.batches, b)
	return nil
}

func (a *BatchArena) index(id uint64) (int, bool) {
	if id < a.firstID || id >= a.firstID+uint64(len(a.batches)) {
		return 0, false
	}
	return int(id - a.firstID), true
}

// Get returns a copy of the batch with the given id.
func (a *BatchArena) Get(id uint64) (UndelegationBatch, bool) {
	i, ok := a.index(id)
	if !ok {
		return UndelegationBatch{}, false
	}
	return a.batches[i], true
}

// Confirm marks the batch confirmed at the given timestamp.
func (a *BatchArena) Confirm(id uint64, at int64) bool {
	i, ok := a.index(id)
	if !ok {
		return false
	}
	a.batches[i].ConfirmedAt = at
	return true
}

// RegisterClaim records a payout against the batch: one request settled,
// asset paid out.
func (a *BatchArena) RegisterClaim(id uint64, asset int64) bool {
	i, ok := a.index(id)
	if !ok {
		return false
	}
	a.batches[i].ClaimedAsset += asset
	a.batches[i].OpenRequests--
	return true
}

// CollectSettled drops the front run of batches that are confirmed and
// fully claimed, returning the collected batches. Gaps are never created:
// collection stops at the first batch still open or unconfirmed.
func (a *BatchArena) CollectSettled() []UndelegationBatch {
	n := 0
	for n < len(a.batches) {
		b := a.batches[n]
		if b.ConfirmedAt == 0 || b.OpenRequests > 0 {
			break
		}
		n++
	}
	if n == 0 {
		return nil
	}
	collected := make([]UndelegationBatch, n)
	copy(collected, a.batches[:n])
	a.batches = append(a.batches[:0], a.batches[n:]...)
	a.firstID += uint64(n)
	return collected
}

func (a *BatchArena) Len() int {
	return len(a.batches)
}

func (a *BatchArena) FirstID() uint64 {
	return a.firstID
}

// All returns copies of the live batches in id order.
func (a *BatchArena) All() []UndelegationBatch {
	out := make([]UndelegationBatch, len(a.batches))
	copy(out, a.batches)
	return out
}

type ArenaSnapshot struct {
	FirstID uint64              `json:"first_id"`
	Batches []UndelegationBatch `json:"batches"`
}

func (a *BatchArena) Snapshot() ArenaSnapshot {
	return ArenaSnapshot{FirstID: a.firstID, Batches: a.All()}
}

func RestoreBatchArena(snap ArenaSnapshot) *BatchArena {
	batches := make([]UndelegationBatch, len(snap.Batches))
	copy(batches, snap.Batches)
	return &BatchArena{firstID: snap.FirstID, batches: batches}
}
