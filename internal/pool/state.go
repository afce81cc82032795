package pool

// State is the pool's accounting aggregate. Every field is owned by the
// core goroutine and mutated only in an event's apply phase, so a plain
// struct with no locking is safe.
type State struct {
	// PendingDelegation is deposited asset buffered in the pool, waiting
	// for a delegation sweep to the backend.
	PendingDelegation int64

	// TotalDelegatedPrincipal is asset the backend currently holds for
	// the pool. Together with PendingDelegation it backs the share supply.
	TotalDelegatedPrincipal int64

	// PendingBurnShares is the share total of redemption requests queued
	// for the next batch close. The shares sit in the custody account and
	// are burned when the batch closes.
	PendingBurnShares int64

	// NextBatchID is the id the next closed batch will take. Queued
	// requests are tagged with it.
	NextBatchID uint64

	// ConfirmedBatchID is one past the highest confirmed batch: batches
	// with id < ConfirmedBatchID are claimable.
	ConfirmedBatchID uint64
}

func NewState() *State {
	return &State{}
}

// TotalPooled is the asset backing the share supply: buffered deposits plus
// delegated principal. Asset reserved for closed batches is excluded; those
// shares are already burned.
func (s *State) TotalPooled() int64 {
	return s.PendingDelegation + s.TotalDelegatedPrincipal
}

// Confirmed reports whether batch id has been confirmed and is claimable.
func (s *State) Confirmed(id uint64) bool {
	return id < s.ConfirmedBatchID
}

type StateSnapshot struct {
	PendingDelegation       int64  `json:"pending_delegation"`
	TotalDelegatedPrincipal int64  `json:"total_delegated_principal"`
	PendingBurnShares       int64  `json:"pending_burn_shares"`
	NextBatchID             uint64 `json:"next_batch_id"`
	ConfirmedBatchID        uint64 `json:"confirmed_batch_id"`
}

func (s *State) Snapshot() StateSnapshot {
	return StateSnapshot{
		PendingDelegation:       s.PendingDelegation,
		TotalDelegatedPrincipal: s.TotalDelegatedPrincipal,
		PendingBurnShares:       s.PendingBurnShares,
		NextBatchID:             s.NextBatchID,
		ConfirmedBatchID:        s.ConfirmedBatchID,
	}
}

func RestoreState(snap StateSnapshot) *State {
	return &State{
		PendingDelegation:       snap.PendingDelegation,
		TotalDelegatedPrincipal: snap.TotalDelegatedPrincipal,
		PendingBurnShares:       snap.PendingBurnShares,
		NextBatchID:             snap.NextBatchID,
		ConfirmedBatchID:        snap.ConfirmedBatchID,
	}
}
