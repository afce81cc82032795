package pool

import (
	"fmt"

	"StakePool/internal/math"
)

// RequestStatus describes what a queued redemption request is worth right
// now. Until the request's batch closes the amount is a preview at the
// current exchange rate and moves with it. Once the batch closes the amount
// is the exact pro-rata payout, frozen forever.
type RequestStatus struct {
	Request   RedemptionRequest `json:"request"`
	Amount    int64             `json:"amount"`
	Exact     bool              `json:"exact"`
	Claimable bool              `json:"claimable"`
}

// ComputeRequestStatus evaluates a request against the pool state. The
// batch for a closed request must still be in the arena; it is, as long as
// the request itself is unclaimed.
func ComputeRequestStatus(req RedemptionRequest, st *State, arena *BatchArena, totalShares int64) (RequestStatus, error) {
	status := RequestStatus{Request: req}
	if req.BatchID >= st.NextBatchID {
		status.Amount = SharesToAsset(req.ShareAmount, totalShares, st.TotalPooled())
		return status, nil
	}
	batch, ok := arena.Get(req.BatchID)
	if !ok {
		return RequestStatus{}, fmt.Errorf("request references batch %d not in arena [%d, %d)",
			req.BatchID, arena.FirstID(), arena.FirstID()+uint64(arena.Len()))
	}
	status.Exact = true
	status.Amount = math.MulDiv(batch.AssetAmount, req.ShareAmount, batch.BurnedShares)
	status.Claimable = st.Confirmed(req.BatchID)
	return status, nil
}
