package query

import "github.com/google/uuid"

// UserPositionResponse represents a user's share position for API queries.
type UserPositionResponse struct {
	UserID       uuid.UUID `json:"user_id"`
	ShareBalance int64     `json:"share_balance"`

	// QueuedShares is the share total the user has surrendered into
	// custody for open redemption requests. Burned only when the batch
	// closes.
	QueuedShares int64 `json:"queued_shares"`

	// AssetValue is ShareBalance converted at the current pool rate. It
	// is an estimate: the rate moves with rewards and fees.
	AssetValue int64 `json:"asset_value"`

	AsOfSequence int64 `json:"as_of_sequence"`
}

// RequestStatusResponse represents one redemption request and its payout
// status. For requests in a closed batch Amount is the exact pro-rata
// asset entitlement; for requests still in the open batch it is a
// preview at the current pool rate.
type RequestStatusResponse struct {
	RequestID   uuid.UUID `json:"request_id"`
	QueuePos    int64     `json:"queue_pos"`
	BatchID     int64     `json:"batch_id"`
	ShareAmount int64     `json:"share_amount"`
	RequestedAt int64     `json:"requested_at"`

	Amount    int64 `json:"amount"`
	Exact     bool  `json:"exact"`
	Claimable bool  `json:"claimable"`

	AsOfSequence int64 `json:"as_of_sequence"`
}
