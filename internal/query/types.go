package query

import "github.com/google/uuid"

// PoolStatusResponse is the pool-wide aggregate for API queries. Scalar
// totals come from the balance projection; counters and flags from the
// pool_state projection.
type PoolStatusResponse struct {
	TotalPooled        int64 `json:"total_pooled"`
	PendingDelegation  int64 `json:"pending_delegation"`
	DelegatedPrincipal int64 `json:"delegated_principal"`
	PendingBurnShares  int64 `json:"pending_burn_shares"`
	UnbondingAsset     int64 `json:"unbonding_asset"`
	ClaimableAsset     int64 `json:"claimable_asset"`
	TotalShares        int64 `json:"total_shares"`

	// SharePriceE6 is asset-per-share scaled by 1e6; parity (1e6) on an
	// empty pool.
	SharePriceE6 int64 `json:"share_price_e6"`

	NextBatchID      int64 `json:"next_batch_id"`
	ConfirmedBatchID int64 `json:"confirmed_batch_id"`
	Paused           bool  `json:"paused"`

	Manager        *uuid.UUID `json:"manager,omitempty"`
	PendingManager *uuid.UUID `json:"pending_manager,omitempty"`

	Params ParamsResponse `json:"params"`

	AsOfSequence int64 `json:"as_of_sequence"`
}

// ParamsResponse mirrors the pool's operational parameters.
type ParamsResponse struct {
	FeeRate          int64      `json:"fee_rate"`
	MinDelegate      int64      `json:"min_delegate"`
	MinUndelegate    int64      `json:"min_undelegate"`
	PrecisionUnit    int64      `json:"precision_unit"`
	Validator        string     `json:"validator"`
	RevenueRecipient *uuid.UUID `json:"revenue_recipient,omitempty"`
}

// BatchResponse represents an undelegation batch for API queries.
type BatchResponse struct {
	BatchID      int64 `json:"batch_id"`
	BurnedShares int64 `json:"burned_shares"`
	AssetAmount  int64 `json:"asset_amount"`
	ClaimedAsset int64 `json:"claimed_asset"`
	OpenRequests int32 `json:"open_requests"`
	ClosedAt     int64 `json:"closed_at"`
	ConfirmedAt  int64 `json:"confirmed_at"`
	Settled      bool  `json:"settled"`
	AsOfSequence int64 `json:"as_of_sequence"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	AssetID       uint16 `json:"asset_id"`
	Amount        int64  `json:"amount"`
	JournalType   int32  `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	UnbalancedAssets []UnbalancedAsset `json:"unbalanced_assets,omitempty"`

	// WatermarkLag is how many applied events the projections trail by.
	WatermarkLag int64 `json:"watermark_lag"`
}

// UnbalancedAsset represents an asset with non-zero global balance sum.
type UnbalancedAsset struct {
	AssetID   uint16 `json:"asset_id"`
	Imbalance int64  `json:"imbalance"`
}
