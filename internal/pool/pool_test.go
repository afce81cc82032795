package pool_test

import (
	"errors"
	"testing"

	"StakePool/internal/pool"

	"github.com/google/uuid"
)

// ============================================================================
// Test: Conversion
// ============================================================================

func TestAssetToShares_EmptyPool_OneToOne(t *testing.T) {
	shares := pool.AssetToShares(100, 0, 0)
	if shares != 100 {
		t.Errorf("bootstrap deposit: got %d shares, want 100", shares)
	}
}

func TestAssetToShares_DrainedPool_FloorsDenominator(t *testing.T) {
	// Shares exist but backing is zero: the zero side floors to 1, so the
	// deposit buys amount*totalShares shares. Existing unbacked shares get
	// diluted rather than the division blowing up.
	shares := pool.AssetToShares(50, 200, 0)
	if shares != 10_000 {
		t.Errorf("drained pool deposit: got %d shares, want 10000", shares)
	}
}

func TestAssetToShares_AppreciatedPool_Floors(t *testing.T) {
	// 100 shares backed by 110 asset: 1 asset buys 100/110 shares.
	shares := pool.AssetToShares(11, 100, 110)
	if shares != 10 {
		t.Errorf("got %d shares, want 10", shares)
	}

	// 10 asset would buy 9.09 shares; floor to 9.
	shares = pool.AssetToShares(10, 100, 110)
	if shares != 9 {
		t.Errorf("got %d shares, want 9", shares)
	}
}

func TestSharesToAsset_EmptyPool_OneToOne(t *testing.T) {
	if got := pool.SharesToAsset(42, 0, 0); got != 42 {
		t.Errorf("got %d, want 42", got)
	}
}

func TestSharesToAsset_AppreciatedPool(t *testing.T) {
	// 100 shares backed by 110 asset: 40 shares are worth 44.
	if got := pool.SharesToAsset(40, 100, 110); got != 44 {
		t.Errorf("got %d, want 44", got)
	}
}

func TestConversion_RoundTripNeverCreatesValue(t *testing.T) {
	cases := []struct {
		name        string
		amount      int64
		totalShares int64
		totalPooled int64
	}{
		{"par", 1_000, 5_000, 5_000},
		{"appreciated", 1_000, 5_000, 5_700},
		{"odd rate", 999, 3_333, 7_777},
		{"large", 1_000_000_000_000, 9_999_999_999, 12_345_678_901},
		{"tiny deposit", 1, 1_000_000, 1_234_567},
	}
	for _, tc := range cases {
		shares := pool.AssetToShares(tc.amount, tc.totalShares, tc.totalPooled)
		back := pool.SharesToAsset(shares, tc.totalShares, tc.totalPooled)
		if back > tc.amount {
			t.Errorf("%s: round trip created value: %d in, %d out", tc.name, tc.amount, back)
		}
	}
}

// ============================================================================
// Test: Params
// ============================================================================

func TestParams_DefaultValid(t *testing.T) {
	if err := pool.DefaultParams().Validate(); err != nil {
		t.Fatalf("default params should validate: %v", err)
	}
}

func TestParams_FeeRateOutOfRange(t *testing.T) {
	p := pool.DefaultParams()
	p.FeeRate = pool.FeeDenominator
	err := p.Validate()
	if !errors.Is(err, pool.ErrInvalidArgument) {
		t.Errorf("fee rate == denominator: got %v, want ErrInvalidArgument", err)
	}

	p.FeeRate = -1
	err = p.Validate()
	if !errors.Is(err, pool.ErrInvalidArgument) {
		t.Errorf("negative fee rate: got %v, want ErrInvalidArgument", err)
	}
}

func TestParams_ApplyPartialUpdate(t *testing.T) {
	p := pool.DefaultParams()
	fee := int64(250_000_000)
	validator := "validator-7"

	next, err := p.Apply(pool.ParamUpdate{FeeRate: &fee, Validator: &validator})
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if next.FeeRate != fee {
		t.Errorf("fee rate: got %d, want %d", next.FeeRate, fee)
	}
	if next.Validator != validator {
		t.Errorf("validator: got %q, want %q", next.Validator, validator)
	}
	// Untouched fields survive.
	if next.MinDelegate != p.MinDelegate {
		t.Errorf("min delegate changed: got %d, want %d", next.MinDelegate, p.MinDelegate)
	}
}

func TestParams_ApplyInvalidLeavesOriginal(t *testing.T) {
	p := pool.DefaultParams()
	bad := int64(-5)

	next, err := p.Apply(pool.ParamUpdate{PrecisionUnit: &bad})
	if !errors.Is(err, pool.ErrInvalidArgument) {
		t.Fatalf("got %v, want ErrInvalidArgument", err)
	}
	if next != p {
		t.Error("failed apply should return the original params")
	}
}

func TestParams_ApplyZeroRevenueRecipient(t *testing.T) {
	p := pool.DefaultParams()
	zero := uuid.Nil

	_, err := p.Apply(pool.ParamUpdate{RevenueRecipient: &zero})
	if !errors.Is(err, pool.ErrInvalidArgument) {
		t.Errorf("got %v, want ErrInvalidArgument", err)
	}
}

// ============================================================================
// Test: State
// ============================================================================

func TestState_TotalPooled(t *testing.T) {
	s := pool.NewState()
	s.PendingDelegation = 300
	s.TotalDelegatedPrincipal = 700

	if got := s.TotalPooled(); got != 1_000 {
		t.Errorf("got %d, want 1000", got)
	}
}

func TestState_Confirmed(t *testing.T) {
	s := pool.NewState()
	s.NextBatchID = 3
	s.ConfirmedBatchID = 2

	if !s.Confirmed(0) || !s.Confirmed(1) {
		t.Error("batches 0 and 1 should be confirmed")
	}
	if s.Confirmed(2) {
		t.Error("batch 2 should not be confirmed")
	}
}

func TestState_SnapshotRoundTrip(t *testing.T) {
	s := pool.NewState()
	s.PendingDelegation = 11
	s.TotalDelegatedPrincipal = 22
	s.PendingBurnShares = 33
	s.NextBatchID = 4
	s.ConfirmedBatchID = 2

	restored := pool.RestoreState(s.Snapshot())
	if *restored != *s {
		t.Errorf("restored state differs: got %+v, want %+v", restored, s)
	}
}

// ============================================================================
// Test: WithdrawalQueue
// ============================================================================

func TestWithdrawalQueue_AppendGet(t *testing.T) {
	q := pool.NewWithdrawalQueue()
	user := uuid.New()

	q.Append(user, pool.RedemptionRequest{RequestID: uuid.New(), BatchID: 0, ShareAmount: 40})
	q.Append(user, pool.RedemptionRequest{RequestID: uuid.New(), BatchID: 0, ShareAmount: 60})

	if q.Len(user) != 2 {
		t.Fatalf("len: got %d, want 2", q.Len(user))
	}
	req, ok := q.Get(user, 1)
	if !ok || req.ShareAmount != 60 {
		t.Errorf("get(1): got %+v ok=%v, want share amount 60", req, ok)
	}
	if _, ok := q.Get(user, 2); ok {
		t.Error("get(2) should be out of range")
	}
	if _, ok := q.Get(user, -1); ok {
		t.Error("get(-1) should be out of range")
	}
}

func TestWithdrawalQueue_SwapRemoveReorders(t *testing.T) {
	q := pool.NewWithdrawalQueue()
	user := uuid.New()

	a := pool.RedemptionRequest{RequestID: uuid.New(), ShareAmount: 1}
	b := pool.RedemptionRequest{RequestID: uuid.New(), ShareAmount: 2}
	c := pool.RedemptionRequest{RequestID: uuid.New(), ShareAmount: 3}
	q.Append(user, a)
	q.Append(user, b)
	q.Append(user, c)

	removed, ok := q.SwapRemove(user, 0)
	if !ok || removed.RequestID != a.RequestID {
		t.Fatalf("expected to remove first request, got %+v ok=%v", removed, ok)
	}

	// The last request moved into slot 0.
	got, _ := q.Get(user, 0)
	if got.RequestID != c.RequestID {
		t.Errorf("slot 0 after swap-remove: got %v, want %v", got.RequestID, c.RequestID)
	}
	if q.Len(user) != 2 {
		t.Errorf("len: got %d, want 2", q.Len(user))
	}
}

func TestWithdrawalQueue_SwapRemoveLastClearsUser(t *testing.T) {
	q := pool.NewWithdrawalQueue()
	user := uuid.New()
	q.Append(user, pool.RedemptionRequest{RequestID: uuid.New(), ShareAmount: 5})

	if _, ok := q.SwapRemove(user, 0); !ok {
		t.Fatal("swap-remove failed")
	}
	if q.Len(user) != 0 {
		t.Errorf("len after removing only request: got %d, want 0", q.Len(user))
	}
	if q.Requests(user) != nil {
		t.Error("requests for emptied user should be nil")
	}
}

func TestWithdrawalQueue_RequestsReturnsCopy(t *testing.T) {
	q := pool.NewWithdrawalQueue()
	user := uuid.New()
	q.Append(user, pool.RedemptionRequest{RequestID: uuid.New(), ShareAmount: 10})

	reqs := q.Requests(user)
	reqs[0].ShareAmount = 999

	got, _ := q.Get(user, 0)
	if got.ShareAmount != 10 {
		t.Error("mutating the returned slice should not affect the queue")
	}
}

func TestWithdrawalQueue_SnapshotSortedAndIsolated(t *testing.T) {
	q := pool.NewWithdrawalQueue()
	u1 := uuid.MustParse("00000000-0000-0000-0000-000000000002")
	u2 := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	q.Append(u1, pool.RedemptionRequest{RequestID: uuid.New(), ShareAmount: 1})
	q.Append(u2, pool.RedemptionRequest{RequestID: uuid.New(), ShareAmount: 2})

	snap := q.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot entries: got %d, want 2", len(snap))
	}
	if snap[0].UserID != u2 || snap[1].UserID != u1 {
		t.Error("snapshot should be sorted by user id")
	}

	snap[0].Requests[0].ShareAmount = 999
	got, _ := q.Get(u2, 0)
	if got.ShareAmount != 2 {
		t.Error("mutating snapshot should not affect the queue")
	}

	restored := pool.RestoreWithdrawalQueue(snap)
	if restored.Len(u1) != 1 || restored.Len(u2) != 1 {
		t.Error("restore should rebuild both queues")
	}
}

// ============================================================================
// Test: BatchArena
// ============================================================================

func TestBatchArena_AppendSequence(t *testing.T) {
	a := pool.NewBatchArena()

	if err := a.Append(pool.UndelegationBatch{ID: 0, BurnedShares: 10, AssetAmount: 10}); err != nil {
		t.Fatalf("append 0: %v", err)
	}
	if err := a.Append(pool.UndelegationBatch{ID: 1, BurnedShares: 20, AssetAmount: 22}); err != nil {
		t.Fatalf("append 1: %v", err)
	}
	if err := a.Append(pool.UndelegationBatch{ID: 3, BurnedShares: 5, AssetAmount: 5}); err == nil {
		t.Error("out-of-sequence append should fail")
	}

	b, ok := a.Get(1)
	if !ok || b.AssetAmount != 22 {
		t.Errorf("get(1): got %+v ok=%v", b, ok)
	}
	if _, ok := a.Get(2); ok {
		t.Error("get(2) should miss")
	}
}

func TestBatchArena_ConfirmAndClaim(t *testing.T) {
	a := pool.NewBatchArena()
	_ = a.Append(pool.UndelegationBatch{ID: 0, BurnedShares: 100, AssetAmount: 110, OpenRequests: 2})

	if !a.Confirm(0, 12345) {
		t.Fatal("confirm failed")
	}
	b, _ := a.Get(0)
	if b.ConfirmedAt != 12345 {
		t.Errorf("confirmed at: got %d, want 12345", b.ConfirmedAt)
	}

	if !a.RegisterClaim(0, 44) {
		t.Fatal("register claim failed")
	}
	b, _ = a.Get(0)
	if b.ClaimedAsset != 44 || b.OpenRequests != 1 {
		t.Errorf("after claim: got claimed=%d open=%d, want 44/1", b.ClaimedAsset, b.OpenRequests)
	}
}

func TestBatchArena_CollectSettledPrefixOnly(t *testing.T) {
	a := pool.NewBatchArena()
	_ = a.Append(pool.UndelegationBatch{ID: 0, BurnedShares: 10, AssetAmount: 10, OpenRequests: 0, ConfirmedAt: 1})
	_ = a.Append(pool.UndelegationBatch{ID: 1, BurnedShares: 10, AssetAmount: 10, OpenRequests: 1, ConfirmedAt: 1})
	_ = a.Append(pool.UndelegationBatch{ID: 2, BurnedShares: 10, AssetAmount: 10, OpenRequests: 0, ConfirmedAt: 1})

	collected := a.CollectSettled()
	if len(collected) != 1 || collected[0].ID != 0 {
		t.Fatalf("collected: got %+v, want just batch 0", collected)
	}
	// Batch 2 is settled but stays: collection never skips an open batch.
	if a.Len() != 2 || a.FirstID() != 1 {
		t.Errorf("after collect: len=%d first=%d, want 2/1", a.Len(), a.FirstID())
	}

	// Settle batch 1 and both go.
	if !a.RegisterClaim(1, 10) {
		t.Fatal("register claim failed")
	}
	collected = a.CollectSettled()
	if len(collected) != 2 || collected[0].ID != 1 || collected[1].ID != 2 {
		t.Fatalf("collected: got %+v, want batches 1 and 2", collected)
	}
	if a.Len() != 0 || a.FirstID() != 3 {
		t.Errorf("after collect: len=%d first=%d, want 0/3", a.Len(), a.FirstID())
	}
}

func TestBatchArena_UnconfirmedNotCollected(t *testing.T) {
	a := pool.NewBatchArena()
	_ = a.Append(pool.UndelegationBatch{ID: 0, BurnedShares: 10, AssetAmount: 10, OpenRequests: 0})

	if got := a.CollectSettled(); got != nil {
		t.Errorf("unconfirmed batch should not be collected, got %+v", got)
	}
}

func TestBatchArena_AppendAfterCollect(t *testing.T) {
	a := pool.NewBatchArena()
	_ = a.Append(pool.UndelegationBatch{ID: 0, ConfirmedAt: 1})
	a.CollectSettled()

	// Arena is empty; the next id in sequence still works.
	if err := a.Append(pool.UndelegationBatch{ID: 1}); err != nil {
		t.Fatalf("append after collect: %v", err)
	}
	if b, ok := a.Get(1); !ok || b.ID != 1 {
		t.Error("id math broken after collect")
	}
}

func TestBatchArena_SnapshotRoundTrip(t *testing.T) {
	a := pool.NewBatchArena()
	_ = a.Append(pool.UndelegationBatch{ID: 0, ConfirmedAt: 1})
	_ = a.Append(pool.UndelegationBatch{ID: 1, BurnedShares: 7, AssetAmount: 8, OpenRequests: 1})
	a.CollectSettled()

	restored := pool.RestoreBatchArena(a.Snapshot())
	if restored.FirstID() != 1 || restored.Len() != 1 {
		t.Fatalf("restored: first=%d len=%d, want 1/1", restored.FirstID(), restored.Len())
	}
	b, ok := restored.Get(1)
	if !ok || b.BurnedShares != 7 {
		t.Errorf("restored batch: got %+v ok=%v", b, ok)
	}
}

// ============================================================================
// Test: RequestStatus
// ============================================================================

func TestRequestStatus_PreviewMovesWithRate(t *testing.T) {
	st := pool.NewState()
	st.PendingDelegation = 0
	st.TotalDelegatedPrincipal = 100
	st.NextBatchID = 0
	arena := pool.NewBatchArena()

	req := pool.RedemptionRequest{RequestID: uuid.New(), BatchID: 0, ShareAmount: 40}

	status, err := pool.ComputeRequestStatus(req, st, arena, 100)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if status.Exact || status.Claimable {
		t.Error("unclosed request should be a non-claimable preview")
	}
	if status.Amount != 40 {
		t.Errorf("preview at par: got %d, want 40", status.Amount)
	}

	// Rewards land, rate appreciates, the preview moves.
	st.TotalDelegatedPrincipal = 110
	status, _ = pool.ComputeRequestStatus(req, st, arena, 100)
	if status.Amount != 44 {
		t.Errorf("preview after rewards: got %d, want 44", status.Amount)
	}
}

func TestRequestStatus_ExactProRata(t *testing.T) {
	st := pool.NewState()
	st.NextBatchID = 1
	arena := pool.NewBatchArena()
	_ = arena.Append(pool.UndelegationBatch{ID: 0, BurnedShares: 100, AssetAmount: 110, OpenRequests: 2})

	forty := pool.RedemptionRequest{RequestID: uuid.New(), BatchID: 0, ShareAmount: 40}
	sixty := pool.RedemptionRequest{RequestID: uuid.New(), BatchID: 0, ShareAmount: 60}

	s40, err := pool.ComputeRequestStatus(forty, st, arena, 0)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	s60, _ := pool.ComputeRequestStatus(sixty, st, arena, 0)

	if !s40.Exact || !s60.Exact {
		t.Fatal("closed requests should be exact")
	}
	if s40.Amount != 44 || s60.Amount != 66 {
		t.Errorf("pro rata: got %d and %d, want 44 and 66", s40.Amount, s60.Amount)
	}
	if s40.Claimable || s60.Claimable {
		t.Error("unconfirmed batch should not be claimable")
	}

	// Later pool activity never moves a closed batch's payouts.
	st.TotalDelegatedPrincipal = 999_999
	s40again, _ := pool.ComputeRequestStatus(forty, st, arena, 123_456)
	if s40again.Amount != 44 {
		t.Errorf("closed payout moved: got %d, want 44", s40again.Amount)
	}
}

func TestRequestStatus_ProRataDustStaysBounded(t *testing.T) {
	st := pool.NewState()
	st.NextBatchID = 1
	arena := pool.NewBatchArena()
	_ = arena.Append(pool.UndelegationBatch{ID: 0, BurnedShares: 100, AssetAmount: 109, OpenRequests: 2})

	s40, _ := pool.ComputeRequestStatus(pool.RedemptionRequest{BatchID: 0, ShareAmount: 40}, st, arena, 0)
	s60, _ := pool.ComputeRequestStatus(pool.RedemptionRequest{BatchID: 0, ShareAmount: 60}, st, arena, 0)

	total := s40.Amount + s60.Amount
	if total > 109 {
		t.Fatalf("payouts exceed batch asset: %d > 109", total)
	}
	if dust := 109 - total; dust < 0 || dust >= 100 {
		t.Errorf("dust %d outside [0, burned shares)", dust)
	}
	if s40.Amount != 43 || s60.Amount != 65 {
		t.Errorf("floor pro rata: got %d and %d, want 43 and 65", s40.Amount, s60.Amount)
	}
}

func TestRequestStatus_ClaimableAfterConfirm(t *testing.T) {
	st := pool.NewState()
	st.NextBatchID = 1
	st.ConfirmedBatchID = 1
	arena := pool.NewBatchArena()
	_ = arena.Append(pool.UndelegationBatch{ID: 0, BurnedShares: 10, AssetAmount: 10, OpenRequests: 1, ConfirmedAt: 99})

	status, err := pool.ComputeRequestStatus(pool.RedemptionRequest{BatchID: 0, ShareAmount: 10}, st, arena, 0)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if !status.Claimable {
		t.Error("confirmed batch should be claimable")
	}
}

// ============================================================================
// Test: Error taxonomy
// ============================================================================

func TestReasonCode_KnownErrors(t *testing.T) {
	cases := []struct {
		err  error
		code string
	}{
		{pool.ErrInvalidArgument, "invalid_argument"},
		{pool.ErrInsufficientFee, "insufficient_fee"},
		{pool.ErrBelowThreshold, "below_threshold"},
		{pool.ErrInsufficientBacking, "insufficient_backing"},
		{pool.ErrNothingDelegated, "nothing_delegated"},
		{pool.ErrNothingToConfirm, "nothing_to_confirm"},
		{pool.ErrIndexOutOfRange, "index_out_of_range"},
		{pool.ErrNotYetClaimable, "not_yet_claimable"},
		{pool.ErrUnauthorized, "unauthorized"},
		{pool.ErrRevenueRecipientUnset, "revenue_recipient_unset"},
		{pool.ErrPaused, "paused"},
	}
	for _, tc := range cases {
		if got := pool.ReasonCode(tc.err); got != tc.code {
			t.Errorf("ReasonCode(%v): got %q, want %q", tc.err, got, tc.code)
		}
	}
}

func TestReasonCode_WrappedError(t *testing.T) {
	wrapped := errors.Join(errors.New("context"), pool.ErrBelowThreshold)
	if got := pool.ReasonCode(wrapped); got != "below_threshold" {
		t.Errorf("wrapped: got %q, want below_threshold", got)
	}
}

func TestReasonCode_UnknownError(t *testing.T) {
	if got := pool.ReasonCode(errors.New("network down")); got != "" {
		t.Errorf("transient error should have no reason code, got %q", got)
	}
}
