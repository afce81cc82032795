package ledger_test

import (
	"testing"

	"StakePool/internal/ledger"

	"github.com/google/uuid"
)

// ============================================================================
// Test: AccountKey
// ============================================================================

func TestAccountKey_UserPath(t *testing.T) {
	userID := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	key := ledger.NewUserAccountKey(userID, ledger.SubTypeWallet, ledger.AssetShare)

	path := key.AccountPath()
	expected := "user:550e8400-e29b-41d4-a716-446655440000:wallet:lst"
	if path != expected {
		t.Errorf("got %q, want %q", path, expected)
	}
}

func TestAccountKey_SystemPaths(t *testing.T) {
	cases := []struct {
		key  ledger.AccountKey
		path string
	}{
		{ledger.BufferAccount(), "system:buffer:native"},
		{ledger.DelegatedAccount(), "system:delegated:native"},
		{ledger.CustodyAccount(), "system:custody:lst"},
		{ledger.UnbondingAccount(), "system:unbonding:native"},
		{ledger.ClaimableAccount(), "system:claimable:native"},
	}
	for _, tc := range cases {
		if got := tc.key.AccountPath(); got != tc.path {
			t.Errorf("got %q, want %q", got, tc.path)
		}
	}
}

func TestAccountKey_ExternalPath(t *testing.T) {
	key := ledger.NewExternalAccountKey(ledger.SubTypeExternalSupply, ledger.AssetShare)

	path := key.AccountPath()
	if path != "external:supply:lst" {
		t.Errorf("got %q, want %q", path, "external:supply:lst")
	}
}

func TestGetAssetID_Known(t *testing.T) {
	id, ok := ledger.GetAssetID("native")
	if !ok {
		t.Fatal("native should be a known asset")
	}
	if id != ledger.AssetNative {
		t.Errorf("native asset ID: got %d, want %d", id, ledger.AssetNative)
	}
}

func TestGetAssetID_Unknown(t *testing.T) {
	_, ok := ledger.GetAssetID("DOGE")
	if ok {
		t.Error("DOGE should not be a known asset")
	}
}

// ============================================================================
// Test: BalanceTracker
// ============================================================================

func TestBalanceTracker_InitialBalanceZero(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	userID := uuid.New()

	if bt.GetUserShares(userID) != 0 {
		t.Errorf("initial share balance should be 0, got %d", bt.GetUserShares(userID))
	}
	if bt.BufferBalance() != 0 {
		t.Errorf("initial buffer should be 0, got %d", bt.BufferBalance())
	}
}

func TestBalanceTracker_ApplyJournal(t *testing.T) {
	bt := ledger.NewBalanceTracker()

	// Simulate deposit: debit system:buffer, credit external:deposits
	j := ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.BufferAccount(),
		CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, ledger.AssetNative),
		AssetID:       ledger.AssetNative,
		Amount:        1_000_000,
	}

	bt.ApplyJournal(j)

	if bt.BufferBalance() != 1_000_000 {
		t.Errorf("buffer: got %d, want 1_000_000", bt.BufferBalance())
	}
}

func TestBalanceTracker_GlobalBalanceZeroSum(t *testing.T) {
	bt := ledger.NewBalanceTracker()

	// Deposit into the buffer, then sweep part of it to delegated.
	bt.ApplyJournal(ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.BufferAccount(),
		CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, ledger.AssetNative),
		AssetID:       ledger.AssetNative,
		Amount:        1_000_000,
	})
	bt.ApplyJournal(ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.DelegatedAccount(),
		CreditAccount: ledger.BufferAccount(),
		AssetID:       ledger.AssetNative,
		Amount:        700_000,
	})

	totals := bt.ComputeGlobalBalance()
	for aid, total := range totals {
		if total != 0 {
			t.Errorf("asset %d has non-zero global balance: %d", aid, total)
		}
	}
}

func TestBalanceTracker_ValidateSufficientShares(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	userID := uuid.New()

	// No shares yet — should fail
	if err := bt.ValidateSufficientShares(userID, 100); err == nil {
		t.Error("expected error for missing shares")
	}

	// Mint shares
	bt.ApplyJournal(ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.NewUserAccountKey(userID, ledger.SubTypeWallet, ledger.AssetShare),
		CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalSupply, ledger.AssetShare),
		AssetID:       ledger.AssetShare,
		Amount:        1_000,
	})

	if err := bt.ValidateSufficientShares(userID, 1_000); err != nil {
		t.Errorf("should have sufficient shares: %v", err)
	}
	if err := bt.ValidateSufficientShares(userID, 1_001); err == nil {
		t.Error("expected error for 1_001 > 1_000")
	}
}

func TestBalanceTracker_Snapshot(t *testing.T) {
	bt := ledger.NewBalanceTracker()

	bt.ApplyJournal(ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.BufferAccount(),
		CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, ledger.AssetNative),
		AssetID:       ledger.AssetNative,
		Amount:        999,
	})

	snap := bt.Snapshot()
	if len(snap) == 0 {
		t.Fatal("snapshot should not be empty")
	}

	// Mutating snapshot should not affect tracker
	for k := range snap {
		snap[k] = 0
	}

	if bt.BufferBalance() != 999 {
		t.Error("tracker balance should not be affected by snapshot mutation")
	}
}

// ============================================================================
// Test: Batch Validation
// ============================================================================

func TestBatchValidate_EmptyBatch_Fails(t *testing.T) {
	batch := &ledger.Batch{
		BatchID:  uuid.New(),
		Journals: []ledger.Journal{},
	}

	if err := batch.Validate(); err == nil {
		t.Error("empty batch should fail validation")
	}
}

func TestBatchValidate_ZeroAmount_Fails(t *testing.T) {
	batchID := uuid.New()

	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{
			{
				JournalID:     uuid.New(),
				BatchID:       batchID,
				DebitAccount:  ledger.BufferAccount(),
				CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, ledger.AssetNative),
				AssetID:       ledger.AssetNative,
				Amount:        0,
			},
		},
	}

	if err := batch.Validate(); err == nil {
		t.Error("zero amount should fail validation")
	}
}

func TestBatchValidate_SelfTransfer_Fails(t *testing.T) {
	batchID := uuid.New()

	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{
			{
				JournalID:     uuid.New(),
				BatchID:       batchID,
				DebitAccount:  ledger.BufferAccount(),
				CreditAccount: ledger.BufferAccount(),
				AssetID:       ledger.AssetNative,
				Amount:        100,
			},
		},
	}

	if err := batch.Validate(); err == nil {
		t.Error("self-transfer should fail validation")
	}
}

func TestBatchValidate_MismatchedBatchID_Fails(t *testing.T) {
	batchID := uuid.New()

	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{
			{
				JournalID:     uuid.New(),
				BatchID:       uuid.New(), // Different batch ID
				DebitAccount:  ledger.BufferAccount(),
				CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, ledger.AssetNative),
				AssetID:       ledger.AssetNative,
				Amount:        100,
			},
		},
	}

	if err := batch.Validate(); err == nil {
		t.Error("mismatched batch ID should fail validation")
	}
}

func TestBatchValidate_AssetMismatch_Fails(t *testing.T) {
	batchID := uuid.New()

	// Share-asset journal between native-asset accounts.
	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{
			{
				JournalID:     uuid.New(),
				BatchID:       batchID,
				DebitAccount:  ledger.BufferAccount(),
				CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, ledger.AssetNative),
				AssetID:       ledger.AssetShare,
				Amount:        100,
			},
		},
	}

	if err := batch.Validate(); err == nil {
		t.Error("asset mismatch should fail validation")
	}
}

// ============================================================================
// Test: JournalGenerator
// ============================================================================

func TestGenerator_Deposit(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(1, bt)
	userID := uuid.New()

	batch, err := jg.GenerateDeposit(userID, uuid.New(), 100, 100, 1_700_000_000_000_000)
	if err != nil {
		t.Fatalf("generate deposit: %v", err)
	}
	if len(batch.Journals) != 2 {
		t.Fatalf("deposit should book two journals, got %d", len(batch.Journals))
	}
	if err := bt.ApplyBatch(batch); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if bt.BufferBalance() != 100 {
		t.Errorf("buffer: got %d, want 100", bt.BufferBalance())
	}
	if bt.GetUserShares(userID) != 100 {
		t.Errorf("shares: got %d, want 100", bt.GetUserShares(userID))
	}
	if jg.Sequence() != 2 {
		t.Errorf("sequence should advance to 2, got %d", jg.Sequence())
	}
}

func TestGenerator_DelegationPreCheck(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(1, bt)

	// Empty buffer: sweep must fail the pre-check.
	if _, err := jg.GenerateDelegation("sweep-1", 50, 0); err == nil {
		t.Error("sweeping an empty buffer should fail")
	}

	depositBatch, _ := jg.GenerateDeposit(uuid.New(), uuid.New(), 100, 100, 0)
	_ = bt.ApplyBatch(depositBatch)

	batch, err := jg.GenerateDelegation("sweep-2", 100, 0)
	if err != nil {
		t.Fatalf("generate delegation: %v", err)
	}
	_ = bt.ApplyBatch(batch)

	if bt.BufferBalance() != 0 || bt.DelegatedBalance() != 100 {
		t.Errorf("after sweep: buffer=%d delegated=%d, want 0/100", bt.BufferBalance(), bt.DelegatedBalance())
	}
}

func TestGenerator_CompoundSplitsFee(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(1, bt)

	batch, err := jg.GenerateCompound("compound-1", 95, 5, 0)
	if err != nil {
		t.Fatalf("generate compound: %v", err)
	}
	if len(batch.Journals) != 2 {
		t.Fatalf("compound with fee should book two journals, got %d", len(batch.Journals))
	}
	_ = bt.ApplyBatch(batch)

	if bt.BufferBalance() != 95 {
		t.Errorf("buffer: got %d, want 95", bt.BufferBalance())
	}
	revenue := bt.GetBalance(ledger.NewExternalAccountKey(ledger.SubTypeExternalRevenue, ledger.AssetNative))
	if revenue != 5 {
		t.Errorf("revenue: got %d, want 5", revenue)
	}
	rewards := bt.GetBalance(ledger.NewExternalAccountKey(ledger.SubTypeExternalRewards, ledger.AssetNative))
	if rewards != -100 {
		t.Errorf("rewards source: got %d, want -100", rewards)
	}
}

func TestGenerator_CompoundNoFee(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(1, bt)

	batch, err := jg.GenerateCompound("compound-2", 100, 0, 0)
	if err != nil {
		t.Fatalf("generate compound: %v", err)
	}
	if len(batch.Journals) != 1 {
		t.Errorf("fee-less compound should book one journal, got %d", len(batch.Journals))
	}
}

func TestGenerator_RedemptionPreCheck(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(1, bt)
	userID := uuid.New()

	if _, err := jg.GenerateRedemptionRequest(userID, uuid.New(), 10, 0); err == nil {
		t.Error("redeeming without shares should fail the pre-check")
	}

	depositBatch, _ := jg.GenerateDeposit(userID, uuid.New(), 100, 100, 0)
	_ = bt.ApplyBatch(depositBatch)

	batch, err := jg.GenerateRedemptionRequest(userID, uuid.New(), 40, 0)
	if err != nil {
		t.Fatalf("generate redemption: %v", err)
	}
	_ = bt.ApplyBatch(batch)

	if bt.GetUserShares(userID) != 60 || bt.CustodyShares() != 40 {
		t.Errorf("after request: wallet=%d custody=%d, want 60/40", bt.GetUserShares(userID), bt.CustodyShares())
	}
}

func TestGenerator_FullLifecycleStaysZeroSum(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(1, bt)
	v := ledger.NewInvariantValidator(bt)
	userID := uuid.New()

	apply := func(batch *ledger.Batch, err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if err := bt.ApplyBatch(batch); err != nil {
			t.Fatalf("apply: %v", err)
		}
		if err := v.ValidateGlobalBalance(); err != nil {
			t.Fatalf("zero-sum broken: %v", err)
		}
		if err := v.ValidatePoolAccountsNonNegative(); err != nil {
			t.Fatalf("pool account negative: %v", err)
		}
	}

	// Deposit 100, sweep it all, compound 10 of rewards (1 fee), queue 40
	// shares, close the batch at 43 asset, settle and pay out.
	apply(jg.GenerateDeposit(userID, uuid.New(), 100, 100, 0))
	apply(jg.GenerateDelegation("sweep", 100, 0))
	apply(jg.GenerateCompound("compound", 9, 1, 0))
	apply(jg.GenerateRedemptionRequest(userID, uuid.New(), 40, 0))
	apply(jg.GenerateBatchClose("close:0", 40, 43, 0))
	apply(jg.GenerateBatchSettlement("confirm", []ledger.SettlementLeg{{BatchID: 0, Amount: 43}}, 0))
	apply(jg.GeneratePayout(uuid.New(), 43, 0))

	if bt.DelegatedBalance() != 57 {
		t.Errorf("delegated: got %d, want 57", bt.DelegatedBalance())
	}
	if bt.BufferBalance() != 9 {
		t.Errorf("buffer: got %d, want 9", bt.BufferBalance())
	}
	if bt.UnbondingBalance() != 0 || bt.ClaimableBalance() != 0 {
		t.Errorf("unbonding=%d claimable=%d, want 0/0", bt.UnbondingBalance(), bt.ClaimableBalance())
	}
	if bt.CustodyShares() != 0 {
		t.Errorf("custody: got %d, want 0", bt.CustodyShares())
	}
	if err := v.ValidateSupplyMatches(60); err != nil {
		t.Errorf("supply: %v", err)
	}
}

func TestGenerator_BatchClosePreChecks(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(1, bt)
	userID := uuid.New()

	depBatch, depErr := jg.GenerateDeposit(userID, uuid.New(), 100, 100, 0)
	_ = bt.ApplyBatch(mustBatch(t, depBatch, depErr))
	delBatch, delErr := jg.GenerateDelegation("sweep", 100, 0)
	_ = bt.ApplyBatch(mustBatch(t, delBatch, delErr))
	redBatch, redErr := jg.GenerateRedemptionRequest(userID, uuid.New(), 40, 0)
	_ = bt.ApplyBatch(mustBatch(t, redBatch, redErr))

	// More shares than custody holds.
	if _, err := jg.GenerateBatchClose("close", 41, 40, 0); err == nil {
		t.Error("burning more than custody should fail")
	}
	// More asset than is delegated.
	if _, err := jg.GenerateBatchClose("close", 40, 101, 0); err == nil {
		t.Error("unbonding more than delegated should fail")
	}
}

func TestGenerator_SettlementRequiresLegs(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(1, bt)

	if _, err := jg.GenerateBatchSettlement("confirm", nil, 0); err == nil {
		t.Error("settlement with no batches should fail")
	}
}

func TestGenerator_DelegationRecovery(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(1, bt)
	userID := uuid.New()

	depBatch, depErr := jg.GenerateDeposit(userID, uuid.New(), 100, 100, 0)
	_ = bt.ApplyBatch(mustBatch(t, depBatch, depErr))
	delBatch, delErr := jg.GenerateDelegation("sweep", 100, 0)
	_ = bt.ApplyBatch(mustBatch(t, delBatch, delErr))

	batch, err := jg.GenerateDelegationRecovery("recover", 30, 0)
	if err != nil {
		t.Fatalf("generate recovery: %v", err)
	}
	_ = bt.ApplyBatch(batch)

	if bt.BufferBalance() != 30 || bt.DelegatedBalance() != 70 {
		t.Errorf("after recovery: buffer=%d delegated=%d, want 30/70", bt.BufferBalance(), bt.DelegatedBalance())
	}

	if _, err := jg.GenerateDelegationRecovery("recover-too-much", 71, 0); err == nil {
		t.Error("recovering more than delegated should fail")
	}
}

func mustBatch(t *testing.T, batch *ledger.Batch, err error) *ledger.Batch {
	t.Helper()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	return batch
}

// ============================================================================
// Test: InvariantValidator
// ============================================================================

func TestInvariantValidator_GlobalBalanceZero(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	v := ledger.NewInvariantValidator(bt)

	// Empty ledger — should pass
	if err := v.ValidateGlobalBalance(); err != nil {
		t.Errorf("empty ledger should have zero global balance: %v", err)
	}

	bt.ApplyJournal(ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.BufferAccount(),
		CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, ledger.AssetNative),
		AssetID:       ledger.AssetNative,
		Amount:        1_000_000,
	})

	// Still zero-sum
	if err := v.ValidateGlobalBalance(); err != nil {
		t.Errorf("balanced ledger should have zero global balance: %v", err)
	}
}

func TestInvariantValidator_PoolAccountNegative(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	v := ledger.NewInvariantValidator(bt)

	// Force the buffer negative with a raw journal.
	bt.ApplyJournal(ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.DelegatedAccount(),
		CreditAccount: ledger.BufferAccount(),
		AssetID:       ledger.AssetNative,
		Amount:        1,
	})

	if err := v.ValidatePoolAccountsNonNegative(); err == nil {
		t.Error("negative buffer should fail validation")
	}
}

func TestInvariantValidator_SupplyMismatch(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	v := ledger.NewInvariantValidator(bt)

	bt.ApplyJournal(ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.NewUserAccountKey(uuid.New(), ledger.SubTypeWallet, ledger.AssetShare),
		CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalSupply, ledger.AssetShare),
		AssetID:       ledger.AssetShare,
		Amount:        100,
	})

	if err := v.ValidateSupplyMatches(100); err != nil {
		t.Errorf("matching supply should pass: %v", err)
	}
	if err := v.ValidateSupplyMatches(99); err == nil {
		t.Error("mismatched supply should fail")
	}
}
