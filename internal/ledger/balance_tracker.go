package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// BalanceTracker maintains in-memory account balances
type BalanceTracker struct {
	balances map[AccountKey]int64
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]int64),
	}
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	bt.balances[j.DebitAccount] += j.Amount
	bt.balances[j.CreditAccount] -= j.Amount
}

// ApplyBatch applies all journals in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}

	return nil
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) int64 {
	return bt.balances[key]
}

// === User Balance Queries ===

// GetUserShares returns the user's liquid share balance
func (bt *BalanceTracker) GetUserShares(userID uuid.UUID) int64 {
	return bt.GetBalance(NewUserAccountKey(userID, SubTypeWallet, AssetShare))
}

// === Pool Account Queries ===
// These mirror the pool's scalar aggregate; the invariant validator
// cross-checks the two views after every applied event.

// BufferBalance returns asset awaiting delegation
func (bt *BalanceTracker) BufferBalance() int64 {
	return bt.GetBalance(BufferAccount())
}

// DelegatedBalance returns principal held at the backend
func (bt *BalanceTracker) DelegatedBalance() int64 {
	return bt.GetBalance(DelegatedAccount())
}

// CustodyShares returns shares queued for the next batch close
func (bt *BalanceTracker) CustodyShares() int64 {
	return bt.GetBalance(CustodyAccount())
}

// UnbondingBalance returns asset of closed, unconfirmed batches
func (bt *BalanceTracker) UnbondingBalance() int64 {
	return bt.GetBalance(UnbondingAccount())
}

// ClaimableBalance returns asset payable to claimants, including the
// rounding dust of fully claimed batches
func (bt *BalanceTracker) ClaimableBalance() int64 {
	return bt.GetBalance(ClaimableAccount())
}

// === Invariant Checks ===

// ValidateSufficientShares checks if user has enough shares to surrender
func (bt *BalanceTracker) ValidateSufficientShares(userID uuid.UUID, required int64) error {
	shares := bt.GetUserShares(userID)
	if shares < required {
		return fmt.Errorf("insufficient share balance: have=%d, need=%d", shares, required)
	}
	return nil
}

// ComputeGlobalBalance sums all account balances (should be 0 for zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() map[AssetID]int64 {
	totals := make(map[AssetID]int64)

	for key, balance := range bt.balances {
		totals[key.AssetID] += balance
	}

	return totals
}

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	balance := bt.GetBalance(key)
	if balance < 0 {
		return fmt.Errorf("account %s has negative balance: %d", key.AccountPath(), balance)
	}
	return nil
}

// Snapshot returns a copy of all balances (for state hashing)
func (bt *BalanceTracker) Snapshot() map[AccountKey]int64 {
	snapshot := make(map[AccountKey]int64, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}

// SetBalance overwrites one account balance, used when restoring from a
// snapshot.
func (bt *BalanceTracker) SetBalance(key AccountKey, balance int64) {
	bt.balances[key] = balance
}
