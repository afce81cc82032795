package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is balanced
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateUserSharesNonNegative checks a user's share balance >= 0
func (v *InvariantValidator) ValidateUserSharesNonNegative(userID uuid.UUID) error {
	key := NewUserAccountKey(userID, SubTypeWallet, AssetShare)
	return v.tracker.ValidateNonNegative(key)
}

// ValidatePoolAccountsNonNegative checks every pool-owned account. Asset
// only ever moves between them along the staking lifecycle, so a negative
// balance means an operation overdrew a stage.
func (v *InvariantValidator) ValidatePoolAccountsNonNegative() error {
	for _, key := range []AccountKey{
		BufferAccount(),
		DelegatedAccount(),
		CustodyAccount(),
		UnbondingAccount(),
		ClaimableAccount(),
	} {
		if err := v.tracker.ValidateNonNegative(key); err != nil {
			return err
		}
	}
	return nil
}

// ValidateGlobalBalance verifies system is zero-sum
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.tracker.ComputeGlobalBalance()

	for assetID, total := range totals {
		if total != 0 {
			assetName, _ := GetAssetName(assetID)
			return fmt.Errorf("global balance for %s is non-zero: %d", assetName, total)
		}
	}

	return nil
}

// ValidateSupplyMatches verifies the share ledger agrees with the token
// keeper's total supply: the external supply account runs negative by
// exactly the outstanding share count.
func (v *InvariantValidator) ValidateSupplyMatches(totalSupply int64) error {
	supply := v.tracker.GetBalance(NewExternalAccountKey(SubTypeExternalSupply, AssetShare))
	if -supply != totalSupply {
		return fmt.Errorf("share supply mismatch: ledger says %d outstanding, keeper says %d", -supply, totalSupply)
	}
	return nil
}
