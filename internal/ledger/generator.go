package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// JournalGenerator creates balanced journal batches from events
type JournalGenerator struct {
	sequence       int64
	balanceTracker *BalanceTracker // Add reference for pre-checks
}

func NewJournalGenerator(startSequence int64, tracker *BalanceTracker) *JournalGenerator {
	return &JournalGenerator{
		sequence:       startSequence,
		balanceTracker: tracker,
	}
}

// Sequence returns the next batch sequence, for snapshotting.
func (jg *JournalGenerator) Sequence() int64 {
	return jg.sequence
}

// SetSequence resets the batch sequence cursor. Used when restoring from a
// snapshot and when rolling back generated batches after a failed staking
// backend call.
func (jg *JournalGenerator) SetSequence(seq int64) {
	jg.sequence = seq
}

// GenerateDeposit creates journals for a deposit: the asset enters the
// delegation buffer and freshly minted shares land in the user's wallet.
// Moves funds: external:deposits → system:buffer, external:supply → user:wallet
func (jg *JournalGenerator) GenerateDeposit(
	userID uuid.UUID,
	depositID uuid.UUID,
	amount int64,
	shares int64,
	timestamp int64,
) (*Batch, error) {
	batchID := uuid.New()
	eventRef := depositID.String()

	batch := &Batch{
		BatchID:   batchID,
		EventRef:  eventRef,
		Sequence:  jg.sequence,
		Timestamp: timestamp,
		Journals:  make([]Journal, 0, 2),
	}

	batch.Journals = append(batch.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       batchID,
		EventRef:      eventRef,
		Sequence:      jg.sequence,
		DebitAccount:  BufferAccount(),
		CreditAccount: NewExternalAccountKey(SubTypeExternalDeposits, AssetNative),
		AssetID:       AssetNative,
		Amount:        amount,
		JournalType:   JournalTypeDeposit,
		Timestamp:     timestamp,
	})

	batch.Journals = append(batch.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       batchID,
		EventRef:      eventRef,
		Sequence:      jg.sequence,
		DebitAccount:  NewUserAccountKey(userID, SubTypeWallet, AssetShare),
		CreditAccount: NewExternalAccountKey(SubTypeExternalSupply, AssetShare),
		AssetID:       AssetShare,
		Amount:        shares,
		JournalType:   JournalTypeShareMint,
		Timestamp:     timestamp,
	})

	jg.sequence++
	return batch, nil
}

// GenerateDelegation moves a swept amount from the buffer to delegated
// principal.
// Moves funds: system:buffer → system:delegated
func (jg *JournalGenerator) GenerateDelegation(
	eventRef string,
	amount int64,
	timestamp int64,
) (*Batch, error) {
	// PRE-CHECK: the buffer must cover the sweep
	if have := jg.balanceTracker.BufferBalance(); have < amount {
		return nil, fmt.Errorf("delegation pre-check failed: buffer has %d, sweeping %d", have, amount)
	}

	batchID := uuid.New()

	batch := &Batch{
		BatchID:   batchID,
		EventRef:  eventRef,
		Sequence:  jg.sequence,
		Timestamp: timestamp,
		Journals: []Journal{{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			EventRef:      eventRef,
			Sequence:      jg.sequence,
			DebitAccount:  DelegatedAccount(),
			CreditAccount: BufferAccount(),
			AssetID:       AssetNative,
			Amount:        amount,
			JournalType:   JournalTypeDelegate,
			Timestamp:     timestamp,
		}},
	}

	jg.sequence++
	return batch, nil
}

// GenerateCompound books a claimed reward: the net amount joins the
// delegation buffer, the protocol fee goes straight out to the revenue
// recipient.
// Moves funds: external:rewards → system:buffer, external:rewards → external:revenue
func (jg *JournalGenerator) GenerateCompound(
	eventRef string,
	netAmount int64,
	feeAmount int64,
	timestamp int64,
) (*Batch, error) {
	batchID := uuid.New()

	batch := &Batch{
		BatchID:   batchID,
		EventRef:  eventRef,
		Sequence:  jg.sequence,
		Timestamp: timestamp,
		Journals:  make([]Journal, 0, 2),
	}

	if netAmount > 0 {
		batch.Journals = append(batch.Journals, Journal{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			EventRef:      eventRef,
			Sequence:      jg.sequence,
			DebitAccount:  BufferAccount(),
			CreditAccount: NewExternalAccountKey(SubTypeExternalRewards, AssetNative),
			AssetID:       AssetNative,
			Amount:        netAmount,
			JournalType:   JournalTypeRewardSweep,
			Timestamp:     timestamp,
		})
	}

	if feeAmount > 0 {
		batch.Journals = append(batch.Journals, Journal{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			EventRef:      eventRef,
			Sequence:      jg.sequence,
			DebitAccount:  NewExternalAccountKey(SubTypeExternalRevenue, AssetNative),
			CreditAccount: NewExternalAccountKey(SubTypeExternalRewards, AssetNative),
			AssetID:       AssetNative,
			Amount:        feeAmount,
			JournalType:   JournalTypeRevenueFee,
			Timestamp:     timestamp,
		})
	}

	if len(batch.Journals) == 0 {
		return nil, fmt.Errorf("compound of %s books nothing: net=%d fee=%d", eventRef, netAmount, feeAmount)
	}

	jg.sequence++
	return batch, nil
}

// GenerateRedemptionRequest surrenders a user's shares into custody.
// Pre-check: user must hold the shares being surrendered.
// Moves funds: user:wallet → system:custody
func (jg *JournalGenerator) GenerateRedemptionRequest(
	userID uuid.UUID,
	requestID uuid.UUID,
	shareAmount int64,
	timestamp int64,
) (*Batch, error) {
	if err := jg.balanceTracker.ValidateSufficientShares(userID, shareAmount); err != nil {
		return nil, fmt.Errorf("redemption pre-check failed: %w", err)
	}

	batchID := uuid.New()
	eventRef := requestID.String()

	batch := &Batch{
		BatchID:   batchID,
		EventRef:  eventRef,
		Sequence:  jg.sequence,
		Timestamp: timestamp,
		Journals: []Journal{{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			EventRef:      eventRef,
			Sequence:      jg.sequence,
			DebitAccount:  CustodyAccount(),
			CreditAccount: NewUserAccountKey(userID, SubTypeWallet, AssetShare),
			AssetID:       AssetShare,
			Amount:        shareAmount,
			JournalType:   JournalTypeCustodyTransfer,
			Timestamp:     timestamp,
		}},
	}

	jg.sequence++
	return batch, nil
}

// GenerateBatchClose burns the custody shares of a closing batch and moves
// the floored asset amount from delegated principal into unbonding.
// Moves funds: system:custody → external:supply, system:delegated → system:unbonding
func (jg *JournalGenerator) GenerateBatchClose(
	eventRef string,
	burnedShares int64,
	assetAmount int64,
	timestamp int64,
) (*Batch, error) {
	// PRE-CHECK: custody holds the shares, principal covers the amount
	if have := jg.balanceTracker.CustodyShares(); have < burnedShares {
		return nil, fmt.Errorf("batch close pre-check failed: custody has %d shares, burning %d", have, burnedShares)
	}
	if have := jg.balanceTracker.DelegatedBalance(); have < assetAmount {
		return nil, fmt.Errorf("batch close pre-check failed: delegated %d, unbonding %d", have, assetAmount)
	}

	batchID := uuid.New()

	batch := &Batch{
		BatchID:   batchID,
		EventRef:  eventRef,
		Sequence:  jg.sequence,
		Timestamp: timestamp,
		Journals:  make([]Journal, 0, 2),
	}

	batch.Journals = append(batch.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       batchID,
		EventRef:      eventRef,
		Sequence:      jg.sequence,
		DebitAccount:  NewExternalAccountKey(SubTypeExternalSupply, AssetShare),
		CreditAccount: CustodyAccount(),
		AssetID:       AssetShare,
		Amount:        burnedShares,
		JournalType:   JournalTypeShareBurn,
		Timestamp:     timestamp,
	})

	batch.Journals = append(batch.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       batchID,
		EventRef:      eventRef,
		Sequence:      jg.sequence,
		DebitAccount:  UnbondingAccount(),
		CreditAccount: DelegatedAccount(),
		AssetID:       AssetNative,
		Amount:        assetAmount,
		JournalType:   JournalTypeUnbond,
		Timestamp:     timestamp,
	})

	jg.sequence++
	return batch, nil
}

// SettlementLeg is one confirmed batch inside a settlement.
type SettlementLeg struct {
	BatchID uint64
	Amount  int64
}

// GenerateBatchSettlement moves every confirmed batch's reserved asset from
// unbonding to claimable, one journal per batch.
// Moves funds: system:unbonding → system:claimable
func (jg *JournalGenerator) GenerateBatchSettlement(
	eventRef string,
	legs []SettlementLeg,
	timestamp int64,
) (*Batch, error) {
	if len(legs) == 0 {
		return nil, fmt.Errorf("settlement %s has no batches", eventRef)
	}

	var total int64
	for _, leg := range legs {
		total += leg.Amount
	}
	if have := jg.balanceTracker.UnbondingBalance(); have < total {
		return nil, fmt.Errorf("settlement pre-check failed: unbonding %d, settling %d", have, total)
	}

	batchID := uuid.New()

	batch := &Batch{
		BatchID:   batchID,
		EventRef:  eventRef,
		Sequence:  jg.sequence,
		Timestamp: timestamp,
		Journals:  make([]Journal, 0, len(legs)),
	}

	for _, leg := range legs {
		batch.Journals = append(batch.Journals, Journal{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			EventRef:      eventRef,
			Sequence:      jg.sequence,
			DebitAccount:  ClaimableAccount(),
			CreditAccount: UnbondingAccount(),
			AssetID:       AssetNative,
			Amount:        leg.Amount,
			JournalType:   JournalTypeSettle,
			Timestamp:     timestamp,
		})
	}

	jg.sequence++
	return batch, nil
}

// GeneratePayout pays a claim out of the claimable pool. The journal
// references the redemption request being settled, not the claim command.
// Zero payouts (floor division on a dust-sized request) book nothing; the
// caller skips journal generation for those.
// Moves funds: system:claimable → external:payouts
func (jg *JournalGenerator) GeneratePayout(
	requestID uuid.UUID,
	amount int64,
	timestamp int64,
) (*Batch, error) {
	if have := jg.balanceTracker.ClaimableBalance(); have < amount {
		return nil, fmt.Errorf("payout pre-check failed: claimable %d, paying %d", have, amount)
	}

	batchID := uuid.New()
	eventRef := requestID.String()

	batch := &Batch{
		BatchID:   batchID,
		EventRef:  eventRef,
		Sequence:  jg.sequence,
		Timestamp: timestamp,
		Journals: []Journal{{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			EventRef:      eventRef,
			Sequence:      jg.sequence,
			DebitAccount:  NewExternalAccountKey(SubTypeExternalPayouts, AssetNative),
			CreditAccount: ClaimableAccount(),
			AssetID:       AssetNative,
			Amount:        amount,
			JournalType:   JournalTypePayout,
			Timestamp:     timestamp,
		}},
	}

	jg.sequence++
	return batch, nil
}

// GenerateDelegationRecovery returns asset the backend failed to delegate
// back into the buffer.
// Moves funds: system:delegated → system:buffer
func (jg *JournalGenerator) GenerateDelegationRecovery(
	eventRef string,
	amount int64,
	timestamp int64,
) (*Batch, error) {
	if have := jg.balanceTracker.DelegatedBalance(); have < amount {
		return nil, fmt.Errorf("recovery pre-check failed: delegated %d, recovering %d", have, amount)
	}

	batchID := uuid.New()

	batch := &Batch{
		BatchID:   batchID,
		EventRef:  eventRef,
		Sequence:  jg.sequence,
		Timestamp: timestamp,
		Journals: []Journal{{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			EventRef:      eventRef,
			Sequence:      jg.sequence,
			DebitAccount:  BufferAccount(),
			CreditAccount: DelegatedAccount(),
			AssetID:       AssetNative,
			Amount:        amount,
			JournalType:   JournalTypeDelegationRecovery,
			Timestamp:     timestamp,
		}},
	}

	jg.sequence++
	return batch, nil
}
