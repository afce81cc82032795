package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeDeposit JournalType = iota
	JournalTypeShareMint
	JournalTypeDelegate
	JournalTypeRewardSweep
	JournalTypeRevenueFee
	JournalTypeCustodyTransfer
	JournalTypeShareBurn
	JournalTypeUnbond
	JournalTypeSettle
	JournalTypePayout
	JournalTypeDelegationRecovery
	JournalTypeAdjustment
)

func (jt JournalType) String() string {
	switch jt {
	case JournalTypeDeposit:
		return "deposit"
	case JournalTypeShareMint:
		return "share_mint"
	case JournalTypeDelegate:
		return "delegate"
	case JournalTypeRewardSweep:
		return "reward_sweep"
	case JournalTypeRevenueFee:
		return "revenue_fee"
	case JournalTypeCustodyTransfer:
		return "custody_transfer"
	case JournalTypeShareBurn:
		return "share_burn"
	case JournalTypeUnbond:
		return "unbond"
	case JournalTypeSettle:
		return "settle"
	case JournalTypePayout:
		return "payout"
	case JournalTypeDelegationRecovery:
		return "delegation_recovery"
	case JournalTypeAdjustment:
		return "adjustment"
	default:
		return "unknown"
	}
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID   // Unique identifier
	BatchID       uuid.UUID   // Groups balanced entries
	EventRef      string      // Idempotency key of source event
	Sequence      int64       // Global event sequence
	DebitAccount  AccountKey  // Account receiving debit (balance increases)
	CreditAccount AccountKey  // Account receiving credit (balance decreases)
	AssetID       AssetID     // Asset being transferred
	Amount        int64       // Fixed-point amount (ALWAYS positive)
	JournalType   JournalType // Entry type
	Timestamp     int64       // Versioned input timestamp (epoch microseconds)
}

// Batch represents a balanced set of journal entries
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// Validate ensures the batch is well-formed.
// Note on balance invariant: each journal entry is a balanced transfer by construction
// (a single positive amount moves from credit account to debit account). Therefore
// debits always equal credits per entry. Multi-leg batches (e.g., reward sweep
// with fee) use multiple entries under one batch_id, each individually balanced.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount <= 0 {
			return fmt.Errorf("journal %s has non-positive amount: %d", j.JournalID, j.Amount)
		}

		// Validate batch consistency
		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}

		// Validate debit != credit (no self-transfers)
		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}

		if j.DebitAccount.AssetID != j.AssetID || j.CreditAccount.AssetID != j.AssetID {
			return fmt.Errorf("journal %s moves asset %d between mismatched accounts", j.JournalID, j.AssetID)
		}
	}

	return nil
}
