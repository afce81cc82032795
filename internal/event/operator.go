package event

import (
	"time"

	"github.com/google/uuid"
)

// DelegationTriggered sweeps the buffered deposits to the backend, floored
// to the backend's precision unit.
type DelegationTriggered struct {
	TriggerID    uuid.UUID
	ActorID      uuid.UUID
	RelayFeePaid int64
	// QuotedFee is the backend fee quote recorded on first apply. Log
	// replay reuses it instead of re-quoting, so the stored payload
	// replays to the same decision.
	QuotedFee int64
	Sequence  int64
	Timestamp time.Time
}

func (d *DelegationTriggered) IdempotencyKey() string {
	return d.TriggerID.String()
}

func (d *DelegationTriggered) EventType() EventType {
	return EventTypeDelegationTriggered
}

func (d *DelegationTriggered) Partition() string {
	return PartitionOps
}

func (d *DelegationTriggered) SourceSequence() int64 {
	return d.Sequence
}

// RedelegationTriggered moves delegated principal between validators on
// the backend. Principal totals are untouched.
type RedelegationTriggered struct {
	TriggerID    uuid.UUID
	ActorID      uuid.UUID
	SrcValidator string
	DstValidator string
	Amount       int64
	RelayFeePaid int64
	// Recorded on first apply, reused by log replay.
	QuotedFee int64
	Sequence  int64
	Timestamp time.Time
}

func (r *RedelegationTriggered) IdempotencyKey() string {
	return r.TriggerID.String()
}

func (r *RedelegationTriggered) EventType() EventType {
	return EventTypeRedelegationTriggered
}

func (r *RedelegationTriggered) Partition() string {
	return PartitionOps
}

func (r *RedelegationTriggered) SourceSequence() int64 {
	return r.Sequence
}

// CompoundTriggered claims accrued rewards, skims the protocol fee and
// folds the rest back into the buffer.
type CompoundTriggered struct {
	TriggerID uuid.UUID
	ActorID   uuid.UUID
	// ClaimedReward is the reward amount the backend returned, recorded
	// on first apply and reused by log replay.
	ClaimedReward int64
	Sequence      int64
	Timestamp     time.Time
}

func (c *CompoundTriggered) IdempotencyKey() string {
	return c.TriggerID.String()
}

func (c *CompoundTriggered) EventType() EventType {
	return EventTypeCompoundTriggered
}

func (c *CompoundTriggered) Partition() string {
	return PartitionOps
}

func (c *CompoundTriggered) SourceSequence() int64 {
	return c.Sequence
}

// BatchCloseTriggered closes the pending redemption queue into one
// undelegation batch.
type BatchCloseTriggered struct {
	TriggerID uuid.UUID
	ActorID   uuid.UUID
	Sequence  int64
	Timestamp time.Time
}

func (b *BatchCloseTriggered) IdempotencyKey() string {
	return b.TriggerID.String()
}

func (b *BatchCloseTriggered) EventType() EventType {
	return EventTypeBatchCloseTriggered
}

func (b *BatchCloseTriggered) Partition() string {
	return PartitionOps
}

func (b *BatchCloseTriggered) SourceSequence() int64 {
	return b.Sequence
}

// ConfirmationTriggered asks the backend how much undelegated asset is
// available and settles every closed batch if the answer is nonzero.
type ConfirmationTriggered struct {
	TriggerID uuid.UUID
	ActorID   uuid.UUID
	// Recorded on first apply, reused by log replay.
	ClaimedAsset int64
	Sequence     int64
	Timestamp    time.Time
}

func (c *ConfirmationTriggered) IdempotencyKey() string {
	return c.TriggerID.String()
}

func (c *ConfirmationTriggered) EventType() EventType {
	return EventTypeConfirmationTriggered
}

func (c *ConfirmationTriggered) Partition() string {
	return PartitionOps
}

func (c *ConfirmationTriggered) SourceSequence() int64 {
	return c.Sequence
}

// RecoveryTriggered pulls back asset the backend failed to delegate and
// rebuffers it.
type RecoveryTriggered struct {
	TriggerID uuid.UUID
	ActorID   uuid.UUID
	// Recorded on first apply, reused by log replay.
	RecoveredAsset int64
	Sequence       int64
	Timestamp      time.Time
}

func (r *RecoveryTriggered) IdempotencyKey() string {
	return r.TriggerID.String()
}

func (r *RecoveryTriggered) EventType() EventType {
	return EventTypeRecoveryTriggered
}

func (r *RecoveryTriggered) Partition() string {
	return PartitionOps
}

func (r *RecoveryTriggered) SourceSequence() int64 {
	return r.Sequence
}
