package event

import (
	"time"

	"github.com/google/uuid"
)

// DepositRequested is a user handing the pool base asset in exchange for
// freshly minted shares.
type DepositRequested struct {
	DepositID uuid.UUID
	UserID    uuid.UUID
	Amount    int64 // Fixed-point
	Sequence  int64
	Timestamp time.Time
}

func (d *DepositRequested) IdempotencyKey() string {
	return d.DepositID.String()
}

func (d *DepositRequested) EventType() EventType {
	return EventTypeDepositRequested
}

func (d *DepositRequested) Partition() string {
	return "user:" + d.UserID.String()
}

func (d *DepositRequested) SourceSequence() int64 {
	return d.Sequence
}

// RedemptionRequested surrenders shares into custody and queues a
// withdrawal for the next batch.
type RedemptionRequested struct {
	RequestID   uuid.UUID
	UserID      uuid.UUID
	ShareAmount int64
	Sequence    int64
	Timestamp   time.Time
}

func (r *RedemptionRequested) IdempotencyKey() string {
	return r.RequestID.String()
}

func (r *RedemptionRequested) EventType() EventType {
	return EventTypeRedemptionRequested
}

func (r *RedemptionRequested) Partition() string {
	return "user:" + r.UserID.String()
}

func (r *RedemptionRequested) SourceSequence() int64 {
	return r.Sequence
}

// ClaimRequested pays out one queued request, addressed by its current
// position in the user's queue.
type ClaimRequested struct {
	ClaimID      uuid.UUID
	UserID       uuid.UUID
	RequestIndex int
	Sequence     int64
	Timestamp    time.Time
}

func (c *ClaimRequested) IdempotencyKey() string {
	return c.ClaimID.String()
}

func (c *ClaimRequested) EventType() EventType {
	return EventTypeClaimRequested
}

func (c *ClaimRequested) Partition() string {
	return "user:" + c.UserID.String()
}

func (c *ClaimRequested) SourceSequence() int64 {
	return c.Sequence
}
