package ingestion

import (
	"StakePool/internal/event"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// InjectService provides admin/manual event injection for the API server.
// It is meant for operator triggers and backfills, not high-throughput
// ingestion (use NATS for that). Callers supply the partition source
// sequence; the core rejects gaps, so the expected sequence must come from
// the query API.
type InjectService struct {
	eventChan chan<- event.Event
}

func NewInjectService(eventChan chan<- event.Event) *InjectService {
	return &InjectService{eventChan: eventChan}
}

// InjectDeposit manually injects a DepositRequested event.
func (s *InjectService) InjectDeposit(
	ctx context.Context,
	userID uuid.UUID,
	amount int64,
	sequence int64,
) error {
	if amount <= 0 {
		return fmt.Errorf("amount must be positive")
	}

	evt := &event.DepositRequested{
		DepositID: uuid.New(),
		UserID:    userID,
		Amount:    amount,
		Sequence:  sequence,
		Timestamp: time.Now(),
	}

	return s.send(ctx, evt)
}

// InjectDelegation manually injects a DelegationTriggered event.
func (s *InjectService) InjectDelegation(
	ctx context.Context,
	actorID uuid.UUID,
	relayFeePaid int64,
	sequence int64,
) error {
	evt := &event.DelegationTriggered{
		TriggerID:    uuid.New(),
		ActorID:      actorID,
		RelayFeePaid: relayFeePaid,
		Sequence:     sequence,
		Timestamp:    time.Now(),
	}

	return s.send(ctx, evt)
}

// InjectCompound manually injects a CompoundTriggered event.
func (s *InjectService) InjectCompound(
	ctx context.Context,
	actorID uuid.UUID,
	sequence int64,
) error {
	evt := &event.CompoundTriggered{
		TriggerID: uuid.New(),
		ActorID:   actorID,
		Sequence:  sequence,
		Timestamp: time.Now(),
	}

	return s.send(ctx, evt)
}

// InjectBatchClose manually injects a BatchCloseTriggered event.
func (s *InjectService) InjectBatchClose(
	ctx context.Context,
	actorID uuid.UUID,
	sequence int64,
) error {
	evt := &event.BatchCloseTriggered{
		TriggerID: uuid.New(),
		ActorID:   actorID,
		Sequence:  sequence,
		Timestamp: time.Now(),
	}

	return s.send(ctx, evt)
}

// InjectConfirmation manually injects a ConfirmationTriggered event.
func (s *InjectService) InjectConfirmation(
	ctx context.Context,
	actorID uuid.UUID,
	sequence int64,
) error {
	evt := &event.ConfirmationTriggered{
		TriggerID: uuid.New(),
		ActorID:   actorID,
		Sequence:  sequence,
		Timestamp: time.Now(),
	}

	return s.send(ctx, evt)
}

// InjectRecovery manually injects a RecoveryTriggered event.
func (s *InjectService) InjectRecovery(
	ctx context.Context,
	actorID uuid.UUID,
	sequence int64,
) error {
	evt := &event.RecoveryTriggered{
		TriggerID: uuid.New(),
		ActorID:   actorID,
		Sequence:  sequence,
		Timestamp: time.Now(),
	}

	return s.send(ctx, evt)
}

// InjectPause manually injects a PauseSet event.
func (s *InjectService) InjectPause(
	ctx context.Context,
	actorID uuid.UUID,
	paused bool,
	sequence int64,
) error {
	evt := &event.PauseSet{
		ToggleID:  uuid.New(),
		ActorID:   actorID,
		Paused:    paused,
		Sequence:  sequence,
		Timestamp: time.Now(),
	}

	return s.send(ctx, evt)
}

func (s *InjectService) send(ctx context.Context, evt event.Event) error {
	select {
	case s.eventChan <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
