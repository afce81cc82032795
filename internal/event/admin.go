package event

import (
	"time"

	"github.com/google/uuid"
)

// ParamsUpdated changes pool configuration. Nil fields are untouched.
type ParamsUpdated struct {
	UpdateID         uuid.UUID
	ActorID          uuid.UUID
	FeeRate          *int64
	MinDelegate      *int64
	MinUndelegate    *int64
	PrecisionUnit    *int64
	Validator        *string
	RevenueRecipient *uuid.UUID
	Sequence         int64
	Timestamp        time.Time
}

func (p *ParamsUpdated) IdempotencyKey() string {
	return p.UpdateID.String()
}

func (p *ParamsUpdated) EventType() EventType {
	return EventTypeParamsUpdated
}

func (p *ParamsUpdated) Partition() string {
	return PartitionAdmin
}

func (p *ParamsUpdated) SourceSequence() int64 {
	return p.Sequence
}

// RoleGranted adds an actor to a role.
type RoleGranted struct {
	GrantID   uuid.UUID
	ActorID   uuid.UUID
	Role      string
	Grantee   uuid.UUID
	Sequence  int64
	Timestamp time.Time
}

func (r *RoleGranted) IdempotencyKey() string {
	return r.GrantID.String()
}

func (r *RoleGranted) EventType() EventType {
	return EventTypeRoleGranted
}

func (r *RoleGranted) Partition() string {
	return PartitionAdmin
}

func (r *RoleGranted) SourceSequence() int64 {
	return r.Sequence
}

// RoleRevoked removes an actor from a role.
type RoleRevoked struct {
	RevokeID  uuid.UUID
	ActorID   uuid.UUID
	Role      string
	Revokee   uuid.UUID
	Sequence  int64
	Timestamp time.Time
}

func (r *RoleRevoked) IdempotencyKey() string {
	return r.RevokeID.String()
}

func (r *RoleRevoked) EventType() EventType {
	return EventTypeRoleRevoked
}

func (r *RoleRevoked) Partition() string {
	return PartitionAdmin
}

func (r *RoleRevoked) SourceSequence() int64 {
	return r.Sequence
}

// ManagerProposed starts a two-step manager transfer.
type ManagerProposed struct {
	ProposalID uuid.UUID
	ActorID    uuid.UUID
	NewManager uuid.UUID
	Sequence   int64
	Timestamp  time.Time
}

func (m *ManagerProposed) IdempotencyKey() string {
	return m.ProposalID.String()
}

func (m *ManagerProposed) EventType() EventType {
	return EventTypeManagerProposed
}

func (m *ManagerProposed) Partition() string {
	return PartitionAdmin
}

func (m *ManagerProposed) SourceSequence() int64 {
	return m.Sequence
}

// ManagerAccepted completes a two-step manager transfer. The actor must be
// the pending manager.
type ManagerAccepted struct {
	AcceptID  uuid.UUID
	ActorID   uuid.UUID
	Sequence  int64
	Timestamp time.Time
}

func (m *ManagerAccepted) IdempotencyKey() string {
	return m.AcceptID.String()
}

func (m *ManagerAccepted) EventType() EventType {
	return EventTypeManagerAccepted
}

func (m *ManagerAccepted) Partition() string {
	return PartitionAdmin
}

func (m *ManagerAccepted) SourceSequence() int64 {
	return m.Sequence
}

// PauseSet toggles the pause flag gating user-facing operations.
type PauseSet struct {
	ToggleID  uuid.UUID
	ActorID   uuid.UUID
	Paused    bool
	Sequence  int64
	Timestamp time.Time
}

func (p *PauseSet) IdempotencyKey() string {
	return p.ToggleID.String()
}

func (p *PauseSet) EventType() EventType {
	return EventTypePauseSet
}

func (p *PauseSet) Partition() string {
	return PartitionAdmin
}

func (p *PauseSet) SourceSequence() int64 {
	return p.Sequence
}
