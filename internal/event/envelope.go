package event

import (
	"time"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeDepositRequested
	EventTypeRedemptionRequested
	EventTypeClaimRequested
	EventTypeDelegationTriggered
	EventTypeRedelegationTriggered
	EventTypeCompoundTriggered
	EventTypeBatchCloseTriggered
	EventTypeConfirmationTriggered
	EventTypeRecoveryTriggered
	EventTypeParamsUpdated
	EventTypeRoleGranted
	EventTypeRoleRevoked
	EventTypeManagerProposed
	EventTypeManagerAccepted
	EventTypePauseSet
)

// EventEnvelope wraps every event in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Source partition the event's ordering is validated against
	Partition string

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// Upstream sequence for ordering validation
	SourceSequence int64

	// JSON-encoded event-specific data
	Payload []byte

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all event payloads must implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// Partition returns the source ordering domain: one per user for
	// user commands, a shared one for operator and admin traffic.
	Partition() string

	// SourceSequence returns upstream ordering key
	SourceSequence() int64
}

const (
	PartitionOps   = "ops"
	PartitionAdmin = "admin"
)

func (et EventType) String() string {
	switch et {
	case EventTypeDepositRequested:
		return "DepositRequested"
	case EventTypeRedemptionRequested:
		return "RedemptionRequested"
	case EventTypeClaimRequested:
		return "ClaimRequested"
	case EventTypeDelegationTriggered:
		return "DelegationTriggered"
	case EventTypeRedelegationTriggered:
		return "RedelegationTriggered"
	case EventTypeCompoundTriggered:
		return "CompoundTriggered"
	case EventTypeBatchCloseTriggered:
		return "BatchCloseTriggered"
	case EventTypeConfirmationTriggered:
		return "ConfirmationTriggered"
	case EventTypeRecoveryTriggered:
		return "RecoveryTriggered"
	case EventTypeParamsUpdated:
		return "ParamsUpdated"
	case EventTypeRoleGranted:
		return "RoleGranted"
	case EventTypeRoleRevoked:
		return "RoleRevoked"
	case EventTypeManagerProposed:
		return "ManagerProposed"
	case EventTypeManagerAccepted:
		return "ManagerAccepted"
	case EventTypePauseSet:
		return "PauseSet"
	default:
		return "Unknown"
	}
}
