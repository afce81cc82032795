package ingestion

import (
	"StakePool/internal/event"
	"fmt"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ParseRawEvent converts a RawEvent (JSON bytes + event type string) into a
// typed event.Event. The ingestion shell validates, parses and converts raw
// commands before handing them to the deterministic core.
func ParseRawEvent(raw RawEvent, eventType string) (event.Event, error) {
	switch eventType {
	case "DepositRequested":
		return parseDepositRequested(raw.Data)
	case "RedemptionRequested":
		return parseRedemptionRequested(raw.Data)
	case "ClaimRequested":
		return parseClaimRequested(raw.Data)
	case "DelegationTriggered":
		return parseDelegationTriggered(raw.Data)
	case "RedelegationTriggered":
		return parseRedelegationTriggered(raw.Data)
	case "CompoundTriggered":
		return parseCompoundTriggered(raw.Data)
	case "BatchCloseTriggered":
		return parseBatchCloseTriggered(raw.Data)
	case "ConfirmationTriggered":
		return parseConfirmationTriggered(raw.Data)
	case "RecoveryTriggered":
		return parseRecoveryTriggered(raw.Data)
	case "ParamsUpdated":
		return parseParamsUpdated(raw.Data)
	case "RoleGranted":
		return parseRoleGranted(raw.Data)
	case "RoleRevoked":
		return parseRoleRevoked(raw.Data)
	case "ManagerProposed":
		return parseManagerProposed(raw.Data)
	case "ManagerAccepted":
		return parseManagerAccepted(raw.Data)
	case "PauseSet":
		return parsePauseSet(raw.Data)
	default:
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}
}

// --- JSON wire formats ---
// These structs represent the JSON payloads received from NATS.
// Field names use snake_case to match upstream producers.

type depositJSON struct {
	DepositID   string `json:"deposit_id"`
	UserID      string `json:"user_id"`
	Amount      int64  `json:"amount"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseDepositRequested(data []byte) (*event.DepositRequested, error) {
	var j depositJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse DepositRequested: %w", err)
	}
	depositID, err := uuid.Parse(j.DepositID)
	if err != nil {
		return nil, fmt.Errorf("parse deposit_id: %w", err)
	}
	userID, err := uuid.Parse(j.UserID)
	if err != nil {
		return nil, fmt.Errorf("parse user_id: %w", err)
	}
	return &event.DepositRequested{
		DepositID: depositID,
		UserID:    userID,
		Amount:    j.Amount,
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

type redemptionJSON struct {
	RequestID   string `json:"request_id"`
	UserID      string `json:"user_id"`
	ShareAmount int64  `json:"share_amount"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseRedemptionRequested(data []byte) (*event.RedemptionRequested, error) {
	var j redemptionJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse RedemptionRequested: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	userID, err := uuid.Parse(j.UserID)
	if err != nil {
		return nil, fmt.Errorf("parse user_id: %w", err)
	}
	return &event.RedemptionRequested{
		RequestID:   requestID,
		UserID:      userID,
		ShareAmount: j.ShareAmount,
		Sequence:    j.Sequence,
		Timestamp:   time.UnixMicro(j.TimestampUs),
	}, nil
}

type claimJSON struct {
	ClaimID      string `json:"claim_id"`
	UserID       string `json:"user_id"`
	RequestIndex int    `json:"request_index"`
	Sequence     int64  `json:"sequence"`
	TimestampUs  int64  `json:"timestamp_us"`
}

func parseClaimRequested(data []byte) (*event.ClaimRequested, error) {
	var j claimJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ClaimRequested: %w", err)
	}
	claimID, err := uuid.Parse(j.ClaimID)
	if err != nil {
		return nil, fmt.Errorf("parse claim_id: %w", err)
	}
	userID, err := uuid.Parse(j.UserID)
	if err != nil {
		return nil, fmt.Errorf("parse user_id: %w", err)
	}
	return &event.ClaimRequested{
		ClaimID:      claimID,
		UserID:       userID,
		RequestIndex: j.RequestIndex,
		Sequence:     j.Sequence,
		Timestamp:    time.UnixMicro(j.TimestampUs),
	}, nil
}

// opsTriggerJSON is shared by the four bare operator triggers; they differ
// only in subject and event type.
type opsTriggerJSON struct {
	TriggerID    string `json:"trigger_id"`
	ActorID      string `json:"actor_id"`
	RelayFeePaid int64  `json:"relay_fee_paid,omitempty"`
	Sequence     int64  `json:"sequence"`
	TimestampUs  int64  `json:"timestamp_us"`
}

func (j *opsTriggerJSON) ids() (uuid.UUID, uuid.UUID, error) {
	triggerID, err := uuid.Parse(j.TriggerID)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("parse trigger_id: %w", err)
	}
	actorID, err := uuid.Parse(j.ActorID)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("parse actor_id: %w", err)
	}
	return triggerID, actorID, nil
}

func parseDelegationTriggered(data []byte) (*event.DelegationTriggered, error) {
	var j opsTriggerJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse DelegationTriggered: %w", err)
	}
	triggerID, actorID, err := j.ids()
	if err != nil {
		return nil, err
	}
	return &event.DelegationTriggered{
		TriggerID:    triggerID,
		ActorID:      actorID,
		RelayFeePaid: j.RelayFeePaid,
		Sequence:     j.Sequence,
		Timestamp:    time.UnixMicro(j.TimestampUs),
	}, nil
}

type redelegationJSON struct {
	TriggerID    string `json:"trigger_id"`
	ActorID      string `json:"actor_id"`
	SrcValidator string `json:"src_validator"`
	DstValidator string `json:"dst_validator"`
	Amount       int64  `json:"amount"`
	RelayFeePaid int64  `json:"relay_fee_paid"`
	Sequence     int64  `json:"sequence"`
	TimestampUs  int64  `json:"timestamp_us"`
}

func parseRedelegationTriggered(data []byte) (*event.RedelegationTriggered, error) {
	var j redelegationJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse RedelegationTriggered: %w", err)
	}
	triggerID, err := uuid.Parse(j.TriggerID)
	if err != nil {
		return nil, fmt.Errorf("parse trigger_id: %w", err)
	}
	actorID, err := uuid.Parse(j.ActorID)
	if err != nil {
		return nil, fmt.Errorf("parse actor_id: %w", err)
	}
	return &event.RedelegationTriggered{
		TriggerID:    triggerID,
		ActorID:      actorID,
		SrcValidator: j.SrcValidator,
		DstValidator: j.DstValidator,
		Amount:       j.Amount,
		RelayFeePaid: j.RelayFeePaid,
		Sequence:     j.Sequence,
		Timestamp:    time.UnixMicro(j.TimestampUs),
	}, nil
}

func parseCompoundTriggered(data []byte) (*event.CompoundTriggered, error) {
	var j opsTriggerJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse CompoundTriggered: %w", err)
	}
	triggerID, actorID, err := j.ids()
	if err != nil {
		return nil, err
	}
	return &event.CompoundTriggered{
		TriggerID: triggerID,
		ActorID:   actorID,
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

func parseBatchCloseTriggered(data []byte) (*event.BatchCloseTriggered, error) {
	var j opsTriggerJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse BatchCloseTriggered: %w", err)
	}
	triggerID, actorID, err := j.ids()
	if err != nil {
		return nil, err
	}
	return &event.BatchCloseTriggered{
		TriggerID: triggerID,
		ActorID:   actorID,
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

func parseConfirmationTriggered(data []byte) (*event.ConfirmationTriggered, error) {
	var j opsTriggerJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ConfirmationTriggered: %w", err)
	}
	triggerID, actorID, err := j.ids()
	if err != nil {
		return nil, err
	}
	return &event.ConfirmationTriggered{
		TriggerID: triggerID,
		ActorID:   actorID,
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

func parseRecoveryTriggered(data []byte) (*event.RecoveryTriggered, error) {
	var j opsTriggerJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse RecoveryTriggered: %w", err)
	}
	triggerID, actorID, err := j.ids()
	if err != nil {
		return nil, err
	}
	return &event.RecoveryTriggered{
		TriggerID: triggerID,
		ActorID:   actorID,
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

type paramsUpdateJSON struct {
	UpdateID         string  `json:"update_id"`
	ActorID          string  `json:"actor_id"`
	FeeRate          *int64  `json:"fee_rate,omitempty"`
	MinDelegate      *int64  `json:"min_delegate,omitempty"`
	MinUndelegate    *int64  `json:"min_undelegate,omitempty"`
	PrecisionUnit    *int64  `json:"precision_unit,omitempty"`
	Validator        *string `json:"validator,omitempty"`
	RevenueRecipient *string `json:"revenue_recipient,omitempty"`
	Sequence         int64   `json:"sequence"`
	TimestampUs      int64   `json:"timestamp_us"`
}

func parseParamsUpdated(data []byte) (*event.ParamsUpdated, error) {
	var j paramsUpdateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ParamsUpdated: %w", err)
	}
	updateID, err := uuid.Parse(j.UpdateID)
	if err != nil {
		return nil, fmt.Errorf("parse update_id: %w", err)
	}
	actorID, err := uuid.Parse(j.ActorID)
	if err != nil {
		return nil, fmt.Errorf("parse actor_id: %w", err)
	}

	evt := &event.ParamsUpdated{
		UpdateID:      updateID,
		ActorID:       actorID,
		FeeRate:       j.FeeRate,
		MinDelegate:   j.MinDelegate,
		MinUndelegate: j.MinUndelegate,
		PrecisionUnit: j.PrecisionUnit,
		Validator:     j.Validator,
		Sequence:      j.Sequence,
		Timestamp:     time.UnixMicro(j.TimestampUs),
	}
	if j.RevenueRecipient != nil {
		recipient, err := uuid.Parse(*j.RevenueRecipient)
		if err != nil {
			return nil, fmt.Errorf("parse revenue_recipient: %w", err)
		}
		evt.RevenueRecipient = &recipient
	}
	return evt, nil
}

type roleChangeJSON struct {
	GrantID     string `json:"grant_id,omitempty"`
	RevokeID    string `json:"revoke_id,omitempty"`
	ActorID     string `json:"actor_id"`
	Role        string `json:"role"`
	Grantee     string `json:"grantee,omitempty"`
	Revokee     string `json:"revokee,omitempty"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseRoleGranted(data []byte) (*event.RoleGranted, error) {
	var j roleChangeJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse RoleGranted: %w", err)
	}
	grantID, err := uuid.Parse(j.GrantID)
	if err != nil {
		return nil, fmt.Errorf("parse grant_id: %w", err)
	}
	actorID, err := uuid.Parse(j.ActorID)
	if err != nil {
		return nil, fmt.Errorf("parse actor_id: %w", err)
	}
	grantee, err := uuid.Parse(j.Grantee)
	if err != nil {
		return nil, fmt.Errorf("parse grantee: %w", err)
	}
	return &event.RoleGranted{
		GrantID:   grantID,
		ActorID:   actorID,
		Role:      j.Role,
		Grantee:   grantee,
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

func parseRoleRevoked(data []byte) (*event.RoleRevoked, error) {
	var j roleChangeJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse RoleRevoked: %w", err)
	}
	revokeID, err := uuid.Parse(j.RevokeID)
	if err != nil {
		return nil, fmt.Errorf("parse revoke_id: %w", err)
	}
	actorID, err := uuid.Parse(j.ActorID)
	if err != nil {
		return nil, fmt.Errorf("parse actor_id: %w", err)
	}
	revokee, err := uuid.Parse(j.Revokee)
	if err != nil {
		return nil, fmt.Errorf("parse revokee: %w", err)
	}
	return &event.RoleRevoked{
		RevokeID:  revokeID,
		ActorID:   actorID,
		Role:      j.Role,
		Revokee:   revokee,
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

type managerProposalJSON struct {
	ProposalID  string `json:"proposal_id"`
	ActorID     string `json:"actor_id"`
	NewManager  string `json:"new_manager"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseManagerProposed(data []byte) (*event.ManagerProposed, error) {
	var j managerProposalJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ManagerProposed: %w", err)
	}
	proposalID, err := uuid.Parse(j.ProposalID)
	if err != nil {
		return nil, fmt.Errorf("parse proposal_id: %w", err)
	}
	actorID, err := uuid.Parse(j.ActorID)
	if err != nil {
		return nil, fmt.Errorf("parse actor_id: %w", err)
	}
	newManager, err := uuid.Parse(j.NewManager)
	if err != nil {
		return nil, fmt.Errorf("parse new_manager: %w", err)
	}
	return &event.ManagerProposed{
		ProposalID: proposalID,
		ActorID:    actorID,
		NewManager: newManager,
		Sequence:   j.Sequence,
		Timestamp:  time.UnixMicro(j.TimestampUs),
	}, nil
}

type managerAcceptJSON struct {
	AcceptID    string `json:"accept_id"`
	ActorID     string `json:"actor_id"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseManagerAccepted(data []byte) (*event.ManagerAccepted, error) {
	var j managerAcceptJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ManagerAccepted: %w", err)
	}
	acceptID, err := uuid.Parse(j.AcceptID)
	if err != nil {
		return nil, fmt.Errorf("parse accept_id: %w", err)
	}
	actorID, err := uuid.Parse(j.ActorID)
	if err != nil {
		return nil, fmt.Errorf("parse actor_id: %w", err)
	}
	return &event.ManagerAccepted{
		AcceptID:  acceptID,
		ActorID:   actorID,
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

type pauseJSON struct {
	ToggleID    string `json:"toggle_id"`
	ActorID     string `json:"actor_id"`
	Paused      bool   `json:"paused"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parsePauseSet(data []byte) (*event.PauseSet, error) {
	var j pauseJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PauseSet: %w", err)
	}
	toggleID, err := uuid.Parse(j.ToggleID)
	if err != nil {
		return nil, fmt.Errorf("parse toggle_id: %w", err)
	}
	actorID, err := uuid.Parse(j.ActorID)
	if err != nil {
		return nil, fmt.Errorf("parse actor_id: %w", err)
	}
	return &event.PauseSet{
		ToggleID:  toggleID,
		ActorID:   actorID,
		Paused:    j.Paused,
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}
