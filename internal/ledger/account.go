package ledger

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopeSystem
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// User sub-types
	SubTypeWallet AccountSubType = iota

	// System sub-types
	SubTypeSystemBuffer    // deposits and compounded rewards awaiting delegation
	SubTypeSystemDelegated // principal held at the backend, earning
	SubTypeSystemCustody   // shares surrendered for queued redemptions
	SubTypeSystemUnbonding // asset of closed batches awaiting backend confirmation
	SubTypeSystemClaimable // asset of confirmed batches payable to claimants

	// External sub-types
	SubTypeExternalDeposits
	SubTypeExternalPayouts
	SubTypeExternalRewards
	SubTypeExternalRevenue
	SubTypeExternalSupply // mint/burn counterparty for the share token
)

// AssetID maps asset strings to numeric IDs for performance
type AssetID uint16

const (
	// AssetNative is the chain's staking asset, in its smallest unit.
	AssetNative AssetID = 1
	// AssetShare is the liquid staking token minted against the pool.
	AssetShare AssetID = 2
)

var (
	assetToID = map[string]AssetID{
		"native": AssetNative,
		"lst":    AssetShare,
	}
	idToAsset = map[AssetID]string{
		AssetNative: "native",
		AssetShare:  "lst",
	}
)

func GetAssetID(asset string) (AssetID, bool) {
	id, ok := assetToID[asset]
	return id, ok
}

func GetAssetName(id AssetID) (string, bool) {
	name, ok := idToAsset[id]
	return name, ok
}

// AccountKey is the in-memory key for balance tracking (21 bytes, cache-friendly)
type AccountKey struct {
	Scope    AccountScope
	EntityID [16]byte // UUID for users, name bytes for system accounts
	SubType  AccountSubType
	AssetID  AssetID
}

// NewUserAccountKey creates a key for user accounts
func NewUserAccountKey(userID uuid.UUID, subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeUser,
		EntityID: userID,
		SubType:  subType,
		AssetID:  assetID,
	}
}

// NewSystemAccountKey creates a key for system accounts
func NewSystemAccountKey(subType AccountSubType, assetID AssetID) AccountKey {
	var entityID [16]byte
	copy(entityID[:], []byte(subTypeName(subType)))
	return AccountKey{
		Scope:    AccountScopeSystem,
		EntityID: entityID,
		SubType:  subType,
		AssetID:  assetID,
	}
}

// NewExternalAccountKey creates a key for external boundary accounts
func NewExternalAccountKey(subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: subType,
		AssetID: assetID,
	}
}

// Dedicated system accounts. The pool's scalar aggregate mirrors the first
// three; the invariant validator cross-checks them every event.
func BufferAccount() AccountKey    { return NewSystemAccountKey(SubTypeSystemBuffer, AssetNative) }
func DelegatedAccount() AccountKey { return NewSystemAccountKey(SubTypeSystemDelegated, AssetNative) }
func CustodyAccount() AccountKey   { return NewSystemAccountKey(SubTypeSystemCustody, AssetShare) }
func UnbondingAccount() AccountKey { return NewSystemAccountKey(SubTypeSystemUnbonding, AssetNative) }
func ClaimableAccount() AccountKey { return NewSystemAccountKey(SubTypeSystemClaimable, AssetNative) }

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	assetName, _ := GetAssetName(k.AssetID)

	switch k.Scope {
	case AccountScopeUser:
		uid := uuid.UUID(k.EntityID)
		return fmt.Sprintf("user:%s:%s:%s", uid.String(), subTypeName(k.SubType), assetName)
	case AccountScopeSystem:
		return fmt.Sprintf("system:%s:%s", subTypeName(k.SubType), assetName)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", subTypeName(k.SubType), assetName)
	}
	return "unknown"
}

// ParseAccountPath reverses AccountPath. Snapshots serialize balance maps
// keyed by path, so the round-trip must be exact.
func ParseAccountPath(path string) (AccountKey, error) {
	parts := strings.Split(path, ":")

	switch parts[0] {
	case "user":
		if len(parts) != 4 {
			return AccountKey{}, fmt.Errorf("malformed user account path: %s", path)
		}
		uid, err := uuid.Parse(parts[1])
		if err != nil {
			return AccountKey{}, fmt.Errorf("parse account path %s: %w", path, err)
		}
		subType, ok := subTypeFromName(parts[2])
		if !ok {
			return AccountKey{}, fmt.Errorf("unknown sub-type in path: %s", path)
		}
		assetID, ok := GetAssetID(parts[3])
		if !ok {
			return AccountKey{}, fmt.Errorf("unknown asset in path: %s", path)
		}
		return NewUserAccountKey(uid, subType, assetID), nil

	case "system", "external":
		if len(parts) != 3 {
			return AccountKey{}, fmt.Errorf("malformed account path: %s", path)
		}
		subType, ok := subTypeFromName(parts[1])
		if !ok {
			return AccountKey{}, fmt.Errorf("unknown sub-type in path: %s", path)
		}
		assetID, ok := GetAssetID(parts[2])
		if !ok {
			return AccountKey{}, fmt.Errorf("unknown asset in path: %s", path)
		}
		if parts[0] == "system" {
			return NewSystemAccountKey(subType, assetID), nil
		}
		return NewExternalAccountKey(subType, assetID), nil
	}

	return AccountKey{}, fmt.Errorf("unknown account scope in path: %s", path)
}

// MarshalText lets AccountKey serve as a JSON map key.
func (k AccountKey) MarshalText() ([]byte, error) {
	return []byte(k.AccountPath()), nil
}

func (k *AccountKey) UnmarshalText(text []byte) error {
	parsed, err := ParseAccountPath(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

func subTypeName(s AccountSubType) string {
	switch s {
	case SubTypeWallet:
		return "wallet"
	case SubTypeSystemBuffer:
		return "buffer"
	case SubTypeSystemDelegated:
		return "delegated"
	case SubTypeSystemCustody:
		return "custody"
	case SubTypeSystemUnbonding:
		return "unbonding"
	case SubTypeSystemClaimable:
		return "claimable"
	case SubTypeExternalDeposits:
		return "deposits"
	case SubTypeExternalPayouts:
		return "payouts"
	case SubTypeExternalRewards:
		return "rewards"
	case SubTypeExternalRevenue:
		return "revenue"
	case SubTypeExternalSupply:
		return "supply"
	default:
		return "unknown"
	}
}

func subTypeFromName(name string) (AccountSubType, bool) {
	switch name {
	case "wallet":
		return SubTypeWallet, true
	case "buffer":
		return SubTypeSystemBuffer, true
	case "delegated":
		return SubTypeSystemDelegated, true
	case "custody":
		return SubTypeSystemCustody, true
	case "unbonding":
		return SubTypeSystemUnbonding, true
	case "claimable":
		return SubTypeSystemClaimable, true
	case "deposits":
		return SubTypeExternalDeposits, true
	case "payouts":
		return SubTypeExternalPayouts, true
	case "rewards":
		return SubTypeExternalRewards, true
	case "revenue":
		return SubTypeExternalRevenue, true
	case "supply":
		return SubTypeExternalSupply, true
	default:
		return 0, false
	}
}
