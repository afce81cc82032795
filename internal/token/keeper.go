// Package token keeps the share token's supply and balances. The pool is
// the only minter and burner; shares move into the pool's custody when a
// redemption is requested and are burned from custody when the batch
// closes.
package token

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

var ErrInsufficientShares = errors.New("insufficient share balance")

// Keeper tracks share balances per user plus the pool's custody bucket.
// Owned by the core goroutine; no locking.
type Keeper struct {
	balances map[uuid.UUID]int64
	custody  int64
	total    int64
}

func NewKeeper() *Keeper {
	return &Keeper{balances: make(map[uuid.UUID]int64)}
}

func (k *Keeper) TotalSupply() int64 {
	return k.total
}

func (k *Keeper) BalanceOf(user uuid.UUID) int64 {
	return k.balances[user]
}

// CustodyShares is the share total held by the pool for queued redemptions.
func (k *Keeper) CustodyShares() int64 {
	return k.custody
}

// Mint creates amount shares for user. Amount must be positive.
func (k *Keeper) Mint(user uuid.UUID, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("mint amount must be positive, got %d", amount)
	}
	k.balances[user] += amount
	k.total += amount
	return nil
}

// TransferToCustody moves amount shares from the user into custody.
func (k *Keeper) TransferToCustody(user uuid.UUID, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("transfer amount must be positive, got %d", amount)
	}
	if k.balances[user] < amount {
		return fmt.Errorf("%w: user %s has %d, needs %d", ErrInsufficientShares, user, k.balances[user], amount)
	}
	k.balances[user] -= amount
	if k.balances[user] == 0 {
		delete(k.balances, user)
	}
	k.custody += amount
	return nil
}

// BurnFromCustody destroys amount shares out of custody.
func (k *Keeper) BurnFromCustody(amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("burn amount must be positive, got %d", amount)
	}
	if k.custody < amount {
		return fmt.Errorf("%w: custody has %d, needs %d", ErrInsufficientShares, k.custody, amount)
	}
	k.custody -= amount
	k.total -= amount
	return nil
}

type BalanceSnapshot struct {
	UserID  uuid.UUID `json:"user_id"`
	Balance int64     `json:"balance"`
}

type KeeperSnapshot struct {
	Balances []BalanceSnapshot `json:"balances"`
	Custody  int64             `json:"custody"`
	Total    int64             `json:"total"`
}

// Snapshot returns balances sorted by user id for deterministic
// serialization.
func (k *Keeper) Snapshot() KeeperSnapshot {
	out := KeeperSnapshot{
		Balances: make([]BalanceSnapshot, 0, len(k.balances)),
		Custody:  k.custody,
		Total:    k.total,
	}
	for user, bal := range k.balances {
		out.Balances = append(out.Balances, BalanceSnapshot{UserID: user, Balance: bal})
	}
	sort.Slice(out.Balances, func(i, j int) bool {
		return out.Balances[i].UserID.String() < out.Balances[j].UserID.String()
	})
	return out
}

func RestoreKeeper(snap KeeperSnapshot) *Keeper {
	k := NewKeeper()
	for _, b := range snap.Balances {
		k.balances[b.UserID] = b.Balance
	}
	k.custody = snap.Custody
	k.total = snap.Total
	return k
}
