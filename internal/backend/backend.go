// Package backend is the pool's interface to the staking chain: fee
// quoting, delegation, reward claiming and undelegation. Calls happen
// inside an operation's atomic boundary and block the core until they
// return; any failure rolls the whole operation back, so there is no
// cancellation and no context plumbing.
package backend

import "errors"

var (
	// ErrUnavailable wraps transport failures: the instruction may never
	// have reached the backend and is safe to retry.
	ErrUnavailable = errors.New("staking backend unavailable")

	// ErrRejected wraps failures reported by the backend itself.
	ErrRejected = errors.New("staking backend rejected instruction")
)

// Client is the consumed staking surface.
type Client interface {
	// QuoteFee returns the relay fee the backend currently charges for a
	// cross-system instruction.
	QuoteFee() (int64, error)

	// Delegate stakes amount with the validator. The relay fee rides on
	// top of the amount.
	Delegate(validator string, amount, relayFee int64) error

	// Redelegate moves amount between validators without changing the
	// pool's principal.
	Redelegate(srcValidator, dstValidator string, amount, relayFee int64) error

	// ClaimReward pulls accrued staking rewards, returning the claimed
	// amount.
	ClaimReward() (int64, error)

	// Undelegate starts unbonding amount from the validator.
	Undelegate(validator string, amount int64) error

	// ClaimUndelegated withdraws whatever undelegated asset has become
	// available, returning the amount. Zero means nothing has settled
	// yet. Also the recovery path for failed delegations.
	ClaimUndelegated() (int64, error)
}
