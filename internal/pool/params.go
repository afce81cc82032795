package pool

import (
	"fmt"

	"github.com/google/uuid"
)

// FeeDenominator is the scale of FeeRate: a rate of 500_000_000 is 5%.
const FeeDenominator int64 = 10_000_000_000

// Params is the pool's operational configuration. Amounts are in the base
// asset's smallest unit, shares in share units.
type Params struct {
	// FeeRate is the protocol fee taken from compounded rewards,
	// scaled by FeeDenominator. Zero disables the fee.
	FeeRate int64 `json:"fee_rate"`

	// MinDelegate and MinUndelegate are the smallest amounts the backend
	// accepts for a delegation / undelegation instruction.
	MinDelegate   int64 `json:"min_delegate"`
	MinUndelegate int64 `json:"min_undelegate"`

	// PrecisionUnit is the backend's amount granularity. Delegated and
	// undelegated amounts are floored to a multiple of it; the remainder
	// stays in the buffer (delegation) or is never burned (undelegation).
	PrecisionUnit int64 `json:"precision_unit"`

	// Validator is the backend validator all delegations target.
	Validator string `json:"validator"`

	// RevenueRecipient receives the protocol fee. uuid.Nil means unset;
	// compounding with a nonzero FeeRate then fails.
	RevenueRecipient uuid.UUID `json:"revenue_recipient"`
}

func DefaultParams() Params {
	return Params{
		FeeRate:       500_000_000, // 5%
		MinDelegate:   1_000_000,
		MinUndelegate: 1_000_000,
		PrecisionUnit: 1_000_000,
		Validator:     "validator-default",
	}
}

func (p Params) Validate() error {
	if p.FeeRate < 0 || p.FeeRate >= FeeDenominator {
		return fmt.Errorf("%w: fee rate %d outside [0, %d)", ErrInvalidArgument, p.FeeRate, FeeDenominator)
	}
	if p.MinDelegate < 1 {
		return fmt.Errorf("%w: min delegate %d < 1", ErrInvalidArgument, p.MinDelegate)
	}
	if p.MinUndelegate < 1 {
		return fmt.Errorf("%w: min undelegate %d < 1", ErrInvalidArgument, p.MinUndelegate)
	}
	if p.PrecisionUnit < 1 {
		return fmt.Errorf("%w: precision unit %d < 1", ErrInvalidArgument, p.PrecisionUnit)
	}
	if p.Validator == "" {
		return fmt.Errorf("%w: empty validator", ErrInvalidArgument)
	}
	return nil
}

// ParamUpdate is a partial parameter change; nil fields are untouched.
type ParamUpdate struct {
	FeeRate          *int64
	MinDelegate      *int64
	MinUndelegate    *int64
	PrecisionUnit    *int64
	Validator        *string
	RevenueRecipient *uuid.UUID
}

// Apply returns the updated params, validating the result. The receiver is
// unchanged on error.
func (p Params) Apply(u ParamUpdate) (Params, error) {
	next := p
	if u.FeeRate != nil {
		next.FeeRate = *u.FeeRate
	}
	if u.MinDelegate != nil {
		next.MinDelegate = *u.MinDelegate
	}
	if u.MinUndelegate != nil {
		next.MinUndelegate = *u.MinUndelegate
	}
	if u.PrecisionUnit != nil {
		next.PrecisionUnit = *u.PrecisionUnit
	}
	if u.Validator != nil {
		next.Validator = *u.Validator
	}
	if u.RevenueRecipient != nil {
		if *u.RevenueRecipient == uuid.Nil {
			return p, fmt.Errorf("%w: zero revenue recipient", ErrInvalidArgument)
		}
		next.RevenueRecipient = *u.RevenueRecipient
	}
	if err := next.Validate(); err != nil {
		return p, err
	}
	return next, nil
}
