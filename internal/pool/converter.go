package pool

import (
	"StakePool/internal/math"
)

// AssetToShares converts a base-asset amount into shares at the current
// exchange rate, flooring. Either side of the rate is floored to 1 when
// zero, so a fresh pool converts 1:1 and the first depositor never divides
// by zero.
func AssetToShares(amount, totalShares, totalPooled int64) int64 {
	if totalShares == 0 {
		totalShares = 1
	}
	if totalPooled == 0 {
		totalPooled = 1
	}
	return math.MulDiv(amount, totalShares, totalPooled)
}

// SharesToAsset converts shares into the base-asset amount they currently
// represent. Same ratio as AssetToShares, inverted, with the same zero
// flooring.
func SharesToAsset(shares, totalShares, totalPooled int64) int64 {
	if totalShares == 0 {
		totalShares = 1
	}
	if totalPooled == 0 {
		totalPooled = 1
	}
	return math.MulDiv(shares, totalPooled, totalShares)
}
