package math

import (
	"math/big"
	"sync"
)

// Int128 is a pooled big.Int for intermediate calculations
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0) // Clear before returning to pool
	int128Pool.Put(v)
}

// MulDiv computes a * b / denom with an int128 intermediate to prevent
// overflow. Division truncates toward zero (floor for non-negative
// operands). denom must be nonzero.
func MulDiv(a, b, denom int64) int64 {
	product := getInt128()
	product.Mul(big.NewInt(a), big.NewInt(b))

	quotient := getInt128()
	quotient.Quo(product, big.NewInt(denom))

	result := quotient.Int64()

	putInt128(product)
	putInt128(quotient)

	return result
}

// FloorToUnit rounds amount down to a multiple of unit. unit <= 1 leaves
// the amount unchanged.
func FloorToUnit(amount, unit int64) int64 {
	if unit <= 1 {
		return amount
	}
	return amount - amount%unit
}
