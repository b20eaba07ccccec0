package memutils

import (
	"math/bits"

	cerrors "github.com/cockroachdb/errors"
	"golang.org/x/exp/constraints"
)

type Number interface {
	constraints.Integer
}

// CheckPow2 returns an error wrapping ErrPowerOfTwo if number is zero or not
// a power of two.
func CheckPow2[T Number](number T, name string) error {
	if number <= 0 || number&(number-1) != 0 {
		return cerrors.Wrapf(ErrPowerOfTwo, "%s is %d", name, number)
	}
	return nil
}

func AlignUp[T Number](value T, alignment T) T {
	return (value + alignment - 1) &^ (alignment - 1)
}

func AlignDown[T Number](value T, alignment T) T {
	return value &^ (alignment - 1)
}

// Log2Floor returns the index of the highest set bit of value. value must not
// be zero.
func Log2Floor(value uint64) int {
	return 63 - bits.LeadingZeros64(value)
}

// Log2Ceil returns the smallest n such that 1<<n >= value.
func Log2Ceil(value uint64) int {
	if value <= 1 {
		return 0
	}
	return 64 - bits.LeadingZeros64(value-1)
}
