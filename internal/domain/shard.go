package domain

import (
	"fmt"
	"math"
)

// ShardRange is a contiguous, inclusive range of 32-bit hash values.
// Both bounds are inclusive so that a range ending at math.MaxInt32 can be
// expressed without overflow and pushed down as `hash BETWEEN lower AND upper`.
type ShardRange struct {
	Lower int32
	Upper int32
}

// FullRange covers the whole signed 32-bit hash space.
func FullRange() ShardRange {
	return ShardRange{Lower: math.MinInt32, Upper: math.MaxInt32}
}

// Contains reports whether hash falls inside the range.
func (r ShardRange) Contains(hash int32) bool {
	return hash >= r.Lower && hash <= r.Upper
}

// Size returns the number of hash values the range covers.
func (r ShardRange) Size() int64 {
	return int64(r.Upper) - int64(r.Lower) + 1
}

// String implements fmt.Stringer.
func (r ShardRange) String() string {
	return fmt.Sprintf("[%d, %d]", r.Lower, r.Upper)
}
