package hashing

import (
	"fmt"
	"math"
	"math/bits"
	"sort"

	"github.com/helixir/search-outbox/internal/domain"
)

// Table maps keys to bucket indexes. ComputeIndex depends only on the key and
// the bucket count, never on time or on the caller.
type Table interface {
	// BucketCount returns the number of buckets.
	BucketCount() int
	// ComputeIndex returns the bucket index of key, in [0, BucketCount()).
	ComputeIndex(key string) int
}

// RangedTable is a Table whose buckets are contiguous hash ranges.
type RangedTable interface {
	Table
	// RangeForBucket returns the inclusive hash range of bucket index.
	RangeForBucket(index int) domain.ShardRange
	// IndexForHash returns the bucket owning an already computed hash.
	IndexForHash(hash int32) int
}

// maxRangeBuckets is the largest bucket count that still gives every range at
// least one hash value.
const maxRangeBuckets = int64(1) << 32

// Compile-time interface verification.
var (
	_ Table       = (*ModuloHashTable)(nil)
	_ RangedTable = (*RangeHashTable)(nil)
)

// ModuloHashTable assigns keys to equal-width buckets by modulo.
type ModuloHashTable struct {
	fn          Function
	bucketCount int
}

// NewModuloHashTable creates a modulo table over fn with bucketCount buckets.
func NewModuloHashTable(fn Function, bucketCount int) (*ModuloHashTable, error) {
	if fn == nil {
		return nil, domain.NewValidationError("hash_function", "hash function is required")
	}
	if bucketCount < 1 {
		return nil, domain.NewValidationError("bucket_count", fmt.Sprintf("must be >= 1, got %d", bucketCount))
	}
	return &ModuloHashTable{fn: fn, bucketCount: bucketCount}, nil
}

// BucketCount implements Table.
func (t *ModuloHashTable) BucketCount() int {
	return t.bucketCount
}

// ComputeIndex implements Table. The formula abs(hash % n) routes persisted
// data and must not change.
func (t *ModuloHashTable) ComputeIndex(key string) int {
	index := int64(t.fn.Hash(key)) % int64(t.bucketCount)
	if index < 0 {
		index = -index
	}
	return int(index)
}

// RangeHashTable splits the signed 32-bit space into contiguous ranges, one
// per bucket, computed once at construction.
type RangeHashTable struct {
	fn     Function
	lowers []int32
}

// NewRangeHashTable creates a range table over fn with bucketCount buckets.
func NewRangeHashTable(fn Function, bucketCount int) (*RangeHashTable, error) {
	if fn == nil {
		return nil, domain.NewValidationError("hash_function", "hash function is required")
	}
	if bucketCount < 1 || int64(bucketCount) > maxRangeBuckets {
		return nil, domain.NewValidationError("bucket_count", fmt.Sprintf("must be in [1, %d], got %d", maxRangeBuckets, bucketCount))
	}

	lowers := make([]int32, bucketCount)
	for i := range lowers {
		lowers[i] = lowerBound(i, bucketCount)
	}
	return &RangeHashTable{fn: fn, lowers: lowers}, nil
}

// lowerBound returns MinInt32 + floor(i * 2^32 / n).
func lowerBound(i, n int) int32 {
	hi, lo := bits.Mul64(uint64(i), uint64(maxRangeBuckets))
	offset, _ := bits.Div64(hi, lo, uint64(n))
	return int32(int64(math.MinInt32) + int64(offset))
}

// BucketCount implements Table.
func (t *RangeHashTable) BucketCount() int {
	return len(t.lowers)
}

// ComputeIndex implements Table.
func (t *RangeHashTable) ComputeIndex(key string) int {
	return t.IndexForHash(t.fn.Hash(key))
}

// IndexForHash implements RangedTable with a binary search over lower bounds.
func (t *RangeHashTable) IndexForHash(hash int32) int {
	return sort.Search(len(t.lowers), func(i int) bool {
		return t.lowers[i] > hash
	}) - 1
}

// RangeForBucket implements RangedTable. It panics if index is out of range.
func (t *RangeHashTable) RangeForBucket(index int) domain.ShardRange {
	upper := int32(math.MaxInt32)
	if index+1 < len(t.lowers) {
		upper = t.lowers[index+1] - 1
	}
	return domain.ShardRange{Lower: t.lowers[index], Upper: upper}
}

// Ranges returns the ranges of every bucket in index order.
func (t *RangeHashTable) Ranges() []domain.ShardRange {
	ranges := make([]domain.ShardRange, len(t.lowers))
	for i := range t.lowers {
		ranges[i] = t.RangeForBucket(i)
	}
	return ranges
}
