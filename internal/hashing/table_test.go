package hashing

import (
	"errors"
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/search-outbox/internal/domain"
)

// fixedFunction returns the same hash for every key.
type fixedFunction int32

func (f fixedFunction) Name() string        { return "fixed" }
func (f fixedFunction) Hash(_ string) int32 { return int32(f) }

func TestNewModuloHashTable_Validation(t *testing.T) {
	_, err := NewModuloHashTable(NewPolynomial(), 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))

	_, err = NewModuloHashTable(nil, 3)
	require.Error(t, err)
}

func TestModuloHashTable_ComputeIndex(t *testing.T) {
	tests := []struct {
		name     string
		hash     int32
		buckets  int
		expected int
	}{
		{name: "positive hash", hash: 10, buckets: 3, expected: 1},
		{name: "negative hash uses absolute remainder", hash: -10, buckets: 3, expected: 1},
		{name: "min int32", hash: math.MinInt32, buckets: 7, expected: int(-(int64(math.MinInt32) % 7))},
		{name: "single bucket", hash: -123456, buckets: 1, expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table, err := NewModuloHashTable(fixedFunction(tt.hash), tt.buckets)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, table.ComputeIndex("any"))
			assert.Equal(t, tt.buckets, table.BucketCount())
		})
	}
}

func TestNewRangeHashTable_Validation(t *testing.T) {
	_, err := NewRangeHashTable(NewMurmur3(), 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))

	_, err = NewRangeHashTable(NewMurmur3(), -4)
	require.Error(t, err)
}

func TestRangeHashTable_SingleBucket(t *testing.T) {
	table, err := NewRangeHashTable(NewMurmur3(), 1)
	require.NoError(t, err)

	assert.Equal(t, domain.FullRange(), table.RangeForBucket(0))
	assert.Equal(t, 0, table.ComputeIndex("anything"))
	assert.Equal(t, 0, table.IndexForHash(math.MinInt32))
	assert.Equal(t, 0, table.IndexForHash(math.MaxInt32))
}

func TestRangeHashTable_Ranges(t *testing.T) {
	t.Run("two buckets split at zero", func(t *testing.T) {
		table, err := NewRangeHashTable(NewMurmur3(), 2)
		require.NoError(t, err)

		assert.Equal(t, []domain.ShardRange{
			{Lower: math.MinInt32, Upper: -1},
			{Lower: 0, Upper: math.MaxInt32},
		}, table.Ranges())
	})

	t.Run("three buckets", func(t *testing.T) {
		table, err := NewRangeHashTable(NewMurmur3(), 3)
		require.NoError(t, err)

		assert.Equal(t, []domain.ShardRange{
			{Lower: math.MinInt32, Upper: -715827884},
			{Lower: -715827883, Upper: 715827881},
			{Lower: 715827882, Upper: math.MaxInt32},
		}, table.Ranges())
	})
}

func TestRangeHashTable_IndexForHash_Boundaries(t *testing.T) {
	table, err := NewRangeHashTable(NewMurmur3(), 2)
	require.NoError(t, err)

	assert.Equal(t, 0, table.IndexForHash(math.MinInt32))
	assert.Equal(t, 0, table.IndexForHash(-1))
	assert.Equal(t, 1, table.IndexForHash(0))
	assert.Equal(t, 1, table.IndexForHash(math.MaxInt32))
}

func TestRangeHashTable_ComputeIndexMatchesRange(t *testing.T) {
	fn := NewMurmur3()
	table, err := NewRangeHashTable(fn, 5)
	require.NoError(t, err)

	for _, key := range []string{"a", "b", "entity-1", "entity-2", "über", "\U0001F600"} {
		index := table.ComputeIndex(key)
		assert.True(t, table.RangeForBucket(index).Contains(fn.Hash(key)), "key %q", key)
	}
}

func TestProperty_RangeHashTablePartition(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("ranges cover the 32-bit space without gaps or overlaps", prop.ForAll(
		func(n int) bool {
			table, err := NewRangeHashTable(NewMurmur3(), n)
			if err != nil {
				return false
			}
			ranges := table.Ranges()
			if ranges[0].Lower != math.MinInt32 || ranges[len(ranges)-1].Upper != math.MaxInt32 {
				return false
			}
			var total int64
			for i, r := range ranges {
				if r.Lower > r.Upper {
					return false
				}
				if i > 0 && int64(ranges[i-1].Upper)+1 != int64(r.Lower) {
					return false
				}
				total += r.Size()
			}
			return total == int64(1)<<32
		},
		gen.IntRange(1, 4096),
	))

	properties.Property("every hash lands in exactly the range of its index", prop.ForAll(
		func(n int, hash int32) bool {
			table, err := NewRangeHashTable(NewMurmur3(), n)
			if err != nil {
				return false
			}
			index := table.IndexForHash(hash)
			if index < 0 || index >= n {
				return false
			}
			return table.RangeForBucket(index).Contains(hash)
		},
		gen.IntRange(1, 4096),
		gen.Int32(),
	))

	properties.Property("range sizes differ by at most one", prop.ForAll(
		func(n int) bool {
			table, err := NewRangeHashTable(NewMurmur3(), n)
			if err != nil {
				return false
			}
			minSize, maxSize := int64(math.MaxInt64), int64(0)
			for _, r := range table.Ranges() {
				minSize = min(minSize, r.Size())
				maxSize = max(maxSize, r.Size())
			}
			return maxSize-minSize <= 1
		},
		gen.IntRange(1, 1024),
	))

	properties.TestingRun(t)
}

func TestProperty_ModuloHashTable(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("index is in [0, n) and stable", prop.ForAll(
		func(key string, n int) bool {
			table, err := NewModuloHashTable(NewPolynomial(), n)
			if err != nil {
				return false
			}
			index := table.ComputeIndex(key)
			return index >= 0 && index < n && index == table.ComputeIndex(key)
		},
		gen.AnyString(),
		gen.IntRange(1, 1000),
	))

	properties.TestingRun(t)
}
