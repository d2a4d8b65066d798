package cluster

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/helixir/search-outbox/internal/domain"
	"github.com/helixir/search-outbox/internal/hashing"
)

// TableFactory builds the ranged hash table for a live agent count.
type TableFactory func(bucketCount int) (hashing.RangedTable, error)

// DefaultTableFactory builds a Murmur3 RangeHashTable, matching the hash
// persisted in entity_id_hash.
func DefaultTableFactory(bucketCount int) (hashing.RangedTable, error) {
	return hashing.NewRangeHashTable(hashing.NewMurmur3(), bucketCount)
}

// RegistryTableFactory resolves strategy in reg on every call.
func RegistryTableFactory(reg *hashing.Registry, strategy string) TableFactory {
	return func(bucketCount int) (hashing.RangedTable, error) {
		return reg.NewRanged(strategy, bucketCount)
	}
}

// SortIDs orders ids the way PostgreSQL orders uuid columns.
func SortIDs(ids []uuid.UUID) {
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})
}

// ComputeAssignments assigns one bucket of a Murmur3 RangeHashTable(len(ids))
// to each live agent.
func ComputeAssignments(ids []uuid.UUID) map[uuid.UUID]domain.ShardAssignment {
	assignments, err := computeAssignments(DefaultTableFactory, ids)
	if err != nil {
		// Unreachable: the range table accepts any positive bucket count.
		panic(err)
	}
	return assignments
}

func computeAssignments(newTable TableFactory, ids []uuid.UUID) (map[uuid.UUID]domain.ShardAssignment, error) {
	assignments := make(map[uuid.UUID]domain.ShardAssignment, len(ids))
	if len(ids) == 0 {
		return assignments, nil
	}

	sorted := make([]uuid.UUID, len(ids))
	copy(sorted, ids)
	SortIDs(sorted)

	table, err := newTable(len(sorted))
	if err != nil {
		return nil, fmt.Errorf("build hash table for %d agents: %w", len(sorted), err)
	}

	for i, id := range sorted {
		assignments[id] = domain.ShardAssignment{
			Index: i,
			Range: table.RangeForBucket(i),
		}
	}
	return assignments, nil
}
