// Package hashing provides the deterministic hash functions and hash tables
// used to partition outbox events between agents.
//
// # Overview
//
// Two hash functions are available:
//
//   - Polynomial: h = 31*h + c over UTF-16 code units. Cheap, but clusters for
//     near-identical keys. Adequate for modulo routing.
//   - Murmur3: Murmur3 x86 32-bit over the UTF-16LE encoding of the key. Spreads
//     keys uniformly over the whole signed 32-bit space.
//
// Two hash table strategies map a key to a bucket index:
//
//   - ModuloHashTable: abs(hash(key) % bucketCount). Used for backend partition
//     routing. The formula must never change once deployed because it routes
//     persisted data.
//   - RangeHashTable: the 32-bit space is split into bucketCount contiguous
//     ranges. Ranges can be pushed down to SQL as `hash BETWEEN lo AND hi`,
//     which is why shard assignment uses this strategy.
//
// Hash functions and tables are immutable values. Construct them explicitly
// and pass them where needed; the package holds no mutable global state.
//
// # Usage
//
//	table, err := hashing.NewRangeHashTable(hashing.NewMurmur3(), 4)
//	if err != nil {
//	    return err
//	}
//	bucket := table.ComputeIndex(entityID)
//	shard := table.RangeForBucket(bucket)
package hashing
