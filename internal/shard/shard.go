// Package shard derives the locality keys used to place worlds and entities
// in a partitioned document store.
package shard

import (
	"fmt"
	"hash/fnv"

	"golang.org/x/text/cases"
)

// MaxShards is the largest supported shard count per parent partition.
const MaxShards = 256

// sortSep separates the folded name from the id in a sort key. It sorts below
// every printable rune, so "ab" orders before "ab c".
const sortSep = "\x1f"

// Key is a primary key in the document store.
type Key struct {
	// PK is the partition key. Children of one parent share a PK prefix.
	PK string

	// SK is the sort key within the partition.
	SK string
}

// String renders the key for logs and error context.
func (k Key) String() string {
	return k.PK + "|" + k.SK
}

// ParentRef returns the partition prefix shared by all children of parentID
// inside worldID. An empty parentID addresses the world's root level.
func ParentRef(worldID, parentID string) string {
	if parentID == "" {
		return fmt.Sprintf("world#%s#root", worldID)
	}
	return fmt.Sprintf("world#%s#parent#%s", worldID, parentID)
}

// PartitionKey computes the sharded partition key for a child record.
// With numShards=1, all children of a parent go to shard "00".
// With numShards>1, children are distributed across shards by id hash.
func PartitionKey(parentRef, id string, numShards int) string {
	if numShards <= 1 {
		return fmt.Sprintf("%s#00", parentRef)
	}
	if numShards > MaxShards {
		numShards = MaxShards
	}
	h := fnv.New32a()
	h.Write([]byte(id))
	shard := h.Sum32() % uint32(numShards)
	return fmt.Sprintf("%s#%02x", parentRef, shard)
}

// Partitions lists every shard partition of parentRef in shard order.
func Partitions(parentRef string, numShards int) []string {
	if numShards < 1 {
		numShards = 1
	}
	if numShards > MaxShards {
		numShards = MaxShards
	}
	pks := make([]string, numShards)
	for i := range pks {
		pks[i] = fmt.Sprintf("%s#%02x", parentRef, i)
	}
	return pks
}

// LocalityKey returns the key of entity id under parentID in worldID.
// Identical inputs always yield identical keys.
func LocalityKey(worldID, parentID, id string, numShards int) Key {
	return Key{
		PK: PartitionKey(ParentRef(worldID, parentID), id, numShards),
		SK: id,
	}
}

// WorldKey returns the key of a world record.
func WorldKey(worldID string) Key {
	return Key{PK: "world#" + worldID, SK: "world"}
}

// LocatorKey returns the key of the record that maps entity id to its
// current parent, so an entity can be found by id alone.
func LocatorKey(worldID, id string) Key {
	return Key{PK: "world#" + worldID + "#locator#" + id, SK: "locator"}
}

// SortKey orders siblings by case-folded name, then id.
func SortKey(name, id string) string {
	return Fold(name) + sortSep + id
}

// Fold returns the Unicode case-folded form of s.
func Fold(s string) string {
	// A Caser is stateful and must not be shared between goroutines.
	return cases.Fold().String(s)
}
