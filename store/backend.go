package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNoDocument is returned by a Backend when a key or id has no document.
	ErrNoDocument = errors.New("arbor: no document")

	// ErrConditionFailed is returned by a Backend when a write condition does not hold.
	ErrConditionFailed = errors.New("arbor: write condition failed")

	// ErrTransient marks backend failures worth retrying (throttling, timeouts, 5xx).
	ErrTransient = errors.New("arbor: transient store failure")
)

// Condition guards a Put.
type Condition struct {
	// MustNotExist requires that no document is stored under the key.
	MustNotExist bool

	// Version requires the stored document to carry this version.
	// Ignored when MustNotExist is set.
	Version int64

	// Parent, when set, requires an active (not soft-deleted) document under
	// this key at the time of the write. Its absence fails with ErrParentNotFound.
	Parent *Key

	// Ancestors requires every listed document to still carry its version.
	// A move pins the chain from its new parent up to the world root, so a
	// concurrent move of any ancestor fails the write with ErrConditionFailed.
	Ancestors []Guard
}

// Guard pins a document to the version a write was planned against.
type Guard struct {
	Key     Key
	Version int64
}

// PartitionQuery reads one partition of a parent's children in sort-key order.
type PartitionQuery struct {
	PK string

	// After excludes documents whose SortName is <= After.
	After string

	Limit int

	// IncludeDeleted returns soft-deleted documents whose PurgeAfter is after Now.
	IncludeDeleted bool
	Now            time.Time
}

// WorldScan reads the entities of one world in id order.
type WorldScan struct {
	WorldID        string
	After          string
	Limit          int
	IncludeDeleted bool
	Now            time.Time
}

// OwnerQuery reads the worlds of one owner in id order.
type OwnerQuery struct {
	OwnerID        string
	After          string
	Limit          int
	IncludeDeleted bool
	Now            time.Time
}

// Backend is the partitioned document store underneath the repository.
//
// Backends never interpret lifecycle state beyond the visibility filters in
// the query types; every field of a Document is owned by the repository.
// Failures worth retrying must match ErrTransient.
type Backend interface {
	// Get returns the document stored under key, or ErrNoDocument.
	Get(ctx context.Context, key Key) (*Document, error)

	// Put writes doc under doc.Key if cond holds, or returns ErrConditionFailed.
	// Creating an entity (MustNotExist) also records its locator.
	Put(ctx context.Context, doc *Document, cond Condition) error

	// Relocate atomically removes the document at from, provided it carries
	// cond.Version, and writes to under a new key, updating its locator.
	Relocate(ctx context.Context, from Key, to *Document, cond Condition) error

	// Locate returns the parent id of entity id in worldID, or ErrNoDocument.
	Locate(ctx context.Context, worldID, id string) (string, error)

	// QueryPartition returns up to q.Limit documents of one partition ordered by SortName.
	QueryPartition(ctx context.Context, q PartitionQuery) ([]*Document, error)

	// CountPartition returns the number of active documents in a partition.
	CountPartition(ctx context.Context, pk string) (int, error)

	// ScanWorld returns up to q.Limit entities of a world ordered by id.
	ScanWorld(ctx context.Context, q WorldScan) ([]*Document, error)

	// ListWorlds returns up to q.Limit worlds of an owner ordered by id.
	ListWorlds(ctx context.Context, q OwnerQuery) ([]*Document, error)
}
