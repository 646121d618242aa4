// Package store is the hierarchical entity repository behind Arbor.
//
// Worlds are owned containers; entities form a tree inside a world, each
// carrying a typed, versioned JSON payload. The package enforces the tree
// rules (parent existence, depth and path, no cycles), the schema version
// rules of the [schema.Governor], optimistic concurrency and the soft-delete
// lifecycle. Persistence is delegated to a [Backend]: see the dynamo and
// memory subpackages.
//
// # Keys and Sharding
//
// An entity's primary key is its locality: the partition is derived from its
// world and parent, spread over Config.NumShards partitions, and the sort key
// is its id. Listing children reads every partition of the parent and merges
// them by case-folded name.
//
//	cfg := store.DefaultConfig()
//	cfg.NumShards = 16 // more write throughput for wide parents
//
// NumShards must not change once data has been written.
//
// # Lifecycle
//
// Deletes are soft: the record stays restorable until its purge deadline and
// is then removed by the backend's TTL sweep. Cascading deletes, restores and
// path rewrites after moves are per-entity conditional writes; a partial
// failure returns a [CascadeResult] inside a [*CascadeError] and repeating the
// call resumes the work.
//
// # Errors
//
// Every error returned by [Store] matches one of the package sentinels with
// errors.Is and maps to a stable code via [Code]:
//
//   - [ErrNotFound] - world or entity doesn't exist or is hidden
//   - [ErrParentNotFound] - parent missing or deleted
//   - [ErrCircularReference] - move under own subtree
//   - [ErrVersion] - schema version rejected
//   - [ErrConflict] - stale version token
//   - [ErrHasChildren] - delete without cascade on a parent
//   - [ErrRetentionExpired] - restore after the purge deadline
//   - [ErrStoreUnavailable] - transient failures outlasted the retry budget
package store
