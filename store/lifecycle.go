package store

import (
	"time"
)

// State is the lifecycle state of a world or entity.
type State int

const (
	StateActive State = iota
	StateSoftDeleted
	StatePurged
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateSoftDeleted:
		return "soft_deleted"
	case StatePurged:
		return "purged"
	default:
		return "unknown"
	}
}

// StateOf returns the lifecycle state of d at now. A document past its purge
// deadline is purged even if the store's TTL sweep has not removed it yet.
func StateOf(d *Document, now time.Time) State {
	if !d.IsDeleted {
		return StateActive
	}
	if !d.PurgeAfter.IsZero() && !now.Before(d.PurgeAfter) {
		return StatePurged
	}
	return StateSoftDeleted
}

// Visible reports whether a read with opts may return d.
func Visible(d *Document, now time.Time, opts ReadOptions) bool {
	switch StateOf(d, now) {
	case StateActive:
		return true
	case StateSoftDeleted:
		return opts.IncludeDeleted
	default:
		return false
	}
}

// ExpiresAt returns the Unix second at which the store may purge d, or 0
// when d is active. Backends map it onto their native TTL attribute.
func ExpiresAt(d *Document) int64 {
	if !d.IsDeleted || d.PurgeAfter.IsZero() {
		return 0
	}
	return d.PurgeAfter.Unix()
}

// softDelete marks d deleted by actor with a purge deadline retention from now.
// The caller persists the result with a conditional write on d's version.
func softDelete(d *Document, retention time.Duration, actor string, now time.Time) *Document {
	next := d.successor(now)
	next.IsDeleted = true
	next.DeletedAt = now
	next.DeletedBy = actor
	next.PurgeAfter = now.Add(retention)
	return next
}

// restoreDocument clears the deletion marker of d. Restores at or after the
// purge deadline fail because the record may already be gone.
func restoreDocument(d *Document, now time.Time) (*Document, error) {
	switch StateOf(d, now) {
	case StateActive:
		return nil, ErrNotDeleted
	case StatePurged:
		return nil, ErrRetentionExpired
	}
	next := d.successor(now)
	next.IsDeleted = false
	next.DeletedAt = time.Time{}
	next.DeletedBy = ""
	next.PurgeAfter = time.Time{}
	return next, nil
}
