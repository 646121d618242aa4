package store

import (
	"errors"
	"fmt"

	"github.com/samber/oops"

	"github.com/jacentio/arbor/paginate"
	"github.com/jacentio/arbor/schema"
)

var (
	// ErrNotFound is returned when a world or entity doesn't exist or is soft-deleted.
	ErrNotFound = errors.New("arbor: not found")

	// ErrUnauthorized is returned when the caller does not own the world.
	ErrUnauthorized = errors.New("arbor: caller does not own the world")

	// ErrParentNotFound is returned when the parent entity doesn't exist or is deleted.
	ErrParentNotFound = errors.New("arbor: parent entity not found")

	// ErrCircularReference is returned when a move would make an entity its own ancestor.
	ErrCircularReference = errors.New("arbor: move would create a cycle")

	// ErrConflict is returned when a version token does not match the stored record.
	ErrConflict = errors.New("arbor: entity was modified concurrently")

	// ErrHasChildren is returned when deleting an entity with active children without cascade.
	ErrHasChildren = errors.New("arbor: entity has active children")

	// ErrRetentionExpired is returned when restoring after the purge deadline.
	ErrRetentionExpired = errors.New("arbor: retention window has expired")

	// ErrStoreUnavailable is returned when transient store failures outlast the retry budget.
	ErrStoreUnavailable = errors.New("arbor: store unavailable")

	// ErrAlreadyDeleted is returned when deleting an already-deleted entity without cascade.
	ErrAlreadyDeleted = errors.New("arbor: entity is already deleted")

	// ErrNotDeleted is returned when restoring an entity that is active.
	ErrNotDeleted = errors.New("arbor: entity is not deleted")

	// ErrInvalidInput is returned for drafts and patches that fail validation.
	ErrInvalidInput = errors.New("arbor: invalid input")

	// ErrPartialFailure is matched by *CascadeError.
	ErrPartialFailure = errors.New("arbor: cascade partially failed")

	// ErrVersion is the schema version sentinel, re-exported for callers of this package.
	ErrVersion = schema.ErrVersion

	// ErrCursorInvalid is the pagination cursor sentinel, re-exported for callers of this package.
	ErrCursorInvalid = paginate.ErrCursorInvalid

	// ErrSchemaValidation is the properties validation sentinel, re-exported for callers of this package.
	ErrSchemaValidation = schema.ErrSchemaValidation
)

// Stable error codes for presentation layers.
const (
	CodeNotFound          = "NOT_FOUND"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeParentNotFound    = "PARENT_NOT_FOUND"
	CodeCircularReference = "CIRCULAR_REFERENCE"
	CodeVersionInvalid    = "VERSION_INVALID"
	CodeConflict          = "CONFLICT"
	CodeHasChildren       = "HAS_CHILDREN"
	CodeRetentionExpired  = "RETENTION_EXPIRED"
	CodeCursorInvalid     = "CURSOR_INVALID"
	CodeStoreUnavailable  = "STORE_UNAVAILABLE"
	CodeAlreadyDeleted    = "ALREADY_DELETED"
	CodeNotDeleted        = "NOT_DELETED"
	CodeInvalidInput      = "INVALID_INPUT"
	CodeSchemaValidation  = "SCHEMA_VALIDATION_FAILED"
	CodePartialFailure    = "PARTIAL_FAILURE"
	CodeInternal          = "INTERNAL"
)

var codeBySentinel = []struct {
	err  error
	code string
}{
	{ErrPartialFailure, CodePartialFailure},
	{ErrNotFound, CodeNotFound},
	{ErrUnauthorized, CodeUnauthorized},
	{ErrParentNotFound, CodeParentNotFound},
	{ErrCircularReference, CodeCircularReference},
	{ErrVersion, CodeVersionInvalid},
	{ErrConflict, CodeConflict},
	{ErrHasChildren, CodeHasChildren},
	{ErrRetentionExpired, CodeRetentionExpired},
	{ErrCursorInvalid, CodeCursorInvalid},
	{ErrStoreUnavailable, CodeStoreUnavailable},
	{ErrAlreadyDeleted, CodeAlreadyDeleted},
	{ErrNotDeleted, CodeNotDeleted},
	{ErrInvalidInput, CodeInvalidInput},
	{ErrSchemaValidation, CodeSchemaValidation},
}

// Code maps err to its stable code. Nil maps to "".
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range codeBySentinel {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

// fail wraps a domain sentinel (or an error matching one) with its code and context.
func fail(err error, kv ...any) error {
	if err == nil {
		return nil
	}
	return oops.Code(Code(err)).With(kv...).Wrap(err)
}

// HasChildrenError reports the number of active children that blocked a delete.
type HasChildrenError struct {
	ChildCount int
}

func (e *HasChildrenError) Error() string {
	return fmt.Sprintf("entity has %d active children", e.ChildCount)
}

// Is reports whether target is ErrHasChildren.
func (e *HasChildrenError) Is(target error) bool {
	return target == ErrHasChildren
}

// CascadeError carries the partial result of a cascade with at least one failed node.
type CascadeError struct {
	Result *CascadeResult
}

func (e *CascadeError) Error() string {
	return fmt.Sprintf("cascade failed for %d of %d entities", len(e.Result.Failed), len(e.Result.Failed)+len(e.Result.Succeeded))
}

// Is reports whether target is ErrPartialFailure.
func (e *CascadeError) Is(target error) bool {
	return target == ErrPartialFailure
}

