// Package schema governs entity schema versions.
//
// Every entity carries a positive schema version bounded by the newest
// version its type has in an external [Registry]. The [Governor] enforces
// forward-only evolution: an update may keep or raise the version but never
// lower it, so properties written by a newer client are never reinterpreted
// by an older schema.
package schema

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrVersion is returned for reserved, downgraded, or out-of-range versions.
var ErrVersion = errors.New("arbor: invalid schema version")

// Registry reports the newest schema version known for an entity type.
type Registry interface {
	// MaxVersion returns the highest accepted version for entityType.
	// Unknown types return a *VersionError with ReasonUnknownType.
	MaxVersion(ctx context.Context, entityType string) (int, error)
}

// PropertyValidator is implemented by registries that can validate an
// entity's properties payload against the schema of a given version.
type PropertyValidator interface {
	ValidateProperties(ctx context.Context, entityType string, version int, properties json.RawMessage) error
}

// Reason classifies a rejected version.
type Reason string

const (
	ReasonReserved    Reason = "reserved"
	ReasonNonPositive Reason = "non_positive"
	ReasonDowngrade   Reason = "downgrade"
	ReasonAboveMax    Reason = "above_max"
	ReasonUnknownType Reason = "unknown_type"
)

// VersionError describes a rejected schema-version transition.
type VersionError struct {
	EntityType string
	Old        int // zero on create
	Requested  int
	Max        int
	Reason     Reason
}

func (e *VersionError) Error() string {
	switch e.Reason {
	case ReasonReserved:
		return fmt.Sprintf("schema version 0 is reserved (type %q)", e.EntityType)
	case ReasonNonPositive:
		return fmt.Sprintf("schema version %d must be positive (type %q)", e.Requested, e.EntityType)
	case ReasonDowngrade:
		return fmt.Sprintf("schema version %d would downgrade %q from version %d", e.Requested, e.EntityType, e.Old)
	case ReasonAboveMax:
		return fmt.Sprintf("schema version %d exceeds max version %d for %q", e.Requested, e.Max, e.EntityType)
	case ReasonUnknownType:
		return fmt.Sprintf("entity type %q is not registered", e.EntityType)
	default:
		return fmt.Sprintf("invalid schema version %d for %q", e.Requested, e.EntityType)
	}
}

// Is reports whether target is ErrVersion.
func (e *VersionError) Is(target error) bool {
	return target == ErrVersion
}

// Governor validates and applies schema-version transitions.
// The registry is consulted on every call; callers wanting a cache wrap the
// registry themselves.
type Governor struct {
	registry Registry
}

// NewGovernor creates a Governor backed by registry.
func NewGovernor(registry Registry) *Governor {
	return &Governor{registry: registry}
}

// Registry returns the registry the governor consults.
func (g *Governor) Registry() Registry {
	return g.registry
}

// ValidateTransition checks that requested is a legal version for entityType.
// old is zero on create, otherwise the currently stored version. It returns
// the version to persist.
func (g *Governor) ValidateTransition(ctx context.Context, entityType string, old, requested int) (int, error) {
	verr := &VersionError{EntityType: entityType, Old: old, Requested: requested}

	switch {
	case requested == 0:
		verr.Reason = ReasonReserved
		return 0, verr
	case requested < 0:
		verr.Reason = ReasonNonPositive
		return 0, verr
	case old > 0 && requested < old:
		// No override: an older schema would silently drop fields.
		verr.Reason = ReasonDowngrade
		return 0, verr
	}

	maxVersion, err := g.registry.MaxVersion(ctx, entityType)
	if err != nil {
		return 0, err
	}
	verr.Max = maxVersion
	if requested > maxVersion {
		verr.Reason = ReasonAboveMax
		return 0, verr
	}
	return requested, nil
}

// ValidateProperties validates properties when the registry supports it.
// Registries that do not implement PropertyValidator accept any payload.
func (g *Governor) ValidateProperties(ctx context.Context, entityType string, version int, properties json.RawMessage) error {
	v, ok := g.registry.(PropertyValidator)
	if !ok {
		return nil
	}
	return v.ValidateProperties(ctx, entityType, version, properties)
}
