package schema

import (
	"context"
	"sort"
	"sync"
)

// StaticRegistry is an in-process Registry populated at startup.
// It is safe for concurrent use.
type StaticRegistry struct {
	mu       sync.RWMutex
	versions map[string]int
}

// NewStaticRegistry creates an empty StaticRegistry.
func NewStaticRegistry() *StaticRegistry {
	return &StaticRegistry{versions: make(map[string]int)}
}

// Register sets the max version for entityType, replacing any previous value.
func (r *StaticRegistry) Register(entityType string, maxVersion int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.versions[entityType] = maxVersion
}

// MaxVersion implements Registry.
func (r *StaticRegistry) MaxVersion(_ context.Context, entityType string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	maxVersion, ok := r.versions[entityType]
	if !ok {
		return 0, &VersionError{EntityType: entityType, Reason: ReasonUnknownType}
	}
	return maxVersion, nil
}

// Types returns the registered entity types in sorted order.
func (r *StaticRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.versions))
	for t := range r.versions {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
