package schema

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

// ErrSchemaValidation is returned when properties fail schema validation.
var ErrSchemaValidation = errors.New("arbor: properties failed schema validation")

// Manifest is the on-disk description of a FileRegistry.
//
//	types:
//	  location:
//	    - version: 1
//	      schema: location.v1.json
//	    - version: 2
//	      schema: location.v2.json
//	  character:
//	    - version: 1
type Manifest struct {
	Types map[string][]ManifestVersion `yaml:"types"`
}

// ManifestVersion lists one schema version of an entity type. Schema is a
// JSON Schema file relative to the manifest; empty means unvalidated.
type ManifestVersion struct {
	Version int    `yaml:"version"`
	Schema  string `yaml:"schema"`
}

type typeSchemas struct {
	max      int
	compiled map[int]*jsonschema.Schema
}

// FileRegistry is a Registry and PropertyValidator loaded from a YAML
// manifest of entity types and their JSON Schemas.
type FileRegistry struct {
	path string

	mu    sync.RWMutex
	types map[string]*typeSchemas
}

// LoadFileRegistry reads the manifest at path and compiles its schemas.
func LoadFileRegistry(path string) (*FileRegistry, error) {
	r := &FileRegistry{path: path}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads the manifest. On error the previous state is kept.
func (r *FileRegistry) Reload() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("read schema manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("parse schema manifest: %w", err)
	}

	types, err := compileManifest(m, filepath.Dir(r.path))
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.types = types
	r.mu.Unlock()
	return nil
}

func compileManifest(m Manifest, baseDir string) (map[string]*typeSchemas, error) {
	types := make(map[string]*typeSchemas, len(m.Types))
	c := jsonschema.NewCompiler()

	for entityType, versions := range m.Types {
		ts := &typeSchemas{compiled: make(map[int]*jsonschema.Schema)}
		for _, v := range versions {
			if v.Version <= 0 {
				return nil, fmt.Errorf("type %q: version %d must be positive", entityType, v.Version)
			}
			if v.Version > ts.max {
				ts.max = v.Version
			}
			if v.Schema == "" {
				continue
			}

			path := v.Schema
			if !filepath.IsAbs(path) {
				path = filepath.Join(baseDir, path)
			}
			raw, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("type %q version %d: read schema: %w", entityType, v.Version, err)
			}
			doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
			if err != nil {
				return nil, fmt.Errorf("type %q version %d: parse schema: %w", entityType, v.Version, err)
			}

			url := fmt.Sprintf("%s.v%d.json", entityType, v.Version)
			if err := c.AddResource(url, doc); err != nil {
				return nil, fmt.Errorf("type %q version %d: add schema: %w", entityType, v.Version, err)
			}
			sch, err := c.Compile(url)
			if err != nil {
				return nil, fmt.Errorf("type %q version %d: compile schema: %w", entityType, v.Version, err)
			}
			ts.compiled[v.Version] = sch
		}
		if ts.max == 0 {
			return nil, fmt.Errorf("type %q: no versions declared", entityType)
		}
		types[entityType] = ts
	}
	return types, nil
}

// MaxVersion implements Registry.
func (r *FileRegistry) MaxVersion(_ context.Context, entityType string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ts, ok := r.types[entityType]
	if !ok {
		return 0, &VersionError{EntityType: entityType, Reason: ReasonUnknownType}
	}
	return ts.max, nil
}

// ValidateProperties implements PropertyValidator. Versions without a schema
// accept any payload; an empty payload validates as an empty object.
func (r *FileRegistry) ValidateProperties(_ context.Context, entityType string, version int, properties json.RawMessage) error {
	r.mu.RLock()
	ts, ok := r.types[entityType]
	r.mu.RUnlock()
	if !ok {
		return &VersionError{EntityType: entityType, Requested: version, Reason: ReasonUnknownType}
	}
	sch, ok := ts.compiled[version]
	if !ok {
		return nil
	}

	if len(properties) == 0 {
		properties = json.RawMessage("{}")
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(properties))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSchemaValidation, err)
	}
	if err := sch.Validate(inst); err != nil {
		return fmt.Errorf("%w: %v", ErrSchemaValidation, err)
	}
	return nil
}
