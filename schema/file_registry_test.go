package schema_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/arbor/schema"
)

const locationV2Schema = `{
  "type": "object",
  "properties": {
    "climate": {"type": "string"},
    "population": {"type": "integer", "minimum": 0}
  },
  "required": ["climate"]
}`

func writeRegistry(t *testing.T, manifest string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "location.v2.json"), []byte(locationV2Schema), 0o600))
	path := filepath.Join(dir, "registry.yaml")
	require.NoError(t, os.WriteFile(path, []byte(manifest), 0o600))
	return path
}

const manifest = `
types:
  location:
    - version: 1
    - version: 2
      schema: location.v2.json
  character:
    - version: 1
`

func TestFileRegistry_MaxVersion(t *testing.T) {
	reg, err := schema.LoadFileRegistry(writeRegistry(t, manifest))
	require.NoError(t, err)

	ctx := context.Background()
	max, err := reg.MaxVersion(ctx, "location")
	require.NoError(t, err)
	assert.Equal(t, 2, max)

	max, err = reg.MaxVersion(ctx, "character")
	require.NoError(t, err)
	assert.Equal(t, 1, max)

	_, err = reg.MaxVersion(ctx, "vehicle")
	assert.ErrorIs(t, err, schema.ErrVersion)
}

func TestFileRegistry_ValidateProperties(t *testing.T) {
	reg, err := schema.LoadFileRegistry(writeRegistry(t, manifest))
	require.NoError(t, err)
	ctx := context.Background()

	assert.NoError(t, reg.ValidateProperties(ctx, "location", 2, []byte(`{"climate":"arid","population":12}`)))
	assert.ErrorIs(t, reg.ValidateProperties(ctx, "location", 2, []byte(`{"population":-1}`)), schema.ErrSchemaValidation)
	assert.ErrorIs(t, reg.ValidateProperties(ctx, "location", 2, nil), schema.ErrSchemaValidation)

	// Version 1 has no schema and accepts anything.
	assert.NoError(t, reg.ValidateProperties(ctx, "location", 1, []byte(`{"legacy":true}`)))
}

func TestFileRegistry_GovernorUsesValidator(t *testing.T) {
	reg, err := schema.LoadFileRegistry(writeRegistry(t, manifest))
	require.NoError(t, err)
	g := schema.NewGovernor(reg)

	err = g.ValidateProperties(context.Background(), "location", 2, []byte(`{}`))
	assert.ErrorIs(t, err, schema.ErrSchemaValidation)
}

func TestFileRegistry_Reload(t *testing.T) {
	path := writeRegistry(t, manifest)
	reg, err := schema.LoadFileRegistry(path)
	require.NoError(t, err)

	updated := manifest + "    - version: 2\n"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))
	require.NoError(t, reg.Reload())

	max, err := reg.MaxVersion(context.Background(), "character")
	require.NoError(t, err)
	assert.Equal(t, 2, max)

	// A broken manifest keeps the previous state.
	require.NoError(t, os.WriteFile(path, []byte("types: [not, a, map"), 0o600))
	assert.Error(t, reg.Reload())
	max, err = reg.MaxVersion(context.Background(), "character")
	require.NoError(t, err)
	assert.Equal(t, 2, max)
}

func TestLoadFileRegistry_Errors(t *testing.T) {
	_, err := schema.LoadFileRegistry(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = schema.LoadFileRegistry(writeRegistry(t, "types:\n  location:\n    - version: 0\n"))
	assert.Error(t, err)

	_, err = schema.LoadFileRegistry(writeRegistry(t, "types:\n  location:\n    - version: 1\n      schema: nope.json\n"))
	assert.Error(t, err)
}
