package schema_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/arbor/schema"
)

// countingRegistry records how often MaxVersion is consulted.
type countingRegistry struct {
	max   int
	calls int
}

func (r *countingRegistry) MaxVersion(context.Context, string) (int, error) {
	r.calls++
	return r.max, nil
}

func newGovernor(t *testing.T) *schema.Governor {
	t.Helper()
	reg := schema.NewStaticRegistry()
	reg.Register("location", 3)
	return schema.NewGovernor(reg)
}

func TestValidateTransition_Create(t *testing.T) {
	g := newGovernor(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		requested int
		reason    schema.Reason
	}{
		{"first version", 1, ""},
		{"max version", 3, ""},
		{"zero is reserved", 0, schema.ReasonReserved},
		{"negative", -1, schema.ReasonNonPositive},
		{"above max", 4, schema.ReasonAboveMax},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := g.ValidateTransition(ctx, "location", 0, tt.requested)
			if tt.reason == "" {
				require.NoError(t, err)
				assert.Equal(t, tt.requested, got)
				return
			}
			require.ErrorIs(t, err, schema.ErrVersion)
			var verr *schema.VersionError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.reason, verr.Reason)
		})
	}
}

func TestValidateTransition_Update(t *testing.T) {
	g := newGovernor(t)
	ctx := context.Background()

	got, err := g.ValidateTransition(ctx, "location", 2, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, got)

	got, err = g.ValidateTransition(ctx, "location", 2, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, got)

	_, err = g.ValidateTransition(ctx, "location", 2, 1)
	var verr *schema.VersionError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, schema.ReasonDowngrade, verr.Reason)
	assert.Equal(t, 2, verr.Old)
	assert.Contains(t, verr.Error(), "downgrade")
}

func TestValidateTransition_UnknownType(t *testing.T) {
	g := newGovernor(t)
	_, err := g.ValidateTransition(context.Background(), "spaceship", 0, 1)
	var verr *schema.VersionError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, schema.ReasonUnknownType, verr.Reason)
}

func TestValidateTransition_RegistryConsultedEveryCall(t *testing.T) {
	reg := &countingRegistry{max: 1}
	g := schema.NewGovernor(reg)
	ctx := context.Background()

	_, err := g.ValidateTransition(ctx, "location", 0, 2)
	require.ErrorIs(t, err, schema.ErrVersion)

	// Registry update is visible immediately.
	reg.max = 2
	got, err := g.ValidateTransition(ctx, "location", 0, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, got)
	assert.Equal(t, 2, reg.calls)
}

func TestValidateTransition_RejectsBeforeRegistryLookup(t *testing.T) {
	reg := &countingRegistry{max: 5}
	g := schema.NewGovernor(reg)

	_, err := g.ValidateTransition(context.Background(), "location", 0, 0)
	require.ErrorIs(t, err, schema.ErrVersion)
	assert.Zero(t, reg.calls)
}

func TestValidateProperties_NoValidator(t *testing.T) {
	g := newGovernor(t)
	assert.NoError(t, g.ValidateProperties(context.Background(), "location", 1, []byte(`{"anything":true}`)))
}

func TestStaticRegistry_Types(t *testing.T) {
	reg := schema.NewStaticRegistry()
	reg.Register("location", 1)
	reg.Register("character", 2)
	reg.Register("location", 4)

	assert.Equal(t, []string{"character", "location"}, reg.Types())
	max, err := reg.MaxVersion(context.Background(), "location")
	require.NoError(t, err)
	assert.Equal(t, 4, max)
}
