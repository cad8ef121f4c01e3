package equity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveExplicitOverrideWins(t *testing.T) {
	t.Parallel()

	r := NewResolver()
	r.SetOverride("alpha", 50_000)
	r.SetTargetWeight("alpha", 0.9)

	got, err := r.Resolve("alpha", 1_000_000)
	require.NoError(t, err)
	assert.Equal(t, 50_000.0, got)
}

func TestResolveTargetWeightFallback(t *testing.T) {
	t.Parallel()

	r := NewResolver()
	r.SetTargetWeight("beta", 0.1)

	got, err := r.Resolve("beta", 1_000_000)
	require.NoError(t, err)
	assert.Equal(t, 100_000.0, got)
}

func TestResolveMissingAllocation(t *testing.T) {
	t.Parallel()

	r := NewResolver()

	_, err := r.Resolve("gamma", 1_000_000)
	require.Error(t, err)

	var missing *MissingAllocationError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "gamma", missing.Strategy)
}

func TestResolveZeroWeightIsConfigured(t *testing.T) {
	t.Parallel()

	// A zero target weight is an explicit choice, not a missing allocation.
	r := NewResolver()
	r.SetTargetWeight("idle", 0)

	got, err := r.Resolve("idle", 1_000_000)
	require.NoError(t, err)
	assert.Equal(t, 0.0, got)
}
