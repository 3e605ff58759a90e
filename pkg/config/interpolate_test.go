package config

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInterpolateWholeScalarKeepsType(t *testing.T) {
	out, err := interpolate(map[string]any{
		"t":       16,
		"horizon": "${t}",
		"decay":   0.999,
		"rate":    "${decay}",
	}, time.Now())
	require.NoError(t, err)

	assert.Equal(t, 16, out["horizon"])
	assert.Equal(t, 0.999, out["rate"])
}

func TestInterpolateEmbeddedStringifies(t *testing.T) {
	out, err := interpolate(map[string]any{
		"seed": 42,
		"task": "cartpole",
		"name": "${task}_seed${seed}",
	}, time.Now())
	require.NoError(t, err)

	assert.Equal(t, "cartpole_seed42", out["name"])
}

func TestInterpolateDottedPath(t *testing.T) {
	out, err := interpolate(map[string]any{
		"policy": map[string]any{"obs_dim": 4},
		"x":      "${policy.obs_dim}",
	}, time.Now())
	require.NoError(t, err)

	assert.Equal(t, 4, out["x"])
}

func TestInterpolateChainedReferences(t *testing.T) {
	out, err := interpolate(map[string]any{
		"a": "${b}",
		"b": "${c}",
		"c": "leaf",
	}, time.Now())
	require.NoError(t, err)

	assert.Equal(t, "leaf", out["a"])
	assert.Equal(t, "leaf", out["b"])
}

func TestInterpolateWholeMapAlias(t *testing.T) {
	out, err := interpolate(map[string]any{
		"base": map[string]any{"lr": 0.001, "steps": 10},
		"copy": "${base}",
	}, time.Now())
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"lr": 0.001, "steps": 10}, out["copy"])
}

func TestInterpolateNow(t *testing.T) {
	now := time.Date(2024, 3, 5, 17, 30, 9, 0, time.UTC)
	out, err := interpolate(map[string]any{
		"dir": "logs/${now:2006-01-02_15-04-05}",
	}, now)
	require.NoError(t, err)

	assert.Equal(t, "logs/2024-03-05_17-30-09", out["dir"])
}

func TestInterpolateInsideSequences(t *testing.T) {
	out, err := interpolate(map[string]any{
		"task": "reacher",
		"tags": []any{"${task}", "v${major}", 3},
		"major": 2,
	}, time.Now())
	require.NoError(t, err)

	assert.Equal(t, []any{"reacher", "v2", 3}, out["tags"])
}

func TestInterpolatePlainStringsUntouched(t *testing.T) {
	out, err := interpolate(map[string]any{
		"plain": "no refs here",
		"price": "$5",
	}, time.Now())
	require.NoError(t, err)

	assert.Equal(t, "no refs here", out["plain"])
	assert.Equal(t, "$5", out["price"])
}

func TestInterpolateMissingReferencesListedSorted(t *testing.T) {
	_, err := interpolate(map[string]any{
		"x": "${nope}",
		"y": "${also.gone}",
	}, time.Now())
	require.Error(t, err)

	assert.EqualError(t, err,
		"unresolved config references: ${also.gone} (no such key), ${nope} (no such key)")
}

func TestInterpolateCircularReference(t *testing.T) {
	_, err := interpolate(map[string]any{
		"a": "${b}",
		"b": "${a}",
	}, time.Now())
	require.Error(t, err)

	assert.Contains(t, err.Error(), "circular reference")
}

func TestInterpolateDepthLimit(t *testing.T) {
	root := map[string]any{"k24": "end"}
	for i := 0; i < 24; i++ {
		root[fmt.Sprintf("k%d", i)] = fmt.Sprintf("${k%d}", i+1)
	}

	_, err := interpolate(root, time.Now())
	require.Error(t, err)

	assert.Contains(t, err.Error(), "reference chain too deep")
}

func TestInterpolateNonScalarEmbed(t *testing.T) {
	_, err := interpolate(map[string]any{
		"m": map[string]any{"k": 1},
		"s": "dir/${m}/x",
	}, time.Now())
	require.Error(t, err)

	assert.Contains(t, err.Error(), "non-scalar value cannot be embedded")
}

func TestLookupPath(t *testing.T) {
	root := map[string]any{
		"a": map[string]any{
			"b": map[string]any{"c": 7},
		},
		"top": "x",
	}

	v, ok := lookupPath(root, "a.b.c")
	assert.True(t, ok)
	assert.Equal(t, 7, v)

	v, ok = lookupPath(root, "top")
	assert.True(t, ok)
	assert.Equal(t, "x", v)

	_, ok = lookupPath(root, "a.b.missing")
	assert.False(t, ok)

	_, ok = lookupPath(root, "top.deeper")
	assert.False(t, ok)
}
