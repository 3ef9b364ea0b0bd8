package orchestration

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildGraphUnknownDependencyFails(t *testing.T) {
	_, err := BuildGraph(map[string][]string{
		"a": {"ghost"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownDependency)
}

func TestValidateAcyclicDetectsCycle(t *testing.T) {
	g, err := BuildGraph(map[string][]string{
		"a": {"b"},
		"b": {"c"},
		"c": {"a"},
	})
	require.NoError(t, err)

	err = g.ValidateAcyclic()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCircularDependency))
}

func TestLevelsLinearChain(t *testing.T) {
	g, err := BuildGraph(map[string][]string{
		"a": {},
		"b": {"a"},
		"c": {"b"},
	})
	require.NoError(t, err)
	require.NoError(t, g.ValidateAcyclic())

	levels := g.Levels()
	require.Equal(t, [][]string{{"a"}, {"b"}, {"c"}}, levels)
}

func TestLevelsDiamond(t *testing.T) {
	// a -> b, a -> c, b and c -> d
	g, err := BuildGraph(map[string][]string{
		"a": {},
		"b": {"a"},
		"c": {"a"},
		"d": {"b", "c"},
	})
	require.NoError(t, err)
	require.NoError(t, g.ValidateAcyclic())

	levels := g.Levels()
	require.Len(t, levels, 3)
	assert.Equal(t, []string{"a"}, levels[0])
	assert.Equal(t, []string{"b", "c"}, levels[1])
	assert.Equal(t, []string{"d"}, levels[2])
}

func TestTransitiveDependents(t *testing.T) {
	g, err := BuildGraph(map[string][]string{
		"a": {},
		"b": {"a"},
		"c": {"a"},
		"d": {"b"},
	})
	require.NoError(t, err)

	deps := g.TransitiveDependents("a")
	assert.ElementsMatch(t, []string{"b", "c", "d"}, deps)

	assert.Empty(t, g.TransitiveDependents("d"))
}
