package orchestration

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveParametersExactMatch(t *testing.T) {
	params := map[string]interface{}{
		"greeting": "${name}",
		"literal":  "hello ${name}", // not exact match, left untouched
		"count":    5,
	}
	variables := map[string]interface{}{"name": "world"}

	resolved := ResolveParameters(params, variables)
	assert.Equal(t, "world", resolved["greeting"])
	assert.Equal(t, "hello ${name}", resolved["literal"])
	assert.Equal(t, 5, resolved["count"])
}

func TestResolveParametersUnknownVariableLeftLiteral(t *testing.T) {
	resolved := ResolveParameters(map[string]interface{}{"x": "${missing}"}, map[string]interface{}{})
	assert.Equal(t, "${missing}", resolved["x"])
}

// TestResolveParametersDoesNotDescendIntoNestedValues confirms resolution
// is shallow: a map or slice parameter value passes through unchanged even
// when it contains what looks like a placeholder.
func TestResolveParametersDoesNotDescendIntoNestedValues(t *testing.T) {
	nested := map[string]interface{}{"inner": "${v}"}
	list := []interface{}{"${v}", "plain"}
	params := map[string]interface{}{
		"nested": nested,
		"list":   list,
	}
	resolved := ResolveParameters(params, map[string]interface{}{"v": 42})

	assert.Equal(t, nested, resolved["nested"])
	assert.Equal(t, "${v}", resolved["nested"].(map[string]interface{})["inner"])
	assert.Equal(t, list, resolved["list"])
}

func TestDataPath(t *testing.T) {
	value := map[string]interface{}{
		"a": map[string]interface{}{"b": "c"},
	}
	got, err := DataPath(value, "a.b")
	assert.NoError(t, err)
	assert.Equal(t, "c", got)

	_, err = DataPath(value, "a.missing")
	assert.Error(t, err)
}
