package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryResolveUnknownPairReturnsFalse(t *testing.T) {
	reg := NewRegistry()
	_, ok := reg.Resolve("http", "call")
	assert.False(t, ok)
}

func TestRegistryResolveRegisteredPair(t *testing.T) {
	reg := NewRegistry()
	reg.Register("http", "call", ExecutorFunc(func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{"ok": true}, nil
	}))

	executor, ok := reg.Resolve("http", "call")
	require.True(t, ok)

	out, err := executor.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, true, out["ok"])
}

func TestRegistryLaterRegistrationOverwrites(t *testing.T) {
	reg := NewRegistry()
	reg.Register("http", "call", NewEchoExecutor())
	reg.Register("http", "call", NewErrorExecutor())

	executor, ok := reg.Resolve("http", "call")
	require.True(t, ok)

	_, err := executor.Execute(context.Background(), map[string]interface{}{"message": "boom"})
	assert.EqualError(t, err, "boom")
}

func TestBuiltinEchoExecutor(t *testing.T) {
	reg := NewRegistry()
	RegisterBuiltins(reg)

	executor, ok := reg.Resolve("builtin", "echo")
	require.True(t, ok)

	out, err := executor.Execute(context.Background(), map[string]interface{}{"a": 1})
	require.NoError(t, err)
	echoed, ok := out["echo"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, 1, echoed["a"])
}

func TestBuiltinErrorExecutorUsesCustomMessage(t *testing.T) {
	reg := NewRegistry()
	RegisterBuiltins(reg)

	executor, ok := reg.Resolve("builtin", "error")
	require.True(t, ok)

	_, err := executor.Execute(context.Background(), map[string]interface{}{"message": "nope"})
	assert.EqualError(t, err, "nope")
}
