package collab

import (
	"errors"
	"testing"

	"github.com/rankmesh/tbon/internal/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPluginStackCallDispatchesInPushOrder(t *testing.T) {
	stack := NewPluginStack()
	var order []string

	require.NoError(t, stack.Push(NewPlugin("first").Handle("topic", func(args []byte) ([]byte, error) {
		order = append(order, "first")
		return []byte("a"), nil
	})))
	require.NoError(t, stack.Push(NewPlugin("second").Handle("topic", func(args []byte) ([]byte, error) {
		order = append(order, "second")
		return []byte("b"), nil
	})))

	results := stack.Call("topic", nil)
	require.Len(t, results, 2)
	assert.Equal(t, []string{"first", "second"}, order)
	assert.Equal(t, "first", results[0].Plugin)
	assert.Equal(t, []byte("a"), results[0].Payload)
	assert.Equal(t, "second", results[1].Plugin)
}

func TestPluginStackCallSkipsPluginsWithoutHandler(t *testing.T) {
	stack := NewPluginStack()
	require.NoError(t, stack.Push(NewPlugin("no-handler")))
	require.NoError(t, stack.Push(NewPlugin("has-handler").Handle("topic", func(args []byte) ([]byte, error) {
		return nil, nil
	})))

	results := stack.Call("topic", nil)
	require.Len(t, results, 1)
	assert.Equal(t, "has-handler", results[0].Plugin)
}

func TestPluginStackCallCollectsHandlerErrors(t *testing.T) {
	stack := NewPluginStack()
	wantErr := errors.New("boom")
	require.NoError(t, stack.Push(NewPlugin("p").Handle("topic", func(args []byte) ([]byte, error) {
		return nil, wantErr
	})))

	results := stack.Call("topic", nil)
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, wantErr)
}

func TestPluginStackPushDuplicateNameFails(t *testing.T) {
	stack := NewPluginStack()
	require.NoError(t, stack.Push(NewPlugin("p")))
	err := stack.Push(NewPlugin("p"))
	require.Error(t, err)
	assert.Equal(t, status.Exists, status.CodeOf(err))
}

func TestPluginStackRemove(t *testing.T) {
	stack := NewPluginStack()
	require.NoError(t, stack.Push(NewPlugin("p").Handle("topic", func(args []byte) ([]byte, error) {
		return nil, nil
	})))
	require.NoError(t, stack.Remove("p"))

	results := stack.Call("topic", nil)
	assert.Len(t, results, 0)

	err := stack.Remove("p")
	require.Error(t, err)
	assert.Equal(t, status.NotFound, status.CodeOf(err))
}
