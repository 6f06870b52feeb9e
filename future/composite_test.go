package future

import (
	"testing"

	"github.com/rankmesh/tbon/internal/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitAnyAdoptsFirstReadyChild(t *testing.T) {
	loop := newTestLoop(t)
	a := New(loop, nil)
	b := New(loop, nil)
	comp := WaitAny(map[string]*Future{"a": a, "b": b})
	require.NoError(t, b.Fulfill("b-won", nil))
	assert.True(t, comp.IsReady())
	v, err := comp.Get()
	require.NoError(t, err)
	assert.Equal(t, "b-won", v)

	// a fulfilling afterwards must not disturb the already-decided result.
	require.NoError(t, a.Fulfill("a-too-late", nil))
	v, _ = comp.Get()
	assert.Equal(t, "b-won", v)
}

func TestWaitAnyAdoptsErrorToo(t *testing.T) {
	loop := newTestLoop(t)
	a := New(loop, nil)
	comp := WaitAny(map[string]*Future{"a": a})
	require.NoError(t, a.FulfillError(status.NotFound))
	_, err := comp.Get()
	require.Error(t, err)
	assert.Equal(t, status.NotFound, status.CodeOf(err))
}

func TestWaitAllReadyOnceEverythingFulfills(t *testing.T) {
	loop := newTestLoop(t)
	a := New(loop, nil)
	b := New(loop, nil)
	comp := WaitAll(map[string]*Future{"a": a, "b": b})
	assert.False(t, comp.IsReady())
	require.NoError(t, a.Fulfill(1, nil))
	assert.False(t, comp.IsReady())
	require.NoError(t, b.Fulfill(2, nil))
	assert.True(t, comp.IsReady())
	_, err := comp.Get()
	require.NoError(t, err)
}

func TestWaitAllPropagatesFirstError(t *testing.T) {
	loop := newTestLoop(t)
	a := New(loop, nil)
	b := New(loop, nil)
	comp := WaitAll(map[string]*Future{"a": a, "b": b})
	require.NoError(t, a.FulfillError(status.Timeout))
	require.NoError(t, b.Fulfill(2, nil))
	_, err := comp.Get()
	require.Error(t, err)
	assert.Equal(t, status.Timeout, status.CodeOf(err))
}

func TestWaitAllEmptyIsImmediatelyReady(t *testing.T) {
	comp := WaitAll(nil)
	assert.True(t, comp.IsReady())
	_, err := comp.Get()
	require.NoError(t, err)
}

func TestPushDuplicateNameRejected(t *testing.T) {
	loop := newTestLoop(t)
	a := New(loop, nil)
	b := New(loop, nil)
	comp := WaitAll(map[string]*Future{"a": a})
	err := comp.Push("a", b)
	require.Error(t, err)
	assert.Equal(t, status.Exists, status.CodeOf(err))
}

func TestGetChildAndIteration(t *testing.T) {
	loop := newTestLoop(t)
	a := New(loop, nil)
	comp := WaitAll(nil)
	require.NoError(t, comp.Push("only", a))
	child, ok := comp.GetChild("only")
	require.True(t, ok)
	assert.Same(t, a, child)

	name, c, ok := comp.FirstChild()
	require.True(t, ok)
	assert.Equal(t, "only", name)
	assert.Same(t, a, c)

	_, _, ok = comp.NextChild("only")
	assert.False(t, ok)
}
