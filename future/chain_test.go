package future

import (
	"testing"

	"github.com/rankmesh/tbon/internal/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAndThenFulfillNext(t *testing.T) {
	loop := newTestLoop(t)
	prev := New(loop, nil)
	next := AndThen(prev, func(p *Future) {
		v := p.Value().(int)
		_ = FulfillNext(p, v*2, nil)
	})
	require.NoError(t, prev.Fulfill(21, nil))
	v, err := next.Get()
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestAndThenContinueChainsAnotherFuture(t *testing.T) {
	loop := newTestLoop(t)
	prev := New(loop, nil)
	replacement := New(loop, nil)
	next := AndThen(prev, func(p *Future) {
		_ = Continue(p, replacement)
	})
	require.NoError(t, prev.Fulfill("go", nil))
	assert.False(t, next.IsReady())
	require.NoError(t, replacement.Fulfill("done", nil))
	v, err := next.Get()
	require.NoError(t, err)
	assert.Equal(t, "done", v)
}

func TestOrThenHandlesError(t *testing.T) {
	loop := newTestLoop(t)
	prev := New(loop, nil)
	var sawErr status.Code
	next := OrThen(prev, func(p *Future) {
		sawErr = p.Errnum()
		_ = FulfillNext(p, "recovered", nil)
	})
	require.NoError(t, prev.FulfillError(status.NotFound))
	assert.Equal(t, status.NotFound, sawErr)
	v, err := next.Get()
	require.NoError(t, err)
	assert.Equal(t, "recovered", v)
}

func TestAndThenPropagatesErrorWithoutOrThen(t *testing.T) {
	loop := newTestLoop(t)
	prev := New(loop, nil)
	next := AndThen(prev, func(p *Future) { t.Fatal("success handler must not run on error") })
	require.NoError(t, prev.FulfillError(status.Timeout))
	_, err := next.Get()
	require.Error(t, err)
	assert.Equal(t, status.Timeout, status.CodeOf(err))
}

func TestOrThenPassesThroughSuccessWithoutAndThen(t *testing.T) {
	loop := newTestLoop(t)
	prev := New(loop, nil)
	next := OrThen(prev, func(p *Future) { t.Fatal("error handler must not run on success") })
	require.NoError(t, prev.Fulfill(5, nil))
	v, err := next.Get()
	require.NoError(t, err)
	assert.Equal(t, 5, v)
}

func TestContinueErrorDischargesChain(t *testing.T) {
	loop := newTestLoop(t)
	prev := New(loop, nil)
	next := AndThen(prev, func(p *Future) {
		_ = ContinueError(p, status.Invalid)
	})
	require.NoError(t, prev.Fulfill(1, nil))
	_, err := next.Get()
	require.Error(t, err)
	assert.Equal(t, status.Invalid, status.CodeOf(err))
}

func TestDoubleDischargeRejected(t *testing.T) {
	loop := newTestLoop(t)
	prev := New(loop, nil)
	AndThen(prev, func(p *Future) {
		require.NoError(t, FulfillNext(p, 1, nil))
		err := FulfillNext(p, 2, nil)
		require.Error(t, err)
		assert.Equal(t, status.AlreadySet, status.CodeOf(err))
	})
	require.NoError(t, prev.Fulfill(0, nil))
}
