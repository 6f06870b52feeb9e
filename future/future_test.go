package future

import (
	"testing"
	"time"

	"github.com/rankmesh/tbon/internal/reactor"
	"github.com/rankmesh/tbon/internal/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLoop(t *testing.T) *reactor.Loop {
	t.Helper()
	loop, err := reactor.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = loop.Close() })
	return loop
}

func TestFulfillAndGet(t *testing.T) {
	loop := newTestLoop(t)
	f := New(loop, nil)
	require.NoError(t, f.Fulfill(7, nil))
	v, err := f.Get()
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestFulfillTwiceFails(t *testing.T) {
	loop := newTestLoop(t)
	f := New(loop, nil)
	require.NoError(t, f.Fulfill(1, nil))
	err := f.Fulfill(2, nil)
	require.Error(t, err)
	assert.Equal(t, status.AlreadySet, status.CodeOf(err))
}

func TestFulfillErrorGet(t *testing.T) {
	loop := newTestLoop(t)
	f := New(loop, nil)
	require.NoError(t, f.FulfillError(status.NotFound))
	_, err := f.Get()
	require.Error(t, err)
	assert.Equal(t, status.NotFound, status.CodeOf(err))
}

func TestInitCalledOnFirstObservationOnly(t *testing.T) {
	loop := newTestLoop(t)
	calls := 0
	f := New(loop, func(f *Future) {
		calls++
		_ = f.Fulfill("x", nil)
	})
	_, err := f.Get()
	require.NoError(t, err)
	_, _ = f.Get()
	assert.Equal(t, 1, calls)
}

func TestWaitForTimeout(t *testing.T) {
	loop := newTestLoop(t)
	f := New(loop, nil)
	err := f.WaitFor(0.01)
	require.Error(t, err)
	assert.Equal(t, status.Timeout, status.CodeOf(err))
}

func TestWaitForReadyViaTimer(t *testing.T) {
	loop := newTestLoop(t)
	f := New(loop, nil)
	loop.AfterFunc(5*time.Millisecond, func() { _ = f.Fulfill("done", nil) })
	err := f.WaitFor(0.2)
	require.NoError(t, err)
	assert.Equal(t, "done", f.Value())
}

func TestThenFiresOnFulfill(t *testing.T) {
	loop := newTestLoop(t)
	f := New(loop, nil)
	done := make(chan struct{})
	require.NoError(t, f.Then(0, func(f *Future) { close(done) }))
	loop.AfterFunc(2*time.Millisecond, func() { _ = f.Fulfill(1, nil) })
	deadline := time.After(time.Second)
	for {
		select {
		case <-done:
			return
		case <-deadline:
			t.Fatal("continuation never fired")
		default:
			require.NoError(t, loop.RunOnce())
		}
	}
}

func TestThenAlreadyReadyFiresImmediately(t *testing.T) {
	loop := newTestLoop(t)
	f := New(loop, nil)
	require.NoError(t, f.Fulfill(1, nil))
	fired := false
	require.NoError(t, f.Then(0, func(f *Future) { fired = true }))
	require.NoError(t, loop.RunOnce())
	assert.True(t, fired)
}

func TestThenTimeoutFiresBeforeFulfillment(t *testing.T) {
	loop := newTestLoop(t)
	f := New(loop, nil)
	var sawTimeout bool
	require.NoError(t, f.Then(0.005, func(f *Future) { sawTimeout = f.IsTimedOut() }))
	deadline := time.Now().Add(time.Second)
	for !sawTimeout && time.Now().Before(deadline) {
		require.NoError(t, loop.RunOnce())
	}
	assert.True(t, sawTimeout)
	assert.False(t, f.IsReady())
}

func TestThenSecondInstallFails(t *testing.T) {
	loop := newTestLoop(t)
	f := New(loop, nil)
	require.NoError(t, f.Then(0, func(*Future) {}))
	err := f.Then(0, func(*Future) {})
	require.Error(t, err)
	assert.Equal(t, status.AlreadySet, status.CodeOf(err))
}

func TestMultiFulfillResetReschedulesContinuation(t *testing.T) {
	loop := newTestLoop(t)
	f := NewMultiFulfill(loop, nil)
	var fireCount int
	require.NoError(t, f.Then(0, func(*Future) { fireCount++ }))
	require.NoError(t, f.Fulfill(1, nil))
	require.NoError(t, loop.RunOnce())
	require.NoError(t, f.Reset())
	require.NoError(t, f.Fulfill(2, nil))
	require.NoError(t, loop.RunOnce())
	assert.Equal(t, 2, fireCount)
}

func TestResetRequiresMultiFulfill(t *testing.T) {
	loop := newTestLoop(t)
	f := New(loop, nil)
	require.NoError(t, f.Fulfill(1, nil))
	err := f.Reset()
	require.Error(t, err)
	assert.Equal(t, status.Invalid, status.CodeOf(err))
}

func TestAuxSetReplaceReleasesPrevious(t *testing.T) {
	loop := newTestLoop(t)
	f := New(loop, nil)
	var released bool
	f.AuxSet("k", 1, func(any) { released = true })
	f.AuxSet("k", 2, nil)
	assert.True(t, released)
	v, ok := f.AuxGet("k")
	require.True(t, ok)
	assert.Equal(t, 2, v)
}
