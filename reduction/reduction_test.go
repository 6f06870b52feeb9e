package reduction

import (
	"testing"
	"time"

	"github.com/rankmesh/tbon/internal/reactor"
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

type sunk struct {
	item     int
	batchnum int
}

func TestNoFlagsFlushesImmediately(t *testing.T) {
	var out []sunk
	r := New[int](nil, func(item int, batchnum int) { out = append(out, sunk{item, batchnum}) })
	r.Append(1, 0)
	r.Append(2, 0)
	assert.Equal(t, []sunk{{1, 0}, {2, 0}}, out)
	assert.Equal(t, 0, r.Pending())
}

func TestNewerBatchnumFlushesPrevious(t *testing.T) {
	var out []sunk
	r := New[int](newTestLoop(t), func(item int, batchnum int) { out = append(out, sunk{item, batchnum}) })
	r.SetFlags(TimedFlush)
	r.Append(1, 0)
	r.Append(2, 0)
	assert.Empty(t, out, "batch 0 not yet flushed")
	r.Append(3, 1)
	assert.Equal(t, []sunk{{1, 0}, {2, 0}}, out, "newer batchnum flushes the old batch")
	assert.Equal(t, 1, r.CurrentBatch())
}

func TestLateItemBypassesAccumulation(t *testing.T) {
	var out []sunk
	r := New[int](newTestLoop(t), func(item int, batchnum int) { out = append(out, sunk{item, batchnum}) })
	r.SetFlags(TimedFlush)
	r.Append(1, 5)
	r.Append(2, 5)
	r.Append(99, 4) // late: one behind current batchnum
	assert.Equal(t, []sunk{{99, 4}}, out, "late item sinks immediately as its own batch")
}

func TestHWMFlushStabilizesAfterMatchingCount(t *testing.T) {
	var out []sunk
	r := New[int](nil, func(item int, batchnum int) { out = append(out, sunk{item, batchnum}) })
	r.SetFlags(HWMFlush)
	r.Append(1, 0)
	r.Append(2, 0)
	r.Append(10, 1) // batch 0 already sunk during warm-up; lastHWM=2, curHWM=1, nothing sunk
	assert.Len(t, out, 2)
	r.Append(11, 1) // curHWM=2, matches lastHWM=2 -> flush
	assert.Len(t, out, 4)
	assert.Equal(t, 0, r.Pending())
}

func TestReduceFuncCollapsesItems(t *testing.T) {
	var out []sunk
	r := New[int](newTestLoop(t), func(item int, batchnum int) { out = append(out, sunk{item, batchnum}) })
	r.SetFlags(TimedFlush)
	r.SetReduceFunc(func(items []int, batchnum int) []int {
		sum := 0
		for _, v := range items {
			sum += v
		}
		return []int{sum}
	})
	r.Append(1, 0)
	r.Append(2, 0)
	r.Flush()
	require.Len(t, out, 1)
	assert.Equal(t, 3, out[0].item)
}

func TestTimedFlushFiresAfterQuietPeriod(t *testing.T) {
	loop := newTestLoop(t)
	var out []sunk
	r := New[int](loop, func(item int, batchnum int) { out = append(out, sunk{item, batchnum}) })
	r.SetFlags(TimedFlush)
	r.SetTimeout(5 * time.Millisecond)
	r.Append(1, 0)
	assert.Empty(t, out)

	deadline := time.Now().Add(time.Second)
	for len(out) == 0 && time.Now().Before(deadline) {
		require.NoError(t, loop.RunOnce())
	}
	assert.Equal(t, []sunk{{1, 0}}, out)
}
