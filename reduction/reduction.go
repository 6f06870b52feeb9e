// Package reduction implements the batchnum-keyed item reduction
// pattern: items arrive tagged with a monotonically-advancing batch
// number, accumulate in the current batch, and are periodically
// collapsed through an optional reduce function before being sent on
// to a sink — either immediately, once a high-water mark stabilizes,
// or a fixed time after the first item of a batch arrives.
package reduction

import (
	"time"

	"github.com/rankmesh/tbon/internal/reactor"
)

// Flags controls when Append flushes the current batch.
type Flags uint32

const (
	// HWMFlush flushes once the current batch's item count matches the
	// previous batch's final count (the two-batch stabilization
	// heuristic), or once no prior batch exists to compare against.
	HWMFlush Flags = 1 << iota
	// TimedFlush arms a one-shot timer on the first append to an empty
	// batch and flushes the batch when it expires; later appends do not
	// re-arm it.
	TimedFlush
)

// SinkFunc receives each item as it leaves the reducer, tagged with
// the batch number it belonged to.
type SinkFunc[T any] func(item T, batchnum int)

// ReduceFunc is given the full accumulated item list for the current
// batch and returns the (possibly collapsed) replacement list. A nil
// ReduceFunc leaves items untouched.
type ReduceFunc[T any] func(items []T, batchnum int) []T

// Reducer accumulates items into batches and flushes them to a sink
// according to Flags. Not safe for concurrent use; callers that feed
// it from multiple goroutines must marshal onto the owning
// reactor.Loop via Loop.Submit first.
type Reducer[T any] struct {
	loop   *reactor.Loop
	sink   SinkFunc[T]
	reduce ReduceFunc[T]
	flags  Flags

	timeout     time.Duration
	timerID     reactor.TimerID
	timerArmed  bool
	lastHWM     int
	curHWM      int
	curBatchnum int
	items       []T
}

// New creates a Reducer bound to loop, delivering flushed items to
// sink. loop is required only when Flags includes TimedFlush; pass
// nil otherwise.
func New[T any](loop *reactor.Loop, sink SinkFunc[T]) *Reducer[T] {
	return &Reducer[T]{loop: loop, sink: sink, timeout: 10 * time.Millisecond}
}

// SetTimeout sets the TimedFlush timer duration.
func (r *Reducer[T]) SetTimeout(d time.Duration) { r.timeout = d }

// SetReduceFunc installs the collapse function run on every append.
func (r *Reducer[T]) SetReduceFunc(fn ReduceFunc[T]) { r.reduce = fn }

// SetFlags replaces the reducer's flush policy.
func (r *Reducer[T]) SetFlags(flags Flags) { r.flags = flags }

// Flush sinks every accumulated item for the current batch, in
// arrival order, and disarms any pending timed flush.
func (r *Reducer[T]) Flush() {
	for _, item := range r.items {
		r.sink(item, r.curBatchnum)
	}
	r.items = r.items[:0]
	r.timerDisable()
}

// Append adds item tagged with batchnum. Items from a batch older
// than the current one ("late" items — batchnum < current) bypass
// accumulation: they're reduced and sunk immediately as a singleton
// batch, and bump the high-water mark, since a late arrival means the
// batch it belongs to had one more item than what was already
// flushed.
//
// An item from a newer batch than the current one flushes the
// current batch first, records its final item count as the new
// high-water mark, and starts accumulating the new batch.
func (r *Reducer[T]) Append(item T, batchnum int) {
	if batchnum < r.curBatchnum {
		r.lastHWM++
		r.appendLate(item, batchnum)
		return
	}
	if batchnum > r.curBatchnum {
		r.Flush()
		r.lastHWM = r.curHWM
		r.curHWM = 1
		r.curBatchnum = batchnum
	} else {
		r.curHWM++
	}
	r.items = append(r.items, item)
	if r.reduce != nil {
		r.items = r.reduce(r.items, r.curBatchnum)
	}
	if r.flags&HWMFlush != 0 {
		if !r.hwmValid() || r.hwmFlushable() {
			r.Flush()
		}
	}
	if r.flags&TimedFlush != 0 {
		if len(r.items) > 0 {
			r.timerEnable()
		}
	}
	if r.flags == 0 {
		r.Flush()
	}
}

func (r *Reducer[T]) appendLate(item T, batchnum int) {
	items := []T{item}
	if r.reduce != nil {
		items = r.reduce(items, batchnum)
	}
	for _, i := range items {
		r.sink(i, batchnum)
	}
}

func (r *Reducer[T]) timerEnable() {
	if r.timerArmed {
		return
	}
	r.timerArmed = true
	r.timerID = r.loop.AfterFunc(r.timeout, func() {
		r.timerArmed = false
		r.Flush()
	})
}

func (r *Reducer[T]) timerDisable() {
	if !r.timerArmed {
		return
	}
	r.timerArmed = false
	r.loop.CancelTimer(r.timerID)
}

func (r *Reducer[T]) hwmFlushable() bool { return r.lastHWM > 0 && r.lastHWM == r.curHWM }
func (r *Reducer[T]) hwmValid() bool     { return r.lastHWM > 0 }

// CurrentBatch returns the batch number currently accumulating.
func (r *Reducer[T]) CurrentBatch() int { return r.curBatchnum }

// Pending returns the number of items accumulated in the current
// batch, not yet flushed.
func (r *Reducer[T]) Pending() int { return len(r.items) }
