// Package future implements composable asynchronous results: plain
// futures fulfilled explicitly, composite futures that wait-any or
// wait-all over a named child set, and chained futures built with
// AndThen/OrThen. Every future is driven by exactly one reactor.Loop;
// continuations and composite/chain propagation all run on that loop's
// goroutine, never reentrantly, matching the single-threaded
// cooperative model every broker component shares.
package future

import (
	"time"

	"github.com/rankmesh/tbon/internal/reactor"
	"github.com/rankmesh/tbon/internal/status"
)

// State is a future's current fulfillment state.
type State int32

const (
	Pending State = iota
	FulfilledOK
	FulfilledErr
)

type kind int

const (
	kindPlain kind = iota
	kindComposite
	kindChained
)

type compositeMode int

const (
	modeWaitAny compositeMode = iota
	modeWaitAll
)

type auxSlot struct {
	value      any
	destructor func(any)
}

// InitFunc is invoked at most once, the first time a future is
// observed (via Then, WaitFor, or Get), to lazily kick off work.
type InitFunc func(f *Future)

// ContinuationFunc is a callback attached via Then; it fires once the
// future becomes ready (and again after each Reset, for multi-fulfill
// futures).
type ContinuationFunc func(f *Future)

// ChainFunc is attached via AndThen/OrThen. It must eventually call
// exactly one of Continue, ContinueError, or FulfillNext on prev.
type ChainFunc func(prev *Future)

type continuation struct {
	cb        ContinuationFunc
	timeoutID reactor.TimerID
	hasTimer  bool
}

// Future is a handle to a pending or completed asynchronous outcome.
type Future struct {
	loop *reactor.Loop
	kind kind

	state   State
	value   any
	destroy func(any)
	errnum  status.Code

	multiFulfill bool
	initializer  InitFunc
	initDone     bool

	cont *continuation
	aux  map[string]auxSlot

	timedOut bool

	// composite
	compMode    compositeMode
	children    []*namedChild
	childByName map[string]*namedChild
	remaining   int
	hasChildErr bool
	firstErr    status.Code

	// membership in a parent composite, if any
	parentComposite *Future
	parentName      string

	// chain
	chainNext  *Future
	onSuccess  ChainFunc
	onFailure  ChainFunc
	continued  bool
	chainReady func() // set when this future is itself a "replacement" wired via Continue
}

type namedChild struct {
	name  string
	child *Future
}

// New creates a plain future. init is invoked at most once, the first
// time the future is observed.
func New(loop *reactor.Loop, init InitFunc) *Future {
	return &Future{loop: loop, kind: kindPlain, state: Pending, initializer: init}
}

// NewMultiFulfill creates a plain future that permits Reset, allowing
// its continuation to fire once per fulfill+reset cycle.
func NewMultiFulfill(loop *reactor.Loop, init InitFunc) *Future {
	f := New(loop, init)
	f.multiFulfill = true
	return f
}

// SetReactor associates a reactor with this future. Composite children
// inherit their parent's reactor on Push, so this is normally only
// called on the root of a future graph.
func (f *Future) SetReactor(loop *reactor.Loop) { f.loop = loop }

func (f *Future) triggerInit() {
	if f.initDone {
		return
	}
	f.initDone = true
	if f.initializer != nil {
		f.initializer(f)
	}
}

// IsReady reports whether the future has been fulfilled (ok or error).
func (f *Future) IsReady() bool { return f.state != Pending }

// IsTimedOut reports whether the most recent Then timeout fired before
// this future became ready. The future itself remains pending
// internally; Get/WaitFor still return the timeout error.
func (f *Future) IsTimedOut() bool { return f.timedOut && f.state == Pending }

// State returns the current fulfillment state.
func (f *Future) State() State { return f.state }

// Value returns the fulfilled value. Only meaningful when State() ==
// FulfilledOK.
func (f *Future) Value() any { return f.value }

// Errnum returns the fulfillment error code. Only meaningful when
// State() == FulfilledErr.
func (f *Future) Errnum() status.Code { return f.errnum }

// Fulfill transitions the future from pending to fulfilled-ok. For a
// multi-fulfill future this may happen repeatedly, once per Reset.
func (f *Future) Fulfill(value any, destructor func(any)) error {
	if f.state != Pending {
		return status.New(status.AlreadySet, "future: already fulfilled")
	}
	f.value = value
	f.destroy = destructor
	f.state = FulfilledOK
	f.timedOut = false
	f.afterReady()
	return nil
}

// FulfillError transitions the future from pending to fulfilled-error.
func (f *Future) FulfillError(errnum status.Code) error {
	if f.state != Pending {
		return status.New(status.AlreadySet, "future: already fulfilled")
	}
	f.errnum = errnum
	f.state = FulfilledErr
	f.timedOut = false
	f.afterReady()
	return nil
}

// Reset clears the fulfilled state while preserving the continuation;
// the next Fulfill/FulfillError reschedules it. Only valid on
// multi-fulfill futures that are currently ready.
func (f *Future) Reset() error {
	if !f.multiFulfill {
		return status.New(status.Invalid, "future: Reset requires a multi-fulfill future")
	}
	if f.state == Pending {
		return status.New(status.Invalid, "future: Reset requires a fulfilled future")
	}
	f.state = Pending
	f.value = nil
	f.destroy = nil
	f.errnum = 0
	return nil
}

func (f *Future) afterReady() {
	if f.cont != nil && f.cont.hasTimer {
		f.loop.CancelTimer(f.cont.timeoutID)
		f.cont.hasTimer = false
	}
	if f.cont != nil {
		cb := f.cont.cb
		if f.loop != nil {
			f.loop.Submit(func() { cb(f) })
		} else {
			cb(f)
		}
	}
	if f.parentComposite != nil {
		f.parentComposite.notifyChildReady(f)
	}
	if f.chainNext != nil {
		f.handleChainReady()
	}
	if f.chainReady != nil {
		f.chainReady()
	}
}

// Then installs a single continuation, firing once the future is (or
// becomes) ready. timeoutSec<=0 means no timeout; timeoutSec>0 arms a
// timer that, if it fires first, invokes cb with the future left
// pending but IsTimedOut()==true.
func (f *Future) Then(timeoutSec float64, cb ContinuationFunc) error {
	if f.cont != nil {
		return status.New(status.AlreadySet, "future: continuation already set")
	}
	f.triggerInit()
	f.cont = &continuation{cb: cb}
	if f.IsReady() {
		c := f.cont
		if f.loop != nil {
			f.loop.Submit(func() { c.cb(f) })
		} else {
			c.cb(f)
		}
		return nil
	}
	if timeoutSec > 0 {
		if f.loop == nil {
			return status.New(status.Invalid, "future: timeout requires a reactor")
		}
		id := f.loop.AfterFunc(time.Duration(timeoutSec*float64(time.Second)), func() {
			if f.state != Pending {
				return
			}
			f.timedOut = true
			f.cont.hasTimer = false
			cb(f)
		})
		f.cont.timeoutID = id
		f.cont.hasTimer = true
	}
	return nil
}

// WaitFor synchronously drives the reactor until f is ready or
// timeoutSec elapses (timeoutSec<=0 means forever).
func (f *Future) WaitFor(timeoutSec float64) error {
	f.triggerInit()
	if f.IsReady() {
		return f.resultErr()
	}
	if f.IsTimedOut() {
		return status.New(status.Timeout, "future: continuation timed out")
	}
	if f.loop == nil {
		return status.New(status.Invalid, "future: no reactor attached")
	}
	if timeoutSec > 0 {
		id := f.loop.AfterFunc(time.Duration(timeoutSec*float64(time.Second)), func() {})
		defer f.loop.CancelTimer(id)
		deadline := time.Now().Add(time.Duration(timeoutSec * float64(time.Second)))
		for !f.IsReady() {
			if err := f.loop.RunOnce(); err != nil {
				return err
			}
			if !f.IsReady() && !time.Now().Before(deadline) {
				return status.New(status.Timeout, "future: wait_for timed out")
			}
		}
		return f.resultErr()
	}
	for !f.IsReady() {
		if err := f.loop.RunOnce(); err != nil {
			return err
		}
	}
	return f.resultErr()
}

func (f *Future) resultErr() error {
	if f.state == FulfilledErr {
		return status.New(f.errnum, "future: fulfilled with error")
	}
	return nil
}

// Get blocks until ready (no timeout) and returns the fulfilled value,
// or the fulfillment error.
func (f *Future) Get() (any, error) {
	if err := f.WaitFor(-1); err != nil {
		return nil, err
	}
	return f.value, nil
}

// AuxSet attaches a per-future opaque keyed value, replacing (and
// releasing) any previous value under the same key.
func (f *Future) AuxSet(key string, value any, destructor func(any)) {
	if f.aux == nil {
		f.aux = make(map[string]auxSlot)
	}
	if prev, ok := f.aux[key]; ok && prev.destructor != nil {
		prev.destructor(prev.value)
	}
	f.aux[key] = auxSlot{value: value, destructor: destructor}
}

// AuxGet returns the per-future opaque value stored under key.
func (f *Future) AuxGet(key string) (any, bool) {
	slot, ok := f.aux[key]
	return slot.value, ok
}
