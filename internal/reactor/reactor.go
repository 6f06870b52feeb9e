package reactor

import (
	"container/heap"
	"errors"
	"sync"
	"time"
)

// IOEvent is a bitmask of the readiness conditions a Watcher can be armed
// for, or that a dispatch reports.
type IOEvent uint32

const (
	// PollIn indicates the fd is ready for reading.
	PollIn IOEvent = 1 << iota
	// PollOut indicates the fd is ready for writing.
	PollOut
	// PollErr indicates an error condition on the fd.
	PollErr
	// PollHup indicates the peer closed its end of the connection.
	PollHup
)

func (e IOEvent) Has(bit IOEvent) bool { return e&bit != 0 }

// ErrStopped is returned by Run when the loop was stopped without an
// explicit error via Stop.
var ErrStopped = errors.New("reactor: stopped")

// ErrClosed is returned by registration methods once the loop has been
// closed.
var ErrClosed = errors.New("reactor: loop closed")

// Errors returned by poller fd registration methods.
var (
	ErrFDOutOfRange        = errors.New("reactor: fd out of range")
	ErrFDAlreadyRegistered = errors.New("reactor: fd already registered")
	ErrFDNotRegistered     = errors.New("reactor: fd not registered")
)

// IOCallback is invoked on the loop goroutine when a watched fd becomes
// ready. The events argument reports which of the watcher's armed
// conditions fired.
type IOCallback func(IOEvent)

// TimerCallback is invoked on the loop goroutine when a timer fires.
type TimerCallback func()

// timer is an entry in the loop's min-heap, ordered by deadline.
type timer struct {
	id       uint64
	deadline time.Time
	period   time.Duration // zero for one-shot
	cb       TimerCallback
	canceled bool
	index    int // heap index, maintained by container/heap
}

type timerHeap []*timer

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *timerHeap) Push(x interface{}) {
	t := x.(*timer)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// TimerID identifies a scheduled timer so it can be canceled.
type TimerID uint64

// Watcher identifies a registered fd watch so it can be modified or
// unregistered.
type Watcher struct {
	fd     int
	events IOEvent
	cb     IOCallback
}

// poller is the platform-specific readiness backend a Loop drives.
type poller interface {
	Init() error
	Close() error
	RegisterFD(fd int, events IOEvent, cb IOCallback) error
	ModifyFD(fd int, events IOEvent) error
	UnregisterFD(fd int) error
	// Poll blocks until an fd becomes ready or timeout elapses (timeout<0
	// means block indefinitely, 0 means return immediately), dispatching
	// ready callbacks inline before returning.
	Poll(timeout time.Duration) error
}

// Loop is the single-threaded reactor that drives one broker. Timers,
// fd watchers, and Submit callbacks are all invoked on the goroutine
// that calls Run; no synchronization is required between them.
type Loop struct {
	state  *fastState
	poller poller

	mu        sync.Mutex // guards timers, byID, nextID, submitted, stopErr
	timers    timerHeap
	byID      map[TimerID]*timer
	nextID    uint64
	submitted []func()
	stopErr   error

	wakeReadFD, wakeWriteFD int

	watchers map[int]*Watcher
}

// New creates a Loop and initializes its platform poller and wake
// mechanism. The caller must call Close when done, typically via
// defer, even if Run was never called.
func New() (*Loop, error) {
	l := &Loop{
		state:    newFastState(),
		byID:     make(map[TimerID]*timer),
		watchers: make(map[int]*Watcher),
	}
	l.poller = newPoller()
	if err := l.poller.Init(); err != nil {
		return nil, err
	}
	rfd, wfd, err := createWakeFd(0, EFD_CLOEXEC|EFD_NONBLOCK)
	if err != nil {
		_ = l.poller.Close()
		return nil, err
	}
	l.wakeReadFD, l.wakeWriteFD = rfd, wfd
	if l.wakeReadFD >= 0 {
		if err := l.poller.RegisterFD(l.wakeReadFD, PollIn, func(IOEvent) {
			_ = drainWakeUpPipe(l.wakeReadFD)
		}); err != nil {
			_ = closeWakeFd(rfd, wfd)
			_ = l.poller.Close()
			return nil, err
		}
	}
	return l, nil
}

// Close releases the loop's poller and wake resources. It does not
// stop a running loop; call Stop first and wait for Run to return.
func (l *Loop) Close() error {
	var err error
	if l.wakeReadFD >= 0 {
		_ = l.poller.UnregisterFD(l.wakeReadFD)
	}
	if e := closeWakeFd(l.wakeReadFD, l.wakeWriteFD); e != nil {
		err = e
	}
	if e := l.poller.Close(); e != nil && err == nil {
		err = e
	}
	return err
}

// State returns the loop's current lifecycle state.
func (l *Loop) State() LoopState { return l.state.Load() }

// Submit enqueues fn to run on the loop goroutine at the next
// iteration. Submit is the only method on Loop safe to call from a
// goroutine other than the one running Run.
func (l *Loop) Submit(fn func()) {
	l.mu.Lock()
	l.submitted = append(l.submitted, fn)
	l.mu.Unlock()
	l.wake()
}

func (l *Loop) wake() {
	if l.wakeWriteFD < 0 {
		_ = submitGenericWakeup(l.wakeHandle())
		return
	}
	var one [8]byte
	one[7] = 1
	_, _ = writeFD(l.wakeWriteFD, one[:])
}

// AfterFunc schedules cb to run once after d elapses, on the loop
// goroutine. It returns a TimerID usable with CancelTimer.
func (l *Loop) AfterFunc(d time.Duration, cb TimerCallback) TimerID {
	return l.schedule(d, 0, cb)
}

// EveryFunc schedules cb to run on the loop goroutine every d until
// canceled. The first firing is after d, not immediately.
func (l *Loop) EveryFunc(d time.Duration, cb TimerCallback) TimerID {
	return l.schedule(d, d, cb)
}

func (l *Loop) schedule(delay, period time.Duration, cb TimerCallback) TimerID {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	t := &timer{
		id:       l.nextID,
		deadline: timeNow().Add(delay),
		period:   period,
		cb:       cb,
	}
	heap.Push(&l.timers, t)
	l.byID[TimerID(t.id)] = t
	return TimerID(t.id)
}

// CancelTimer cancels a pending timer. It is a no-op if the timer
// already fired (and was one-shot) or was already canceled.
func (l *Loop) CancelTimer(id TimerID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.byID[id]
	if !ok {
		return
	}
	t.canceled = true
	delete(l.byID, id)
}

// RegisterFD arms cb to be called whenever fd's readiness matches any
// bit in events. Only one Watcher may be registered per fd at a time.
func (l *Loop) RegisterFD(fd int, events IOEvent, cb IOCallback) (*Watcher, error) {
	if err := l.poller.RegisterFD(fd, events, cb); err != nil {
		return nil, err
	}
	w := &Watcher{fd: fd, events: events, cb: cb}
	l.watchers[fd] = w
	return w, nil
}

// ModifyFD changes the event mask a previously registered Watcher is
// armed for.
func (l *Loop) ModifyFD(w *Watcher, events IOEvent) error {
	if err := l.poller.ModifyFD(w.fd, events); err != nil {
		return err
	}
	w.events = events
	return nil
}

// UnregisterFD disarms a previously registered Watcher.
func (l *Loop) UnregisterFD(w *Watcher) error {
	delete(l.watchers, w.fd)
	return l.poller.UnregisterFD(w.fd)
}

// Stop requests the loop to return from Run after the current
// iteration, with Run returning ErrStopped.
func (l *Loop) Stop() {
	l.stopWith(ErrStopped)
}

// StopWithError requests the loop to return from Run after the current
// iteration, with Run returning err.
func (l *Loop) StopWithError(err error) {
	l.stopWith(err)
}

func (l *Loop) stopWith(err error) {
	l.mu.Lock()
	if l.stopErr == nil {
		l.stopErr = err
	}
	l.mu.Unlock()
	l.state.Store(StateTerminating)
	l.wake()
}

// Run drives timers, fd readiness, and submitted callbacks until Stop
// or StopWithError is called. It returns the error passed to
// StopWithError, or ErrStopped for a plain Stop.
func (l *Loop) Run() error {
	if !l.state.TryTransition(StateAwake, StateRunning) {
		return errors.New("reactor: loop already run")
	}
	for {
		l.mu.Lock()
		stopped := l.stopErr != nil
		l.mu.Unlock()
		if stopped {
			break
		}
		if err := l.RunOnce(); err != nil {
			l.mu.Lock()
			if l.stopErr == nil {
				l.stopErr = err
			}
			l.mu.Unlock()
			break
		}
	}
	l.state.Store(StateTerminated)
	l.mu.Lock()
	err := l.stopErr
	l.mu.Unlock()
	return err
}

// RunOnce runs a single iteration: fires due timers, drains submitted
// callbacks, and polls for I/O readiness once, blocking until the
// next timer deadline (or indefinitely, if none is scheduled and
// nothing was submitted).
func (l *Loop) RunOnce() error {
	l.fireDueTimers()
	l.drainSubmitted()

	timeout := l.nextTimeout()
	return l.poller.Poll(timeout)
}

func (l *Loop) fireDueTimers() {
	now := timeNow()
	for {
		l.mu.Lock()
		if len(l.timers) == 0 {
			l.mu.Unlock()
			return
		}
		t := l.timers[0]
		if t.canceled {
			heap.Pop(&l.timers)
			delete(l.byID, TimerID(t.id))
			l.mu.Unlock()
			continue
		}
		if t.deadline.After(now) {
			l.mu.Unlock()
			return
		}
		heap.Pop(&l.timers)
		if t.period > 0 {
			t.deadline = now.Add(t.period)
			heap.Push(&l.timers, t)
		} else {
			delete(l.byID, TimerID(t.id))
		}
		l.mu.Unlock()
		t.cb()
	}
}

func (l *Loop) drainSubmitted() {
	l.mu.Lock()
	fns := l.submitted
	l.submitted = nil
	l.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (l *Loop) nextTimeout() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.submitted) > 0 {
		return 0
	}
	if len(l.timers) == 0 {
		return -1
	}
	d := l.timers[0].deadline.Sub(timeNow())
	if d < 0 {
		d = 0
	}
	return d
}

// timeNow is a seam so tests can observe monotonic wall-clock behavior
// without the package depending on a global clock abstraction.
var timeNow = time.Now
