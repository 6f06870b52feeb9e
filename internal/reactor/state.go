package reactor

import "sync/atomic"

// LoopState is the lifecycle state of a Loop.
type LoopState uint32

const (
	// StateAwake indicates the loop has been created but Run has not been called.
	StateAwake LoopState = iota
	// StateRunning indicates the loop is actively processing tasks or blocked in poll.
	StateRunning
	// StateTerminating indicates Stop or StopWithError has been requested but the
	// current iteration has not yet observed it.
	StateTerminating
	// StateTerminated indicates Run has returned and will not be called again.
	StateTerminated
)

func (s LoopState) String() string {
	switch s {
	case StateAwake:
		return "awake"
	case StateRunning:
		return "running"
	case StateTerminating:
		return "terminating"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// fastState is a lock-free CAS state machine guarding the loop's lifecycle.
type fastState struct {
	v atomic.Uint32
}

func newFastState() *fastState {
	s := &fastState{}
	s.v.Store(uint32(StateAwake))
	return s
}

func (s *fastState) Load() LoopState { return LoopState(s.v.Load()) }

func (s *fastState) Store(state LoopState) { s.v.Store(uint32(state)) }

func (s *fastState) TryTransition(from, to LoopState) bool {
	return s.v.CompareAndSwap(uint32(from), uint32(to))
}

func (s *fastState) IsTerminal() bool { return s.Load() == StateTerminated }
