package async

import "sync/atomic"

// LoopState represents the current lifecycle state of the [Loop].
// Grounded on eventloop.LoopState's state machine.
type LoopState int32

const (
	// StateAwake indicates the loop has been created but Run has not been called.
	StateAwake LoopState = iota
	// StateRunning indicates the loop is actively draining ready fibers, timers and microtasks.
	StateRunning
	// StateSleeping indicates the loop is blocked waiting for the next timer or submission.
	StateSleeping
	// StateTerminating indicates Shutdown has been requested but draining is not complete.
	StateTerminating
	// StateTerminated indicates the loop has fully stopped.
	StateTerminated
)

func (s LoopState) String() string {
	switch s {
	case StateAwake:
		return "Awake"
	case StateRunning:
		return "Running"
	case StateSleeping:
		return "Sleeping"
	case StateTerminating:
		return "Terminating"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// loopState is a lock-free CAS-based state machine, grounded on
// eventloop.FastState.
type loopState struct {
	v atomic.Int32
}

func newLoopState() *loopState {
	s := &loopState{}
	s.v.Store(int32(StateAwake))
	return s
}

func (s *loopState) Load() LoopState { return LoopState(s.v.Load()) }

func (s *loopState) Store(v LoopState) { s.v.Store(int32(v)) }

func (s *loopState) TryTransition(from, to LoopState) bool {
	return s.v.CompareAndSwap(int32(from), int32(to))
}
