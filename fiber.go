package async

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// FiberState is the lifecycle state of a [Fiber], per spec.md §3.
type FiberState int32

const (
	// FiberNotStarted indicates the fiber has been created but the loop has not yet started it.
	FiberNotStarted FiberState = iota
	// FiberRunning indicates the fiber currently holds the baton and is executing.
	FiberRunning
	// FiberSuspended indicates the fiber yielded control back to the loop and is waiting to be resumed.
	FiberSuspended
	// FiberTerminated indicates the fiber body has returned (or panicked) and its goroutine has exited.
	FiberTerminated
)

var fiberIDCounter atomic.Uint64

// Fiber is a stackful coroutine implemented as a green thread: a goroutine
// parked on a channel handoff with the [Loop]. Only one of {the loop
// goroutine, a fiber's goroutine} ever runs unblocked at a time, which is
// what gives the runtime its single-threaded cooperative semantics without
// any locking of promise/mutex/token state.
//
// Grounded on spec.md's design notes §9: "where language-level stackful
// coroutines are unavailable, implement via a green-thread abstraction
// (OS threads parked on condition variables driven by the loop)".
type Fiber struct {
	id    uint64
	loop  *Loop
	body  func()
	state atomic.Int32

	resume chan struct{} // loop -> fiber: proceed
	yield  chan struct{} // fiber -> loop: suspended or finished

	startOnce sync.Once
}

func newFiber(loop *Loop, body func()) *Fiber {
	return &Fiber{
		id:     fiberIDCounter.Add(1),
		loop:   loop,
		body:   body,
		resume: make(chan struct{}),
		yield:  make(chan struct{}),
	}
}

// ID returns a stable, process-unique identifier for the fiber, for log
// correlation only; it carries no ordering guarantee.
func (f *Fiber) ID() uint64 { return f.id }

// State returns the fiber's current lifecycle state.
func (f *Fiber) State() FiberState { return FiberState(f.state.Load()) }

// start spawns the fiber's goroutine. The goroutine blocks immediately on
// resume, so start never actually runs user code; the loop must still
// call resumeAndWait to hand it the baton for the first time.
func (f *Fiber) start() {
	f.startOnce.Do(func() {
		go func() {
			<-f.resume
			registerCurrentFiber(f)
			f.state.Store(int32(FiberRunning))
			func() {
				defer func() {
					unregisterCurrentFiber()
					f.state.Store(int32(FiberTerminated))
					f.yield <- struct{}{}
				}()
				f.body()
			}()
		}()
	})
}

// resumeAndWait hands the baton to the fiber (starting it if necessary)
// and blocks the caller (always the loop goroutine) until the fiber
// suspends or terminates. Must only be called from the loop goroutine.
func (f *Fiber) resumeAndWait() {
	if f.State() == FiberNotStarted {
		f.start()
	}
	f.resume <- struct{}{}
	<-f.yield
}

// suspend hands the baton back to the loop and blocks the calling fiber
// goroutine until the loop resumes it again. Must only be called from
// within the fiber's own goroutine (callers check [InFiber] first).
func (f *Fiber) suspend() {
	unregisterCurrentFiber()
	f.state.Store(int32(FiberSuspended))
	f.yield <- struct{}{}
	<-f.resume
	registerCurrentFiber(f)
	f.state.Store(int32(FiberRunning))
}

// ============================================================================
// Fiber Context (C2)
// ============================================================================

// fiberRegistry maps the calling goroutine's runtime-assigned ID to the
// Fiber currently running on it. Grounded on eventloop.getGoroutineID /
// isLoopThread's stack-parsing trick for cheap goroutine identification,
// generalized from a single loop-goroutine check into a general "which
// fiber (if any) is the calling goroutine" lookup, since fibers here are
// green threads pinned to their own goroutine for their whole lifetime.
var fiberRegistry sync.Map // goroutineID uint64 -> *Fiber

func registerCurrentFiber(f *Fiber) {
	fiberRegistry.Store(currentGoroutineID(), f)
}

func unregisterCurrentFiber() {
	fiberRegistry.Delete(currentGoroutineID())
}

// CurrentFiber returns the [Fiber] executing on the calling goroutine, or
// nil if the calling goroutine is not a fiber (e.g. it is the loop
// goroutine itself, or an unrelated goroutine).
func CurrentFiber() *Fiber {
	if v, ok := fiberRegistry.Load(currentGoroutineID()); ok {
		return v.(*Fiber)
	}
	return nil
}

// InFiber reports whether the calling goroutine is currently executing
// inside a fiber body.
func InFiber() bool {
	return CurrentFiber() != nil
}

// ValidateFiberContext fails with [NotInFiberError] if called outside of
// any fiber. message, if non-empty, is included in the error.
func ValidateFiberContext(message string) error {
	if InFiber() {
		return nil
	}
	return &NotInFiberError{Message: message}
}

// currentGoroutineID parses the calling goroutine's numeric ID out of its
// own stack trace header ("goroutine 123 [running]:..."). Grounded
// verbatim on eventloop.getGoroutineID.
func currentGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}
