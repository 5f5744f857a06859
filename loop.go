package async

import (
	"container/heap"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Loop is the single-threaded, cooperative event loop described by
// spec.md §2. Exactly one goroutine is ever logically "active" at a
// time: the loop goroutine itself, or whichever fiber it has handed the
// baton to via [Fiber.resumeAndWait]/[Fiber.suspend]. That invariant is
// what lets promise, mutex and cancellation-token state be mutated
// without any internal locking.
//
// Grounded on eventloop.Loop, stripped of its I/O poller/epoll machinery
// (this runtime never multiplexes real OS file descriptors, only
// fibers, timers and microtasks) but keeping its internal/external queue
// split, state machine, timer heap and registry-based shutdown.
type Loop struct {
	id     uint64
	diagID string // cosmetic log-correlation id; never used for ordering, see logging.go
	logger *Logger
	clock  func() time.Time

	strictMicrotaskOrdering bool
	tickBudget              int

	state *loopState

	// loopGoroutineID is set once Run begins, letting AddFiber/NextTick/
	// etc. detect whether they are being called from the loop goroutine
	// itself (or a fiber it is currently running) versus an arbitrary
	// external goroutine. Grounded on eventloop.isLoopThread.
	loopGoroutineID atomic.Uint64
	running         atomic.Bool

	microtasks  *microtaskRing
	newFibers   []*Fiber
	readyFibers []*Fiber
	timers      timerHeap
	timerSeq    uint64

	// extMu guards everything below it, used only by goroutines that are
	// neither the loop goroutine nor a currently-running fiber.
	extMu       sync.Mutex
	extFibers   []*Fiber   // AddFiber calls from outside
	extReady    []*Fiber   // ScheduleFiber calls from outside
	extTasks    []func()   // NextTick calls from outside
	extTimers   []timer    // AddTimer calls from outside
	extCancels  []uint64   // CancelTimer calls from outside
	wakeCh      chan struct{}
	wakeQueued  atomic.Bool

	registry *promiseRegistry
	metrics  loopMetrics

	tickCount         uint64
	doneCh            chan struct{}
	stopOnce          sync.Once
	shutdownRequested atomic.Bool
}

type timer struct {
	id       uint64
	when     time.Time
	fn       func()
	cancelled *atomic.Bool
}

// timerHeap is a min-heap of pending timers ordered by fire time, grounded
// on eventloop.timerHeap.
type timerHeap []timer

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].when.Before(h[j].when) }
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *timerHeap) Push(x any)         { *h = append(*h, x.(timer)) }
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

var loopIDCounter atomic.Uint64

// New constructs a [Loop] ready to be driven by [Loop.Run].
func New(opts ...LoopOption) *Loop {
	cfg := resolveLoopOptions(opts)
	l := &Loop{
		id:                      loopIDCounter.Add(1),
		diagID:                  uuid.NewString(),
		logger:                  cfg.logger,
		clock:                   cfg.clock,
		strictMicrotaskOrdering: cfg.strictMicrotaskOrdering,
		tickBudget:              cfg.tickBudget,
		state:                   newLoopState(),
		microtasks:              newMicrotaskRing(),
		timers:                  make(timerHeap, 0),
		wakeCh:                  make(chan struct{}, 1),
		registry:                newPromiseRegistry(),
		doneCh:                  make(chan struct{}),
	}
	return l
}

// isLoopThread reports whether the calling goroutine is the loop
// goroutine itself. Grounded on eventloop.isLoopThread's goroutine-ID
// comparison.
func (l *Loop) isLoopThread() bool {
	return l.running.Load() && currentGoroutineID() == l.loopGoroutineID.Load()
}

// onLoopThread reports whether the caller may safely mutate the loop's
// unsynchronized internal structures directly: either it IS the loop
// goroutine, or it is a fiber that the loop is currently blocked waiting
// on (and therefore, by the baton invariant, the only other runnable
// goroutine in the system).
func (l *Loop) onLoopThread() bool {
	return l.isLoopThread() || InFiber()
}

func (l *Loop) wake() {
	if l.wakeQueued.CompareAndSwap(false, true) {
		select {
		case l.wakeCh <- struct{}{}:
		default:
		}
	}
}

// AddFiber creates a new [Fiber] running body and schedules it to start
// on the next tick, per spec.md's "new fiber queue".
func (l *Loop) AddFiber(body func()) *Fiber {
	f := newFiber(l, body)
	if l.onLoopThread() {
		l.newFibers = append(l.newFibers, f)
		return f
	}
	l.extMu.Lock()
	l.extFibers = append(l.extFibers, f)
	l.extMu.Unlock()
	l.wake()
	return f
}

// ScheduleFiber marks an already-created, suspended fiber as ready to be
// resumed on an upcoming tick.
func (l *Loop) ScheduleFiber(f *Fiber) {
	if f == nil {
		return
	}
	if l.onLoopThread() {
		l.readyFibers = append(l.readyFibers, f)
		return
	}
	l.extMu.Lock()
	l.extReady = append(l.extReady, f)
	l.extMu.Unlock()
	l.wake()
}

// NextTick enqueues fn as a microtask: it will run before the loop
// resumes any ready fiber or fires any timer, per spec.md §4.1's
// ordering invariant, and before fn is observed by any subsequently
// queued microtask.
func (l *Loop) NextTick(fn func()) {
	if fn == nil {
		return
	}
	if l.onLoopThread() {
		l.microtasks.Push(fn)
		return
	}
	l.extMu.Lock()
	l.extTasks = append(l.extTasks, fn)
	l.extMu.Unlock()
	l.wake()
}

// AddTimer schedules fn to run after d elapses (measured from the
// configured clock, not wall time), returning an opaque timer ID usable
// with [Loop.CancelTimer]. d <= 0 fires on the very next tick, after any
// currently-queued microtasks, matching a zero-delay JS timer.
func (l *Loop) AddTimer(d time.Duration, fn func()) uint64 {
	if fn == nil {
		return 0
	}
	if l.onLoopThread() {
		l.extMu.Lock()
		l.timerSeq++
		id := l.timerSeq
		l.extMu.Unlock()
		heap.Push(&l.timers, timer{id: id, when: l.clock().Add(d), fn: fn, cancelled: new(atomic.Bool)})
		return id
	}
	l.extMu.Lock()
	l.timerSeq++
	id := l.timerSeq
	l.extTimers = append(l.extTimers, timer{id: id, when: l.clock().Add(d), fn: fn, cancelled: new(atomic.Bool)})
	l.extMu.Unlock()
	l.wake()
	return id
}

// CancelTimer prevents a pending timer from firing. On the loop goroutine
// (or in one of its fibers) it returns false if the timer ID is unknown
// or has already fired/been cancelled. From any other goroutine it can
// only inspect timers still waiting in the external queue: for those it
// reports the same way, and for any other ID it queues the cancellation
// for the loop and returns true without checking whether that timer
// exists or has already fired.
func (l *Loop) CancelTimer(id uint64) bool {
	if id == 0 {
		return false
	}
	if l.onLoopThread() {
		for i := range l.timers {
			if l.timers[i].id == id {
				return l.timers[i].cancelled.CompareAndSwap(false, true)
			}
		}
		return false
	}
	l.extMu.Lock()
	defer l.extMu.Unlock()
	for i := range l.extTimers {
		if l.extTimers[i].id == id {
			return l.extTimers[i].cancelled.CompareAndSwap(false, true)
		}
	}
	l.extCancels = append(l.extCancels, id)
	return true
}

// Run drives the event loop until [Loop.Shutdown] is called and every
// remaining fiber/timer/microtask has drained. Until Shutdown is called,
// an idle loop waits for new work instead of returning. It blocks the
// calling goroutine for the loop's entire lifetime; run it in its own
// goroutine for a long-lived service loop (`go loop.Run()`). Calling Run
// from the loop goroutine or from one of this loop's fibers returns
// [ErrReentrantRun].
func (l *Loop) Run() error {
	if f := CurrentFiber(); l.isLoopThread() || (f != nil && f.loop == l) {
		return ErrReentrantRun
	}
	if !l.state.TryTransition(StateAwake, StateRunning) {
		switch l.state.Load() {
		case StateTerminated:
			return ErrLoopTerminated
		default:
			return ErrLoopAlreadyRunning
		}
	}

	l.loopGoroutineID.Store(currentGoroutineID())
	l.running.Store(true)
	if l.shutdownRequested.Load() {
		l.state.Store(StateTerminating)
	}
	defer func() {
		l.running.Store(false)
		l.state.Store(StateTerminated)
		l.registry.RejectAll(ErrLoopTerminated)
		close(l.doneCh)
	}()

	l.logInfo("loop started")

	for {
		l.drainExternal()

		if l.state.Load() == StateTerminating && l.idle() {
			return nil
		}

		l.tick()

		if l.idle() {
			if l.state.Load() == StateTerminating {
				return nil
			}
			if !l.sleepUntilWork() {
				return nil
			}
		}
	}
}

// idle reports whether the loop has no fibers, timers or microtasks left
// to process and no pending external work, i.e. nothing will ever wake
// it again without new external input.
func (l *Loop) idle() bool {
	if len(l.newFibers) != 0 || len(l.readyFibers) != 0 || !l.microtasks.IsEmpty() || len(l.timers) != 0 {
		return false
	}
	l.extMu.Lock()
	defer l.extMu.Unlock()
	return len(l.extFibers) == 0 && len(l.extReady) == 0 && len(l.extTasks) == 0 && len(l.extTimers) == 0
}

// sleepUntilWork parks the loop goroutine until either the nearest timer
// is due or external work (or a Shutdown) arrives via wake(). With no
// timers pending it waits for wake() alone. It always returns true.
func (l *Loop) sleepUntilWork() bool {
	if len(l.timers) == 0 {
		<-l.wakeCh
		l.wakeQueued.Store(false)
		return true
	}
	next := l.timers[0].when
	d := next.Sub(l.clock())
	if d <= 0 {
		return true
	}
	timerC := time.After(d)
	select {
	case <-timerC:
	case <-l.wakeCh:
		l.wakeQueued.Store(false)
	}
	return true
}

// drainExternal migrates everything queued by non-loop goroutines since
// the last tick into the loop's unsynchronized internal structures.
func (l *Loop) drainExternal() {
	l.extMu.Lock()
	fibers, ready, tasks, timers, cancels := l.extFibers, l.extReady, l.extTasks, l.extTimers, l.extCancels
	l.extFibers, l.extReady, l.extTasks, l.extTimers, l.extCancels = nil, nil, nil, nil, nil
	l.extMu.Unlock()

	l.newFibers = append(l.newFibers, fibers...)
	l.readyFibers = append(l.readyFibers, ready...)
	for _, fn := range tasks {
		l.microtasks.Push(fn)
	}
	for _, t := range timers {
		heap.Push(&l.timers, t)
	}
	for _, id := range cancels {
		for i := range l.timers {
			if l.timers[i].id == id {
				l.timers[i].cancelled.Store(true)
				break
			}
		}
	}
}

// tick runs one full iteration: start newly-added fibers, drain
// microtasks, resume fibers marked ready, fire due timers, and drain
// microtasks once more so callbacks scheduled by timers run before the
// next tick's fiber resumption. Ordering matches spec.md §4.1.
func (l *Loop) tick() {
	l.tickCount++
	l.metrics.ticks.Add(1)

	toStart := l.newFibers
	l.newFibers = nil
	for _, f := range toStart {
		l.metrics.fibersStarted.Add(1)
		l.resumeFiber(f)
	}

	l.drainMicrotasks()

	budget := l.tickBudget
	toResume := l.readyFibers
	l.readyFibers = nil
	if budget > 0 && len(toResume) > budget {
		l.readyFibers = append(l.readyFibers, toResume[budget:]...)
		toResume = toResume[:budget]
	}
	for _, f := range toResume {
		l.resumeFiber(f)
		if l.strictMicrotaskOrdering {
			l.drainMicrotasks()
		}
	}

	l.fireDueTimers()
	l.drainMicrotasks()
	l.registry.Scavenge(32)
}

func (l *Loop) resumeFiber(f *Fiber) {
	l.metrics.fibersResumed.Add(1)
	f.resumeAndWait()
	if f.State() == FiberTerminated {
		l.metrics.fibersTerminated.Add(1)
	}
}

func (l *Loop) fireDueTimers() {
	now := l.clock()
	for len(l.timers) > 0 && !l.timers[0].when.After(now) {
		t := heap.Pop(&l.timers).(timer)
		if t.cancelled.Load() {
			l.metrics.timersCancelled.Add(1)
			continue
		}
		l.metrics.timersFired.Add(1)
		l.safeCall(t.fn)
		if l.strictMicrotaskOrdering {
			l.drainMicrotasks()
		}
	}
}

func (l *Loop) drainMicrotasks() {
	const budget = 1 << 20
	for i := 0; i < budget; i++ {
		fn := l.microtasks.Pop()
		if fn == nil {
			return
		}
		l.metrics.microtasksDrained.Add(1)
		l.safeCall(fn)
	}
}

// safeCall runs fn, logging (rather than propagating) any panic: a
// single misbehaving callback must never take down the loop, matching
// spec.md §4.3's "no rejection is silently dropped, no panic escapes
// the loop" requirement.
func (l *Loop) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logError("recovered panic in loop callback")
		}
	}()
	fn()
}

// Shutdown requests that the loop stop after its currently-queued work
// (fibers, timers, microtasks, and anything already submitted from other
// goroutines) drains, without waiting for further external submissions.
// Safe to call from any goroutine, any number of times, including
// before [Loop.Run] is first called — in that case, Run still performs
// one full drain of whatever was queued before it started, then exits,
// rather than refusing to run at all.
func (l *Loop) Shutdown() {
	l.stopOnce.Do(func() {
		l.shutdownRequested.Store(true)
		l.state.TryTransition(StateRunning, StateTerminating)
		l.state.TryTransition(StateSleeping, StateTerminating)
		l.wake()
	})
}

// Done returns a channel closed once Run has returned.
func (l *Loop) Done() <-chan struct{} { return l.doneCh }

// Reset discards all of the loop's queued and tracked state — new/ready
// fibers, timers, microtasks, everything submitted externally, and the
// promise registry — and re-arms the loop to a fresh Awake state, as if
// it had just been returned by [New]. Grounded on the teacher's own
// test-reset idiom of zeroing a struct's fields directly (see
// eventloop's pSquareMultiQuantile.Reset). Per spec.md §6's "reset (for
// tests)" hook: must only be called on a loop that is not currently
// running (i.e. after Run/driveUntilSettled has returned, or before Run
// is first called).
func (l *Loop) Reset() {
	l.state = newLoopState()
	l.loopGoroutineID.Store(0)
	l.running.Store(false)
	l.shutdownRequested.Store(false)

	l.microtasks = newMicrotaskRing()
	l.newFibers = nil
	l.readyFibers = nil
	l.timers = make(timerHeap, 0)
	l.timerSeq = 0

	l.extMu.Lock()
	l.extFibers = nil
	l.extReady = nil
	l.extTasks = nil
	l.extTimers = nil
	l.extCancels = nil
	l.extMu.Unlock()

	l.wakeQueued.Store(false)
	select {
	case <-l.wakeCh:
	default:
	}

	l.registry = newPromiseRegistry()
	l.metrics = loopMetrics{}
	l.tickCount = 0
	l.doneCh = make(chan struct{})
	l.stopOnce = sync.Once{}
}
