package async

import "sync/atomic"

// LoopMetrics is a point-in-time snapshot of [Loop.Metrics], useful for
// tests and diagnostics. All counters are cumulative since the loop was
// constructed or last reset with [Loop.Reset].
type LoopMetrics struct {
	Ticks             uint64
	FibersStarted     uint64
	FibersResumed     uint64
	FibersTerminated  uint64
	TimersFired       uint64
	TimersCancelled   uint64
	MicrotasksDrained uint64
}

// loopMetrics holds the live atomic counters backing [Loop.Metrics].
// Grounded on eventloop.Loop's tickCount field, generalized into a small
// counter set covering every scheduling primitive the runtime exposes.
type loopMetrics struct {
	ticks             atomic.Uint64
	fibersStarted     atomic.Uint64
	fibersResumed     atomic.Uint64
	fibersTerminated  atomic.Uint64
	timersFired       atomic.Uint64
	timersCancelled   atomic.Uint64
	microtasksDrained atomic.Uint64
}

func (m *loopMetrics) snapshot() LoopMetrics {
	return LoopMetrics{
		Ticks:             m.ticks.Load(),
		FibersStarted:     m.fibersStarted.Load(),
		FibersResumed:     m.fibersResumed.Load(),
		FibersTerminated:  m.fibersTerminated.Load(),
		TimersFired:       m.timersFired.Load(),
		TimersCancelled:   m.timersCancelled.Load(),
		MicrotasksDrained: m.microtasksDrained.Load(),
	}
}

// Metrics returns a snapshot of the loop's cumulative scheduling counters.
// Safe to call from any goroutine.
func (l *Loop) Metrics() LoopMetrics {
	return l.metrics.snapshot()
}
