package async

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoop_NextTickRunsBeforeReadyFibersInSameTick(t *testing.T) {
	loop := New()
	var order []string

	// The fiber re-queues itself and suspends, so its second run goes
	// through the ready queue rather than the new-fiber queue.
	f := loop.AddFiber(func() {
		self := CurrentFiber()
		loop.ScheduleFiber(self)
		self.suspend()
		order = append(order, "fiber")
	})
	loop.NextTick(func() { order = append(order, "microtask") })
	_ = f

	loop.Shutdown()
	require.NoError(t, loop.Run())

	assert.Equal(t, []string{"microtask", "fiber"}, order)
}

func TestLoop_TimersFireInDeadlineOrder(t *testing.T) {
	loop := New()
	var order []int

	loop.AddTimer(30*time.Millisecond, func() { order = append(order, 3) })
	loop.AddTimer(10*time.Millisecond, func() { order = append(order, 1) })
	loop.AddTimer(20*time.Millisecond, func() { order = append(order, 2) })

	loop.Shutdown()
	require.NoError(t, loop.Run())

	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestLoop_CancelTimerPreventsFiring(t *testing.T) {
	loop := New()
	fired := false
	id := loop.AddTimer(5*time.Millisecond, func() { fired = true })
	assert.True(t, loop.CancelTimer(id))
	assert.False(t, loop.CancelTimer(id))

	loop.Shutdown()
	require.NoError(t, loop.Run())
	assert.False(t, fired)
}

func TestLoop_ExternalSubmissionFromAnotherGoroutineIsDrained(t *testing.T) {
	loop := New()
	done := make(chan struct{})

	go func() {
		defer close(done)
		loop.NextTick(func() {})
	}()

	var ran bool
	go func() {
		<-done
		loop.NextTick(func() { ran = true })
		loop.Shutdown()
	}()

	require.NoError(t, loop.Run())
	assert.True(t, ran)
}

func TestLoop_TickBudgetCapsFibersResumedPerTick(t *testing.T) {
	loop := New(WithTickBudget(1))

	var mu sync.Mutex
	var resumedTicks []uint64

	for i := 0; i < 3; i++ {
		loop.AddFiber(func() {
			// Re-queue and suspend: the budget applies to ready fibers,
			// not to the start of new ones.
			self := CurrentFiber()
			loop.ScheduleFiber(self)
			self.suspend()
			mu.Lock()
			resumedTicks = append(resumedTicks, loop.Metrics().Ticks)
			mu.Unlock()
		})
	}

	loop.Shutdown()
	require.NoError(t, loop.Run())

	assert.Len(t, resumedTicks, 3)
	assert.Equal(t, []uint64{1, 2, 3}, resumedTicks)
}

func TestLoop_MetricsReflectActivity(t *testing.T) {
	loop := New()
	loop.AddFiber(func() {})
	loop.AddTimer(0, func() {})
	loop.NextTick(func() {})

	loop.Shutdown()
	require.NoError(t, loop.Run())

	m := loop.Metrics()
	assert.GreaterOrEqual(t, m.Ticks, uint64(1))
	assert.Equal(t, uint64(1), m.FibersStarted)
	assert.Equal(t, uint64(1), m.FibersTerminated)
	assert.Equal(t, uint64(1), m.TimersFired)
	assert.GreaterOrEqual(t, m.MicrotasksDrained, uint64(1))
}

func TestLoop_ReentrantRunIsRejected(t *testing.T) {
	loop := New()
	var inner error
	loop.AddFiber(func() {
		inner = loop.Run()
	})
	loop.Shutdown()
	require.NoError(t, loop.Run())
	assert.ErrorIs(t, inner, ErrReentrantRun)
}

func TestLoop_RunAfterTerminatedReturnsErrLoopTerminated(t *testing.T) {
	loop := New()
	loop.Shutdown()
	require.NoError(t, loop.Run())
	assert.ErrorIs(t, loop.Run(), ErrLoopTerminated)
}

func TestLoop_ConcurrentRunReturnsErrLoopAlreadyRunning(t *testing.T) {
	loop := New()
	started := make(chan struct{})
	loop.AddFiber(func() {
		close(started)
		Sleep(loop, 0.05)
	})

	errCh := make(chan error, 1)
	go func() { errCh <- loop.Run() }()
	<-started

	assert.ErrorIs(t, loop.Run(), ErrLoopAlreadyRunning)

	loop.Shutdown()
	require.NoError(t, <-errCh)
}

func TestLoop_ShutdownBeforeRunStillDrainsQueuedWork(t *testing.T) {
	loop := New()
	ran := false
	loop.NextTick(func() { ran = true })
	loop.Shutdown()
	require.NoError(t, loop.Run())
	assert.True(t, ran)

	select {
	case <-loop.Done():
	default:
		t.Fatal("expected Done() to be closed after Run returns")
	}
}

func TestLoop_ResetDiscardsStateAndAllowsReuse(t *testing.T) {
	loop := New()
	loop.NextTick(func() {})

	loop.Shutdown()
	require.NoError(t, loop.Run())

	select {
	case <-loop.Done():
	default:
		t.Fatal("expected Done() to be closed after first Run")
	}

	loop.Reset()

	select {
	case <-loop.Done():
		t.Fatal("expected Done() to be a fresh, open channel after Reset")
	default:
	}

	ran := false
	loop.AddFiber(func() { ran = true })
	loop.Shutdown()
	require.NoError(t, loop.Run())
	assert.True(t, ran)
}
