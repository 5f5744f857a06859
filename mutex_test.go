package async

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMutex_AcquireIsFIFO(t *testing.T) {
	loop := New()
	mu := NewMutex(loop)
	var order []int

	loop.AddFiber(func() {
		g1, err := Await(loop, mu.Acquire())
		require.NoError(t, err)
		order = append(order, 1)

		loop.AddFiber(func() {
			g2, err := Await(loop, mu.Acquire())
			require.NoError(t, err)
			order = append(order, 2)
			g2.(*Guard).Release()
		})
		loop.AddFiber(func() {
			_, err := Await(loop, mu.Acquire())
			require.NoError(t, err)
			order = append(order, 3)
		})

		Sleep(loop, 0.01)
		g1.(*Guard).Release()
	})

	loop.Shutdown()
	require.NoError(t, loop.Run())
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestMutex_ReleaseIsIdempotent(t *testing.T) {
	loop := New()
	mu := NewMutex(loop)
	loop.AddFiber(func() {
		v, err := Await(loop, mu.Acquire())
		require.NoError(t, err)
		g := v.(*Guard)
		g.Release()
		assert.NotPanics(t, func() { g.Release() })
	})
	loop.Shutdown()
	require.NoError(t, loop.Run())
	assert.False(t, mu.IsLocked())
}

func TestMutex_IsLockedAndQueueLengthReflectState(t *testing.T) {
	loop := New()
	mu := NewMutex(loop)
	assert.False(t, mu.IsLocked())

	var guard *Guard
	loop.AddFiber(func() {
		v, _ := Await(loop, mu.Acquire())
		guard = v.(*Guard)
	})
	loop.AddFiber(func() {
		Await(loop, mu.Acquire())
	})

	loop.Shutdown()
	require.NoError(t, loop.Run())

	assert.True(t, mu.IsLocked())
	assert.Equal(t, 1, mu.QueueLength())
	_ = guard
}

func TestMutex_AcquireCancellableSkipsCancelledWaiterOnRelease(t *testing.T) {
	loop := New()
	mu := NewMutex(loop)
	src := NewCancellationTokenSource(loop)

	var order []int
	loop.AddFiber(func() {
		v, _ := Await(loop, mu.Acquire())
		g := v.(*Guard)

		loop.AddFiber(func() {
			_, err := Await(loop, mu.AcquireCancellable(src.Token()))
			if err != nil {
				order = append(order, -1)
				return
			}
			order = append(order, 2)
		})
		loop.AddFiber(func() {
			_, err := Await(loop, mu.Acquire())
			require.NoError(t, err)
			order = append(order, 3)
		})

		// Let both fibers above actually enqueue as waiters before
		// cancelling; otherwise they'd race AddFiber's deferred start.
		Sleep(loop, 0.01)

		src.Cancel()
		// Cancellation fires its OnCancel callbacks as a microtask; give
		// it a tick to run before releasing so the skip flag is set.
		Sleep(loop, 0)
		g.Release()
	})

	loop.Shutdown()
	require.NoError(t, loop.Run())
	assert.Equal(t, []int{-1, 3}, order)
}
