package async

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelay_ZeroSecondsResolvesOnNextMicrotaskTick(t *testing.T) {
	loop := New()
	p := Delay(loop, 0)

	var fulfilled bool
	p.Then(func(v any) (any, error) {
		fulfilled = true
		assert.Nil(t, v)
		return nil, nil
	}, nil)

	loop.Shutdown()
	require.NoError(t, loop.Run())
	assert.True(t, fulfilled)
}

func TestDelay_PositiveSecondsFiresViaTimer(t *testing.T) {
	loop := New()
	p := Delay(loop, 0.01)

	start := time.Now()
	var elapsed time.Duration
	p.Then(func(v any) (any, error) {
		elapsed = time.Since(start)
		return nil, nil
	}, nil)

	loop.Shutdown()
	require.NoError(t, loop.Run())
	assert.GreaterOrEqual(t, elapsed, 9*time.Millisecond)
}

func TestDelay_CancelPreventsResolution(t *testing.T) {
	loop := New()
	p := Delay(loop, 1)
	resolved := false
	p.Then(func(v any) (any, error) { resolved = true; return nil, nil }, nil)

	p.Cancel()
	loop.Shutdown()
	require.NoError(t, loop.Run())

	assert.False(t, resolved)
	assert.True(t, p.IsCancelled())
}

func TestSleep_FromWithinFiberSuspendsUntilElapsed(t *testing.T) {
	loop := New()
	var done bool
	loop.AddFiber(func() {
		err := Sleep(loop, 0.01)
		require.NoError(t, err)
		done = true
	})
	loop.Shutdown()
	require.NoError(t, loop.Run())
	assert.True(t, done)
}
