package async

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCancellationTokenSource_CancelCancelsTrackedPromisesInOrder(t *testing.T) {
	loop := New()
	src := NewCancellationTokenSource(loop)
	tok := src.Token()

	p1, _, _ := NewDeferred(loop)
	p2, _, _ := NewDeferred(loop)
	tok.Track(p1)
	tok.Track(p2)

	assert.False(t, tok.IsCancelled())
	src.Cancel()

	assert.True(t, tok.IsCancelled())
	assert.True(t, p1.IsCancelled())
	assert.True(t, p2.IsCancelled())

	// Idempotent: a second Cancel is a no-op.
	assert.NotPanics(t, src.Cancel)
}

func TestCancellationTokenSource_OnCancelFiresOnceOnCancel(t *testing.T) {
	loop := New()
	src := NewCancellationTokenSource(loop)

	var calls int
	src.Token().OnCancel(func() { calls++ })
	src.Cancel()
	src.Cancel()

	assert.Equal(t, 1, calls)
}

func TestCancellationToken_OnCancelAfterAlreadyCancelledRunsImmediately(t *testing.T) {
	loop := New()
	src := NewCancellationTokenSource(loop)
	src.Cancel()

	var ran bool
	reg := src.Token().OnCancel(func() { ran = true })
	assert.True(t, ran)
	assert.NotPanics(t, reg.Dispose)
}

func TestCancellationToken_RegistrationDisposeRemovesCallback(t *testing.T) {
	loop := New()
	src := NewCancellationTokenSource(loop)

	var ran bool
	reg := src.Token().OnCancel(func() { ran = true })
	reg.Dispose()
	src.Cancel()

	assert.False(t, ran)
}

func TestCancellationTokenSource_CancelAfterAutoCancelsOnTimer(t *testing.T) {
	loop := New()
	src := NewCancellationTokenSource(loop, 0.01)

	loop.Shutdown()
	require.NoError(t, loop.Run())

	assert.True(t, src.Token().IsCancelled())
}

func TestCreateLinkedTokenSource_CancelsWhenAnyInputCancels(t *testing.T) {
	loop := New()
	a := NewCancellationTokenSource(loop)
	b := NewCancellationTokenSource(loop)

	linked := CreateLinkedTokenSource(loop, a.Token(), b.Token())
	assert.False(t, linked.Token().IsCancelled())

	b.Cancel()
	assert.True(t, linked.Token().IsCancelled())
}

func TestCreateLinkedTokenSource_AlreadyCancelledInputCancelsImmediately(t *testing.T) {
	loop := New()
	a := NewCancellationTokenSource(loop)
	a.Cancel()

	linked := CreateLinkedTokenSource(loop, a.Token())
	assert.True(t, linked.Token().IsCancelled())
}

func TestNoneToken_NeverCancelsAndTrackIsANoOp(t *testing.T) {
	loop := New()
	none := NoneToken()
	assert.False(t, none.IsCancelled())

	p, _, _ := NewDeferred(loop)
	none.Track(p)
	assert.False(t, p.IsCancelled())

	var ran bool
	reg := none.OnCancel(func() { ran = true })
	assert.False(t, ran)
	reg.Dispose()

	assert.NoError(t, none.ThrowIfCancelled())
}

func TestCancellationToken_ThrowIfCancelled(t *testing.T) {
	loop := New()
	src := NewCancellationTokenSource(loop)
	require.NoError(t, src.Token().ThrowIfCancelled())

	src.Cancel()
	err := src.Token().ThrowIfCancelled()
	require.Error(t, err)
	var cancelled *CancelledError
	assert.ErrorAs(t, err, &cancelled)
}

func TestCancellationToken_TrackAutoUntracksOnSettlement(t *testing.T) {
	loop := New()
	src := NewCancellationTokenSource(loop)
	tok := src.Token()

	p, resolve, _ := NewDeferred(loop)
	tok.Track(p)
	resolve("done")

	loop.Shutdown()
	require.NoError(t, loop.Run())

	// p already settled before Cancel, so cancelling the token afterwards
	// must not retroactively touch it (it was untracked on settlement).
	src.Cancel()
	assert.True(t, p.IsFulfilled())
	assert.Equal(t, "done", p.Value())
}

func TestCancellationToken_GetTrackedCountReflectsLiveTrackedPromises(t *testing.T) {
	loop := New()
	src := NewCancellationTokenSource(loop)
	tok := src.Token()
	assert.Equal(t, 0, tok.GetTrackedCount())

	p1, resolve1, _ := NewDeferred(loop)
	p2, _, _ := NewDeferred(loop)
	tok.Track(p1)
	tok.Track(p2)
	assert.Equal(t, 2, tok.GetTrackedCount())

	// Tracking the same promise twice must not double-count it.
	tok.Track(p1)
	assert.Equal(t, 2, tok.GetTrackedCount())

	resolve1("done")
	loop.Shutdown()
	require.NoError(t, loop.Run())

	// p1 settled, so it is auto-untracked; p2 is still outstanding.
	assert.Equal(t, 1, tok.GetTrackedCount())
}

func TestCancellationToken_GetTrackedCountDropsToZeroOnCancel(t *testing.T) {
	loop := New()
	src := NewCancellationTokenSource(loop)
	tok := src.Token()

	p1, _, _ := NewDeferred(loop)
	p2, _, _ := NewDeferred(loop)
	tok.Track(p1)
	tok.Track(p2)
	require.Equal(t, 2, tok.GetTrackedCount())

	src.Cancel()

	assert.Equal(t, 0, tok.GetTrackedCount())
}

func TestAwait_CancelledDuringWaitReturnsCancelledError(t *testing.T) {
	loop := New()
	src := NewCancellationTokenSource(loop)
	p, _, _ := NewDeferred(loop)

	var gotErr error
	loop.AddFiber(func() {
		_, gotErr = Await(loop, p, src.Token())
	})

	loop.AddTimer(5*time.Millisecond, func() { src.Cancel() })

	loop.Shutdown()
	require.NoError(t, loop.Run())

	require.Error(t, gotErr)
	var cancelled *CancelledError
	assert.ErrorAs(t, gotErr, &cancelled)
}
