package async

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsyncImmediate_ResolvesWithBodysReturnValue(t *testing.T) {
	loop := New()
	p := AsyncImmediate(loop, func() (any, error) {
		return 42, nil
	})

	loop.Shutdown()
	require.NoError(t, loop.Run())

	assert.True(t, p.IsFulfilled())
	assert.Equal(t, 42, p.Value())
}

func TestAsyncImmediate_RejectsOnReturnedError(t *testing.T) {
	loop := New()
	sentinel := errors.New("nope")
	p := AsyncImmediate(loop, func() (any, error) {
		return nil, sentinel
	})

	loop.Shutdown()
	require.NoError(t, loop.Run())

	assert.True(t, p.IsRejected())
	assert.ErrorIs(t, p.Reason(), sentinel)
}

func TestAsyncImmediate_RecoversPanicAsRejection(t *testing.T) {
	loop := New()
	p := AsyncImmediate(loop, func() (any, error) {
		panic("boom")
	})

	loop.Shutdown()
	require.NoError(t, loop.Run())

	assert.True(t, p.IsRejected())
	require.Error(t, p.Reason())
}

func TestAsync_FactoryProducesFreshPromisePerCall(t *testing.T) {
	loop := New()
	var calls int
	factory := Async(loop, func() (any, error) {
		calls++
		return calls, nil
	})

	p1 := factory()
	p2 := factory()
	assert.NotSame(t, p1, p2)

	loop.Shutdown()
	require.NoError(t, loop.Run())

	assert.Equal(t, 1, p1.Value())
	assert.Equal(t, 2, p2.Value())
}

func TestAsyncImmediate_BodyCanAwaitOtherPromises(t *testing.T) {
	loop := New()
	inner := Resolved(loop, "inner")

	p := AsyncImmediate(loop, func() (any, error) {
		v, err := Await(loop, inner)
		if err != nil {
			return nil, err
		}
		return v.(string) + "-wrapped", nil
	})

	loop.Shutdown()
	require.NoError(t, loop.Run())

	assert.Equal(t, "inner-wrapped", p.Value())
}
