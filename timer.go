package async

import "time"

// Delay returns a cancellable promise that resolves with nil after
// seconds elapses, per spec.md §4.6. seconds may be fractional; seconds
// <= 0 resolves on the next microtask tick rather than going through the
// timer heap at all, matching "zero means next microtask tick". The
// promise's cancellation hook cancels the underlying loop timer, so a
// cancelled delay never fires its callback.
func Delay(loop *Loop, seconds float64) *Promise {
	p, resolve, _ := NewDeferred(loop)

	if seconds <= 0 {
		loop.NextTick(func() { resolve(nil) })
		return p
	}

	var timerID uint64
	timerID = loop.AddTimer(durationFromSeconds(seconds), func() { resolve(nil) })
	p.setCancelHook(func() { loop.CancelTimer(timerID) })
	return p
}

// Sleep is sugar for Await(loop, Delay(loop, seconds)), per spec.md §6's
// "sleep(seconds) = await(delay(seconds))".
func Sleep(loop *Loop, seconds float64, tokens ...*CancellationToken) error {
	_, err := Await(loop, Delay(loop, seconds), tokens...)
	return err
}

func durationFromSeconds(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
