// Package async provides a single-threaded, cooperative fiber-and-promise
// runtime: an event [Loop] that multiplexes stackful [Fiber] coroutines,
// timers and microtasks, an eagerly-constructed [Promise] machinery with
// then/catch/onCancel continuations, and a set of structured-concurrency
// combinators ([All], [AllSettled], [Race], [Any], [Timeout], [Concurrent],
// [Batch]) plus a FIFO [Mutex] and cooperative cancellation via
// [CancellationTokenSource].
//
// # Architecture
//
// [Fiber]s are implemented as green threads: each fiber owns a goroutine
// that is parked on a channel handoff with the [Loop], so that at any
// instant exactly one of {the loop, a fiber} is actually executing user
// code. This gives the single-threaded semantics the runtime promises
// (no locks are required around promise/mutex/token state) while still
// using goroutines as the underlying stackful-coroutine mechanism.
//
// # Usage
//
//	loop := async.New()
//
//	task := async.Async(loop, func() (any, error) {
//		async.Sleep(loop, 0.01)
//		return 42, nil
//	})
//	p := task()
//	// Outside any fiber, Await drives the loop itself until p settles
//	// (v == 42). It returns ErrLoopAlreadyRunning if Run is already
//	// driving the loop on another goroutine.
//	v, err := async.Await(loop, p)
//
// # Thread Safety
//
// [Loop.ScheduleFiber]/[Loop.AddFiber]/[Loop.NextTick]/[Loop.AddTimer]/
// [Loop.CancelTimer]/[Loop.Shutdown] are safe to call from any goroutine.
// Promise, Mutex and CancellationToken state is only ever mutated from
// inside the fiber/loop handoff, so no additional synchronization is
// required there.
package async
