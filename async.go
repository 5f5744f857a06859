package async

// Callable is the body of an asynchronous operation: it runs inside its
// own fiber and its return value/error become the settlement of the
// promise [Async] hands back. Combinator tasks use the separate
// [TaskFunc] shape (func() any), so a Callable is not itself a task.
type Callable func() (any, error)

// Async wraps fn into a reusable factory: each call to the returned
// function starts a fresh fiber running fn and returns a new promise
// immediately, settled when that fiber's body returns (or panics), per
// spec.md §4.4. The fiber and promise are coupled only through the
// resolver closure: the promise may outlive the fiber, but the fiber
// terminates as soon as resolve/reject is called.
func Async(loop *Loop, fn Callable) func() *Promise {
	return func() *Promise {
		return AsyncImmediate(loop, fn)
	}
}

// AsyncImmediate is the immediate form of [Async]: it starts the fiber
// and returns its promise directly, without an intermediate factory
// function. Matches spec.md §4.4's asyncFn/asyncImmediate convenience
// form.
func AsyncImmediate(loop *Loop, fn Callable) *Promise {
	p, resolve, reject := NewDeferred(loop)
	loop.AddFiber(func() {
		defer func() {
			if r := recover(); r != nil {
				reject(asPanicError(r))
			}
		}()
		value, err := fn()
		if err != nil {
			reject(err)
			return
		}
		resolve(value)
	})
	return p
}
