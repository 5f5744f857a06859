package async

import (
	"sync/atomic"
)

// PromiseState is the lifecycle state of a [Promise], per spec.md §3.
type PromiseState int32

const (
	// PromisePending indicates the promise has not yet settled.
	PromisePending PromiseState = iota
	// PromiseFulfilled indicates the promise settled with a value.
	PromiseFulfilled
	// PromiseRejected indicates the promise settled with a reason.
	PromiseRejected
	// PromiseCancelled indicates the promise was cancelled before settling.
	// Cancelled is terminal: resolving or rejecting a cancelled promise is
	// a no-op, per spec.md §3's Promise invariants.
	PromiseCancelled
)

func (s PromiseState) String() string {
	switch s {
	case PromisePending:
		return "Pending"
	case PromiseFulfilled:
		return "Fulfilled"
	case PromiseRejected:
		return "Rejected"
	case PromiseCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// FulfillHandler reacts to a promise's fulfillment value, optionally
// producing a new value or error for the derived promise returned by
// [Promise.Then].
type FulfillHandler func(value any) (any, error)

// RejectHandler reacts to a promise's rejection reason, optionally
// recovering with a new value or re-wrapping the error for the derived
// promise.
type RejectHandler func(reason error) (any, error)

type thenPair struct {
	onFulfilled FulfillHandler
	onRejected  RejectHandler
	child       *Promise
}

// Promise is an eagerly-evaluated future value, per spec.md §3/§4.3. It
// is a dynamically-typed value container (mirroring the spec's
// integer-or-string/any-valued data model) rather than a generic
// Promise[T]: combinators and the untyped collection types this runtime
// deals in (e.g. [OrderedMap]) would otherwise force type-erasure right
// back to `any` at every call site anyway.
//
// Grounded on eventloop.ChainedPromise's state machine and handler-list
// design, simplified per spec.md §5: because all of a Promise's state is
// only ever mutated from the single active goroutine (the loop, or the
// fiber it has handed the baton to), no internal mutex is needed — only
// the atomic state field, which is also read lock-free by queries from
// arbitrary goroutines (tests, ToChannel consumers).
type Promise struct {
	loop *Loop
	id   uint64

	state atomic.Int32
	value any
	err   error

	thenCbs    []thenPair
	cancelCbs  []func()
	cancelHook func()

	channels []chan Settlement
}

// Settlement is what a [Promise.ToChannel] consumer receives: exactly
// one of Value/Err is meaningful, selected by State.
type Settlement struct {
	State PromiseState
	Value any
	Err   error
}

// NewPromise constructs a pending promise and invokes executor
// synchronously with resolve/reject closures that settle it at most
// once. A panic escaping executor is recovered and treated as a reject,
// per spec.md §4.3 ("throws from the executor must be caught and
// treated as reject").
func NewPromise(loop *Loop, executor func(resolve func(any), reject func(error))) *Promise {
	p := newPendingPromise(loop)
	if executor == nil {
		return p
	}
	func() {
		defer func() {
			if r := recover(); r != nil {
				p.reject(asPanicError(r))
			}
		}()
		executor(p.resolve, p.reject)
	}()
	return p
}

// NewDeferred returns a pending promise together with its resolve and
// reject functions, for producers (timers, combinators, Promisify-style
// wrappers) that settle a promise from outside an executor closure.
// Grounded on eventloop.NewChainedPromise's (promise, resolve, reject)
// triple.
func NewDeferred(loop *Loop) (p *Promise, resolve func(any), reject func(error)) {
	p = newPendingPromise(loop)
	return p, p.resolve, p.reject
}

func newPendingPromise(loop *Loop) *Promise {
	p := &Promise{loop: loop}
	if loop != nil {
		p.id = loop.registry.nextID()
		loop.registry.track(p)
	}
	p.state.Store(int32(PromisePending))
	return p
}

// Resolved returns a promise already fulfilled with value.
func Resolved(loop *Loop, value any) *Promise {
	p, resolve, _ := NewDeferred(loop)
	resolve(value)
	return p
}

// Rejected returns a promise already rejected with reason.
func Rejected(loop *Loop, reason error) *Promise {
	p, _, reject := NewDeferred(loop)
	reject(reason)
	return p
}

// ID returns an identifier for diagnostics only. It is unique among the
// promises created on the same loop since that loop was constructed or
// last reset, and is zero for a promise created without a loop.
func (p *Promise) ID() uint64 { return p.id }

// State returns the promise's current settlement state. Safe to call
// from any goroutine.
func (p *Promise) State() PromiseState { return PromiseState(p.state.Load()) }

func (p *Promise) IsPending() bool   { return p.State() == PromisePending }
func (p *Promise) IsFulfilled() bool { return p.State() == PromiseFulfilled }
func (p *Promise) IsRejected() bool  { return p.State() == PromiseRejected }
func (p *Promise) IsCancelled() bool { return p.State() == PromiseCancelled }

// Value returns the fulfillment value, or nil if not fulfilled.
func (p *Promise) Value() any {
	if p.IsFulfilled() {
		return p.value
	}
	return nil
}

// Reason returns the rejection reason, or nil if not rejected.
func (p *Promise) Reason() error {
	if p.IsRejected() {
		return p.err
	}
	return nil
}

// setCancelHook installs the single producer-supplied cleanup hook run
// when this promise is cancelled (e.g. a Timer cancelling its
// underlying loop timer). Intended to be called once, immediately after
// construction, by the producer.
func (p *Promise) setCancelHook(hook func()) { p.cancelHook = hook }

// resolve settles p as fulfilled with value, unless p is already
// non-pending (a no-op, including when p is cancelled). If value is
// itself a *Promise, p adopts its eventual state instead of wrapping it,
// per spec.md §4.3's promise-follow semantics.
func (p *Promise) resolve(value any) {
	if inner, ok := value.(*Promise); ok {
		if inner == p {
			p.reject(&InvalidArgumentError{Message: "promise resolved with itself"})
			return
		}
		inner.Then(
			func(v any) (any, error) { p.resolve(v); return nil, nil },
			func(e error) (any, error) { p.reject(e); return nil, nil },
		)
		inner.addCancelCallback(func() { p.cancel() })
		return
	}

	if !p.state.CompareAndSwap(int32(PromisePending), int32(PromiseFulfilled)) {
		return
	}
	p.value = value

	cbs := p.thenCbs
	p.thenCbs = nil
	p.cancelCbs = nil
	for _, cb := range cbs {
		p.scheduleThen(cb, PromiseFulfilled, value, nil)
	}
	p.notifyChannels(PromiseFulfilled, value, nil)
}

// reject settles p as rejected with err, unless p is already non-pending.
func (p *Promise) reject(err error) {
	if !p.state.CompareAndSwap(int32(PromisePending), int32(PromiseRejected)) {
		return
	}
	p.err = err

	cbs := p.thenCbs
	p.thenCbs = nil
	p.cancelCbs = nil
	for _, cb := range cbs {
		p.scheduleThen(cb, PromiseRejected, nil, err)
	}
	p.notifyChannels(PromiseRejected, nil, err)
}

// cancel transitions a pending promise to cancelled, per spec.md §4.3:
// fires the producer's cancellation hook (if any), then the registered
// onCancel callbacks in registration order. A no-op if already settled.
func (p *Promise) cancel() {
	if !p.state.CompareAndSwap(int32(PromisePending), int32(PromiseCancelled)) {
		return
	}
	if p.cancelHook != nil {
		p.cancelHook()
	}
	cbs := p.cancelCbs
	p.cancelCbs = nil
	p.thenCbs = nil
	for _, cb := range cbs {
		cb := cb
		if p.loop != nil {
			p.loop.NextTick(cb)
		} else {
			cb()
		}
	}
	p.notifyChannels(PromiseCancelled, nil, nil)
}

// Cancel is the public, idempotent entry point for cancelling this
// promise from outside its producer.
func (p *Promise) Cancel() { p.cancel() }

func (p *Promise) notifyChannels(state PromiseState, value any, err error) {
	chans := p.channels
	p.channels = nil
	for _, ch := range chans {
		ch <- Settlement{State: state, Value: value, Err: err}
		close(ch)
	}
}

// Then registers fulfillment/rejection handlers, returning a derived
// promise settled by the handler's return. Either handler may be nil,
// in which case the corresponding settlement passes through to the
// derived promise unchanged. Per spec.md §4.3, if p is already settled
// the handler runs as a microtask (never synchronously from within
// Then); if still pending, it is stored and scheduled as a microtask
// when p settles.
func (p *Promise) Then(onFulfilled FulfillHandler, onRejected RejectHandler) *Promise {
	child := newPendingPromise(p.loop)
	pair := thenPair{onFulfilled: onFulfilled, onRejected: onRejected, child: child}

	state := p.State()
	if state == PromisePending {
		p.thenCbs = append(p.thenCbs, pair)
		p.cancelCbs = append(p.cancelCbs, func() { child.cancel() })
		return child
	}
	switch state {
	case PromiseFulfilled:
		p.scheduleThen(pair, PromiseFulfilled, p.value, nil)
	case PromiseRejected:
		p.scheduleThen(pair, PromiseRejected, nil, p.err)
	case PromiseCancelled:
		if p.loop != nil {
			p.loop.NextTick(func() { child.cancel() })
		} else {
			child.cancel()
		}
	}
	return child
}

// Catch is shorthand for Then(nil, onRejected).
func (p *Promise) Catch(onRejected RejectHandler) *Promise {
	return p.Then(nil, onRejected)
}

// Finally registers fn to run on any settlement (fulfilled, rejected, or
// cancelled), without observing or altering the outcome; the derived
// promise settles identically to p. A panic in fn is recovered and
// discarded. Supplements spec.md's chaining contract, grounded on
// eventloop.ChainedPromise.Finally.
func (p *Promise) Finally(fn func()) *Promise {
	call := func() {
		if fn == nil {
			return
		}
		defer func() { _ = recover() }()
		fn()
	}
	child := p.Then(
		func(v any) (any, error) {
			call()
			return v, nil
		},
		func(e error) (any, error) {
			call()
			return nil, e
		},
	)
	p.addCancelCallback(call)
	return child
}

// OnCancel registers cb to run if and only if p is cancelled. If p is
// already cancelled, cb runs as a microtask (consistent with Then's
// settled-callback scheduling).
func (p *Promise) OnCancel(cb func()) {
	if cb == nil {
		return
	}
	if p.State() == PromisePending {
		p.addCancelCallback(cb)
		return
	}
	if p.State() == PromiseCancelled {
		if p.loop != nil {
			p.loop.NextTick(cb)
		} else {
			cb()
		}
	}
}

func (p *Promise) addCancelCallback(cb func()) {
	if p.State() != PromisePending {
		return
	}
	p.cancelCbs = append(p.cancelCbs, cb)
}

func (p *Promise) scheduleThen(pair thenPair, state PromiseState, value any, err error) {
	run := func() {
		var (
			res    any
			resErr error
			ran    bool
		)
		func() {
			defer func() {
				if r := recover(); r != nil {
					resErr = asPanicError(r)
					ran = true
				}
			}()
			switch state {
			case PromiseFulfilled:
				if pair.onFulfilled != nil {
					res, resErr = pair.onFulfilled(value)
					ran = true
				}
			case PromiseRejected:
				if pair.onRejected != nil {
					res, resErr = pair.onRejected(err)
					ran = true
				}
			}
		}()
		if !ran {
			// Pass-through: no handler for this settlement kind.
			if state == PromiseFulfilled {
				pair.child.resolve(value)
			} else {
				pair.child.reject(err)
			}
			return
		}
		if resErr != nil {
			pair.child.reject(resErr)
			return
		}
		pair.child.resolve(res)
	}
	if p.loop != nil {
		p.loop.NextTick(run)
		return
	}
	run()
}

// ToChannel returns a buffered, single-message channel that receives the
// promise's settlement. If p is already settled, the channel is
// pre-filled. Supplements spec.md, grounded on
// eventloop.ChainedPromise.ToChannel.
func (p *Promise) ToChannel() <-chan Settlement {
	ch := make(chan Settlement, 1)
	state := p.State()
	if state == PromisePending {
		p.channels = append(p.channels, ch)
		return ch
	}
	ch <- Settlement{State: state, Value: p.value, Err: p.err}
	close(ch)
	return ch
}

func asPanicError(r any) error {
	if err, ok := r.(error); ok {
		return PanicError{Value: err}
	}
	return PanicError{Value: r}
}
