package async

// Await suspends the calling fiber until p settles, returning its
// fulfillment value or an error derived from its rejection/cancellation
// reason, per spec.md §4.5. If one or more tokens are supplied, p is
// tracked with each of them for the duration of the wait (auto-untracked
// on settlement, per spec.md §4.10).
//
// Outside any fiber, Await instead drives the event loop directly (a
// blocking wait) until p settles, per spec.md §5's "await(p,
// blocking=true) from outside any fiber may drive the loop, but only
// when the loop is not already running" — calling it while the loop is
// already running (from another goroutine, or reentrantly from the loop
// goroutine itself) returns [ErrLoopAlreadyRunning] / [ErrReentrantRun].
func Await(loop *Loop, p *Promise, tokens ...*CancellationToken) (any, error) {
	for _, t := range tokens {
		if t != nil {
			t.track(p)
		}
	}

	if !InFiber() {
		return loop.driveUntilSettled(p)
	}

	if p.IsCancelled() {
		return nil, &CancelledError{}
	}
	switch p.State() {
	case PromiseFulfilled:
		return p.Value(), nil
	case PromiseRejected:
		return nil, p.Reason()
	}

	f := CurrentFiber()

	var (
		value any
		err   error
	)
	p.Then(
		func(v any) (any, error) {
			value = v
			loop.ScheduleFiber(f)
			return nil, nil
		},
		func(e error) (any, error) {
			err = e
			loop.ScheduleFiber(f)
			return nil, nil
		},
	)
	p.OnCancel(func() {
		loop.ScheduleFiber(f)
	})

	f.suspend()

	if p.IsCancelled() {
		return nil, &CancelledError{}
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

// driveUntilSettled temporarily claims the loop (as if entering Run) and
// ticks it until p settles, then releases it back to Awake so a later
// Run or another blocking Await can still claim it. Grounded on
// eventloop's "re-entry into run() is forbidden" invariant, generalized
// to a short-lived drive-to-completion rather than drive-forever.
func (l *Loop) driveUntilSettled(p *Promise) (any, error) {
	if l.isLoopThread() {
		return nil, ErrReentrantRun
	}
	if !l.state.TryTransition(StateAwake, StateRunning) {
		switch l.state.Load() {
		case StateTerminated, StateTerminating:
			return nil, ErrLoopTerminated
		default:
			return nil, ErrLoopAlreadyRunning
		}
	}

	l.loopGoroutineID.Store(currentGoroutineID())
	l.running.Store(true)
	defer func() {
		l.running.Store(false)
		l.state.TryTransition(StateRunning, StateAwake)
	}()

	l.drainExternal()
	for p.State() == PromisePending {
		l.tick()
		if p.State() != PromisePending {
			break
		}
		if l.idle() {
			if !l.sleepUntilWork() {
				return nil, ErrLoopTerminated
			}
		}
		l.drainExternal()
	}

	switch p.State() {
	case PromiseCancelled:
		return nil, &CancelledError{}
	case PromiseRejected:
		return nil, p.Reason()
	default:
		return p.Value(), nil
	}
}
