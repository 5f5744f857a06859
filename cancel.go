package async

// CancellationTokenSource owns cancellation authority over a single
// [CancellationToken], per spec.md §4.10. Grounded on eventtarget.go's
// DOM-style EventTarget: a CancellationTokenSource dispatches a one-shot
// "cancel" event to every tracked promise and every onCancel listener,
// exactly once.
type CancellationTokenSource struct {
	loop      *Loop
	token     *CancellationToken
	timeoutID uint64
}

// NewCancellationTokenSource constructs a source and its token. If
// timeoutSeconds is supplied (and positive), the source cancels itself
// automatically after that many seconds, per spec.md §4.10's optional
// constructor timeout.
func NewCancellationTokenSource(loop *Loop, timeoutSeconds ...float64) *CancellationTokenSource {
	s := &CancellationTokenSource{
		loop:  loop,
		token: newCancellationToken(loop),
	}
	if len(timeoutSeconds) > 0 && timeoutSeconds[0] > 0 {
		s.CancelAfter(timeoutSeconds[0])
	}
	return s
}

// Token returns the source's associated token.
func (s *CancellationTokenSource) Token() *CancellationToken { return s.token }

// Cancel idempotently cancels the token: sets it cancelled exactly once,
// cancels every tracked promise in insertion order, fires every
// registered onCancel callback in registration order, then clears both
// sets. Subsequent calls are no-ops.
func (s *CancellationTokenSource) Cancel() { s.token.cancel() }

// CancelAfter schedules (replacing any existing scheduled auto-cancel)
// an automatic Cancel() after seconds elapse. A no-op if the token is
// already cancelled.
func (s *CancellationTokenSource) CancelAfter(seconds float64) {
	if s.token.IsCancelled() {
		return
	}
	if s.timeoutID != 0 {
		s.loop.CancelTimer(s.timeoutID)
	}
	s.timeoutID = s.loop.AddTimer(durationFromSeconds(seconds), s.Cancel)
}

// CreateLinkedTokenSource returns a new source whose token cancels as
// soon as any of tokens does. If any input is already cancelled, the new
// source's token is cancelled synchronously before this function
// returns.
func CreateLinkedTokenSource(loop *Loop, tokens ...*CancellationToken) *CancellationTokenSource {
	s := NewCancellationTokenSource(loop)
	for _, t := range tokens {
		if t == nil {
			continue
		}
		if t.IsCancelled() {
			s.Cancel()
			return s
		}
	}
	for _, t := range tokens {
		if t == nil {
			continue
		}
		t.OnCancel(s.Cancel)
	}
	return s
}

// cancelRegistration pairs a registered onCancel listener with the id
// used to remove it, mirroring eventtarget.listenerEntry's id-based
// removal scheme (Go func values aren't comparable).
type cancelRegistration struct {
	id uint64
	fn func()
}

// CancellationToken is the consumer-facing half of a
// [CancellationTokenSource]: it exposes cancellation state, lets code
// track promises for automatic cancellation, and register cleanup
// callbacks.
type CancellationToken struct {
	loop      *Loop
	cancelled bool

	trackedOrder []*Promise
	tracked      map[*Promise]bool

	callbacks []cancelRegistration
	nextCbID  uint64
}

func newCancellationToken(loop *Loop) *CancellationToken {
	return &CancellationToken{
		loop:    loop,
		tracked: make(map[*Promise]bool),
	}
}

// IsCancelled reports whether the token's source has cancelled it.
func (t *CancellationToken) IsCancelled() bool { return t.cancelled }

// GetTrackedCount returns the number of promises currently tracked by this
// token, per spec.md §8's invariant that it decreases by one whenever a
// tracked promise settles (untracking happens automatically, see Track).
func (t *CancellationToken) GetTrackedCount() int { return len(t.trackedOrder) }

// Track attaches p to this token: if the token is cancelled, p is
// cancelled immediately. Otherwise p is auto-untracked as soon as it
// settles (so a long-lived token does not pin arbitrarily many settled
// promises), and cancelled if/when the token later is.
func (t *CancellationToken) Track(p *Promise) *Promise {
	if p == nil {
		return p
	}
	if t == noneToken {
		return p
	}
	if t.cancelled {
		p.Cancel()
		return p
	}
	if t.tracked[p] {
		return p
	}
	t.tracked[p] = true
	t.trackedOrder = append(t.trackedOrder, p)
	p.Finally(func() { t.Untrack(p) })
	return p
}

func (t *CancellationToken) track(p *Promise) { t.Track(p) }

// Untrack detaches p from this token, if it was tracked.
func (t *CancellationToken) Untrack(p *Promise) {
	if !t.tracked[p] {
		return
	}
	delete(t.tracked, p)
	for i, tp := range t.trackedOrder {
		if tp == p {
			t.trackedOrder = append(t.trackedOrder[:i], t.trackedOrder[i+1:]...)
			break
		}
	}
}

// ClearTracked detaches every currently tracked promise without
// cancelling them.
func (t *CancellationToken) ClearTracked() {
	t.tracked = make(map[*Promise]bool)
	t.trackedOrder = nil
}

// OnCancel registers cb to run when the token is cancelled, returning a
// [Registration] that can later dispose it. If the token is already
// cancelled, cb runs synchronously and the returned Registration is
// already disposed, per spec.md §4.10.
func (t *CancellationToken) OnCancel(cb func()) *Registration {
	if cb == nil {
		return &Registration{disposed: true}
	}
	if t == noneToken {
		return &Registration{disposed: true}
	}
	if t.cancelled {
		cb()
		return &Registration{disposed: true}
	}
	t.nextCbID++
	id := t.nextCbID
	t.callbacks = append(t.callbacks, cancelRegistration{id: id, fn: cb})
	return &Registration{token: t, id: id}
}

// ThrowIfCancelled fails with [CancelledError] if the token is
// cancelled; otherwise it is a no-op.
func (t *CancellationToken) ThrowIfCancelled() error {
	if t.cancelled {
		return &CancelledError{}
	}
	return nil
}

func (t *CancellationToken) cancel() {
	if t.cancelled {
		return
	}
	t.cancelled = true

	tracked := t.trackedOrder
	t.trackedOrder = nil
	t.tracked = make(map[*Promise]bool)
	for _, p := range tracked {
		p.Cancel()
	}

	callbacks := t.callbacks
	t.callbacks = nil
	for _, cb := range callbacks {
		cb.fn()
	}
}

func (t *CancellationToken) removeCallback(id uint64) {
	for i, cb := range t.callbacks {
		if cb.id == id {
			t.callbacks = append(t.callbacks[:i], t.callbacks[i+1:]...)
			return
		}
	}
}

// Registration represents a single [CancellationToken.OnCancel]
// subscription, disposable exactly once.
type Registration struct {
	token    *CancellationToken
	id       uint64
	disposed bool
}

// Dispose removes the associated callback if it is still registered.
// Idempotent.
func (r *Registration) Dispose() {
	if r.disposed {
		return
	}
	r.disposed = true
	if r.token != nil {
		r.token.removeCallback(r.id)
	}
}

var noneToken = &CancellationToken{cancelled: false, tracked: map[*Promise]bool{}}

// NoneToken returns a singleton token that can never be cancelled: its
// OnCancel always returns a pre-disposed Registration and Track is a
// no-op (it never cancels whatever is passed to it), per spec.md
// §4.10's CancellationToken.none().
func NoneToken() *CancellationToken { return noneToken }
