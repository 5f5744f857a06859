package async

// Mutex is a strict-FIFO async mutex: acquire returns a promise of a
// [Guard] rather than blocking a thread, per spec.md §4.9. All state
// (locked flag, waiter queue) is only ever touched from the loop's
// single active goroutine, so — like [Promise] — it needs no internal
// lock despite the name.
type Mutex struct {
	loop    *Loop
	locked  bool
	waiters []*waiter
}

type waiter struct {
	resolve  func(any)
	released *bool // if non-nil and true when popped, this waiter is skipped (its awaiter was cancelled)
}

// NewMutex constructs an unlocked [Mutex] bound to loop.
func NewMutex(loop *Loop) *Mutex {
	return &Mutex{loop: loop}
}

// Guard represents ownership of a [Mutex], acquired via [Mutex.Acquire].
// Release is idempotent: releasing an already-released guard is a no-op.
type Guard struct {
	mu       *Mutex
	released bool
}

// Acquire returns a promise that resolves with a [Guard] once this
// caller owns the mutex. If the mutex is free, the promise resolves
// immediately (as a microtask); otherwise the caller is enqueued and
// resolved in strict FIFO order as earlier holders release.
func (m *Mutex) Acquire() *Promise {
	p, resolve, _ := NewDeferred(m.loop)
	if !m.locked {
		m.locked = true
		m.loop.NextTick(func() { resolve(&Guard{mu: m}) })
		return p
	}
	released := false
	m.waiters = append(m.waiters, &waiter{
		resolve:  resolve,
		released: &released,
	})
	p.OnCancel(func() { released = true })
	return p
}

// AcquireCancellable behaves like Acquire, but if token is cancelled
// while this caller is still queued, the waiter is marked skippable and
// dropped the next time it would otherwise be handed the lock. Per
// spec.md §4.9: "a waiter whose awaiter has been cancelled should be
// skipped on release".
func (m *Mutex) AcquireCancellable(token *CancellationToken) *Promise {
	p := m.Acquire()
	if token != nil {
		token.track(p)
	}
	return p
}

// Release hands the mutex to the next FIFO waiter (skipping any whose
// awaiter was cancelled in the meantime), or clears the locked flag if
// the queue is empty. Releasing an already-released guard is a no-op.
func (g *Guard) Release() {
	if g.released {
		return
	}
	g.released = true
	m := g.mu

	for len(m.waiters) > 0 {
		next := m.waiters[0]
		m.waiters = m.waiters[1:]
		if next.released != nil && *next.released {
			continue
		}
		m.loop.NextTick(func() { next.resolve(&Guard{mu: m}) })
		return
	}
	m.locked = false
}

// IsLocked reports whether the mutex is currently held.
func (m *Mutex) IsLocked() bool { return m.locked }

// QueueLength returns the number of waiters still queued for the mutex.
func (m *Mutex) QueueLength() int { return len(m.waiters) }

// IsQueueEmpty reports whether no one is waiting for the mutex.
func (m *Mutex) IsQueueEmpty() bool { return len(m.waiters) == 0 }
