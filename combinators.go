package async

// All resolves with an [OrderedMap] of every task's value, in input
// order, as soon as all have fulfilled; it rejects with the first
// rejection reason, ignoring subsequent settlements, per spec.md §4.7.
// Empty input resolves with an empty map.
func All(loop *Loop, tasks []Task) *Promise {
	result, resolve, reject := NewDeferred(loop)

	if len(tasks) == 0 {
		resolve(NewOrderedMap[any]())
		return result
	}

	values := NewOrderedMap[any]()
	for _, t := range tasks {
		values.Set(t.Key, nil)
	}
	remaining := len(tasks)
	done := false

	for _, t := range tasks {
		t := t
		p := resolveTask(loop, t)
		p.Then(
			func(v any) (any, error) {
				if done {
					return nil, nil
				}
				values.Set(t.Key, v)
				remaining--
				if remaining == 0 {
					done = true
					resolve(values)
				}
				return nil, nil
			},
			func(err error) (any, error) {
				if done {
					return nil, nil
				}
				done = true
				reject(err)
				return nil, nil
			},
		)
	}
	return result
}

// AllSettled always resolves with an [OrderedMap] of [Settlement]
// records, one per task, preserving keys. It never rejects.
func AllSettled(loop *Loop, tasks []Task) *Promise {
	result, resolve, _ := NewDeferred(loop)

	if len(tasks) == 0 {
		resolve(NewOrderedMap[Settlement]())
		return result
	}

	records := NewOrderedMap[Settlement]()
	for _, t := range tasks {
		records.Set(t.Key, Settlement{})
	}
	remaining := len(tasks)

	for _, t := range tasks {
		t := t
		p := resolveTask(loop, t)
		p.Then(
			func(v any) (any, error) {
				records.Set(t.Key, Settlement{State: PromiseFulfilled, Value: v})
				remaining--
				if remaining == 0 {
					resolve(records)
				}
				return nil, nil
			},
			func(err error) (any, error) {
				records.Set(t.Key, Settlement{State: PromiseRejected, Err: err})
				remaining--
				if remaining == 0 {
					resolve(records)
				}
				return nil, nil
			},
		)
		p.OnCancel(func() {
			records.Set(t.Key, Settlement{State: PromiseCancelled})
			remaining--
			if remaining == 0 {
				resolve(records)
			}
		})
	}
	return result
}

// Race settles with whichever task settles first, adopting its value,
// reason, or cancellation. Racing zero tasks is an invalid argument per
// spec.md §4.7 ("race on empty input is undefined by this spec;
// implementation should reject with InvalidArgumentError").
func Race(loop *Loop, tasks []Task) *Promise {
	if len(tasks) == 0 {
		return Rejected(loop, &InvalidArgumentError{Message: "race requires at least one task"})
	}

	result, resolve, reject := NewDeferred(loop)
	done := false

	for _, t := range tasks {
		p := resolveTask(loop, t)
		p.Then(
			func(v any) (any, error) {
				if !done {
					done = true
					resolve(v)
				}
				return nil, nil
			},
			func(err error) (any, error) {
				if !done {
					done = true
					reject(err)
				}
				return nil, nil
			},
		)
		p.OnCancel(func() {
			if !done {
				done = true
				result.cancel()
			}
		})
	}
	return result
}

// Any resolves with the value of the first task to fulfill; if every
// task rejects, it fails with [AggregateError] preserving input order.
// Any on empty input is an invalid argument, symmetrically with Race.
func Any(loop *Loop, tasks []Task) *Promise {
	if len(tasks) == 0 {
		return Rejected(loop, &InvalidArgumentError{Message: "any requires at least one task"})
	}

	result, resolve, reject := NewDeferred(loop)
	errs := make([]error, len(tasks))
	remaining := len(tasks)
	done := false

	for i, t := range tasks {
		i := i
		p := resolveTask(loop, t)
		p.Then(
			func(v any) (any, error) {
				if !done {
					done = true
					resolve(v)
				}
				return nil, nil
			},
			func(err error) (any, error) {
				errs[i] = err
				remaining--
				if !done && remaining == 0 {
					done = true
					reject(&AggregateError{Errors: errs})
				}
				return nil, nil
			},
		)
		p.OnCancel(func() {
			errs[i] = &CancelledError{}
			remaining--
			if !done && remaining == 0 {
				done = true
				reject(&AggregateError{Errors: errs})
			}
		})
	}
	return result
}

// Timeout races p against an internal timer that rejects with
// [TimeoutError] after seconds elapse. seconds <= 0 fails synchronously
// with [InvalidArgumentError], before any racing begins, per spec.md
// §4.7.
func Timeout(loop *Loop, p *Promise, seconds float64) *Promise {
	if seconds <= 0 {
		return Rejected(loop, &InvalidArgumentError{Message: "timeout seconds must be > 0"})
	}

	result, resolve, reject := NewDeferred(loop)
	done := false

	timerID := loop.AddTimer(durationFromSeconds(seconds), func() {
		if done {
			return
		}
		done = true
		reject(&TimeoutError{Seconds: seconds})
	})

	p.Then(
		func(v any) (any, error) {
			if !done {
				done = true
				loop.CancelTimer(timerID)
				resolve(v)
			}
			return nil, nil
		},
		func(err error) (any, error) {
			if !done {
				done = true
				loop.CancelTimer(timerID)
				reject(err)
			}
			return nil, nil
		},
	)
	p.OnCancel(func() {
		if !done {
			done = true
			loop.CancelTimer(timerID)
			result.cancel()
		}
	})
	return result
}
