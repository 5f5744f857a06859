package async

// DefaultConcurrencyLimit is the limit [ConcurrentDefault] passes to
// [Concurrent], per spec.md §4.8's `concurrent(tasks, limit=10)`.
// [Batch]/[BatchSettled] do not use it: without an explicit limit they
// default to batchSize.
const DefaultConcurrencyLimit = 10

// wrapConcurrencyTask adapts a [Task] into a promise by running it
// inside its own fiber, per spec.md §4.8's task-wrapping rule: a
// callable is invoked in the scheduling tick; if its return is a
// promise, the wrapper awaits it from inside a new fiber (since the
// wrapper itself runs inside one); a plain return value is adopted
// as-is. This is what keeps Concurrent/Batch entirely on the single
// loop thread — tasks are multiplexed as fibers, never dispatched to
// real OS-thread parallelism (spec.md §1/§5's Non-goal).
func wrapConcurrencyTask(loop *Loop, t Task) *Promise {
	if t.P != nil {
		return t.P
	}
	fn := t.Fn
	return AsyncImmediate(loop, func() (any, error) {
		if fn == nil {
			return nil, nil
		}
		v := fn()
		if p, ok := v.(*Promise); ok {
			return Await(loop, p)
		}
		return v, nil
	})
}

// ConcurrentDefault is Concurrent with spec.md §4.8's default limit of
// 10, for the common case where callers don't need to tune it.
func ConcurrentDefault(loop *Loop, tasks []Task) *Promise {
	return Concurrent(loop, tasks, DefaultConcurrencyLimit)
}

// Concurrent runs tasks with at most limit executing at once (each
// multiplexed onto its own fiber, never real parallel goroutines),
// resolving with an [OrderedMap] of results in original key order once
// every task has completed. It rejects with the first task's rejection
// reason; sibling tasks already in flight are left to finish but their
// settlements are ignored. limit <= 0 fails synchronously with
// [InvalidArgumentError].
func Concurrent(loop *Loop, tasks []Task, limit int) *Promise {
	if limit <= 0 {
		return Rejected(loop, &InvalidArgumentError{Message: "concurrent: limit must be > 0"})
	}

	result, resolve, reject := NewDeferred(loop)
	total := len(tasks)
	if total == 0 {
		resolve(NewOrderedMap[any]())
		return result
	}

	values := NewOrderedMap[any]()
	for _, t := range tasks {
		values.Set(t.Key, nil)
	}

	running, completed, nextIndex := 0, 0, 0
	rejected := false

	var schedule func()
	schedule = func() {
		for running < limit && nextIndex < total {
			t := tasks[nextIndex]
			nextIndex++
			running++
			p := wrapConcurrencyTask(loop, t)
			p.Then(
				func(v any) (any, error) {
					running--
					if rejected {
						return nil, nil
					}
					values.Set(t.Key, v)
					completed++
					if completed == total {
						resolve(values)
					} else {
						loop.NextTick(schedule)
					}
					return nil, nil
				},
				func(err error) (any, error) {
					running--
					if !rejected {
						rejected = true
						reject(err)
					}
					return nil, nil
				},
			)
		}
	}
	loop.NextTick(schedule)
	return result
}

// Batch splits tasks into consecutive chunks of batchSize (preserving
// keys per chunk) and runs each chunk through [Concurrent] with the
// given limit (limit <= 0 defaults to batchSize), one chunk at a time:
// the next chunk starts only once the previous has fully settled.
// Rejection of any chunk propagates immediately and no further chunks
// start.
func Batch(loop *Loop, tasks []Task, batchSize int, limit int) *Promise {
	if batchSize <= 0 {
		return Rejected(loop, &InvalidArgumentError{Message: "batch: batchSize must be > 0"})
	}
	if limit <= 0 {
		limit = batchSize
	}

	result, resolve, reject := NewDeferred(loop)
	if len(tasks) == 0 {
		resolve(NewOrderedMap[any]())
		return result
	}

	chunks := chunkTasks(tasks, batchSize)
	merged := NewOrderedMap[any]()

	var runChunk func(i int)
	runChunk = func(i int) {
		if i >= len(chunks) {
			resolve(merged)
			return
		}
		Concurrent(loop, chunks[i], limit).Then(
			func(v any) (any, error) {
				v.(*OrderedMap[any]).Range(func(k MapKey, val any) { merged.Set(k, val) })
				runChunk(i + 1)
				return nil, nil
			},
			func(err error) (any, error) {
				reject(err)
				return nil, nil
			},
		)
	}
	runChunk(0)
	return result
}

// ConcurrentSettled behaves like [Concurrent] but never rejects: every
// task's outcome, including construction/wrapping failures, is recorded
// as a [Settlement] at its original key.
func ConcurrentSettled(loop *Loop, tasks []Task, limit int) *Promise {
	if limit <= 0 {
		return Rejected(loop, &InvalidArgumentError{Message: "concurrentSettled: limit must be > 0"})
	}

	result, resolve, _ := NewDeferred(loop)
	total := len(tasks)
	if total == 0 {
		resolve(NewOrderedMap[Settlement]())
		return result
	}

	records := NewOrderedMap[Settlement]()
	for _, t := range tasks {
		records.Set(t.Key, Settlement{})
	}

	running, completed, nextIndex := 0, 0, 0

	finish := func(key MapKey, s Settlement, schedule func()) {
		running--
		records.Set(key, s)
		completed++
		if completed == total {
			resolve(records)
		} else {
			loop.NextTick(schedule)
		}
	}

	var schedule func()
	schedule = func() {
		for running < limit && nextIndex < total {
			t := tasks[nextIndex]
			nextIndex++
			running++
			p := wrapConcurrencyTask(loop, t)
			p.Then(
				func(v any) (any, error) {
					finish(t.Key, Settlement{State: PromiseFulfilled, Value: v}, schedule)
					return nil, nil
				},
				func(err error) (any, error) {
					finish(t.Key, Settlement{State: PromiseRejected, Err: err}, schedule)
					return nil, nil
				},
			)
			p.OnCancel(func() {
				finish(t.Key, Settlement{State: PromiseCancelled}, schedule)
			})
		}
	}
	loop.NextTick(schedule)
	return result
}

// BatchSettled is the never-rejecting counterpart of [Batch]: every
// chunk runs via [ConcurrentSettled] and all chunks always run to
// completion, merging into one settlement map keyed as the input was.
func BatchSettled(loop *Loop, tasks []Task, batchSize int, limit int) *Promise {
	if batchSize <= 0 {
		return Rejected(loop, &InvalidArgumentError{Message: "batchSettled: batchSize must be > 0"})
	}
	if limit <= 0 {
		limit = batchSize
	}

	result, resolve, _ := NewDeferred(loop)
	if len(tasks) == 0 {
		resolve(NewOrderedMap[Settlement]())
		return result
	}

	chunks := chunkTasks(tasks, batchSize)
	merged := NewOrderedMap[Settlement]()

	var runChunk func(i int)
	runChunk = func(i int) {
		if i >= len(chunks) {
			resolve(merged)
			return
		}
		ConcurrentSettled(loop, chunks[i], limit).Then(
			func(v any) (any, error) {
				v.(*OrderedMap[Settlement]).Range(func(k MapKey, val Settlement) { merged.Set(k, val) })
				runChunk(i + 1)
				return nil, nil
			},
			nil,
		)
	}
	runChunk(0)
	return result
}

func chunkTasks(tasks []Task, size int) [][]Task {
	var chunks [][]Task
	for i := 0; i < len(tasks); i += size {
		end := i + size
		if end > len(tasks) {
			end = len(tasks)
		}
		chunks = append(chunks, tasks[i:end])
	}
	return chunks
}
