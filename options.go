package async

import "time"

// loopOptions holds configuration resolved from LoopOption values.
// Grounded on eventloop/options.go's functional-options pattern.
type loopOptions struct {
	logger                  *Logger
	clock                   func() time.Time
	strictMicrotaskOrdering bool
	tickBudget              int
}

// LoopOption configures a [Loop] instance constructed via [New].
type LoopOption interface {
	applyLoop(*loopOptions)
}

type loopOptionFunc func(*loopOptions)

func (f loopOptionFunc) applyLoop(o *loopOptions) { f(o) }

// WithLogger installs a structured logger on the loop. A nil logger
// (the default) disables logging.
func WithLogger(logger *Logger) LoopOption {
	return loopOptionFunc(func(o *loopOptions) { o.logger = logger })
}

// WithClock injects a clock function, primarily for deterministic timer
// tests. Defaults to time.Now. Grounded on eventloop's
// SetTickAnchor/TickAnchor test hooks.
func WithClock(clock func() time.Time) LoopOption {
	return loopOptionFunc(func(o *loopOptions) {
		if clock != nil {
			o.clock = clock
		}
	})
}

// WithStrictMicrotaskOrdering, when enabled, drains the microtask queue
// after every single fiber resumption and timer fire instead of once per
// tick. Grounded on eventloop.WithStrictMicrotaskOrdering; named and
// shaped identically.
func WithStrictMicrotaskOrdering(enabled bool) LoopOption {
	return loopOptionFunc(func(o *loopOptions) { o.strictMicrotaskOrdering = enabled })
}

// WithTickBudget caps the number of ready fibers resumed per tick before
// the loop yields to timers/microtasks/poll, grounded on
// eventloop.processExternal's batch budget constant. budget <= 0 means
// unbounded (resume every fiber that was ready at tick entry).
func WithTickBudget(budget int) LoopOption {
	return loopOptionFunc(func(o *loopOptions) { o.tickBudget = budget })
}

func resolveLoopOptions(opts []LoopOption) *loopOptions {
	cfg := &loopOptions{
		clock:      time.Now,
		tickBudget: 0,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.applyLoop(cfg)
	}
	return cfg
}
