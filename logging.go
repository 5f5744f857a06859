// logging.go wires structured logging for the loop via logiface, using
// stumpy as the default JSON writer backend. Grounded on
// eventloop/logging.go's package-level configuration pattern, but pointed
// at the real ecosystem logger the pack demonstrates
// (logiface-stumpy/example_test.go's stumpy.L.New(...) wiring) instead of
// a hand-rolled Logger interface.
package async

import (
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Logger is the structured logger type used throughout the loop. A nil
// *Logger is valid and disables logging entirely (mirrors
// eventloop.NewNoOpLogger's role).
type Logger = logiface.Logger[*stumpy.Event]

// NewLogger builds a stumpy-backed logiface.Logger at the given minimum
// level, configured by the given stumpy options (the output sink, if
// any, is chosen through those options). Intended for WithLogger.
func NewLogger(level logiface.Level, opts ...stumpy.Option) *Logger {
	allOpts := append([]stumpy.Option{}, opts...)
	return stumpy.L.New(append([]logiface.Option[*stumpy.Event]{
		logiface.WithLevel[*stumpy.Event](level),
	}, stumpyOptionsAsLogiface(allOpts)...)...)
}

func stumpyOptionsAsLogiface(opts []stumpy.Option) []logiface.Option[*stumpy.Event] {
	out := make([]logiface.Option[*stumpy.Event], 0, len(opts))
	for _, o := range opts {
		out = append(out, stumpy.L.WithStumpy(o))
	}
	return out
}

func (l *Loop) logDebug(msg string, fields ...func(b *logiface.Builder[*stumpy.Event]) *logiface.Builder[*stumpy.Event]) {
	l.log(logiface.LevelDebug, msg, fields...)
}

func (l *Loop) logInfo(msg string, fields ...func(b *logiface.Builder[*stumpy.Event]) *logiface.Builder[*stumpy.Event]) {
	l.log(logiface.LevelInformational, msg, fields...)
}

func (l *Loop) logError(msg string, fields ...func(b *logiface.Builder[*stumpy.Event]) *logiface.Builder[*stumpy.Event]) {
	l.log(logiface.LevelError, msg, fields...)
}

func (l *Loop) log(level logiface.Level, msg string, fields ...func(b *logiface.Builder[*stumpy.Event]) *logiface.Builder[*stumpy.Event]) {
	logger := l.logger
	if logger == nil {
		return
	}
	b := logger.Build(level)
	if b == nil {
		return
	}
	// loop_id is the stable, comparable sequence number; diag_id is a
	// cosmetic uuid for grepping a single loop's lifetime out of merged
	// log streams. Neither participates in any scheduling invariant.
	b = b.Uint64("loop_id", l.id).Str("diag_id", l.diagID)
	for _, f := range fields {
		b = f(b)
	}
	b.Log(msg)
}
