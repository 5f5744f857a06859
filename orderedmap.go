package async

import "strconv"

// MapKey is an integer-or-string key, per spec.md §4.7's "mapping
// (integer-or-string key → value)" data model for combinator inputs and
// results.
type MapKey struct {
	isInt  bool
	intKey int
	strKey string
}

// IntKey constructs an integer MapKey.
func IntKey(i int) MapKey { return MapKey{isInt: true, intKey: i} }

// StringKey constructs a string MapKey.
func StringKey(s string) MapKey { return MapKey{strKey: s} }

// IsInt reports whether k is an integer key.
func (k MapKey) IsInt() bool { return k.isInt }

// Int returns the integer value of k; valid only if IsInt().
func (k MapKey) Int() int { return k.intKey }

// Str returns the string value of k; valid only if !IsInt().
func (k MapKey) Str() string { return k.strKey }

func (k MapKey) String() string {
	if k.isInt {
		return strconv.Itoa(k.intKey)
	}
	return k.strKey
}

// OrderedMap is a key-preserving, insertion-ordered map, used as the
// result type of every collection/concurrency combinator so that "key
// order in the result follows input iteration order" (spec.md §4.7)
// holds regardless of Go map iteration being unordered.
type OrderedMap[V any] struct {
	keys   []MapKey
	values map[MapKey]V
}

// NewOrderedMap constructs an empty OrderedMap.
func NewOrderedMap[V any]() *OrderedMap[V] {
	return &OrderedMap[V]{values: make(map[MapKey]V)}
}

// Set assigns v to k, appending k to the key order the first time it is
// set and leaving existing order unchanged on overwrite.
func (m *OrderedMap[V]) Set(k MapKey, v V) {
	if _, ok := m.values[k]; !ok {
		m.keys = append(m.keys, k)
	}
	m.values[k] = v
}

// Get returns the value at k and whether it was present.
func (m *OrderedMap[V]) Get(k MapKey) (V, bool) {
	v, ok := m.values[k]
	return v, ok
}

// Len returns the number of entries.
func (m *OrderedMap[V]) Len() int { return len(m.keys) }

// Keys returns the keys in insertion order. The returned slice is a copy.
func (m *OrderedMap[V]) Keys() []MapKey {
	return append([]MapKey(nil), m.keys...)
}

// Values returns the values, ordered the same as Keys.
func (m *OrderedMap[V]) Values() []V {
	out := make([]V, len(m.keys))
	for i, k := range m.keys {
		out[i] = m.values[k]
	}
	return out
}

// Range calls fn for every entry in insertion order.
func (m *OrderedMap[V]) Range(fn func(k MapKey, v V)) {
	for _, k := range m.keys {
		fn(k, m.values[k])
	}
}

// IsDenseIntSequence reports whether m's keys are exactly the integers
// 0..Len()-1 in that order, i.e. whether it may be represented as a
// plain ordered list instead of a sparse mapping, per spec.md §4.8's key
// preservation rule ("if the input is a strictly increasing sequence
// 0..n-1, the result may use the same sequence as a dense ordered list;
// otherwise all original key values are retained").
func (m *OrderedMap[V]) IsDenseIntSequence() bool {
	for i, k := range m.keys {
		if !k.isInt || k.intKey != i {
			return false
		}
	}
	return true
}

// TaskFunc is a zero-argument callable task for the collection and
// concurrency combinators. If it returns a *Promise, that promise is
// adopted; any other return value is treated as an already-available
// result. A panic is recovered and treated as the task's rejection.
type TaskFunc func() any

// Task is one entry of a combinator's input mapping: exactly one of P or
// Fn is set.
type Task struct {
	Key MapKey
	P   *Promise
	Fn  TaskFunc
}

// PromiseTask wraps an existing promise as a keyed task.
func PromiseTask(key MapKey, p *Promise) Task { return Task{Key: key, P: p} }

// FuncTask wraps a callable as a keyed task.
func FuncTask(key MapKey, fn TaskFunc) Task { return Task{Key: key, Fn: fn} }

// TasksFromPromises builds a dense 0..n-1 keyed task list from a plain
// slice of promises, the common case for all/allSettled/race/any
// callers that don't need string keys.
func TasksFromPromises(ps []*Promise) []Task {
	out := make([]Task, len(ps))
	for i, p := range ps {
		out[i] = PromiseTask(IntKey(i), p)
	}
	return out
}

// TasksFromFuncs builds a dense 0..n-1 keyed task list from a plain
// slice of callables.
func TasksFromFuncs(fns []TaskFunc) []Task {
	out := make([]Task, len(fns))
	for i, fn := range fns {
		out[i] = FuncTask(IntKey(i), fn)
	}
	return out
}

// resolveTask turns a Task into a *Promise, invoking Fn synchronously
// (in the caller's current frame) if set. A panic from Fn becomes a
// rejected promise: task construction failures reject the same way an
// in-flight task would, per spec.md §7. A returned error value is not
// special-cased; like any other non-promise return it becomes the
// fulfillment value.
func resolveTask(loop *Loop, t Task) *Promise {
	if t.P != nil {
		return t.P
	}
	if t.Fn == nil {
		return Resolved(loop, nil)
	}
	var (
		v       any
		failure error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				failure = asPanicError(r)
			}
		}()
		v = t.Fn()
	}()
	if failure != nil {
		return Rejected(loop, failure)
	}
	if p, ok := v.(*Promise); ok {
		return p
	}
	return Resolved(loop, v)
}
