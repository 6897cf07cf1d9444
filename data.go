package xmux

import "github.com/trickstertwo/xlog"

// Data is the per-dispatch named-value table handed to middlewares, filters and
// handlers. Each router works on its own copy, so values set in one branch are
// visible to its descendants but never to siblings dispatched afterwards.
type Data map[string]any

// Clone returns a shallow copy.
func (d Data) Clone() Data {
	c := make(Data, len(d)+2)
	for k, v := range d {
		c[k] = v
	}
	return c
}

// Merge copies every entry of src into d.
func (d Data) Merge(src Data) {
	for k, v := range src {
		d[k] = v
	}
}

// Value looks up name and asserts it to T. Missing or mistyped entries report false.
func Value[T any](d Data, name string) (T, bool) {
	v, ok := d[name].(T)
	return v, ok
}

// Key is a typed handle to a Data entry, so callers declare only what they need
// without stringly-typed assertions at each use site.
type Key[T any] struct{ name string }

// NewKey declares a typed key.
func NewKey[T any](name string) Key[T] { return Key[T]{name: name} }

func (k Key[T]) Name() string { return k.name }

// Get reads the entry from d.
func (k Key[T]) Get(d Data) (T, bool) { return Value[T](d, k.name) }

// Set writes v into d.
func (k Key[T]) Set(d Data, v T) { d[k.name] = v }

// Built-in keys populated by the dispatcher and the session middleware.
var (
	KeySessionID = NewKey[SessionID]("session_id")
	KeySession   = NewKey[*Session]("session")
	KeyLogger    = NewKey[*xlog.Logger]("logger")
)
