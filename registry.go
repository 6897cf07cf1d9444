package xmux

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// NativeFactory builds a native from the options block of a Config.
type NativeFactory func(cfg map[string]any) (Native, error)

// CodecFactory builds a codec.
type CodecFactory func() Codec

// factories is a name-keyed table written by adapter init functions and read
// by the builder.
type factories[F any] struct {
	kind string
	mu   sync.RWMutex
	byID map[string]F
}

func (t *factories[F]) register(name string, f F, isNil bool) error {
	if name == "" {
		return fmt.Errorf("%s name must not be empty", t.kind)
	}
	if isNil {
		return fmt.Errorf("%s factory %q must not be nil", t.kind, name)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, dup := t.byID[name]; dup {
		return fmt.Errorf("%s %q: %w", t.kind, name, errAlreadyRegistered)
	}
	t.byID[name] = f
	return nil
}

func (t *factories[F]) lookup(name string) (F, bool) {
	t.mu.RLock()
	f, ok := t.byID[name]
	t.mu.RUnlock()
	return f, ok
}

func (t *factories[F]) names() []string {
	t.mu.RLock()
	out := make([]string, 0, len(t.byID))
	for name := range t.byID {
		out = append(out, name)
	}
	t.mu.RUnlock()
	sort.Strings(out)
	return out
}

var errAlreadyRegistered = errors.New("already registered")

var (
	natives = &factories[NativeFactory]{kind: "native", byID: map[string]NativeFactory{}}
	codecs  = &factories[CodecFactory]{kind: "codec", byID: map[string]CodecFactory{
		"json": func() Codec { return JSONCodec{} },
		"cbor": func() Codec { return CBORCodec{} },
	}}
)

// RegisterNative makes a native available to WithNative and Config under name.
// Registering the same name twice is an error.
func RegisterNative(name string, factory NativeFactory) error {
	return natives.register(name, factory, factory == nil)
}

// NewNative constructs the native registered under name.
func NewNative(name string, cfg map[string]any) (Native, error) {
	f, ok := natives.lookup(name)
	if !ok {
		return nil, ErrUnknownNative{name: name}
	}
	return f(cfg)
}

// Natives lists the registered native names in sorted order.
func Natives() []string { return natives.names() }

// RegisterCodec makes a codec available under name.
func RegisterCodec(name string, factory CodecFactory) error {
	return codecs.register(name, factory, factory == nil)
}

// NewCodec constructs the codec registered under name.
func NewCodec(name string) (Codec, error) {
	f, ok := codecs.lookup(name)
	if !ok {
		return nil, fmt.Errorf("codec %q not registered", name)
	}
	return f(), nil
}

// Codecs lists the registered codec names in sorted order.
func Codecs() []string { return codecs.names() }
