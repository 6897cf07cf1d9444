package xmux

import (
	"context"
	"encoding/json"
	"reflect"
)

// TypeIn passes updates whose type is one of types. Useful on handlers shared
// through a router where several tags reach the same callback.
func TypeIn(types ...string) Filter {
	set := make(map[string]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return func(_ context.Context, u *Update) (Data, bool, error) {
		_, ok := set[u.Message.Type]
		return nil, ok, nil
	}
}

// SessionIn passes updates belonging to one of ids.
func SessionIn(ids ...SessionID) Filter {
	set := make(map[SessionID]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return func(_ context.Context, u *Update) (Data, bool, error) {
		_, ok := set[u.Session]
		return nil, ok, nil
	}
}

// Predicate adapts a plain boolean test into a Filter.
func Predicate(fn func(u *Update) bool) Filter {
	return func(_ context.Context, u *Update) (Data, bool, error) {
		return nil, fn(u), nil
	}
}

// FieldEquals passes updates whose top-level body field name equals value
// after a JSON round trip, so FieldEquals("chat_id", 42) matches 42.0 in the body.
// The decoded field is handed to the handler under name.
func FieldEquals(name string, value any) Filter {
	want, err := normalize(value)
	return func(_ context.Context, u *Update) (Data, bool, error) {
		if err != nil {
			return nil, false, err
		}
		got, ok := Field[any](u.Message, name)
		if !ok || !reflect.DeepEqual(got, want) {
			return nil, false, nil
		}
		return Data{name: got}, true, nil
	}
}

func normalize(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	err = json.Unmarshal(b, &out)
	return out, err
}
