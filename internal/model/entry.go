package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/luksan/rss-im-sweep/internal/observable"
)

// Entry is one registered variable as the registry sees it: a name, a
// persistence flag, and a plain-value codec.
type Entry interface {
	Name() string
	Persistent() bool
	// PlainValue projects the current value onto JSON-native types.
	PlainValue() any
	// Decode parses raw without touching the entry and returns the function
	// that applies the decoded value.
	Decode(raw json.RawMessage) (apply func(), err error)
}

// Codec converts a value type to and from its plain JSON representation.
type Codec[T any] interface {
	ToPlain(v T) any
	FromPlain(raw json.RawMessage) (T, error)
}

// JSONCodec encodes scalars (and anything else encoding/json handles
// natively) as themselves.
type JSONCodec[T any] struct{}

func (JSONCodec[T]) ToPlain(v T) any { return v }

func (JSONCodec[T]) FromPlain(raw json.RawMessage) (T, error) {
	var v T
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return v, errNull
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, err
	}
	return v, nil
}

var errNull = errors.New("null value")

// VarEntry registers an observable.Var with the registry.
type VarEntry[T any] struct {
	v          *observable.Var[T]
	persistent bool
	codec      Codec[T]
}

// Variable builds a comparable-typed entry with the JSON codec.
func Variable[T comparable](name string, initial T, persistent bool) *VarEntry[T] {
	return &VarEntry[T]{
		v:          observable.New(name, initial),
		persistent: persistent,
		codec:      JSONCodec[T]{},
	}
}

// CustomVariable wraps an existing Var with an explicit codec.
func CustomVariable[T any](v *observable.Var[T], persistent bool, codec Codec[T]) *VarEntry[T] {
	if codec == nil {
		codec = JSONCodec[T]{}
	}
	return &VarEntry[T]{v: v, persistent: persistent, codec: codec}
}

func (e *VarEntry[T]) Name() string { return e.v.Name() }

func (e *VarEntry[T]) Persistent() bool { return e.persistent }

// Var returns the underlying observable.
func (e *VarEntry[T]) Var() *observable.Var[T] { return e.v }

func (e *VarEntry[T]) PlainValue() any { return e.codec.ToPlain(e.v.Get()) }

func (e *VarEntry[T]) Decode(raw json.RawMessage) (func(), error) {
	value, err := e.codec.FromPlain(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", e.v.Name(), err)
	}
	return func() { e.v.Set(value) }, nil
}

// OnChange calls fn after every change of the variable.
func (e *VarEntry[T]) OnChange(fn func()) {
	e.v.AddObserver(observable.NewFunc(func(T) { fn() }))
}
