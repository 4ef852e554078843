package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/luksan/rss-im-sweep/internal/logging"
	"github.com/luksan/rss-im-sweep/internal/observable"
)

var (
	ErrUnknownVariable = errors.New("unknown variable")
	ErrDuplicate       = errors.New("variable already registered")
	ErrClosed          = errors.New("registry is closed")
	ErrTypeMismatch    = errors.New("variable has a different type")
	ErrNotBindable     = errors.New("variable cannot be bound to a view")
	ErrCorruptSettings = errors.New("corrupt settings")
)

// Registry is the fixed catalogue of named entries. It is built during
// startup, closed, and from then on only looked up.
type Registry struct {
	entries map[string]Entry
	aliases map[string]string
	order   []string
	closed  bool
	logger  logging.Logger
}

// NewRegistry returns an open, empty registry.
func NewRegistry(logger logging.Logger) *Registry {
	if logger == nil {
		logger = logging.Default()
	}
	return &Registry{
		entries: make(map[string]Entry),
		aliases: make(map[string]string),
		logger:  logger.With(logging.Subsystem("settings")),
	}
}

// Register adds e under e.Name().
func (r *Registry) Register(e Entry) error {
	if r.closed {
		return fmt.Errorf("register %q: %w", e.Name(), ErrClosed)
	}
	if _, ok := r.entries[e.Name()]; ok {
		return fmt.Errorf("register %q: %w", e.Name(), ErrDuplicate)
	}
	r.entries[e.Name()] = e
	r.order = append(r.order, e.Name())
	return nil
}

// Alias makes Load accept legacy as another key for the entry registered
// as name. Store always writes name.
func (r *Registry) Alias(legacy, name string) error {
	if r.closed {
		return fmt.Errorf("alias %q: %w", legacy, ErrClosed)
	}
	if _, ok := r.entries[name]; !ok {
		return fmt.Errorf("alias %q: %w: %q", legacy, ErrUnknownVariable, name)
	}
	if _, ok := r.entries[legacy]; ok {
		return fmt.Errorf("alias %q: %w", legacy, ErrDuplicate)
	}
	r.aliases[legacy] = name
	return nil
}

// Close freezes the set of registered names.
func (r *Registry) Close() {
	r.closed = true
}

// Lookup returns the entry registered as name.
func (r *Registry) Lookup(name string) (Entry, error) {
	e, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVariable, name)
	}
	return e, nil
}

// Names returns the registered names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// OnChange registers fn on every entry that can report changes. fn runs on
// the goroutine that mutates the model.
func (r *Registry) OnChange(fn func()) {
	for _, name := range r.order {
		if e, ok := r.entries[name].(interface{ OnChange(func()) }); ok {
			e.OnChange(fn)
		}
	}
}

// Lookup resolves name to a typed observable.
func Lookup[T any](r *Registry, name string) (*observable.Var[T], error) {
	e, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}
	typed, ok := e.(interface{ Var() *observable.Var[T] })
	if !ok {
		if _, isTraces := e.(*TraceCollection); isTraces {
			return nil, fmt.Errorf("%w: %q", ErrNotBindable, name)
		}
		return nil, fmt.Errorf("%w: %q", ErrTypeMismatch, name)
	}
	return typed.Var(), nil
}

// LinkView binds a view accessor to the variable registered as name.
func LinkView[T any](r *Registry, name string, a observable.Accessor[T]) error {
	v, err := Lookup[T](r, name)
	if err != nil {
		return err
	}
	v.LinkView(a)
	return nil
}

// Load applies a flat JSON object of name/value pairs. Unknown keys and
// values of the wrong type are logged and skipped. A document that is not a
// JSON object fails with ErrCorruptSettings and changes nothing.
func (r *Registry) Load(src io.Reader) error {
	data, err := io.ReadAll(src)
	if err != nil {
		return fmt.Errorf("read settings: %w", err)
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		r.logger.Error("error loading stored settings", logging.Field{Key: "error", Value: err})
		return fmt.Errorf("%w: %v", ErrCorruptSettings, err)
	}
	if doc == nil {
		r.logger.Error("error loading stored settings", logging.Field{Key: "error", Value: "document is not an object"})
		return fmt.Errorf("%w: document is not an object", ErrCorruptSettings)
	}

	pending := make(map[string]func(), len(doc))
	for key, raw := range doc {
		name := key
		if canonical, ok := r.aliases[key]; ok {
			if _, both := doc[canonical]; both {
				r.logger.Debug("legacy key shadowed", logging.Field{Key: "key", Value: key})
				continue
			}
			name = canonical
		}
		e, ok := r.entries[name]
		if !ok {
			r.logger.Warn("unexpected key in settings", logging.Field{Key: "key", Value: key})
			continue
		}
		apply, err := e.Decode(raw)
		if err != nil {
			r.logger.Warn("skipping undecodable setting",
				logging.Field{Key: "key", Value: key},
				logging.Field{Key: "error", Value: err})
			continue
		}
		pending[name] = apply
	}

	for _, name := range r.order {
		if apply, ok := pending[name]; ok {
			apply()
		}
	}
	r.logger.Debug("settings loaded", logging.Field{Key: "applied", Value: len(pending)})
	return nil
}

// Store writes every persistent entry as a flat, indented JSON object.
func (r *Registry) Store(dst io.Writer) error {
	doc := make(map[string]any, len(r.order))
	for _, name := range r.order {
		e := r.entries[name]
		if !e.Persistent() {
			continue
		}
		doc[name] = e.PlainValue()
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if _, err := dst.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}

// LoadFile loads path. A missing file is not an error.
func (r *Registry) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			r.logger.Debug("no stored settings", logging.Field{Key: "path", Value: path})
			return nil
		}
		return err
	}
	defer f.Close()
	return r.Load(f)
}

// StoreFile writes the persistent entries to path.
func (r *Registry) StoreFile(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := r.Store(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
