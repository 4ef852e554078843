// Package observable provides named value cells with synchronous change
// notification, and the binding protocol used to attach them to views.
//
// Nothing in this package is safe for concurrent use. A Var and everything
// observing it belong to one owning goroutine.
package observable

import "errors"

// ErrNotRegistered is returned by RemoveObserver for an unknown observer.
var ErrNotRegistered = errors.New("observer not registered")

// Observer receives change notifications. Observers are compared by
// identity, so implementations must be comparable; use pointer receivers.
type Observer[T any] interface {
	Observe(value T)
}

// Func adapts a plain function into an Observer. Each NewFunc call yields a
// distinct identity, so keep the returned pointer to remove it later.
type Func[T any] struct {
	fn func(T)
}

// NewFunc wraps fn.
func NewFunc[T any](fn func(T)) *Func[T] {
	return &Func[T]{fn: fn}
}

// Observe calls the wrapped function.
func (f *Func[T]) Observe(value T) {
	if f == nil || f.fn == nil {
		return
	}
	f.fn(value)
}

// Subject is an ordered set of observers.
//
// Notify calls the observers registered when the pass starts. An observer
// added during a pass is first called on the next one; an observer removed
// during a pass is still called in the current one.
type Subject[T any] struct {
	observers []Observer[T]
}

// AddObserver registers o. Registering the same observer twice is a no-op.
func (s *Subject[T]) AddObserver(o Observer[T]) {
	if o == nil || s.indexOf(o) >= 0 {
		return
	}
	s.observers = append(s.observers, o)
}

// RemoveObserver unregisters o.
func (s *Subject[T]) RemoveObserver(o Observer[T]) error {
	i := s.indexOf(o)
	if i < 0 {
		return ErrNotRegistered
	}
	// copy so a pass in progress keeps its snapshot intact
	next := make([]Observer[T], 0, len(s.observers)-1)
	next = append(next, s.observers[:i]...)
	next = append(next, s.observers[i+1:]...)
	s.observers = next
	return nil
}

// ObserverCount reports the number of registered observers.
func (s *Subject[T]) ObserverCount() int {
	return len(s.observers)
}

// Notify calls every registered observer with value, in registration order.
func (s *Subject[T]) Notify(value T) {
	snapshot := s.observers
	for _, o := range snapshot {
		o.Observe(value)
	}
}

func (s *Subject[T]) indexOf(o Observer[T]) int {
	for i, existing := range s.observers {
		if existing == o {
			return i
		}
	}
	return -1
}
