package observable

// Var is a named value cell. Set only notifies when the value changes
// under the Var's equality.
type Var[T any] struct {
	Subject[T]

	name  string
	value T
	equal func(a, b T) bool
}

// New builds a Var compared with ==.
func New[T comparable](name string, initial T) *Var[T] {
	return &Var[T]{
		name:  name,
		value: initial,
		equal: func(a, b T) bool { return a == b },
	}
}

// NewWithEqual builds a Var for value types that need an explicit equality,
// such as slices, maps or records holding pointers.
func NewWithEqual[T any](name string, initial T, equal func(a, b T) bool) *Var[T] {
	if equal == nil {
		panic("observable: nil equality for " + name)
	}
	return &Var[T]{name: name, value: initial, equal: equal}
}

// Name returns the registry key of the variable.
func (v *Var[T]) Name() string {
	return v.name
}

// Get returns the current value.
func (v *Var[T]) Get() T {
	return v.value
}

// Set stores value and notifies observers, unless value equals the current
// value.
func (v *Var[T]) Set(value T) {
	if v.equal(value, v.value) {
		return
	}
	v.value = value
	v.Notify(value)
}

// Accessor is the view side of a binding: a widget (or anything else) that
// can display a value and report edits.
//
// Write must not fire the OnChange callbacks when the displayed value does
// not change; otherwise a binding would echo every update back.
type Accessor[T any] interface {
	Read() T
	Write(value T)
	OnChange(fn func())
}

// LinkView binds a bidirectionally: the view is initialised to the current
// value, view edits are Set on v, and changes of v are written to the view.
// The returned observer can be passed to RemoveObserver to stop the
// model-to-view direction.
func (v *Var[T]) LinkView(a Accessor[T]) Observer[T] {
	a.Write(v.value)
	a.OnChange(func() { v.Set(a.Read()) })
	o := NewFunc(a.Write)
	v.AddObserver(o)
	return o
}
