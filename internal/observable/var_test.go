package observable

import (
	"errors"
	"reflect"
	"testing"
)

type recorder[T any] struct {
	values []T
}

func (r *recorder[T]) Observe(v T) { r.values = append(r.values, v) }

func TestSetNotifiesOnceAndSuppressesRepeat(t *testing.T) {
	v := New("if_bandwidth", 1e3)
	rec := &recorder[float64]{}
	v.AddObserver(rec)

	v.Set(5000)
	v.Set(5000)

	if !reflect.DeepEqual(rec.values, []float64{5000}) {
		t.Fatalf("expected a single notification, got %v", rec.values)
	}
	if v.Get() != 5000 {
		t.Fatalf("expected 5000, got %v", v.Get())
	}
}

func TestSetToCurrentValueIsSilent(t *testing.T) {
	v := New("trigger_source", "Free run")
	rec := &recorder[string]{}
	v.AddObserver(rec)

	v.Set("Free run")
	if len(rec.values) != 0 {
		t.Fatalf("expected no notification, got %v", rec.values)
	}
}

func TestAddObserverIsIdempotent(t *testing.T) {
	v := New("sweep_points", 101)
	rec := &recorder[int]{}
	v.AddObserver(rec)
	v.AddObserver(rec)

	v.Set(201)
	if len(rec.values) != 1 {
		t.Fatalf("expected one notification, got %d", len(rec.values))
	}
	if v.ObserverCount() != 1 {
		t.Fatalf("expected one registered observer, got %d", v.ObserverCount())
	}
}

func TestNotifyInRegistrationOrder(t *testing.T) {
	v := New("center_freq", 1e9)
	var order []string
	a := NewFunc(func(float64) { order = append(order, "a") })
	b := NewFunc(func(float64) { order = append(order, "b") })
	c := NewFunc(func(float64) { order = append(order, "c") })
	v.AddObserver(b)
	v.AddObserver(a)
	v.AddObserver(c)

	v.Set(2e9)
	if !reflect.DeepEqual(order, []string{"b", "a", "c"}) {
		t.Fatalf("unexpected order %v", order)
	}
}

func TestRemoveObserver(t *testing.T) {
	v := New("show_softkeys", true)
	rec := &recorder[bool]{}
	v.AddObserver(rec)

	if err := v.RemoveObserver(rec); err != nil {
		t.Fatalf("remove: %v", err)
	}
	v.Set(false)
	if len(rec.values) != 0 {
		t.Fatalf("removed observer was notified: %v", rec.values)
	}
	if err := v.RemoveObserver(rec); !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("expected ErrNotRegistered, got %v", err)
	}
	if err := v.RemoveObserver(&recorder[bool]{}); !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("expected ErrNotRegistered for a never-added observer, got %v", err)
	}
}

func TestObserverAddedDuringNotifyWaitsForNextPass(t *testing.T) {
	v := New("base_power", -10.0)
	late := &recorder[float64]{}
	var adder *Func[float64]
	adder = NewFunc(func(float64) { v.AddObserver(late) })
	v.AddObserver(adder)

	v.Set(-5)
	if len(late.values) != 0 {
		t.Fatalf("late observer called in the registering pass: %v", late.values)
	}
	v.Set(0)
	if !reflect.DeepEqual(late.values, []float64{0}) {
		t.Fatalf("expected late observer on next pass, got %v", late.values)
	}
}

func TestNewWithEqualUsesCustomEquality(t *testing.T) {
	v := NewWithEqual("ports", []int{1, 3}, func(a, b []int) bool { return reflect.DeepEqual(a, b) })
	rec := &recorder[[]int]{}
	v.AddObserver(rec)

	v.Set([]int{1, 3})
	v.Set([]int{1, 2})
	if len(rec.values) != 1 {
		t.Fatalf("expected one notification, got %v", rec.values)
	}
}

type fakeAccessor[T comparable] struct {
	shown    T
	writes   []T
	handlers []func()
}

func (f *fakeAccessor[T]) Read() T { return f.shown }

func (f *fakeAccessor[T]) Write(v T) {
	f.writes = append(f.writes, v)
	f.shown = v
}

func (f *fakeAccessor[T]) OnChange(fn func()) { f.handlers = append(f.handlers, fn) }

// edit simulates a user typing into the widget.
func (f *fakeAccessor[T]) edit(v T) {
	f.shown = v
	for _, h := range f.handlers {
		h()
	}
}

func TestLinkViewBindsBothDirections(t *testing.T) {
	v := New("zva_address", "192.168.56.102")
	view := &fakeAccessor[string]{shown: "stale"}

	v.LinkView(view)
	if view.shown != "192.168.56.102" {
		t.Fatalf("view not initialised, shows %q", view.shown)
	}
	if len(view.writes) != 1 {
		t.Fatalf("expected one initial write, got %v", view.writes)
	}

	view.edit("10.0.0.7")
	if v.Get() != "10.0.0.7" {
		t.Fatalf("view edit not applied, model has %q", v.Get())
	}
	writes := len(view.writes)

	v.Set("10.0.0.7")
	if len(view.writes) != writes {
		t.Fatalf("same-value Set wrote to the view again: %v", view.writes)
	}

	v.Set("10.0.0.8")
	if view.shown != "10.0.0.8" {
		t.Fatalf("model change not written to view, shows %q", view.shown)
	}
}

func TestLinkViewObserverCanBeRemoved(t *testing.T) {
	v := New("minimized_pos", "+500+0")
	view := &fakeAccessor[string]{}
	o := v.LinkView(view)

	if err := v.RemoveObserver(o); err != nil {
		t.Fatalf("remove link observer: %v", err)
	}
	v.Set("+0+0")
	if view.shown != "+500+0" {
		t.Fatalf("unlinked view was updated to %q", view.shown)
	}
}
