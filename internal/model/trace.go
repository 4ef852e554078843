package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/luksan/rss-im-sweep/internal/observable"
)

var (
	ErrDuplicateTrace = errors.New("duplicate trace name")
	ErrUnknownTrace   = errors.New("unknown trace name")
	ErrInvalidTrace   = errors.New("invalid trace")
)

// Measurement is a wave quantity: the receiver (A/B) and the port pair.
// Its JSON form is [receiver, source_port, destination_port].
type Measurement struct {
	Receiver        string
	SourcePort      string
	DestinationPort string
}

// Wave is shorthand for a wave quantity with numeric ports.
func Wave(receiver string, src, dst int) Measurement {
	return Measurement{Receiver: receiver, SourcePort: fmt.Sprint(src), DestinationPort: fmt.Sprint(dst)}
}

// String renders the wave quantity in instrument notation, e.g. B2D1 for
// the b wave at port 2 with port 1 driving.
func (m Measurement) String() string {
	return fmt.Sprintf("%s%sD%s", m.Receiver, m.DestinationPort, m.SourcePort)
}

func (m Measurement) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]string{m.Receiver, m.SourcePort, m.DestinationPort})
}

// UnmarshalJSON accepts the three-element array, with string or numeric
// elements, and the object form written by older releases.
func (m *Measurement) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var obj struct {
			Receiver json.RawMessage `json:"receiver"`
			Src      json.RawMessage `json:"src_port"`
			Dst      json.RawMessage `json:"dst_port"`
		}
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return err
		}
		return m.fill([]json.RawMessage{obj.Receiver, obj.Src, obj.Dst})
	}
	var parts []json.RawMessage
	if err := json.Unmarshal(trimmed, &parts); err != nil {
		return err
	}
	if len(parts) != 3 {
		return fmt.Errorf("measurement needs 3 elements, got %d", len(parts))
	}
	return m.fill(parts)
}

func (m *Measurement) fill(parts []json.RawMessage) error {
	var out [3]string
	for i, raw := range parts {
		s, err := scalarString(raw)
		if err != nil {
			return fmt.Errorf("measurement element %d: %w", i, err)
		}
		out[i] = s
	}
	*m = Measurement{Receiver: out[0], SourcePort: out[1], DestinationPort: out[2]}
	return nil
}

func scalarString(raw json.RawMessage) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return "", err
	}
	switch t := v.(type) {
	case string:
		return t, nil
	case json.Number:
		return t.String(), nil
	default:
		return "", fmt.Errorf("expected string or number, got %T", v)
	}
}

// Trace is one entry of the trace table. A nil Measurement marks a removal
// in change notifications and never appears in the stored collection.
type Trace struct {
	Measurement *Measurement
	Equation    string
	Window      int
}

// Removed reports whether t is a removal marker.
func (t Trace) Removed() bool {
	return t.Measurement == nil
}

func (t Trace) equal(o Trace) bool {
	if t.Equation != o.Equation || t.Window != o.Window {
		return false
	}
	if t.Measurement == nil || o.Measurement == nil {
		return t.Measurement == o.Measurement
	}
	return *t.Measurement == *o.Measurement
}

func (t Trace) clone() Trace {
	if t.Measurement != nil {
		m := *t.Measurement
		t.Measurement = &m
	}
	return t
}

// Traces maps trace names to traces.
type Traces map[string]Trace

// Equal reports structural equality.
func (ts Traces) Equal(o Traces) bool {
	if len(ts) != len(o) {
		return false
	}
	for name, t := range ts {
		other, ok := o[name]
		if !ok || !t.equal(other) {
			return false
		}
	}
	return true
}

// Names returns the trace names sorted.
func (ts Traces) Names() []string {
	names := make([]string, 0, len(ts))
	for name := range ts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (ts Traces) clone() Traces {
	out := make(Traces, len(ts))
	for name, t := range ts {
		out[name] = t.clone()
	}
	return out
}

type plainTrace struct {
	Measurement *Measurement `json:"measurement"`
	MeasQty     *Measurement `json:"meas_qty,omitempty"`
	Equation    *string      `json:"equation"`
	Window      int          `json:"window"`
}

// TraceCollection is the observable trace table. Observers receive either
// the whole table (Set) or a single-entry delta (AddTrace, RemoveTrace); a
// delta whose trace is Removed() is a deletion.
type TraceCollection struct {
	observable.Subject[Traces]

	name       string
	persistent bool
	traces     Traces
}

// NewTraceCollection returns an empty collection.
func NewTraceCollection(name string, persistent bool) *TraceCollection {
	return &TraceCollection{name: name, persistent: persistent, traces: Traces{}}
}

func (c *TraceCollection) Name() string { return c.name }

func (c *TraceCollection) Persistent() bool { return c.persistent }

// Get returns a copy of the collection.
func (c *TraceCollection) Get() Traces {
	return c.traces.clone()
}

// Len returns the number of traces.
func (c *TraceCollection) Len() int {
	return len(c.traces)
}

// Trace returns the named trace.
func (c *TraceCollection) Trace(name string) (Trace, bool) {
	t, ok := c.traces[name]
	if !ok {
		return Trace{}, false
	}
	return t.clone(), true
}

// Set replaces the whole collection and notifies with the new table.
// Every trace must carry a measurement.
func (c *TraceCollection) Set(traces Traces) error {
	for name, t := range traces {
		if t.Removed() {
			return fmt.Errorf("%w: %q has no measurement", ErrInvalidTrace, name)
		}
	}
	if c.traces.Equal(traces) {
		return nil
	}
	c.traces = traces.clone()
	c.Notify(c.traces.clone())
	return nil
}

// AddTrace inserts a trace and notifies with {name: trace}.
func (c *TraceCollection) AddTrace(name string, m Measurement, equation string, window int) error {
	if _, ok := c.traces[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateTrace, name)
	}
	t := Trace{Measurement: &m, Equation: equation, Window: window}
	c.traces[name] = t
	c.Notify(Traces{name: t.clone()})
	return nil
}

// RemoveTrace deletes a trace and notifies with {name: removal marker}.
func (c *TraceCollection) RemoveTrace(name string) error {
	t, ok := c.traces[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTrace, name)
	}
	delete(c.traces, name)
	t.Measurement = nil
	c.Notify(Traces{name: t})
	return nil
}

func (c *TraceCollection) PlainValue() any {
	out := make(map[string]plainTrace, len(c.traces))
	for name, t := range c.traces {
		p := plainTrace{Measurement: t.clone().Measurement, Window: t.Window}
		if t.Equation != "" {
			eq := t.Equation
			p.Equation = &eq
		}
		out[name] = p
	}
	return out
}

func (c *TraceCollection) Decode(raw json.RawMessage) (func(), error) {
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, fmt.Errorf("decode %s: %w", c.name, errNull)
	}
	var plain map[string]plainTrace
	if err := json.Unmarshal(raw, &plain); err != nil {
		return nil, fmt.Errorf("decode %s: %w", c.name, err)
	}
	traces := make(Traces, len(plain))
	for name, p := range plain {
		m := p.Measurement
		if m == nil {
			m = p.MeasQty
		}
		if m == nil {
			return nil, fmt.Errorf("decode %s: %w: %q has no measurement", c.name, ErrInvalidTrace, name)
		}
		t := Trace{Measurement: m, Window: p.Window}
		if p.Equation != nil {
			t.Equation = *p.Equation
		}
		traces[name] = t
	}
	return func() { _ = c.Set(traces) }, nil
}

// OnChange calls fn after every notification of the collection.
func (c *TraceCollection) OnChange(fn func()) {
	c.AddObserver(observable.NewFunc(func(Traces) { fn() }))
}
