// Package telemetry mirrors the model state for readers outside the owner
// goroutine: a settings snapshot, the connection status history and live
// status events.
package telemetry

import (
	"bytes"
	"encoding/json"
	"sync"
	"time"

	"github.com/luksan/rss-im-sweep/internal/logging"
	"github.com/luksan/rss-im-sweep/internal/model"
	"github.com/luksan/rss-im-sweep/internal/observable"
)

const defaultHistoryLimit = 100

// StatusEvent captures the connection state after a change.
type StatusEvent struct {
	Timestamp       time.Time `json:"timestamp"`
	Connected       bool      `json:"connected"`
	Status          string    `json:"status"`
	InstrumentError string    `json:"instrumentError,omitempty"`
}

func (e StatusEvent) same(o StatusEvent) bool {
	return e.Connected == o.Connected && e.Status == o.Status && e.InstrumentError == o.InstrumentError
}

// Hub collects status history and fans out status events to subscribers.
type Hub struct {
	mu           sync.RWMutex
	settings     []byte
	current      StatusEvent
	history      []StatusEvent
	historyLimit int
	subscribers  map[chan StatusEvent]struct{}
	logger       logging.Logger
}

// NewHub builds a hub keeping at most historyLimit status events.
func NewHub(historyLimit int, logger logging.Logger) *Hub {
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Hub{
		settings:     []byte("{}\n"),
		historyLimit: historyLimit,
		subscribers:  make(map[chan StatusEvent]struct{}),
		logger:       logger.With(logging.Subsystem("telemetry")),
	}
}

// Attach feeds the hub from s. It must be called on the goroutine that owns
// s; the registered observers run there too.
func (h *Hub) Attach(s *model.Settings) {
	refresh := func() {
		var buf bytes.Buffer
		if err := s.Store(&buf); err != nil {
			h.logger.Warn("settings snapshot failed", logging.Field{Key: "error", Value: err})
			return
		}
		h.UpdateSettings(buf.Bytes())
	}
	refresh()
	s.OnChange(refresh)

	report := func() {
		h.ReportStatus(s.ZVAIsConnected.Get(), s.ConnectionStatus.Get(), s.InstrumentError.Get())
	}
	report()
	s.ZVAIsConnected.AddObserver(observable.NewFunc(func(bool) { report() }))
	s.ConnectionStatus.AddObserver(observable.NewFunc(func(string) { report() }))
	s.InstrumentError.AddObserver(observable.NewFunc(func(string) { report() }))
}

// UpdateSettings replaces the settings snapshot.
func (h *Hub) UpdateSettings(doc []byte) {
	cp := append([]byte(nil), doc...)
	h.mu.Lock()
	h.settings = cp
	h.mu.Unlock()
}

// Settings returns the last stored settings document.
func (h *Hub) Settings() []byte {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]byte(nil), h.settings...)
}

// ReportStatus records a status event. Repeats of the current state are
// ignored.
func (h *Hub) ReportStatus(connected bool, status, instrumentError string) {
	ev := StatusEvent{Timestamp: time.Now(), Connected: connected, Status: status, InstrumentError: instrumentError}

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.history) > 0 && h.current.same(ev) {
		return
	}
	h.current = ev
	h.history = append(h.history, ev)
	if len(h.history) > h.historyLimit {
		h.history = h.history[len(h.history)-h.historyLimit:]
	}
	for ch := range h.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Current returns the latest status event.
func (h *Hub) Current() StatusEvent {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// History returns a copy of stored status events, oldest first.
func (h *Hub) History() []StatusEvent {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]StatusEvent, len(h.history))
	copy(out, h.history)
	return out
}

// Subscribe registers a listener for live updates. Slow listeners miss
// events rather than block the reporter.
func (h *Hub) Subscribe() (<-chan StatusEvent, func()) {
	ch := make(chan StatusEvent, 16)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subscribers, ch)
			close(ch)
			h.mu.Unlock()
		})
	}
	return ch, cancel
}

type statusResponse struct {
	StatusEvent
	History []StatusEvent `json:"history"`
}

func encodeJSON(v any) []byte {
	payload, _ := json.Marshal(v)
	return payload
}
