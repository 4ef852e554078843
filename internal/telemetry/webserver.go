package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/luksan/rss-im-sweep/internal/logging"
)

// WebServer exposes status, settings, the analyzer's cal pool and metrics
// over HTTP.
type WebServer struct {
	srv    *http.Server
	hub    *Hub
	logger logging.Logger
	// Connect, when set, serves POST /api/connect.
	Connect func() error
	// CalPool, when set, serves GET /api/calpool.
	CalPool func(ctx context.Context) ([]string, error)
}

// NewWebServer builds the HTTP server. Call Start to serve.
func NewWebServer(addr string, hub *Hub, logger logging.Logger) *WebServer {
	if logger == nil {
		logger = logging.Default()
	}
	w := &WebServer{hub: hub, logger: logger.With(logging.Subsystem("web"))}
	w.srv = &http.Server{Addr: addr, Handler: w.Handler(), ReadHeaderTimeout: 5 * time.Second}
	return w
}

// Handler returns the routing table.
func (w *WebServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", w.hub.handleStatus)
	mux.HandleFunc("/api/settings", w.hub.handleSettings)
	mux.HandleFunc("/api/live", w.hub.handleLive)
	mux.HandleFunc("/api/connect", w.handleConnect)
	mux.HandleFunc("/api/calpool", w.handleCalPool)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Start serves until ctx is canceled, then shuts down gracefully.
func (w *WebServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", w.srv.Addr)
	if err != nil {
		return err
	}
	return w.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (w *WebServer) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := w.srv.Shutdown(shutdownCtx); err != nil {
			w.logger.Warn("web server shutdown", logging.Field{Key: "error", Value: err})
		}
	})
	defer stop()

	w.logger.Info("web server listening", logging.Field{Key: "addr", Value: ln.Addr().String()})
	if err := w.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (w *WebServer) handleConnect(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(rw, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if w.Connect == nil {
		http.Error(rw, "connect not available", http.StatusNotImplemented)
		return
	}
	if err := w.Connect(); err != nil {
		http.Error(rw, err.Error(), http.StatusConflict)
		return
	}
	rw.WriteHeader(http.StatusAccepted)
}

func (w *WebServer) handleCalPool(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(rw, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if w.CalPool == nil {
		http.Error(rw, "cal pool not available", http.StatusNotImplemented)
		return
	}
	pool, err := w.CalPool(r.Context())
	if err != nil {
		http.Error(rw, err.Error(), http.StatusConflict)
		return
	}
	if pool == nil {
		pool = []string{}
	}
	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(struct {
		CalPool []string `json:"calpool"`
	}{pool})
}

func (h *Hub) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(statusResponse{StatusEvent: h.Current(), History: h.History()})
}

func (h *Hub) handleSettings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(h.Settings())
}

func (h *Hub) handleLive(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := h.Subscribe()
	defer cancel()

	writeEvent := func(ev StatusEvent) {
		w.Write([]byte("data: "))
		w.Write(encodeJSON(ev))
		w.Write([]byte("\n\n"))
	}
	// current state for immediate display
	writeEvent(h.Current())
	flusher.Flush()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			writeEvent(ev)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
