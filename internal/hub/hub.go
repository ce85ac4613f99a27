// Package hub wires together the registry, router, and audit sink behind
// an HTTP listener that upgrades a fixed path to a WebSocket and spawns one
// session per accepted socket.
//
// Grounded on the teacher's internal/server.Server (ListenAndServe/
// serveConn/Shutdown shape) and on dlfelps-whatsapp-gemini's
// cmd/server/main.go (net/http + nhooyr.io/websocket upgrade mechanics,
// and the SetupRouter/Server split that makes the router testable with
// httptest.NewServer without starting a real listener).
package hub

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"nhooyr.io/websocket"

	"signalhub/internal/audit"
	"signalhub/internal/registry"
	"signalhub/internal/router"
	"signalhub/internal/session"
)

// Config is the process-wide configuration spec §6 names.
type Config struct {
	ListenAddr     string
	SignalingPath  string
	AllowedOrigins []string // optional host patterns for cross-origin requests; empty accepts only same-origin requests and requests without an Origin header
	AuditWorkers   int
	Session        session.Config
}

// DefaultConfig returns the recommended defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:    ":8080",
		SignalingPath: "/api/signaling",
		AuditWorkers:  2,
		Session:       session.DefaultConfig(),
	}
}

// Hub is the long-lived process described in spec §2.
type Hub struct {
	cfg  Config
	reg  *registry.Registry
	rtr  *router.Router
	sink *audit.Sink
	log  *slog.Logger
	srv  *http.Server

	mu       sync.Mutex
	sessions map[*session.Session]struct{}
	wg       sync.WaitGroup
}

// New constructs a Hub. log must not be nil.
func New(cfg Config, log *slog.Logger) *Hub {
	reg := registry.New()
	return &Hub{
		cfg:      cfg,
		reg:      reg,
		rtr:      router.New(reg),
		sink:     audit.NewSink(cfg.AuditWorkers, log),
		log:      log,
		sessions: make(map[*session.Session]struct{}),
	}
}

// Handler returns the HTTP handler the hub serves. Exported so tests can
// drive it through httptest.NewServer without starting a real listener.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(h.cfg.SignalingPath, h.handleSignaling)
	return mux
}

// Registry exposes the hub's peer directory for tests asserting P1/P7.
func (h *Hub) Registry() *registry.Registry { return h.reg }

// ListenAndServe starts the hub's HTTP listener and blocks until Shutdown
// is called or a fatal listener error occurs.
func (h *Hub) ListenAndServe() error {
	h.srv = &http.Server{
		Addr:    h.cfg.ListenAddr,
		Handler: h.Handler(),
	}
	h.log.Info("signaling hub listening", slog.String("addr", h.cfg.ListenAddr), slog.String("path", h.cfg.SignalingPath))
	err := h.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown tears down every live session, then stops the listener and the
// audit sink. It blocks until every session has reached the closed state.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	for s := range h.sessions {
		s.Close()
	}
	h.mu.Unlock()
	h.wg.Wait()

	var err error
	if h.srv != nil {
		err = h.srv.Shutdown(ctx)
	}
	h.sink.Stop()
	return err
}

func (h *Hub) handleSignaling(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")

	opts := &websocket.AcceptOptions{}
	if len(h.cfg.AllowedOrigins) > 0 {
		opts.OriginPatterns = h.cfg.AllowedOrigins
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		h.log.Warn("websocket upgrade failed", slog.String("remote_addr", r.RemoteAddr), slog.String("error", err.Error()))
		return
	}

	sess := session.New(conn, name, h.reg, h.rtr, h.sink, h.log, h.cfg.Session)
	h.track(sess)
	defer h.untrack(sess)

	sess.Run(r.Context())
}

func (h *Hub) track(s *session.Session) {
	h.mu.Lock()
	h.sessions[s] = struct{}{}
	h.mu.Unlock()
	h.wg.Add(1)
}

func (h *Hub) untrack(s *session.Session) {
	h.mu.Lock()
	delete(h.sessions, s)
	h.mu.Unlock()
	h.wg.Done()
}

