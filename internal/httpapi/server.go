// Package httpapi exposes the gateway's HTTP and WebSocket surface:
// health, usage, and session introspection endpoints, plus the companion
// node upgrade path, rate-limit middleware, and CORS origin checking.
// Grounded on the teacher's internal/gateway.Server (BuildMux,
// checkOrigin, handleWebSocket) generalized from the teacher's
// OpenAI-compatible chat surface to this gateway's own routes.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ag3nt-dev/gateway/internal/nodeconn"
	"github.com/ag3nt-dev/gateway/internal/pairing"
	"github.com/ag3nt-dev/gateway/internal/ratelimit"
	"github.com/ag3nt-dev/gateway/internal/sessions"
	"github.com/ag3nt-dev/gateway/internal/usage"
)

// Config bundles Server's collaborators and CORS policy.
type Config struct {
	AllowedOrigins []string
	GlobalLimiter  *ratelimit.Limiter
	Usage          *usage.Tracker
	Sessions       *sessions.Manager
	NodeConns      *nodeconn.Manager
	Pairing        *pairing.Manager
}

// Server owns the gateway's HTTP mux.
type Server struct {
	cfg      Config
	upgrader websocket.Upgrader
	mux      *http.ServeMux
}

// New constructs a Server; call Mux to obtain the built handler.
func New(cfg Config) *Server {
	s := &Server{cfg: cfg}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	return s
}

// checkOrigin allows all origins when none are configured (dev mode),
// always allows non-browser clients (empty Origin header), and otherwise
// requires an exact or "*" match, per the teacher's Server.checkOrigin.
func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if origin == allowed || allowed == "*" {
			return true
		}
	}
	slog.Warn("httpapi: cors origin rejected", "origin", origin)
	return false
}

// Mux builds (once, cached) and returns the HTTP handler for this Server.
func (s *Server) Mux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/v1/usage", s.rateLimited(http.HandlerFunc(s.handleUsage)))
	mux.Handle("/v1/sessions", s.rateLimited(http.HandlerFunc(s.handleSessions)))
	mux.HandleFunc("/ws/node", s.handleNodeUpgrade)
	s.mux = mux
	return mux
}

// rateLimited wraps next with the global API limiter, emitting
// X-RateLimit-* headers and a 429 GW-API-004 envelope on denial, per §6's
// HTTP error envelope and §4.2.
func (s *Server) rateLimited(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.GlobalLimiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		key := ratelimit.ClientKey(r.Header.Get("X-Forwarded-For"), r.RemoteAddr)
		res := s.cfg.GlobalLimiter.Check(key)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(s.cfg.GlobalLimiter.Limit()))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
		if !res.Allowed {
			retryAfter := time.Until(res.ResetAt).Seconds()
			writeError(w, http.StatusTooManyRequests, "GW-API-004", "Rate limit exceeded", &retryAfter)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Usage == nil {
		writeSuccess(w, http.StatusOK, usage.Stats{ByProvider: map[string]*usage.ProviderStats{}})
		return
	}
	writeSuccess(w, http.StatusOK, s.cfg.Usage.Stats(nil))
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Sessions == nil {
		writeSuccess(w, http.StatusOK, []any{})
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "GW-API-003", "Bad request: missing id query parameter", nil)
		return
	}
	session, ok := s.cfg.Sessions.GetSession(id)
	if !ok {
		writeError(w, http.StatusNotFound, "GW-SESS-001", "Session not found", nil)
		return
	}
	writeSuccess(w, http.StatusOK, session)
}

func (s *Server) handleNodeUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.cfg.NodeConns == nil {
		writeError(w, http.StatusServiceUnavailable, "GW-NODE-001", "Node connections are not enabled", nil)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("httpapi: node websocket upgrade failed", "error", err)
		return
	}
	go s.cfg.NodeConns.HandleConnection(conn)
}

// Start runs the HTTP server on addr until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Mux()}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("httpapi: failed to encode response", "error", err)
	}
}

// writeSuccess emits the §6 success envelope `{ok: true, …}`, flattening
// data's own fields alongside ok via a marshal/unmarshal round trip so
// callers can pass either a map or a plain struct (usage.Stats, Session).
func writeSuccess(w http.ResponseWriter, status int, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		slog.Error("httpapi: failed to marshal response", "error", err)
		writeJSON(w, http.StatusInternalServerError, flatError{Ok: false, Error: "internal error"})
		return
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		// data isn't a JSON object (e.g. a slice) — nest it under "data"
		// instead of dropping the ok:true envelope.
		writeJSON(w, status, map[string]any{"ok": true, "data": json.RawMessage(raw)})
		return
	}
	fields["ok"] = true
	writeJSON(w, status, fields)
}

// flatError is the HTTP error shape from §6: `{ok: false, error, code?,
// retryAfter?}` — flat, no nested details object.
type flatError struct {
	Ok         bool     `json:"ok"`
	Error      string   `json:"error"`
	Code       string   `json:"code,omitempty"`
	RetryAfter *float64 `json:"retryAfter,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, message string, retryAfter *float64) {
	writeJSON(w, status, flatError{Ok: false, Error: message, Code: code, RetryAfter: retryAfter})
}
