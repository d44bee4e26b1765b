package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"agentbridge/internal/config"
	"agentbridge/internal/routing"
)

// HoldService parks and resumes the caller of an agent's call.
type HoldService interface {
	Hold(ctx context.Context, agent string) error
	Unhold(ctx context.Context, agent string) error
}

// CallStore is the read side of the call registry.
type CallStore interface {
	Calls() map[string]routing.Call
	Get(id string) (routing.Call, bool)
}

// BridgeInspector fetches live bridge state.
type BridgeInspector interface {
	GetBridge(bridgeID string) (routing.BridgeInfo, error)
}

// ConnectionProvider reports whether the ARI session is up.
type ConnectionProvider interface {
	Connected() bool
}

// HoldObserver counts hold requests by action and result.
type HoldObserver interface {
	ObserveHold(action, result string)
}

// Options carries the optional collaborators of the server.
type Options struct {
	Bridges BridgeInspector
	Conn    ConnectionProvider
	Holds   HoldObserver
	Events  http.Handler // GET /ws
	Metrics http.Handler // GET /metrics
}

// Server representa el servidor HTTP de control
type Server struct {
	cfg    config.APIConfig
	hold   HoldService
	calls  CallStore
	opts   Options
	log    logrus.FieldLogger
	router *chi.Mux
	http   *http.Server
}

// NewServer crea el servidor con todas las rutas montadas
func NewServer(cfg config.APIConfig, hold HoldService, calls CallStore, opts Options, log logrus.FieldLogger) *Server {
	s := &Server{
		cfg:    cfg,
		hold:   hold,
		calls:  calls,
		opts:   opts,
		log:    log,
		router: chi.NewRouter(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	if s.cfg.EnableCORS {
		r.Use(corsMiddleware)
	}

	r.Post("/hold", s.handleHold)
	r.Post("/unhold", s.handleUnhold)
	r.Get("/calls", s.handleCalls)
	r.Get("/calls/{id}", s.handleCall)
	r.Get("/health", s.handleHealth)
	if s.opts.Events != nil {
		r.Handle("/ws", s.opts.Events)
	}
	if s.opts.Metrics != nil {
		r.Handle("/metrics", s.opts.Metrics)
	}
}

// Start escucha en la dirección configurada hasta Shutdown
func (s *Server) Start() error {
	addr := s.cfg.Address()
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.WithField("addr", addr).Info("Servidor HTTP iniciado")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown espera a que terminen las peticiones en curso
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHold(w http.ResponseWriter, r *http.Request) {
	s.holdAction(w, r, "hold", s.hold.Hold)
}

func (s *Server) handleUnhold(w http.ResponseWriter, r *http.Request) {
	s.holdAction(w, r, "unhold", s.hold.Unhold)
}

func (s *Server) holdAction(w http.ResponseWriter, r *http.Request, action string, fn func(context.Context, string) error) {
	agent := r.URL.Query().Get("agent")
	if agent == "" {
		writeError(w, http.StatusBadRequest, "agent is required")
		return
	}

	err := fn(r.Context(), agent)
	switch {
	case err == nil:
		s.observeHold(action, "ok")
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	case errors.Is(err, routing.ErrCallNotFound):
		s.observeHold(action, "not_found")
		writeError(w, http.StatusNotFound, "No call found for "+agent)
	default:
		s.observeHold(action, "error")
		s.log.WithError(err).WithFields(logrus.Fields{"agent": agent, "action": action}).Error("Error en petición de hold")
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) observeHold(action, result string) {
	if s.opts.Holds != nil {
		s.opts.Holds.ObserveHold(action, result)
	}
}

func (s *Server) handleCalls(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.calls.Calls())
}

type callDetail struct {
	ID          string              `json:"id"`
	Agent       string              `json:"agent"`
	Call        routing.Call        `json:"call"`
	StartedAt   time.Time           `json:"started_at"`
	Bridge      *routing.BridgeInfo `json:"bridge,omitempty"`
	BridgeError string              `json:"bridge_error,omitempty"`
}

func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	call, ok := s.calls.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "No call found for "+id)
		return
	}

	detail := callDetail{ID: id, Agent: call.Agent, Call: call, StartedAt: call.StartedAt}
	if s.opts.Bridges != nil {
		info, err := s.opts.Bridges.GetBridge(call.Bridge)
		if err != nil {
			detail.BridgeError = err.Error()
		} else {
			detail.Bridge = &info
		}
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	connected := false
	if s.opts.Conn != nil {
		connected = s.opts.Conn.Connected()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"ari":    connected,
	})
}

// requestLogger registra cada petición con el logger del servicio
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"took":       time.Since(start).String(),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("HTTP request")
	})
}

// corsMiddleware agrega headers CORS
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
