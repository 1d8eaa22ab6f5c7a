// Package httpapi serves the daemon control API over HTTP.
package httpapi

import (
	stdcontext "context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/SamirTalwar/sandcastles/internal/api"
	"github.com/SamirTalwar/sandcastles/internal/engine"
	"github.com/SamirTalwar/sandcastles/internal/metrics"
)

const (
	defaultAddr            = "127.0.0.1:7477"
	defaultReadHeader      = 5 * time.Second
	defaultShutdownTimeout = 5 * time.Second
)

// Config controls construction of the API server.
type Config struct {
	Addr              string
	Controller        api.Controller
	Listener          net.Listener
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// Server wraps an http.Server exposing daemon controls.
type Server struct {
	ctrl            api.Controller
	srv             *http.Server
	listener        net.Listener
	shutdownTimeout time.Duration
}

// NewServer constructs a Server with sane defaults.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Controller == nil {
		return nil, fmt.Errorf("controller is required")
	}
	addr := normalizeAddr(cfg.Addr)
	mux := http.NewServeMux()
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
	if srv.ReadHeaderTimeout == 0 {
		srv.ReadHeaderTimeout = defaultReadHeader
	}
	server := &Server{
		ctrl:            cfg.Controller,
		srv:             srv,
		listener:        cfg.Listener,
		shutdownTimeout: cfg.ShutdownTimeout,
	}
	if server.shutdownTimeout == 0 {
		server.shutdownTimeout = defaultShutdownTimeout
	}
	server.registerRoutes(mux)
	return server, nil
}

// Run starts serving until the provided context is cancelled.
func (s *Server) Run(ctx stdcontext.Context) error {
	if ctx == nil {
		ctx = stdcontext.Background()
	}
	errCh := make(chan error, 1)
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := stdcontext.WithTimeout(stdcontext.Background(), s.shutdownTimeout)
			defer cancel()
			_ = s.srv.Shutdown(shutdownCtx)
		case <-stop:
		}
	}()

	go func() {
		var err error
		if s.listener != nil {
			err = s.srv.Serve(s.listener)
		} else {
			err = s.srv.ListenAndServe()
		}
		errCh <- err
	}()

	err := <-errCh
	close(stop)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.srv.Addr
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/services", s.handleServices)
	mux.HandleFunc("/api/v1/services/", s.handleService)
	mux.HandleFunc("/api/v1/scopes", s.handleScopes)
	mux.HandleFunc("/api/v1/scopes/", s.handleScope)
	mux.HandleFunc("/api/v1/events", s.handleEvents)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	result, err := s.ctrl.Status(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleServices(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		services, err := s.ctrl.Services(r.Context())
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"services": services})
	case http.MethodPost:
		var req api.StartServiceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeJSON(w, http.StatusBadRequest, errorBody{
				Code:    "invalid_request",
				Message: fmt.Sprintf("decoding request: %v", err),
			})
			return
		}
		status, err := s.ctrl.StartService(r.Context(), req)
		if err != nil {
			s.writeErrorWithDetails(w, err, map[string]any{"service": req.Name})
			return
		}
		s.writeJSON(w, http.StatusCreated, map[string]any{"service": status})
	default:
		s.methodNotAllowed(w, "GET, POST")
	}
}

func (s *Server) handleService(w http.ResponseWriter, r *http.Request) {
	ref := strings.TrimPrefix(r.URL.Path, "/api/v1/services/")
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.Contains(ref, "/") {
		s.writeErrorWithDetails(w, fmt.Errorf("%w: invalid service path", engine.ErrUnknownService), map[string]any{"service": ref})
		return
	}
	switch r.Method {
	case http.MethodGet:
		status, err := s.ctrl.Service(r.Context(), ref)
		if err != nil {
			s.writeErrorWithDetails(w, err, map[string]any{"service": ref})
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"service": status})
	case http.MethodDelete:
		status, err := s.ctrl.StopService(r.Context(), ref)
		if err != nil {
			s.writeErrorWithDetails(w, err, map[string]any{"service": ref})
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"service": status})
	default:
		s.methodNotAllowed(w, "GET, DELETE")
	}
}

func (s *Server) handleScopes(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		result, err := s.ctrl.Status(r.Context())
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"scopes": result.Scopes})
	case http.MethodPost:
		status, err := s.ctrl.OpenScope(r.Context())
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, map[string]any{"scope": status})
	default:
		s.methodNotAllowed(w, "GET, POST")
	}
}

func (s *Server) handleScope(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/scopes/")
	id = strings.TrimSpace(id)
	if id == "" || strings.Contains(id, "/") {
		s.writeErrorWithDetails(w, fmt.Errorf("%w: invalid scope path", engine.ErrUnknownScope), map[string]any{"scope": id})
		return
	}
	if r.Method != http.MethodDelete {
		s.methodNotAllowed(w, http.MethodDelete)
		return
	}
	if err := s.ctrl.CloseScope(r.Context(), id); err != nil {
		s.writeErrorWithDetails(w, err, map[string]any{"scope": id})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"scope": id, "closed": true})
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	s.writeJSON(w, http.StatusMethodNotAllowed, errorBody{
		Code:    "method_not_allowed",
		Message: fmt.Sprintf("allowed methods: %s", allowed),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

type errorBody struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.writeErrorWithDetails(w, err, nil)
}

func (s *Server) writeErrorWithDetails(w http.ResponseWriter, err error, extra map[string]any) {
	status, code := classifyError(err)
	details := map[string]any{
		"timestamp": time.Now().UTC(),
	}
	for k, v := range extra {
		details[k] = v
	}
	s.writeJSON(w, status, errorBody{
		Code:    code,
		Message: err.Error(),
		Details: details,
	})
}

func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, stdcontext.Canceled):
		return 499, "context_canceled"
	case errors.Is(err, engine.ErrUnknownService):
		return http.StatusNotFound, "unknown_service"
	case errors.Is(err, engine.ErrUnknownScope):
		return http.StatusNotFound, "unknown_scope"
	case errors.Is(err, engine.ErrScopeClosed):
		return http.StatusConflict, "scope_closed"
	case errors.Is(err, engine.ErrServiceNameTaken):
		return http.StatusConflict, "service_name_taken"
	case errors.Is(err, engine.ErrLaunchFailed):
		return http.StatusUnprocessableEntity, "launch_failed"
	case errors.Is(err, engine.ErrCrashed):
		return http.StatusUnprocessableEntity, "service_crashed"
	case errors.Is(err, engine.ErrRestartsExhausted):
		return http.StatusUnprocessableEntity, "restarts_exhausted"
	case errors.Is(err, engine.ErrReadinessTimeout):
		return http.StatusGatewayTimeout, "readiness_timeout"
	case errors.Is(err, engine.ErrReadinessFailed):
		return http.StatusUnprocessableEntity, "readiness_failed"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func normalizeAddr(addr string) string {
	if strings.TrimSpace(addr) == "" {
		return defaultAddr
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		// If parsing failed, trust caller.
		return addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}
