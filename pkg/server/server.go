// Package server exposes an activation service over HTTP so that a host
// runtime in another process can resolve rules and dispatch hooks.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/jingkaihe/activator/pkg/activation"
	"github.com/jingkaihe/activator/pkg/hooks"
	"github.com/jingkaihe/activator/pkg/logger"
	"github.com/jingkaihe/activator/pkg/presenter"
	"github.com/jingkaihe/activator/pkg/rules"
	"github.com/jingkaihe/activator/pkg/version"
	"github.com/pkg/errors"
)

// maxRequestBody bounds the size of a dispatch request
const maxRequestBody = 1 << 20

// ActivationService is the part of activation.Service the server uses
type ActivationService interface {
	ResolveDocuments(path string) []*rules.Document
	DispatchHook(ctx context.Context, event hooks.Event, toolName string, hctx hooks.Context) hooks.Decision
	Load(ctx context.Context, src activation.Sources) error
	Stats() activation.Stats
}

// Server serves the activation API
type Server struct {
	router  *mux.Router
	service ActivationService
	config  *ServerConfig
	server  *http.Server
}

// ServerConfig holds the configuration for the server
type ServerConfig struct {
	Host    string
	Port    int
	Sources activation.Sources // reloaded by POST /api/reload
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Host == "" {
		return errors.New("host cannot be empty")
	}

	if c.Port < 1 || c.Port > 65535 {
		return errors.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}

	return nil
}

// NewServer creates a new server for service
func NewServer(service ActivationService, config *ServerConfig) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid server configuration")
	}

	s := &Server{
		router:  mux.NewRouter(),
		service: service,
		config:  config,
	}
	s.setupRoutes()

	return s, nil
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/rules", s.handleResolveRules).Methods("GET")
	api.HandleFunc("/dispatch", s.handleDispatch).Methods("POST")
	api.HandleFunc("/reload", s.handleReload).Methods("POST")
	api.HandleFunc("/status", s.handleStatus).Methods("GET")

	s.router.Use(s.loggingMiddleware)
}

// Handler returns the HTTP handler of the server
func (s *Server) Handler() http.Handler {
	return s.router
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{ResponseWriter: w, statusCode: 200}

		next.ServeHTTP(rw, r)

		logger.G(r.Context()).WithFields(map[string]any{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rw.statusCode,
			"duration":    time.Since(start),
			"remote_addr": r.RemoteAddr,
		}).Debug("HTTP request")
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// RuleResponse is a single resolved rule document
type RuleResponse struct {
	ID       string   `json:"id"`
	Scope    string   `json:"scope"`
	Patterns []string `json:"patterns,omitempty"`
	Source   string   `json:"source,omitempty"`
	Payload  string   `json:"payload"`
}

// ResolveRulesResponse is the response of GET /api/rules
type ResolveRulesResponse struct {
	Path  string         `json:"path"`
	Rules []RuleResponse `json:"rules"`
}

// handleResolveRules handles GET /api/rules?path=...
func (s *Server) handleResolveRules(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		s.writeErrorResponse(w, http.StatusBadRequest, "path query parameter is required", nil)
		return
	}

	docs := s.service.ResolveDocuments(path)
	response := ResolveRulesResponse{Path: path, Rules: make([]RuleResponse, 0, len(docs))}
	for _, d := range docs {
		response.Rules = append(response.Rules, RuleResponse{
			ID:       d.ID,
			Scope:    string(d.Scope),
			Patterns: d.Patterns,
			Source:   d.Source,
			Payload:  d.Payload,
		})
	}

	s.writeJSONResponse(w, response)
}

// DispatchRequest is the body of POST /api/dispatch
type DispatchRequest struct {
	Event    string        `json:"event"`
	ToolName string        `json:"tool_name"`
	Context  hooks.Context `json:"context,omitempty"`
}

// handleDispatch handles POST /api/dispatch. Denials are reported in the
// body with status 200; only malformed requests are HTTP errors.
func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	var req DispatchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	event, err := hooks.ParseEvent(req.Event)
	if err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if req.ToolName == "" {
		s.writeErrorResponse(w, http.StatusBadRequest, "tool_name is required", nil)
		return
	}

	decision := s.service.DispatchHook(r.Context(), event, req.ToolName, req.Context)
	s.writeJSONResponse(w, decision)
}

// handleReload handles POST /api/reload
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Load(r.Context(), s.config.Sources); err != nil {
		status := http.StatusUnprocessableEntity
		if errors.Is(err, activation.ErrClosed) {
			status = http.StatusServiceUnavailable
		}
		s.writeErrorResponse(w, status, err.Error(), nil)
		return
	}

	s.writeJSONResponse(w, s.service.Stats())
}

// StatusResponse is the response of GET /api/status
type StatusResponse struct {
	Version string           `json:"version"`
	Stats   activation.Stats `json:"stats"`
}

// handleStatus handles GET /api/status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSONResponse(w, StatusResponse{
		Version: version.Get().Version,
		Stats:   s.service.Stats(),
	})
}

// writeJSONResponse writes a JSON response
func (s *Server) writeJSONResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.G(context.TODO()).WithError(err).Error("failed to encode JSON response")
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

// writeErrorResponse writes an error response
func (s *Server) writeErrorResponse(w http.ResponseWriter, statusCode int, message string, err error) {
	if err != nil {
		logger.G(context.TODO()).WithError(err).Warn(message)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := map[string]any{
		"error":   message,
		"status":  statusCode,
		"success": false,
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		logger.G(context.TODO()).WithError(err).Error("failed to encode error response")
	}
}

// Start serves until ctx is done and then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	address := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:              address,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	presenter.Info(fmt.Sprintf("Starting activation server on http://%s", address))

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return errors.Wrapf(err, "failed to serve on %s", address)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(shutdownCtx)
}

// Stop stops the server immediately
func (s *Server) Stop() error {
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}
