// Copyright (c) 2025 Opsline Labs
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides the HTTP API for the chat backend.
//
// Endpoints:
//   - POST /api/sessions                - Create a session
//   - GET  /api/sessions                - List sessions
//   - POST /api/sessions/{id}/messages  - Send a message, get the reply
//   - GET  /api/sessions/{id}/messages  - Message history
//   - GET  /health                      - Health check with component status
//   - GET  /                            - Service banner
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/opsline/infrachat/internal/conversation"
	"github.com/opsline/infrachat/internal/model"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// DefaultPort is the default port for the HTTP server.
	DefaultPort = 8080

	// MaxRequestBodySize caps request bodies (1MB).
	MaxRequestBodySize = 1 * 1024 * 1024

	// ServiceName identifies this service in health responses.
	ServiceName = "infrachat"

	// Version is the service version.
	Version = "0.3.0"

	// shutdownDrainTimeout bounds the wait for in-flight requests.
	shutdownDrainTimeout = 10 * time.Second
)

// ============================================================================
// SERVER
// ============================================================================

// Server is the HTTP API server for the chat backend.
type Server struct {
	port   int
	router *http.ServeMux
	server *http.Server

	svc     *conversation.Service
	logger  *slog.Logger
	limiter *RateLimiter
}

// NewServer creates a Server around the conversation service. If port is
// 0, the default port is used.
func NewServer(port int, svc *conversation.Service) *Server {
	if port == 0 {
		port = DefaultPort
	}

	s := &Server{
		port:    port,
		router:  http.NewServeMux(),
		svc:     svc,
		logger:  slog.Default(),
		limiter: NewRateLimiter(DefaultRequestsPerSecond, DefaultBurst),
	}

	s.setupRoutes()
	return s
}

// WithLogger sets the request logger.
func (s *Server) WithLogger(logger *slog.Logger) *Server {
	s.logger = logger
	return s
}

// WithRateLimit overrides the per-client rate limit.
func (s *Server) WithRateLimit(rps float64, burst int) *Server {
	s.limiter = NewRateLimiter(rps, burst)
	return s
}

// Port returns the server port.
func (s *Server) Port() int {
	return s.port
}

// Handler returns the fully wrapped handler (used in tests and Start).
func (s *Server) Handler() http.Handler {
	return Chain(
		RecoveryMiddleware(s.logger),
		SecurityHeadersMiddleware(),
		LoggingMiddleware(s.logger),
		RateLimitMiddleware(s.limiter),
	)(s.router)
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("POST /api/sessions", s.handleCreateSession)
	s.router.HandleFunc("GET /api/sessions", s.handleListSessions)
	s.router.HandleFunc("POST /api/sessions/{id}/messages", s.handleSendMessage)
	s.router.HandleFunc("GET /api/sessions/{id}/messages", s.handleGetHistory)

	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /{$}", s.handleRoot)
}

// ============================================================================
// SESSION HANDLERS
// ============================================================================

// handleCreateSession handles POST /api/sessions. The body is optional;
// an absent or empty body creates a session with the default title.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	var req model.SessionCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, model.ErrCodeValidation, "invalid request body")
		return
	}

	if details := model.ValidateSessionCreateRequest(req); len(details) > 0 {
		s.writeValidationError(w, details)
		return
	}

	session, err := s.svc.CreateSession(r.Context(), req.Title)
	if err != nil {
		s.logger.Error("create session failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, model.ErrCodeInternal, "failed to create session")
		return
	}

	s.writeJSON(w, http.StatusCreated, session)
}

// handleListSessions handles GET /api/sessions.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.svc.ListSessions(r.Context())
	if err != nil {
		s.logger.Error("list sessions failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, model.ErrCodeInternal, "failed to list sessions")
		return
	}

	s.writeJSON(w, http.StatusOK, model.SessionListResponse{
		Sessions:   sessions,
		TotalCount: len(sessions),
	})
}

// ============================================================================
// MESSAGE HANDLERS
// ============================================================================

// handleSendMessage handles POST /api/sessions/{id}/messages.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	sessionID := r.PathValue("id")

	var req model.MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.writeError(w, http.StatusRequestEntityTooLarge, model.ErrCodeValidation,
				fmt.Sprintf("request body exceeds %d bytes", int64(MaxRequestBodySize)))
			return
		}
		s.writeError(w, http.StatusBadRequest, model.ErrCodeValidation, "invalid request body")
		return
	}

	if details := model.ValidateMessageRequest(req); len(details) > 0 {
		s.writeValidationError(w, details)
		return
	}

	reply, err := s.svc.SendMessage(r.Context(), sessionID, req.Content)
	if err != nil {
		s.writeServiceError(w, sessionID, err)
		return
	}

	s.writeJSON(w, http.StatusOK, reply)
}

// handleGetHistory handles GET /api/sessions/{id}/messages.
func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	messages, err := s.svc.GetHistory(r.Context(), sessionID)
	if err != nil {
		s.writeServiceError(w, sessionID, err)
		return
	}

	s.writeJSON(w, http.StatusOK, model.MessageHistoryResponse{
		SessionID:  sessionID,
		Messages:   messages,
		TotalCount: len(messages),
	})
}

// ============================================================================
// HEALTH
// ============================================================================

// handleHealth handles GET /health. A degraded or unhealthy dependency
// is reflected in the rolled-up status but the endpoint itself always
// answers 200 so probes can read the detail.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	components := []model.ComponentStatus{
		timed(func() model.ComponentStatus { return s.svc.CheckStorage(ctx) }),
		timed(func() model.ComponentStatus { return s.svc.CheckAssistant(ctx) }),
	}
	components = append(components, s.svc.CheckToolSources(ctx)...)

	s.writeJSON(w, http.StatusOK, model.HealthResponse{
		Status:     model.OverallStatus(components),
		Service:    ServiceName,
		Version:    Version,
		Timestamp:  time.Now().UTC(),
		Components: components,
	})
}

// timed runs a component check and records its latency.
func timed(check func() model.ComponentStatus) model.ComponentStatus {
	start := time.Now()
	status := check()
	status.ResponseTimeMs = time.Since(start).Milliseconds()
	return status
}

// handleRoot handles GET /.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"service": ServiceName,
		"version": Version,
		"docs":    "/health",
	})
}

// ============================================================================
// LIFECYCLE
// ============================================================================

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Info("server listening", "addr", addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server, draining in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	s.logger.Info("server shutting down")
	drainCtx, cancel := context.WithTimeout(ctx, shutdownDrainTimeout)
	defer cancel()
	return s.server.Shutdown(drainCtx)
}

// ============================================================================
// RESPONSE HELPERS
// ============================================================================

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response failed", "error", err)
	}
}

// writeError writes a structured JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, code, message string) {
	s.writeJSON(w, status, model.NewErrorResponse(code, message))
}

// writeValidationError writes a 422 with per-field detail.
func (s *Server) writeValidationError(w http.ResponseWriter, details []model.ErrorDetail) {
	s.writeJSON(w, http.StatusUnprocessableEntity,
		model.NewErrorResponse(model.ErrCodeValidation, "request validation failed", details...))
}

// writeServiceError maps conversation service errors to HTTP responses.
func (s *Server) writeServiceError(w http.ResponseWriter, sessionID string, err error) {
	switch {
	case errors.Is(err, conversation.ErrSessionNotFound):
		s.writeError(w, http.StatusNotFound, model.ErrCodeSessionNotFound,
			fmt.Sprintf("session %q not found", sessionID))
	case errors.Is(err, conversation.ErrAssistantUnavailable):
		s.logger.Error("assistant unavailable", "session_id", sessionID, "error", err)
		s.writeError(w, http.StatusBadGateway, model.ErrCodeAIService,
			"the assistant could not process the request")
	default:
		s.logger.Error("request failed", "session_id", sessionID, "error", err)
		s.writeError(w, http.StatusInternalServerError, model.ErrCodeInternal,
			"internal server error")
	}
}
