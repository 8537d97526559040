// Package server exposes the gateway over HTTP: the security check and
// sanitize endpoints, health, and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/guardgate/guardgate/pkg/domain"
	"github.com/guardgate/guardgate/pkg/guard"
	"github.com/guardgate/guardgate/pkg/telemetry"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// defaultRiskThreshold applies when a check request omits the field.
const defaultRiskThreshold = 0.6

// Server routes HTTP traffic to the guard service.
type Server struct {
	guard   *guard.Service
	metrics *telemetry.Metrics
	logger  *slog.Logger
}

// New creates the HTTP server facade.
func New(g *guard.Service, metrics *telemetry.Metrics, logger *slog.Logger) *Server {
	return &Server{guard: g, metrics: metrics, logger: logger.With("component", "server")}
}

// Handler builds the full route table wrapped in otelhttp instrumentation.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/security/check", s.handleCheck)
	mux.HandleFunc("POST /v1/security/sanitize", s.handleSanitize)
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	return otelhttp.NewHandler(mux, "guardgate")
}

type checkRequest struct {
	Content       string   `json:"content"`
	ContentType   string   `json:"content_type"`
	Scanners      []string `json:"scanners,omitempty"`
	RiskThreshold *float64 `json:"risk_threshold,omitempty"`
	UserID        string   `json:"user_id,omitempty"`
}

type sanitizeRequest struct {
	Content    string   `json:"content"`
	Sanitizers []string `json:"sanitizers,omitempty"`
}

type sanitizeResponse struct {
	SanitizedContent string `json:"sanitized_content"`
}

type healthResponse struct {
	Status         string `json:"status"`
	Version        string `json:"version"`
	ScannersLoaded int    `json:"scanners_loaded"`
	CacheConnected bool   `json:"cache_connected"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	w.Header().Set("X-Request-ID", requestID)

	var req checkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body")
		return
	}
	if req.Content == "" {
		s.writeError(w, http.StatusBadRequest, "BAD_REQUEST", "content is required")
		return
	}

	threshold := defaultRiskThreshold
	if req.RiskThreshold != nil {
		threshold = *req.RiskThreshold
	}

	result, err := s.guard.Check(r.Context(), domain.ScanRequest{
		Content:       req.Content,
		ContentType:   parseContentType(req.ContentType),
		Scanners:      req.Scanners,
		RiskThreshold: threshold,
		UserID:        req.UserID,
	})
	if err != nil {
		s.writeGuardError(w, requestID, err)
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSanitize(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	w.Header().Set("X-Request-ID", requestID)

	var req sanitizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body")
		return
	}

	sanitized, err := s.guard.Sanitize(r.Context(), req.Content, req.Sanitizers)
	if err != nil {
		s.writeGuardError(w, requestID, err)
		return
	}

	s.writeJSON(w, http.StatusOK, sanitizeResponse{SanitizedContent: sanitized})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{
		Status:         "healthy",
		Version:        Version,
		ScannersLoaded: s.guard.ScannersLoaded(),
		CacheConnected: s.guard.Snapshot().Cache.Enabled,
	})
}

// parseContentType accepts the canonical values plus "output", the legacy
// alias for response content.
func parseContentType(raw string) domain.ContentType {
	switch raw {
	case "output", string(domain.ContentTypeResponse):
		return domain.ContentTypeResponse
	case "", string(domain.ContentTypePrompt):
		return domain.ContentTypePrompt
	default:
		return domain.ContentType(raw)
	}
}

func (s *Server) writeGuardError(w http.ResponseWriter, requestID string, err error) {
	var de *domain.DomainError
	code := "INTERNAL"
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, domain.ErrUnknownScanner),
		errors.Is(err, domain.ErrInvalidThreshold),
		errors.Is(err, domain.ErrInvalidContentType):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrPipelineUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	if errors.As(err, &de) {
		code = de.Code
	}

	s.logger.Error("Request failed", "request_id", requestID, "code", code, "error", err)
	s.writeError(w, status, code, err.Error())
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, message string) {
	s.writeJSON(w, status, errorResponse{Code: code, Message: message})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("Failed to encode response", "error", err)
	}
}
