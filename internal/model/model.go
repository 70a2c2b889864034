// Copyright (c) 2025 Opsline Labs
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// Valid reports whether the role is one of the accepted values.
// The persistence layer enforces the same set with a CHECK constraint.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// =============================================================================
// SESSION TYPE
// =============================================================================

// Session represents a conversation session between an operator and the
// assistant. Sessions are created once and never deleted; only message
// insertion mutates LastMessageAt.
type Session struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	CreatedAt     time.Time `json:"created_at"`
	LastMessageAt time.Time `json:"last_message_at"`
}

// DefaultSessionTitle is used when a session is created without a title.
const DefaultSessionTitle = "New conversation"

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single message in a session. Messages are immutable
// after creation.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Content   string    `json:"content"`
	Role      Role      `json:"role"`
	Timestamp time.Time `json:"timestamp"`
}

// Preview returns the message content truncated to maxLen runes, with
// newlines collapsed, for list displays and derived session titles.
func (m Message) Preview(maxLen int) string {
	content := strings.ReplaceAll(m.Content, "\n", " ")
	content = strings.ReplaceAll(content, "\r", "")
	runes := []rune(content)
	if len(runes) <= maxLen {
		return content
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

// =============================================================================
// API PAYLOADS
// =============================================================================

// SessionCreateRequest is the body of POST /api/sessions.
type SessionCreateRequest struct {
	Title string `json:"title,omitempty"`
}

// MessageRequest is the body of POST /api/sessions/{id}/messages.
type MessageRequest struct {
	Content string `json:"content"`
}

// SessionListResponse is the body of GET /api/sessions.
type SessionListResponse struct {
	Sessions   []Session `json:"sessions"`
	TotalCount int       `json:"total_count"`
}

// MessageHistoryResponse is the body of GET /api/sessions/{id}/messages.
type MessageHistoryResponse struct {
	SessionID  string    `json:"session_id"`
	Messages   []Message `json:"messages"`
	TotalCount int       `json:"total_count"`
}

// =============================================================================
// ERROR PAYLOADS
// =============================================================================

// Error codes carried in structured error responses.
const (
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeSessionNotFound    = "SESSION_NOT_FOUND"
	ErrCodeAIService          = "AI_SERVICE_ERROR"
	ErrCodeInternal           = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"

	// ErrCodeUnknown is the sentinel used by clients when an error response
	// body does not conform to the structured error schema.
	ErrCodeUnknown = "UNKNOWN"
)

// ErrorDetail carries field-level information for validation errors.
type ErrorDetail struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// ErrorBody is the inner object of a structured error response.
type ErrorBody struct {
	Code    string        `json:"code"`
	Message string        `json:"message"`
	Details []ErrorDetail `json:"details,omitempty"`
}

// ErrorResponse is the wire shape of all API error responses:
// {"error": {"code": ..., "message": ..., "details": [...]}}
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// NewErrorResponse builds a structured error response.
func NewErrorResponse(code, message string, details ...ErrorDetail) ErrorResponse {
	return ErrorResponse{Error: ErrorBody{
		Code:    code,
		Message: message,
		Details: details,
	}}
}

// =============================================================================
// HEALTH PAYLOADS
// =============================================================================

// Health status values for the service and its components.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// ComponentStatus describes the health of a single dependency.
type ComponentStatus struct {
	Name           string `json:"name"`
	Status         string `json:"status"`
	Message        string `json:"message,omitempty"`
	ResponseTimeMs int64  `json:"response_time_ms,omitempty"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status     string            `json:"status"`
	Service    string            `json:"service"`
	Version    string            `json:"version"`
	Timestamp  time.Time         `json:"timestamp"`
	Components []ComponentStatus `json:"components,omitempty"`
}

// DatabaseComponent is the one component the service cannot run without.
const DatabaseComponent = "database"

// OverallStatus rolls up component statuses. Only an unhealthy database
// makes the whole service unhealthy; any other component that is not
// healthy degrades the service but leaves it serving.
func OverallStatus(components []ComponentStatus) string {
	status := StatusHealthy
	for _, c := range components {
		if c.Status == StatusHealthy {
			continue
		}
		if c.Name == DatabaseComponent && c.Status == StatusUnhealthy {
			return StatusUnhealthy
		}
		status = StatusDegraded
	}
	return status
}

// =============================================================================
// VALIDATION
// =============================================================================

// MaxContentLength bounds message content to keep payloads reasonable.
const MaxContentLength = 100000

// MaxTitleLength bounds session titles.
const MaxTitleLength = 200

// ValidateMessageRequest checks an incoming message request and returns
// field-level details for anything wrong with it.
func ValidateMessageRequest(req MessageRequest) []ErrorDetail {
	var details []ErrorDetail
	if strings.TrimSpace(req.Content) == "" {
		details = append(details, ErrorDetail{
			Field:   "content",
			Message: "content must not be empty",
		})
	}
	if len(req.Content) > MaxContentLength {
		details = append(details, ErrorDetail{
			Field:   "content",
			Message: fmt.Sprintf("content exceeds maximum length of %d", MaxContentLength),
		})
	}
	return details
}

// ValidateSessionCreateRequest checks a session creation request.
func ValidateSessionCreateRequest(req SessionCreateRequest) []ErrorDetail {
	if len(req.Title) > MaxTitleLength {
		return []ErrorDetail{{
			Field:   "title",
			Message: fmt.Sprintf("title exceeds maximum length of %d", MaxTitleLength),
		}}
	}
	return nil
}
