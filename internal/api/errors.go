// Copyright (c) 2025 Opsline Labs
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/opsline/infrachat/internal/model"
)

// =============================================================================
// ERROR TAXONOMY
// =============================================================================

// ErrorKind is the discriminant of the closed error union exposed by the
// client. Every error returned by Execute is exactly one of these kinds;
// there is no inheritance between them.
type ErrorKind int

const (
	// KindAPI is an HTTP response with a non-success status that must not
	// be retried, or a retryable status observed on the final attempt.
	KindAPI ErrorKind = iota

	// KindNetwork is a transport-level failure (DNS, connection refused or
	// reset), surfaced only after retries are exhausted.
	KindNetwork

	// KindTimeout is a per-attempt deadline that elapsed, surfaced only
	// after retries are exhausted.
	KindTimeout
)

// String returns the kind name for logs.
func (k ErrorKind) String() string {
	switch k {
	case KindAPI:
		return "api"
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Error is the closed union of failures the client can surface. Use
// errors.As with *APIError, *NetworkError, or *TimeoutError for exhaustive
// handling, or switch on Kind().
type Error interface {
	error
	Kind() ErrorKind
}

// =============================================================================
// API ERROR
// =============================================================================

// APIError represents a terminal HTTP error response.
type APIError struct {
	// StatusCode is the HTTP status of the response.
	StatusCode int

	// Code is the structured error code from the response body, or
	// model.ErrCodeUnknown when the body did not conform to the error schema.
	Code string

	// Message is the human-readable error message. Never empty: when the
	// body carries no message a fixed status-specific string is used.
	Message string

	// Details carries field-level validation information when present.
	Details []model.ErrorDetail
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("api error [%s] (HTTP %d): %s", e.Code, e.StatusCode, e.Message)
}

// Kind implements Error.
func (e *APIError) Kind() ErrorKind { return KindAPI }

// =============================================================================
// NETWORK ERROR
// =============================================================================

// NetworkError represents a transport failure that prevented an exchange
// from completing.
type NetworkError struct {
	Cause error
}

// Error implements the error interface.
func (e *NetworkError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("network error: %v", e.Cause)
	}
	return "network error"
}

// Unwrap exposes the transport error for errors.Is checks.
func (e *NetworkError) Unwrap() error { return e.Cause }

// Kind implements Error.
func (e *NetworkError) Kind() ErrorKind { return KindNetwork }

// =============================================================================
// TIMEOUT ERROR
// =============================================================================

// TimeoutError represents a per-attempt deadline that elapsed.
type TimeoutError struct {
	// Timeout is the configured per-attempt deadline.
	Timeout time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request timed out after %s", e.Timeout)
}

// Kind implements Error.
func (e *TimeoutError) Kind() ErrorKind { return KindTimeout }

// =============================================================================
// ERROR BODY PARSING
// =============================================================================

// newAPIError builds an APIError from a response status and body. The body
// is parsed as the structured error schema {"error":{"code","message",...}};
// a malformed or non-conforming body degrades to the sentinel code and a
// fixed status-specific message so the HTTP status is never obscured by a
// secondary parse failure.
func newAPIError(statusCode int, contentType string, body []byte) *APIError {
	apiErr := &APIError{
		StatusCode: statusCode,
		Code:       model.ErrCodeUnknown,
		Message:    statusMessage(statusCode),
	}

	if !isJSONContentType(contentType) {
		return apiErr
	}

	var resp model.ErrorResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return apiErr
	}
	if resp.Error.Code != "" {
		apiErr.Code = resp.Error.Code
	}
	if resp.Error.Message != "" {
		apiErr.Message = resp.Error.Message
	}
	apiErr.Details = resp.Error.Details
	return apiErr
}

// statusMessage returns a fixed human-readable message for an HTTP status,
// used when the response body carries no usable message.
func statusMessage(statusCode int) string {
	if text := http.StatusText(statusCode); text != "" {
		return strings.ToLower(text)
	}
	return fmt.Sprintf("http error %d", statusCode)
}

// isJSONContentType reports whether a Content-Type header declares a
// structured JSON body (application/json or a +json suffix type).
func isJSONContentType(contentType string) bool {
	mediaType := contentType
	if i := strings.IndexByte(mediaType, ';'); i >= 0 {
		mediaType = mediaType[:i]
	}
	mediaType = strings.TrimSpace(strings.ToLower(mediaType))
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}
