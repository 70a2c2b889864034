// Copyright (c) 2025 Opsline Labs
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for chat sessions and messages.
//
// This package defines the core domain types shared by the HTTP server, the
// API client, and the persistence layer.
//
// # Key Types
//
//   - Session: A conversation session with creation and last-activity times
//   - Message: A single immutable message with role, content, and timestamp
//   - Role: Message role enumeration (user, assistant)
//   - ErrorResponse: The structured error body used by all API endpoints
//
// # Usage
//
// Validate an incoming message request:
//
//	if details := model.ValidateMessageRequest(req); details != nil {
//	    resp := model.NewErrorResponse(model.ErrCodeValidation, "invalid request", details...)
//	    ...
//	}
package model
