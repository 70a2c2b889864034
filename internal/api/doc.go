// Copyright (c) 2025 Opsline Labs
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api provides the resilient client for the infrachat HTTP API.
//
// Each logical operation (create session, send message, ...) is executed
// as one or more physical HTTP attempts. Attempts are classified: 2xx/3xx
// succeed, 5xx and 429 are retryable, every other status is terminal.
// Per-attempt timeouts and connectivity failures are retryable. Retryable
// failures back off exponentially with jitter; when attempts are
// exhausted the last observed error is surfaced.
//
// Errors form a closed union of three kinds, discriminated by Kind():
//
//   - *APIError: terminal HTTP responses, carrying the structured error
//     code and message when the body conforms to the error schema
//   - *NetworkError: transport failures after retries are exhausted
//   - *TimeoutError: per-attempt deadlines after retries are exhausted
//
// Example:
//
//	client := api.NewClient("http://127.0.0.1:8080").
//	    WithMaxRetries(3).
//	    WithTimeout(30 * time.Second)
//
//	reply, err := client.SendMessage(ctx, sessionID, "how is the db cpu?")
//	var apiErr *api.APIError
//	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
//	    // session vanished; create a new one
//	}
package api
