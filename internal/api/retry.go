// Copyright (c) 2025 Opsline Labs
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"math/rand"
	"net/http"
	"time"
)

// =============================================================================
// ATTEMPT CLASSIFICATION
// =============================================================================

// classification is the verdict on one physical attempt.
type classification int

const (
	// classSuccess ends the loop and returns the response.
	classSuccess classification = iota

	// classRetryable is eligible for another attempt if any remain:
	// 5xx, 429, per-attempt timeouts, and connectivity failures.
	classRetryable

	// classTerminal must not be retried: any other HTTP status.
	classTerminal
)

// classifyStatus maps an HTTP status code to a classification.
func classifyStatus(statusCode int) classification {
	switch {
	case statusCode >= 200 && statusCode < 400:
		return classSuccess
	case statusCode >= 500 || statusCode == http.StatusTooManyRequests:
		return classRetryable
	default:
		return classTerminal
	}
}

// =============================================================================
// RETRY STATE MACHINE
// =============================================================================

// stateKind enumerates the states of the retry loop.
type stateKind int

const (
	// stateAttempting(n): a physical attempt is due.
	stateAttempting stateKind = iota

	// stateSuccess: the logical call completed.
	stateSuccess

	// stateFailedTerminal: a non-retryable error was observed.
	stateFailedTerminal

	// stateFailedExhausted: a retryable error was observed on the final
	// attempt; the last error is surfaced, not the first.
	stateFailedExhausted
)

// retryState is the explicit state of a logical call's attempt sequence.
type retryState struct {
	kind    stateKind
	attempt int
	err     Error
}

// done reports whether the state is terminal.
func (s retryState) done() bool {
	return s.kind != stateAttempting
}

// transition computes the successor of Attempting(attempt) given the
// classification of the attempt that just completed and the error it
// produced (nil on success). Pure: no clocks, no network.
func transition(attempt, maxRetries int, class classification, attemptErr Error) retryState {
	switch class {
	case classSuccess:
		return retryState{kind: stateSuccess, attempt: attempt}
	case classTerminal:
		return retryState{kind: stateFailedTerminal, attempt: attempt, err: attemptErr}
	default:
		if attempt < maxRetries {
			return retryState{kind: stateAttempting, attempt: attempt + 1, err: attemptErr}
		}
		return retryState{kind: stateFailedExhausted, attempt: attempt, err: attemptErr}
	}
}

// =============================================================================
// BACKOFF
// =============================================================================

// backoffDelay computes the delay before retrying after a failed attempt:
//
//	delay = baseDelay * 2^attempt + uniform(0, baseDelay/2)
//
// The jitter term is resampled on every attempt so concurrent callers do
// not retry in lockstep, while the expected delay stays deterministic for
// a given attempt index.
func backoffDelay(baseDelay time.Duration, attempt int, rng *rand.Rand) time.Duration {
	delay := baseDelay << uint(attempt)
	if jitterRange := int64(baseDelay / 2); jitterRange > 0 {
		delay += time.Duration(rng.Int63n(jitterRange))
	}
	return delay
}
