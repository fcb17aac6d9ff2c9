/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package fault defines the error taxonomy shared by the tiered session store
// and its resilience layer. Foreign error shapes are mapped into this taxonomy
// exactly once at a tier boundary via Normalize; everything downstream reasons
// only about the normalized Kind.
package fault

import (
	"fmt"
	"net/http"
	"time"
)

// Kind classifies an error into the store's taxonomy.
type Kind string

const (
	// KindAuthentication covers failed or missing credentials.
	KindAuthentication Kind = "authentication"
	// KindValidation covers malformed or rejected input.
	KindValidation Kind = "validation"
	// KindNotFound covers missing sessions, messages, or other resources.
	KindNotFound Kind = "not_found"
	// KindConflict covers duplicate IDs and concurrent-update collisions.
	KindConflict Kind = "conflict"
	// KindRateLimit covers throttling by a downstream store.
	KindRateLimit Kind = "rate_limit"
	// KindNetwork covers connectivity failures and timeouts.
	KindNetwork Kind = "network"
	// KindToolExecution covers failures raised by tool invocations.
	KindToolExecution Kind = "tool_execution"
	// KindServiceUnavailable covers a downstream store that is up but refusing
	// work, including an open circuit breaker.
	KindServiceUnavailable Kind = "service_unavailable"
	// KindInternal covers programming defects and unclassified failures.
	KindInternal Kind = "internal"
)

// statusByKind maps each kind to its default HTTP-style status code.
var statusByKind = map[Kind]int{
	KindAuthentication:     http.StatusUnauthorized,
	KindValidation:         http.StatusBadRequest,
	KindNotFound:           http.StatusNotFound,
	KindConflict:           http.StatusConflict,
	KindRateLimit:          http.StatusTooManyRequests,
	KindNetwork:            http.StatusBadGateway,
	KindToolExecution:      http.StatusUnprocessableEntity,
	KindServiceUnavailable: http.StatusServiceUnavailable,
	KindInternal:           http.StatusInternalServerError,
}

// retryableByKind is the default retryability table consulted by the
// resilience layer.
var retryableByKind = map[Kind]bool{
	KindNetwork:            true,
	KindServiceUnavailable: true,
	KindRateLimit:          true,
}

// Context carries structured diagnostic fields attached to an error.
type Context struct {
	// UserID is the acting user, when known.
	UserID string `json:"userId,omitempty"`
	// RequestID correlates the error with an inbound request.
	RequestID string `json:"requestId,omitempty"`
	// Resource identifies the entity involved (session ID, message ID).
	Resource string `json:"resource,omitempty"`
	// RetryAfter is a server-supplied backoff hint, when present.
	RetryAfter time.Duration `json:"retryAfter,omitempty"`
}

// Error is the normalized error carried across tier boundaries.
type Error struct {
	// Kind is the taxonomy classification.
	Kind Kind
	// Status is the HTTP-style status code for the kind.
	Status int
	// Msg is a human-readable description.
	Msg string
	// Context carries structured diagnostic fields.
	Context Context
	// Operational is true for expected, recoverable conditions and false for
	// programming defects.
	Operational bool
	// Timestamp is when the error was normalized.
	Timestamp time.Time

	cause error
}

// New creates a normalized error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{
		Kind:        kind,
		Status:      StatusFor(kind),
		Msg:         msg,
		Operational: kind != KindInternal,
		Timestamp:   time.Now(),
	}
}

// Wrap creates a normalized error of the given kind with an underlying cause.
func Wrap(kind Kind, msg string, cause error) *Error {
	e := New(kind, msg)
	e.cause = cause
	return e
}

// WithContext returns e with the context bag replaced. Intended for use at
// the normalization boundary only.
func (e *Error) WithContext(fctx Context) *Error {
	e.Context = fctx
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// Retryable reports whether errors of this kind are retryable by default.
func (e *Error) Retryable() bool {
	return retryableByKind[e.Kind]
}

// StatusFor returns the default HTTP-style status for a kind.
func StatusFor(kind Kind) int {
	if s, ok := statusByKind[kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// KindFromStatus maps an HTTP-style status code into the taxonomy. Used when
// normalizing errors from HTTP-shaped clients.
func KindFromStatus(status int) Kind {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindAuthentication
	case http.StatusBadRequest:
		return KindValidation
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusConflict:
		return KindConflict
	case http.StatusTooManyRequests:
		return KindRateLimit
	case http.StatusBadGateway, http.StatusGatewayTimeout:
		return KindNetwork
	case http.StatusServiceUnavailable:
		return KindServiceUnavailable
	}
	if status >= 500 {
		return KindInternal
	}
	if status >= 400 {
		return KindValidation
	}
	return KindInternal
}
