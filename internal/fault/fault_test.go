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

package fault

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/meridianlabs/tidestore/internal/session"
)

type httpError struct {
	status int
}

func (e *httpError) Error() string   { return fmt.Sprintf("http %d", e.status) }
func (e *httpError) StatusCode() int { return e.status }

func TestNormalize_Nil(t *testing.T) {
	if got := Normalize(nil, Context{}); got != nil {
		t.Errorf("Normalize(nil) = %v, want nil", got)
	}
}

func TestNormalize_Sentinels(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind Kind
	}{
		{"session not found", session.ErrSessionNotFound, KindNotFound},
		{"message not found", session.ErrMessageNotFound, KindNotFound},
		{"invalid session id", session.ErrInvalidSessionID, KindValidation},
		{"deadline exceeded", context.DeadlineExceeded, KindNetwork},
		{"canceled", context.Canceled, KindNetwork},
		{"wrapped sentinel", fmt.Errorf("hot tier: %w", session.ErrSessionNotFound), KindNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.err, Context{})
			if got.Kind != tt.kind {
				t.Errorf("Kind = %q, want %q", got.Kind, tt.kind)
			}
			if !errors.Is(got, tt.err) && !errors.Is(got, errors.Unwrap(tt.err)) {
				t.Error("normalized error does not unwrap to the original")
			}
		})
	}
}

func TestNormalize_HTTPStatus(t *testing.T) {
	tests := []struct {
		status int
		kind   Kind
	}{
		{http.StatusUnauthorized, KindAuthentication},
		{http.StatusForbidden, KindAuthentication},
		{http.StatusBadRequest, KindValidation},
		{http.StatusNotFound, KindNotFound},
		{http.StatusConflict, KindConflict},
		{http.StatusTooManyRequests, KindRateLimit},
		{http.StatusServiceUnavailable, KindServiceUnavailable},
		{http.StatusBadGateway, KindNetwork},
		{http.StatusInternalServerError, KindInternal},
		{http.StatusTeapot, KindValidation},
	}

	for _, tt := range tests {
		got := Normalize(&httpError{status: tt.status}, Context{})
		if got.Kind != tt.kind {
			t.Errorf("status %d: Kind = %q, want %q", tt.status, got.Kind, tt.kind)
		}
		if got.Status != tt.status {
			t.Errorf("status %d: Status = %d (expected original preserved)", tt.status, got.Status)
		}
	}
}

func TestNormalize_Unknown(t *testing.T) {
	got := Normalize(errors.New("boom"), Context{})
	if got.Kind != KindInternal {
		t.Errorf("Kind = %q, want %q", got.Kind, KindInternal)
	}
	if got.Operational {
		t.Error("unknown errors must be non-operational")
	}
	if got.Timestamp.IsZero() {
		t.Error("Timestamp not set")
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	first := Normalize(session.ErrSessionNotFound, Context{UserID: "u1", Resource: "sess-1"})
	second := Normalize(first, Context{UserID: "other"})

	if second != first {
		t.Error("re-normalizing returned a different error value")
	}
	if second.Context.UserID != "u1" {
		t.Errorf("Context.UserID = %q, want original %q preserved", second.Context.UserID, "u1")
	}
}

func TestNormalize_FillsEmptyContext(t *testing.T) {
	bare := New(KindNetwork, "dial failed")
	got := Normalize(bare, Context{UserID: "u2", RequestID: "req-9"})
	if got.Context.UserID != "u2" || got.Context.RequestID != "req-9" {
		t.Errorf("Context = %+v, want fields filled from fctx", got.Context)
	}
}

func TestRetryability(t *testing.T) {
	retryable := []Kind{KindNetwork, KindServiceUnavailable, KindRateLimit}
	for _, k := range retryable {
		if !New(k, "x").Retryable() {
			t.Errorf("kind %q should be retryable", k)
		}
	}

	nonRetryable := []Kind{KindValidation, KindNotFound, KindConflict, KindAuthentication, KindToolExecution, KindInternal}
	for _, k := range nonRetryable {
		if New(k, "x").Retryable() {
			t.Errorf("kind %q should not be retryable", k)
		}
	}
}

func TestIsRetryable_UnnormalizedError(t *testing.T) {
	if !IsRetryable(context.DeadlineExceeded) {
		t.Error("deadline exceeded should classify as retryable network error")
	}
	if IsRetryable(session.ErrSessionNotFound) {
		t.Error("not-found should not be retryable")
	}
	if IsRetryable(nil) {
		t.Error("nil should not be retryable")
	}
}

func TestRetryAfterHint(t *testing.T) {
	e := New(KindRateLimit, "throttled").WithContext(Context{RetryAfter: 2 * time.Second})
	if got := RetryAfterHint(e); got != 2*time.Second {
		t.Errorf("RetryAfterHint = %v, want 2s", got)
	}
	if got := RetryAfterHint(errors.New("plain")); got != 0 {
		t.Errorf("RetryAfterHint(plain) = %v, want 0", got)
	}
}

func TestStatusFor(t *testing.T) {
	if got := StatusFor(KindNotFound); got != http.StatusNotFound {
		t.Errorf("StatusFor(not_found) = %d, want 404", got)
	}
	if got := StatusFor(Kind("bogus")); got != http.StatusInternalServerError {
		t.Errorf("StatusFor(bogus) = %d, want 500", got)
	}
}
