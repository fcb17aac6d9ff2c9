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
	"net"
	"syscall"
	"time"

	"github.com/meridianlabs/tidestore/internal/session"
)

// statusCoder is implemented by HTTP-shaped client errors.
type statusCoder interface {
	StatusCode() int
}

// Normalize maps an arbitrary error into the taxonomy. It is intended to be
// called exactly once, at the boundary where a foreign error enters the
// store. Already-normalized errors pass through unchanged except that an
// empty context bag is filled from fctx.
//
// Normalize returns nil when err is nil.
func Normalize(err error, fctx Context) *Error {
	if err == nil {
		return nil
	}

	var fe *Error
	if errors.As(err, &fe) {
		if fe.Context == (Context{}) {
			fe.Context = fctx
		}
		return fe
	}

	return classify(err).WithContext(fctx)
}

func classify(err error) *Error {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return Wrap(KindNotFound, "session not found", err)
	case errors.Is(err, session.ErrMessageNotFound):
		return Wrap(KindNotFound, "message not found", err)
	case errors.Is(err, session.ErrInvalidSessionID):
		return Wrap(KindValidation, "invalid session ID", err)
	case errors.Is(err, context.DeadlineExceeded):
		return Wrap(KindNetwork, "operation timed out", err)
	case errors.Is(err, context.Canceled):
		return Wrap(KindNetwork, "operation canceled", err)
	case errors.Is(err, syscall.ECONNREFUSED):
		return Wrap(KindServiceUnavailable, "connection refused", err)
	}

	var sc statusCoder
	if errors.As(err, &sc) {
		e := Wrap(KindFromStatus(sc.StatusCode()), "upstream returned an error status", err)
		e.Status = sc.StatusCode()
		return e
	}

	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return Wrap(KindNetwork, "network timeout", err)
		}
		return Wrap(KindNetwork, "network error", err)
	}

	e := Wrap(KindInternal, "unclassified error", err)
	e.Operational = false
	return e
}

// KindOf returns the kind of a normalized error, or KindInternal for an
// error that has not been normalized.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}

// IsRetryable reports whether the error's kind is retryable by default.
// Unnormalized errors are classified first.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var fe *Error
	if !errors.As(err, &fe) {
		fe = classify(err)
	}
	return fe.Retryable()
}

// RetryAfterHint returns the server-supplied backoff hint attached to a
// normalized error, or zero when none is present.
func RetryAfterHint(err error) (d time.Duration) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Context.RetryAfter
	}
	return 0
}
