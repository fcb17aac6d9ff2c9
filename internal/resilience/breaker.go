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

package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/meridianlabs/tidestore/internal/fault"
)

// Defaults for BreakerOptions.
const (
	DefaultBreakerThreshold    = 5
	DefaultBreakerResetTimeout = 30 * time.Second
)

// BreakerState is the observable state of a circuit breaker.
type BreakerState string

const (
	// BreakerClosed means calls flow through normally.
	BreakerClosed BreakerState = "closed"
	// BreakerOpen means calls fail fast without invoking the operation.
	BreakerOpen BreakerState = "open"
	// BreakerHalfOpen means a single probe call is allowed through.
	BreakerHalfOpen BreakerState = "half-open"
)

// BreakerOptions configures a CircuitBreaker.
type BreakerOptions struct {
	// Name identifies the breaker in logs and state-change callbacks.
	Name string
	// Threshold is the consecutive failure count that opens the breaker.
	// Defaults to DefaultBreakerThreshold.
	Threshold uint32
	// ResetTimeout is how long the breaker stays open before allowing a
	// half-open probe. Defaults to DefaultBreakerResetTimeout.
	ResetTimeout time.Duration
	// OnStateChange is invoked on every state transition.
	OnStateChange func(name string, from, to BreakerState)
}

// CircuitBreaker guards an operation against a failing dependency. It wraps
// sony/gobreaker with the store's failure-threshold semantics: the breaker
// opens after Threshold consecutive failures, allows one probe after
// ResetTimeout, closes again on a successful probe, and re-opens on a failed
// one.
type CircuitBreaker[T any] struct {
	cb *gobreaker.CircuitBreaker[T]
}

// NewCircuitBreaker creates a breaker with the given options.
func NewCircuitBreaker[T any](opts BreakerOptions) *CircuitBreaker[T] {
	threshold := opts.Threshold
	if threshold == 0 {
		threshold = DefaultBreakerThreshold
	}
	resetTimeout := opts.ResetTimeout
	if resetTimeout <= 0 {
		resetTimeout = DefaultBreakerResetTimeout
	}

	settings := gobreaker.Settings{
		Name:        opts.Name,
		MaxRequests: 1,
		Timeout:     resetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
	}
	if opts.OnStateChange != nil {
		settings.OnStateChange = func(name string, from, to gobreaker.State) {
			opts.OnStateChange(name, mapState(from), mapState(to))
		}
	}

	return &CircuitBreaker[T]{cb: gobreaker.NewCircuitBreaker[T](settings)}
}

// Execute runs op through the breaker. While the breaker is open, Execute
// fails fast with a normalized service-unavailable error and op is not
// invoked.
func (b *CircuitBreaker[T]) Execute(ctx context.Context, op func(context.Context) (T, error)) (T, error) {
	v, err := b.cb.Execute(func() (T, error) {
		return op(ctx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			var zero T
			return zero, fault.Wrap(fault.KindServiceUnavailable, "circuit breaker open", err)
		}
		return v, err
	}
	return v, nil
}

// State returns the breaker's current state.
func (b *CircuitBreaker[T]) State() BreakerState {
	return mapState(b.cb.State())
}

func mapState(s gobreaker.State) BreakerState {
	switch s {
	case gobreaker.StateOpen:
		return BreakerOpen
	case gobreaker.StateHalfOpen:
		return BreakerHalfOpen
	default:
		return BreakerClosed
	}
}
