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

// Package resilience provides retry-with-exponential-backoff and circuit
// breaker primitives used to guard operations against the durable tier.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/meridianlabs/tidestore/internal/fault"
)

// Defaults for RetryOptions.
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 1 * time.Second
	DefaultMaxDelay    = 30 * time.Second
)

// RetryOptions configures WithRetry.
type RetryOptions struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Defaults to DefaultMaxAttempts.
	MaxAttempts int
	// BaseDelay is the backoff base. Defaults to DefaultBaseDelay.
	BaseDelay time.Duration
	// MaxDelay caps the computed backoff. Defaults to DefaultMaxDelay.
	MaxDelay time.Duration
	// ShouldRetry decides whether a normalized error is retryable. Defaults
	// to the per-kind retryability table (fault.IsRetryable).
	ShouldRetry func(error) bool
	// OnRetry is invoked before each backoff sleep with the 1-based number of
	// the attempt that just failed, the upcoming delay, and the error.
	OnRetry func(attempt int, delay time.Duration, err error)
	// OnFailure is invoked once when attempts are exhausted or the error is
	// classified non-retryable, with the number of attempts actually made.
	OnFailure func(attempts int, err error)
}

func (o RetryOptions) withDefaults() RetryOptions {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = DefaultBaseDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = DefaultMaxDelay
	}
	if o.ShouldRetry == nil {
		o.ShouldRetry = fault.IsRetryable
	}
	return o
}

// BackoffDelay computes the delay before the retry following attempt
// (0-indexed): min(base << attempt, max).
func BackoffDelay(base, max time.Duration, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// Guard against shift overflow for pathological attempt counts.
	if attempt >= 62 {
		return max
	}
	d := base << uint(attempt)
	if d <= 0 || d > max {
		return max
	}
	return d
}

// WithRetry executes op, retrying on failures the retryability table (or the
// configured ShouldRetry) classifies as transient. The error returned after
// exhaustion or a non-retryable classification is always normalized.
func WithRetry[T any](ctx context.Context, op func(context.Context) (T, error), opts RetryOptions) (T, error) {
	o := opts.withDefaults()

	var zero T
	var lastErr *fault.Error

	attempts := 0
	for attempt := 0; attempt < o.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, fault.Normalize(err, fault.Context{})
		}

		v, err := op(ctx)
		attempts++
		if err == nil {
			return v, nil
		}
		lastErr = fault.Normalize(err, fault.Context{})

		if attempt == o.MaxAttempts-1 || !o.ShouldRetry(lastErr) {
			break
		}

		delay := BackoffDelay(o.BaseDelay, o.MaxDelay, attempt)
		if hint := fault.RetryAfterHint(lastErr); hint > delay {
			delay = hint
		}
		if o.OnRetry != nil {
			o.OnRetry(attempt+1, delay, lastErr)
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return zero, fault.Normalize(ctx.Err(), fault.Context{})
		}
	}

	if o.OnFailure != nil {
		o.OnFailure(attempts, lastErr)
	}
	return zero, lastErr
}

// Do is WithRetry for operations without a result value.
func Do(ctx context.Context, op func(context.Context) error, opts RetryOptions) error {
	_, err := WithRetry(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}, opts)
	return err
}

// BatchResult is the outcome of one operation in a BatchWithRetry call.
type BatchResult[T any] struct {
	// Index is the operation's position in the input slice.
	Index int
	// Value is the result on success.
	Value T
	// Err is the normalized error on failure, nil on success.
	Err error
}

// BatchWithRetry runs independent retry-wrapped operations concurrently and
// collects per-item results. A failing item never aborts the others.
func BatchWithRetry[T any](ctx context.Context, ops []func(context.Context) (T, error), opts RetryOptions) []BatchResult[T] {
	results := make([]BatchResult[T], len(ops))

	var wg sync.WaitGroup
	for i, op := range ops {
		wg.Add(1)
		go func(i int, op func(context.Context) (T, error)) {
			defer wg.Done()
			v, err := WithRetry(ctx, op, opts)
			results[i] = BatchResult[T]{Index: i, Value: v, Err: err}
		}(i, op)
	}
	wg.Wait()

	return results
}

// WithRetryAndTimeout races a retry-wrapped operation against a hard
// deadline. On expiry the in-flight retry loop is abandoned and the returned
// error is a normalized network timeout.
func WithRetryAndTimeout[T any](ctx context.Context, timeout time.Duration, op func(context.Context) (T, error), opts RetryOptions) (T, error) {
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	v, err := WithRetry(tctx, op, opts)
	if err != nil && tctx.Err() == context.DeadlineExceeded {
		var zero T
		return zero, fault.Wrap(fault.KindNetwork, "operation timed out", context.DeadlineExceeded)
	}
	return v, err
}
