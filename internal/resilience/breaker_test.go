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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianlabs/tidestore/internal/fault"
)

func failingOp(calls *int) func(context.Context) (int, error) {
	return func(context.Context) (int, error) {
		*calls++
		return 0, fault.New(fault.KindNetwork, "dial failed")
	}
}

func succeedingOp(calls *int) func(context.Context) (int, error) {
	return func(context.Context) (int, error) {
		*calls++
		return 7, nil
	}
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	ctx := context.Background()
	b := NewCircuitBreaker[int](BreakerOptions{
		Name:         "durable",
		Threshold:    3,
		ResetTimeout: time.Minute,
	})

	calls := 0
	for i := 0; i < 3; i++ {
		_, err := b.Execute(ctx, failingOp(&calls))
		require.Error(t, err)
	}
	assert.Equal(t, 3, calls)
	assert.Equal(t, BreakerOpen, b.State())

	// While open, calls fail fast and the operation is not invoked.
	_, err := b.Execute(ctx, failingOp(&calls))
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, fault.KindServiceUnavailable, fault.KindOf(err))
}

func TestCircuitBreaker_HalfOpenProbeSuccessCloses(t *testing.T) {
	ctx := context.Background()
	b := NewCircuitBreaker[int](BreakerOptions{
		Threshold:    2,
		ResetTimeout: 20 * time.Millisecond,
	})

	calls := 0
	for i := 0; i < 2; i++ {
		_, _ = b.Execute(ctx, failingOp(&calls))
	}
	require.Equal(t, BreakerOpen, b.State())

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, BreakerHalfOpen, b.State())

	// The probe is attempted, succeeds, and the breaker closes.
	v, err := b.Execute(ctx, succeedingOp(&calls))
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Equal(t, BreakerClosed, b.State())

	// Failure count was reset: a single failure does not re-open.
	_, _ = b.Execute(ctx, failingOp(&calls))
	assert.Equal(t, BreakerClosed, b.State())
}

func TestCircuitBreaker_HalfOpenProbeFailureReopens(t *testing.T) {
	ctx := context.Background()
	b := NewCircuitBreaker[int](BreakerOptions{
		Threshold:    2,
		ResetTimeout: 20 * time.Millisecond,
	})

	calls := 0
	for i := 0; i < 2; i++ {
		_, _ = b.Execute(ctx, failingOp(&calls))
	}
	require.Equal(t, BreakerOpen, b.State())

	time.Sleep(30 * time.Millisecond)

	_, err := b.Execute(ctx, failingOp(&calls))
	require.Error(t, err)
	assert.Equal(t, BreakerOpen, b.State())

	// Fail fast again until the next reset window.
	before := calls
	_, err = b.Execute(ctx, failingOp(&calls))
	require.Error(t, err)
	assert.Equal(t, before, calls)
}

func TestCircuitBreaker_StateChangeCallback(t *testing.T) {
	ctx := context.Background()
	var transitions []string

	b := NewCircuitBreaker[int](BreakerOptions{
		Name:         "durable",
		Threshold:    1,
		ResetTimeout: time.Minute,
		OnStateChange: func(name string, from, to BreakerState) {
			transitions = append(transitions, string(from)+"->"+string(to))
		},
	})

	calls := 0
	_, _ = b.Execute(ctx, failingOp(&calls))

	require.NotEmpty(t, transitions)
	assert.Equal(t, "closed->open", transitions[0])
}

func TestCircuitBreaker_DefaultsApplied(t *testing.T) {
	ctx := context.Background()
	b := NewCircuitBreaker[int](BreakerOptions{})

	calls := 0
	for i := 0; i < DefaultBreakerThreshold-1; i++ {
		_, _ = b.Execute(ctx, failingOp(&calls))
	}
	assert.Equal(t, BreakerClosed, b.State())

	_, _ = b.Execute(ctx, failingOp(&calls))
	assert.Equal(t, BreakerOpen, b.State())
}
