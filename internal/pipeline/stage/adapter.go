// SPDX-License-Identifier: MIT

// Package stage defines the uniform adapter contract around external
// workers, and the registry the planner and coordinator resolve stages from.
package stage

import (
	"context"
	"time"

	"github.com/ManuGH/autocast/internal/pipeline/model"
)

// RetryPolicy bounds how often a stage invocation may be retried.
// Only error kinds that report Retryable() are ever retried.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Jitter      bool
}

// DefaultRetryPolicy matches the documented defaults: up to 3 attempts,
// jittered exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, Jitter: true}
}

// Spec is the static declaration of a stage adapter.
type Spec struct {
	// Name is the stable identifier used in the DAG and in RunRecords.
	Name string
	// InputContextTypes are fetched from the context store, never side-channel.
	InputContextTypes []model.ContextType
	// OutputContextType is the single type the stage writes, if any.
	OutputContextType model.ContextType
	// Timeout is the wall-clock budget per invocation attempt.
	Timeout time.Duration
	// Retry bounds re-invocation on transient failures.
	Retry RetryPolicy
}

// Result is the successful outcome of one stage invocation.
type Result struct {
	// OutputRef names the written output context, if the stage has one.
	OutputRef string
}

// Adapter is a thin, uniform interface around one worker stage. Invoke must
// honor ctx cancellation: on cancel the adapter stops within the grace
// period and returns a Cancelled error.
type Adapter interface {
	Spec() Spec
	Invoke(ctx context.Context, projectID string, opts model.Options) (Result, error)
}
