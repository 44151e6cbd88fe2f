// SPDX-License-Identifier: MIT

package stage

import (
	"context"
	"math/rand"
	"time"

	"github.com/ManuGH/autocast/internal/log"
	"github.com/ManuGH/autocast/internal/metrics"
	"github.com/ManuGH/autocast/internal/pipeline/model"
)

// maxBackoff caps a single retry pause.
const maxBackoff = 30 * time.Second

// InvokeWithRetry drives one stage to a terminal outcome: per-attempt
// timeout from the spec, retries only for retryable error kinds, jittered
// exponential backoff between attempts. It returns the attempt count that
// was actually consumed.
func InvokeWithRetry(ctx context.Context, a Adapter, projectID string, opts model.Options) (Result, int, error) {
	spec := a.Spec()
	policy := spec.Retry
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}

	logger := log.WithComponentFromContext(ctx, "stage")

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		attemptCtx := ctx
		var cancel context.CancelFunc
		if spec.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		}
		res, err := a.Invoke(attemptCtx, projectID, opts)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return res, attempt, nil
		}

		kind := model.KindOf(err)
		// An attempt that ran into its own deadline while the run is still
		// alive is a stage timeout, not a cancellation.
		if kind == model.KindCancelled && ctx.Err() == nil {
			kind = model.KindTimeout
			err = model.NewStageError(model.KindTimeout, spec.Name+": attempt deadline exceeded", err)
		}
		lastErr = err

		if ctx.Err() != nil || !kind.Retryable() || attempt == policy.MaxAttempts {
			return Result{}, attempt, lastErr
		}

		metrics.StageRetries.WithLabelValues(spec.Name, string(kind)).Inc()
		delay := backoffDelay(policy, attempt, kind)
		logger.Warn().
			Str(log.FieldEvent, "stage.retry").
			Str(log.FieldStage, spec.Name).
			Int(log.FieldAttempt, attempt).
			Str(log.FieldErrorKind, string(kind)).
			Dur("delay", delay).
			Msg("retrying stage after transient failure")

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return Result{}, attempt, model.NewStageError(model.KindCancelled, spec.Name+": cancelled between attempts", ctx.Err())
		case <-t.C:
		}
	}
	return Result{}, policy.MaxAttempts, lastErr
}

// backoffDelay is baseDelay * 2^(attempt-1) plus optional jitter in
// [0, baseDelay), capped at maxBackoff. Throttled responses get a doubled
// base to back further off the remote limit.
func backoffDelay(policy RetryPolicy, attempt int, kind model.ErrorKind) time.Duration {
	base := policy.BaseDelay
	if base <= 0 {
		base = DefaultRetryPolicy().BaseDelay
	}
	if kind == model.KindThrottled {
		base *= 2
	}
	delay := base * (1 << (attempt - 1))
	if policy.Jitter {
		delay += time.Duration(rand.Int63n(int64(base)))
	}
	if delay > maxBackoff {
		delay = maxBackoff
	}
	return delay
}
