// SPDX-License-Identifier: MIT

// Package log provides structured logging utilities.
package log

import (
	"context"

	"github.com/rs/zerolog"
)

type ctxKey string

const (
	executionIDKey ctxKey = "execution_id"
	projectIDKey   ctxKey = "project_id"
	stageKey       ctxKey = "stage"
)

// ContextWithExecutionID stores the provided run execution ID in the context.
func ContextWithExecutionID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, executionIDKey, id)
}

// ContextWithProjectID stores the provided project ID in the context.
func ContextWithProjectID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, projectIDKey, id)
}

// ContextWithStage stores the active stage name in the context.
func ContextWithStage(ctx context.Context, name string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, stageKey, name)
}

// ExecutionIDFromContext extracts the execution ID from context if present.
func ExecutionIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(executionIDKey).(string); ok {
		return v
	}
	return ""
}

// ProjectIDFromContext extracts the project ID from context if present.
func ProjectIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(projectIDKey).(string); ok {
		return v
	}
	return ""
}

// StageFromContext extracts the stage name from context if present.
func StageFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(stageKey).(string); ok {
		return v
	}
	return ""
}

// WithContext enriches the supplied logger with correlation fields from context.
func WithContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	if ctx == nil {
		return logger
	}
	builder := logger.With()
	added := false
	if eid := ExecutionIDFromContext(ctx); eid != "" {
		builder = builder.Str(FieldExecutionID, eid)
		added = true
	}
	if pid := ProjectIDFromContext(ctx); pid != "" {
		builder = builder.Str(FieldProjectID, pid)
		added = true
	}
	if st := StageFromContext(ctx); st != "" {
		builder = builder.Str(FieldStage, st)
		added = true
	}
	if !added {
		return logger
	}
	return builder.Logger()
}

// WithComponentFromContext returns a logger that is annotated with the component
// name and enriched with correlation fields from ctx.
func WithComponentFromContext(ctx context.Context, component string) *zerolog.Logger {
	l := WithContext(ctx, *WithComponent(component))
	return &l
}
