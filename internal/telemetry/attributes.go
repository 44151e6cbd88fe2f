// SPDX-License-Identifier: MIT

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the daemon.
const (
	// HTTP attributes
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"

	// Pipeline attributes
	ExecutionIDKey = "pipeline.execution_id"
	ProjectIDKey   = "pipeline.project_id"
	StageKey       = "pipeline.stage"
	TriggerKey     = "pipeline.trigger"
	AttemptKey     = "pipeline.attempt"

	// Context store attributes
	ContextTypeKey = "context.type"
	PlacementKey   = "context.placement"
	PayloadSizeKey = "context.bytes"

	// Quality gate attributes
	GateDecisionKey = "gate.decision"
	GateIssuesKey   = "gate.issues"

	// Error attributes
	ErrorKey     = "error"
	ErrorKindKey = "error.kind"
)

// HTTPAttributes creates common HTTP span attributes.
func HTTPAttributes(method, route string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// RunAttributes creates run-level span attributes.
func RunAttributes(executionID, projectID, trigger string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(ExecutionIDKey, executionID),
		attribute.String(ProjectIDKey, projectID),
		attribute.String(TriggerKey, trigger),
	}
}

// StageAttributes creates stage-level span attributes.
func StageAttributes(stage string, attempt int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(StageKey, stage),
		attribute.Int(AttemptKey, attempt),
	}
}

// ContextAttributes creates context-store span attributes.
func ContextAttributes(contextType, placement string, size int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(ContextTypeKey, contextType),
		attribute.String(PlacementKey, placement),
		attribute.Int(PayloadSizeKey, size),
	}
}

// GateAttributes creates quality-gate span attributes.
func GateAttributes(decision string, issues int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(GateDecisionKey, decision),
		attribute.Int(GateIssuesKey, issues),
	}
}

// ErrorAttributes creates error span attributes.
func ErrorAttributes(errorKind string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorKindKey, errorKind),
	}
}
