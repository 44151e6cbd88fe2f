// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldExecutionID = "execution_id"
	FieldProjectID   = "project_id"
	FieldTopic       = "topic"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldStage     = "stage"
	FieldWave      = "wave"
	FieldAttempt   = "attempt"
	FieldErrorKind = "error_kind"

	// Context store fields
	FieldContextType = "context_type"
	FieldPlacement   = "placement"
	FieldBytes       = "bytes"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Path fields
	FieldPath   = "path"
	FieldBucket = "bucket"
)
