// SPDX-License-Identifier: MIT

package model

// ContextType identifies one typed context document per project.
// The store holds exactly one shape per type; writes are last-write-wins.
type ContextType string

const (
	CtxTopic    ContextType = "topic"
	CtxScene    ContextType = "scene"
	CtxMedia    ContextType = "media"
	CtxAudio    ContextType = "audio"
	CtxVideo    ContextType = "video"
	CtxManifest ContextType = "manifest"
	CtxSchedule ContextType = "schedule"
)

// ContextTypes lists every known context type in schema order.
var ContextTypes = []ContextType{
	CtxTopic, CtxScene, CtxMedia, CtxAudio, CtxVideo, CtxManifest, CtxSchedule,
}

// Valid reports whether t is a known context type.
func (t ContextType) Valid() bool {
	switch t {
	case CtxTopic, CtxScene, CtxMedia, CtxAudio, CtxVideo, CtxManifest, CtxSchedule:
		return true
	}
	return false
}

// Stage names are stable identifiers: the DAG, RunRecords and metrics depend on them.
const (
	StageTopicPlanner = "TopicPlanner"
	StageScriptWriter = "ScriptWriter"
	StageMediaCurator = "MediaCurator"
	StageAudioSynth   = "AudioSynth"
	StageQualityGate  = "QualityGate"
	StageAssembler    = "Assembler"
	StagePublisher    = "Publisher"
)

// StageStatus is the per-stage lifecycle inside a run.
type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageRunning   StageStatus = "running"
	StageSucceeded StageStatus = "succeeded"
	StageFailed    StageStatus = "failed"
	StageSkipped   StageStatus = "skipped"
	StageTimedOut  StageStatus = "timedOut"
	StageCancelled StageStatus = "cancelled"
)

// IsTerminal returns true if the stage status is final.
func (s StageStatus) IsTerminal() bool {
	switch s {
	case StageSucceeded, StageFailed, StageSkipped, StageTimedOut, StageCancelled:
		return true
	}
	return false
}

// RunStatus is the aggregate lifecycle of a pipeline run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunPartial   RunStatus = "partial"
	RunFailed    RunStatus = "failed"
)

// IsTerminal returns true if the run status is final (the record is sealed).
func (s RunStatus) IsTerminal() bool {
	return s == RunSucceeded || s == RunPartial || s == RunFailed
}

// Trigger records what started a run.
type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerManual    Trigger = "manual"
)

// ErrorKind is a compact, typed failure signal.
// Keep these stable: retry policy, metrics and client UX depend on them.
type ErrorKind string

const (
	KindValidation          ErrorKind = "Validation"
	KindContextMissing      ErrorKind = "ContextMissing"
	KindBackend             ErrorKind = "Backend"
	KindThrottled           ErrorKind = "Throttled"
	KindTimeout             ErrorKind = "Timeout"
	KindCancelled           ErrorKind = "Cancelled"
	KindQualityGateRejected ErrorKind = "QualityGateRejected"
	KindConfig              ErrorKind = "Config"
)

// Retryable reports whether a failure of this kind may be retried
// within the same run. Validation and admission failures never are.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindBackend, KindThrottled, KindTimeout:
		return true
	}
	return false
}
