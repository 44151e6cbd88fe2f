// SPDX-License-Identifier: MIT

package model

import "time"

// StageRecord is the per-stage entry inside a RunRecord.
type StageRecord struct {
	Name             string      `json:"name"`
	Status           StageStatus `json:"status"`
	StartedAt        *time.Time  `json:"startedAt,omitempty"`
	CompletedAt      *time.Time  `json:"completedAt,omitempty"`
	Attempts         int         `json:"attempts"`
	Error            *StageError `json:"error,omitempty"`
	OutputContextRef string      `json:"outputContextRef,omitempty"`
}

// RunRecord is the persistent trace of one end-to-end run.
// It is owned exclusively by the Run Coordinator and sealed once terminal.
type RunRecord struct {
	ExecutionID string        `json:"executionId"`
	ProjectID   string        `json:"projectId"`
	Topic       string        `json:"topic"`
	Trigger     Trigger       `json:"trigger"`
	Status      RunStatus     `json:"status"`
	StartedAt   time.Time     `json:"startedAt"`
	CompletedAt *time.Time    `json:"completedAt,omitempty"`
	CancelledAt *time.Time    `json:"cancelledAt,omitempty"`
	Stages      []StageRecord `json:"stages"`
}

// Stage returns the stage record with the given name, or nil.
func (r *RunRecord) Stage(name string) *StageRecord {
	for i := range r.Stages {
		if r.Stages[i].Name == name {
			return &r.Stages[i]
		}
	}
	return nil
}

// Sealed reports whether the record reached a terminal status.
func (r *RunRecord) Sealed() bool {
	return r.Status.IsTerminal()
}

// StartRunRequest is what the coordinator accepts from the API, CLI and scheduler.
type StartRunRequest struct {
	Topic          string  `json:"topic"`
	TargetAudience string  `json:"targetAudience,omitempty"`
	VideoDuration  int     `json:"videoDuration,omitempty"` // seconds
	Trigger        Trigger `json:"trigger,omitempty"`
	Options        Options `json:"options,omitempty"`
}

// Options tunes a single run without changing daemon configuration.
type Options struct {
	SkipPublish bool `json:"skipPublish,omitempty"`
	MinVisuals  *int `json:"minVisuals,omitempty"`
}
