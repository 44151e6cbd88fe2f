// SPDX-License-Identifier: MIT

// Package metrics holds the prometheus collectors of the daemon.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Run metrics
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autocast_runs_total",
		Help: "Completed pipeline runs by aggregate status and trigger",
	}, []string{"status", "trigger"})

	ActiveRuns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "autocast_active_runs",
		Help: "Pipeline runs currently executing",
	})

	// Stage metrics
	StageOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autocast_stage_outcomes_total",
		Help: "Stage terminal states by stage name and status",
	}, []string{"stage", "status"})

	StageRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autocast_stage_retries_total",
		Help: "Stage invocation retries by stage name and error kind",
	}, []string{"stage", "kind"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "autocast_stage_duration_seconds",
		Help:    "Wall-clock stage duration from launch to terminal state",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"stage"})

	// Context store metrics
	ContextWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autocast_context_writes_total",
		Help: "Context documents written by type and placement",
	}, []string{"context_type", "placement"})

	// Quality gate metrics
	GateDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autocast_gate_decisions_total",
		Help: "Quality gate admission decisions",
	}, []string{"decision"}) // decision=approve|reject

	GateIssues = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autocast_gate_issues_total",
		Help: "Hard quality gate rule failures by rule",
	}, []string{"rule"})

	// Scheduler metrics
	SchedulerTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "autocast_scheduler_ticks_total",
		Help: "Scheduler tick outcomes",
	}, []string{"outcome"}) // outcome=dispatched|throttled|no_eligible_topic|error
)
