// SPDX-License-Identifier: MIT

package gate

import (
	"time"

	"github.com/ManuGH/autocast/internal/pipeline/model"
)

// Severity of a rule finding.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// Rule identifiers. Keep these stable: reports, metrics and operators
// depend on them.
const (
	RuleFolders        = "folders"
	RuleScriptJSON     = "script_json"
	RuleNarration      = "narration"
	RuleAudioSegment   = "audio_segment"
	RuleMinVisuals     = "min_visuals"
	RuleSegmentCount   = "audio_segments_count != scenes_count"
	RuleSceneNumbers   = "scene_numbers_mismatch"
	RuleDurationDrift  = "duration_drift"
	RuleLowVisuals     = "low_visuals"
	RuleNoSEOTags      = "no_seo_tags"
	RuleUnbalancedHook = "unbalanced_hook"
	RuleMediaCount     = "media_count_mismatch"
)

// Issue is a single rule finding with the offending path.
type Issue struct {
	Rule     string `json:"rule"`
	Path     string `json:"path"`
	Severity string `json:"severity"`
	Message  string `json:"message,omitempty"`
}

// Report is the human-readable validation outcome written into the project
// metadata folder on rejection.
type Report struct {
	ProjectID string     `json:"projectId"`
	Issues    []Issue    `json:"issues"`
	Warnings  []Issue    `json:"warnings"`
	KPIs      model.KPIs `json:"kpis"`
	DecidedAt time.Time  `json:"decidedAt"`
}

// Approved reports whether no hard rule failed.
func (r *Report) Approved() bool { return len(r.Issues) == 0 }

// summary is written alongside the manifest on acceptance.
type summary struct {
	Project          string     `json:"project"`
	Timestamp        time.Time  `json:"timestamp"`
	KPIs             model.KPIs `json:"kpis"`
	ValidationPassed bool       `json:"validationPassed"`
}
