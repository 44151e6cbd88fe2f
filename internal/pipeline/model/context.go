// SPDX-License-Identifier: MIT

package model

import (
	"fmt"
	"time"
)

// Document is one typed context document keyed by (projectId, contextType).
// Each type has exactly one canonical schema; optional enrichment lives in
// optional sub-objects on the same shape.
type Document interface {
	Type() ContextType
	Project() string
	Validate() error
}

// VideoStructure describes the intended hook/main/conclusion split.
type VideoStructure struct {
	HookSeconds       float64 `json:"hookSeconds"`
	MainSeconds       float64 `json:"mainSeconds"`
	ConclusionSeconds float64 `json:"conclusionSeconds"`
	RecommendedScenes int     `json:"recommendedScenes"`
}

// SEOContext carries keyword sets for title/description/tag generation.
type SEOContext struct {
	PrimaryKeywords   []string `json:"primaryKeywords"`
	SecondaryKeywords []string `json:"secondaryKeywords,omitempty"`
	Tags              []string `json:"tags,omitempty"`
}

// TopicContext is produced by TopicPlanner.
type TopicContext struct {
	ProjectID      string         `json:"projectId"`
	SelectedTopic  string         `json:"selectedTopic"`
	ExpandedTopics []string       `json:"expandedTopics"`
	VideoStructure VideoStructure `json:"videoStructure"`
	SEOContext     SEOContext     `json:"seoContext"`
	TargetAudience string         `json:"targetAudience,omitempty"`
	TargetDuration float64        `json:"targetDuration,omitempty"`
}

func (c *TopicContext) Type() ContextType { return CtxTopic }
func (c *TopicContext) Project() string   { return c.ProjectID }

func (c *TopicContext) Validate() error {
	if c.ProjectID == "" {
		return Errorf(KindValidation, "topic: projectId is required")
	}
	if c.SelectedTopic == "" {
		return Errorf(KindValidation, "topic: selectedTopic is required")
	}
	if len(c.ExpandedTopics) == 0 {
		return Errorf(KindValidation, "topic: expandedTopics must not be empty")
	}
	if c.VideoStructure.RecommendedScenes <= 0 {
		return Errorf(KindValidation, "topic: videoStructure.recommendedScenes must be > 0")
	}
	if len(c.SEOContext.PrimaryKeywords) == 0 {
		return Errorf(KindValidation, "topic: seoContext.primaryKeywords must not be empty")
	}
	return nil
}

// Scene is a single narrated segment of the video.
type Scene struct {
	SceneNumber   int      `json:"sceneNumber"`
	StartTime     float64  `json:"startTime"`
	Duration      float64  `json:"duration"`
	Script        string   `json:"script"`
	MediaKeywords []string `json:"mediaKeywords,omitempty"`
	VisualCount   int      `json:"visualCount,omitempty"`
}

// SceneContext is produced by ScriptWriter.
type SceneContext struct {
	ProjectID        string  `json:"projectId"`
	SelectedSubtopic string  `json:"selectedSubtopic"`
	TotalDuration    float64 `json:"totalDuration"`
	Scenes           []Scene `json:"scenes"`
}

func (c *SceneContext) Type() ContextType { return CtxScene }
func (c *SceneContext) Project() string   { return c.ProjectID }

func (c *SceneContext) Validate() error {
	if c.ProjectID == "" {
		return Errorf(KindValidation, "scene: projectId is required")
	}
	if c.SelectedSubtopic == "" {
		return Errorf(KindValidation, "scene: selectedSubtopic is required")
	}
	if c.TotalDuration <= 0 {
		return Errorf(KindValidation, "scene: totalDuration must be > 0")
	}
	if len(c.Scenes) == 0 {
		return Errorf(KindValidation, "scene: scenes must not be empty")
	}
	// Numbering is 1-based and contiguous; downstream contexts must agree.
	for i, s := range c.Scenes {
		if s.SceneNumber != i+1 {
			return Errorf(KindValidation, "scene: scene %d has number %d, want %d", i, s.SceneNumber, i+1)
		}
		if s.Duration <= 0 {
			return Errorf(KindValidation, "scene: scene %d has non-positive duration", s.SceneNumber)
		}
		if s.Script == "" {
			return Errorf(KindValidation, "scene: scene %d has empty script", s.SceneNumber)
		}
	}
	return nil
}

// SceneNumbers returns the ordered scene number set.
func (c *SceneContext) SceneNumbers() []int {
	out := make([]int, 0, len(c.Scenes))
	for _, s := range c.Scenes {
		out = append(out, s.SceneNumber)
	}
	return out
}

// MediaAsset is one visual placed on the timeline of a scene.
type MediaAsset struct {
	Source         string  `json:"source"` // provenance: provider identifier or "generated"
	Type           string  `json:"type"`   // image | video
	StorageKey     string  `json:"storageKey"`
	DurationHint   float64 `json:"durationHint,omitempty"`
	Transition     string  `json:"transition,omitempty"`
	RelevanceScore float64 `json:"relevanceScore,omitempty"`
}

// MediaContext is produced by MediaCurator.
type MediaContext struct {
	ProjectID         string               `json:"projectId"`
	SceneMediaMapping map[int][]MediaAsset `json:"sceneMediaMapping"`
	TotalAssets       int                  `json:"totalAssets"`
}

func (c *MediaContext) Type() ContextType { return CtxMedia }
func (c *MediaContext) Project() string   { return c.ProjectID }

func (c *MediaContext) Validate() error {
	if c.ProjectID == "" {
		return Errorf(KindValidation, "media: projectId is required")
	}
	if len(c.SceneMediaMapping) == 0 {
		return Errorf(KindValidation, "media: sceneMediaMapping must not be empty")
	}
	if c.TotalAssets <= 0 {
		return Errorf(KindValidation, "media: totalAssets must be > 0")
	}
	return nil
}

// AudioSegment is one per-scene narration ref.
type AudioSegment struct {
	SceneNumber int     `json:"sceneNumber"`
	StorageKey  string  `json:"storageKey"`
	Duration    float64 `json:"duration"`
}

// TimingMark maps a label onto the narration timeline.
type TimingMark struct {
	Label     string  `json:"label"`
	StartTime float64 `json:"startTime"`
	EndTime   float64 `json:"endTime"`
}

// TimingMarks holds word- and scene-granular marks.
type TimingMarks struct {
	Words  []TimingMark `json:"words,omitempty"`
	Scenes []TimingMark `json:"scenes"`
}

// AudioContext is produced by AudioSynth.
type AudioContext struct {
	ProjectID     string         `json:"projectId"`
	MasterAudioID string         `json:"masterAudioId"`
	TotalDuration float64        `json:"totalDuration"`
	Segments      []AudioSegment `json:"segments"`
	TimingMarks   TimingMarks    `json:"timingMarks"`
}

func (c *AudioContext) Type() ContextType { return CtxAudio }
func (c *AudioContext) Project() string   { return c.ProjectID }

func (c *AudioContext) Validate() error {
	if c.ProjectID == "" {
		return Errorf(KindValidation, "audio: projectId is required")
	}
	if c.MasterAudioID == "" {
		return Errorf(KindValidation, "audio: masterAudioId is required")
	}
	if len(c.TimingMarks.Scenes) == 0 {
		return Errorf(KindValidation, "audio: timingMarks.scenes must not be empty")
	}
	return nil
}

// VideoMetadata describes the assembled output object.
type VideoMetadata struct {
	StorageKey   string  `json:"storageKey"`
	Duration     float64 `json:"duration"`
	Width        int     `json:"width,omitempty"`
	Height       int     `json:"height,omitempty"`
	FPS          int     `json:"fps,omitempty"`
	QualityScore float64 `json:"qualityScore,omitempty"`
}

// ProcessingResults carries assembly diagnostics.
type ProcessingResults struct {
	LogKeys           []string `json:"logKeys,omitempty"`
	EncodeTimeSeconds float64  `json:"encodeTimeSeconds,omitempty"`
	Warnings          []string `json:"warnings,omitempty"`
}

// VideoContext is produced by Assembler.
type VideoContext struct {
	ProjectID         string            `json:"projectId"`
	VideoMetadata     VideoMetadata     `json:"videoMetadata"`
	ProcessingResults ProcessingResults `json:"processingResults"`
}

func (c *VideoContext) Type() ContextType { return CtxVideo }
func (c *VideoContext) Project() string   { return c.ProjectID }

func (c *VideoContext) Validate() error {
	if c.ProjectID == "" {
		return Errorf(KindValidation, "video: projectId is required")
	}
	if c.VideoMetadata.StorageKey == "" {
		return Errorf(KindValidation, "video: videoMetadata.storageKey is required")
	}
	return nil
}

// Chapter maps a scene start time onto a label for player chapters.
type Chapter struct {
	StartTime float64 `json:"startTime"`
	Label     string  `json:"label"`
}

// ManifestAudio references one scene's narration segment.
type ManifestAudio struct {
	StorageKey string  `json:"storageKey"`
	Duration   float64 `json:"duration"`
}

// ManifestVisual is one ordered visual inside a manifest scene.
type ManifestVisual struct {
	Type         string  `json:"type"`
	StorageKey   string  `json:"storageKey"`
	DurationHint float64 `json:"durationHint,omitempty"`
}

// ManifestScene is the assembly unit consumed downstream.
type ManifestScene struct {
	ID      int              `json:"id"`
	Script  string           `json:"script"`
	Audio   ManifestAudio    `json:"audio"`
	Visuals []ManifestVisual `json:"visuals"`
}

// ExportSettings controls the final encode.
type ExportSettings struct {
	Resolution string `json:"resolution"`
	FPS        int    `json:"fps"`
	Codec      string `json:"codec"`
	Preset     string `json:"preset"`
}

// UploadSettings controls publishing.
type UploadSettings struct {
	Visibility string   `json:"visibility"`
	CategoryID string   `json:"categoryId,omitempty"`
	Tags       []string `json:"tags,omitempty"`
}

// KPIs echoes raw quality-gate counts into the manifest and reports.
type KPIs struct {
	ScenesDetected  int         `json:"scenes_detected"`
	AudioSegments   int         `json:"audio_segments"`
	HasNarration    bool        `json:"has_narration"`
	HasScript       bool        `json:"has_script"`
	TotalVisuals    int         `json:"total_visuals"`
	PerSceneVisuals map[int]int `json:"per_scene_visuals,omitempty"`
}

// ManifestMetadata is free-form manifest annotation plus the KPI echo.
type ManifestMetadata struct {
	KPIs      KPIs      `json:"kpis"`
	DecidedAt time.Time `json:"decidedAt"`
}

// Manifest is the single source of truth for assembly and publish.
// It is written only by the Quality Gate, and only on APPROVE.
type Manifest struct {
	ProjectID  string           `json:"projectId"`
	VideoID    string           `json:"videoId"`
	Title      string           `json:"title"`
	Visibility string           `json:"visibility"`
	Chapters   []Chapter        `json:"chapters"`
	Scenes     []ManifestScene  `json:"scenes"`
	Export     ExportSettings   `json:"export"`
	Upload     UploadSettings   `json:"upload"`
	Metadata   ManifestMetadata `json:"metadata"`
}

func (c *Manifest) Type() ContextType { return CtxManifest }
func (c *Manifest) Project() string   { return c.ProjectID }

func (c *Manifest) Validate() error {
	if c.ProjectID == "" {
		return Errorf(KindValidation, "manifest: projectId is required")
	}
	if c.VideoID == "" {
		return Errorf(KindValidation, "manifest: videoId is required")
	}
	if c.Title == "" {
		return Errorf(KindValidation, "manifest: title is required")
	}
	if len(c.Scenes) == 0 {
		return Errorf(KindValidation, "manifest: scenes must not be empty")
	}
	return nil
}

// ScheduleContext carries per-topic schedule metadata.
type ScheduleContext struct {
	ProjectID string     `json:"projectId"`
	Topic     string     `json:"topic"`
	CronExpr  string     `json:"cronExpr,omitempty"`
	Priority  int        `json:"priority,omitempty"`
	LastFired *time.Time `json:"lastFired,omitempty"`
}

func (c *ScheduleContext) Type() ContextType { return CtxSchedule }
func (c *ScheduleContext) Project() string   { return c.ProjectID }

func (c *ScheduleContext) Validate() error {
	if c.ProjectID == "" {
		return Errorf(KindValidation, "schedule: projectId is required")
	}
	if c.Topic == "" {
		return Errorf(KindValidation, "schedule: topic is required")
	}
	return nil
}

// NewDocument returns a zero document of the given type, for decoding.
func NewDocument(t ContextType) (Document, error) {
	switch t {
	case CtxTopic:
		return &TopicContext{}, nil
	case CtxScene:
		return &SceneContext{}, nil
	case CtxMedia:
		return &MediaContext{}, nil
	case CtxAudio:
		return &AudioContext{}, nil
	case CtxVideo:
		return &VideoContext{}, nil
	case CtxManifest:
		return &Manifest{}, nil
	case CtxSchedule:
		return &ScheduleContext{}, nil
	}
	return nil, fmt.Errorf("unknown context type %q", t)
}
