// SPDX-License-Identifier: MIT

// Package gate is the quality gate between asset generation and the
// expensive assembly/publish stages. It validates structure, consistency
// and timing, and emits the manifest that downstream stages consume.
package gate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/ManuGH/autocast/internal/log"
	"github.com/ManuGH/autocast/internal/metrics"
	"github.com/ManuGH/autocast/internal/objstore"
	"github.com/ManuGH/autocast/internal/pipeline/ctxstore"
	"github.com/ManuGH/autocast/internal/pipeline/model"
	"github.com/ManuGH/autocast/internal/pipeline/registry"
)

// visualExts is the fixed allow-list of object extensions that count as a
// visual file under 03-media/scene-N/images/.
var visualExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
	".mp4": true, ".mov": true, ".webm": true, ".mkv": true, ".avi": true,
}

// Config tunes the gate thresholds.
type Config struct {
	// MinVisuals is the hard per-scene floor. Zero disables the
	// visual-count rule; every other check stays active.
	MinVisuals int
	// RecommendedVisuals is the soft per-scene threshold.
	RecommendedVisuals int
	// ToleranceFraction and ToleranceFloor bound audio/script duration
	// drift: the allowance is the larger of the two.
	ToleranceFraction float64
	ToleranceFloor    float64
	// HookFraction is the soft ceiling for the hook share of total runtime.
	HookFraction float64
}

// DefaultConfig matches the documented defaults.
func DefaultConfig() Config {
	return Config{
		MinVisuals:         3,
		RecommendedVisuals: 5,
		ToleranceFraction:  0.02,
		ToleranceFloor:     3,
		HookFraction:       0.15,
	}
}

// Gate evaluates one project against the admission rules.
type Gate struct {
	store   *ctxstore.Store
	objects objstore.Store
	cfg     Config
	now     func() time.Time
}

// New wires a gate over the context store and object store.
func New(store *ctxstore.Store, objects objstore.Store, cfg Config) *Gate {
	if cfg.RecommendedVisuals < cfg.MinVisuals {
		cfg.RecommendedVisuals = cfg.MinVisuals
	}
	return &Gate{store: store, objects: objects, cfg: cfg, now: time.Now}
}

// inputs holds the four upstream contexts the gate reads.
type inputs struct {
	topic *model.TopicContext
	scene *model.SceneContext
	media *model.MediaContext
	audio *model.AudioContext
}

// Run evaluates the project. On APPROVE it writes the manifest (context
// store + 01-context/manifest.json + project summary) and returns it. On
// REJECT it writes the validation report and returns a
// QualityGateRejected error; no manifest is written.
func (g *Gate) Run(ctx context.Context, projectID string, opts model.Options) (*model.Manifest, *Report, error) {
	logger := log.WithComponentFromContext(ctx, "gate")

	in, err := g.loadInputs(ctx, projectID)
	if err != nil {
		return nil, nil, err
	}

	layout := registry.LayoutFor(projectID)
	keys, err := g.objects.List(ctx, projectID)
	if err != nil {
		return nil, nil, model.NewStageError(model.KindBackend, "gate: list project objects", err)
	}

	minVisuals := g.cfg.MinVisuals
	if opts.MinVisuals != nil {
		minVisuals = *opts.MinVisuals
	}

	report := g.evaluate(in, layout, keys, minVisuals)
	report.DecidedAt = g.now().UTC()

	if !report.Approved() {
		metrics.GateDecisions.WithLabelValues("reject").Inc()
		for _, issue := range report.Issues {
			metrics.GateIssues.WithLabelValues(issue.Rule).Inc()
		}
		if err := g.putJSON(ctx, layout.ValidationReportPath(), report); err != nil {
			return nil, nil, err
		}
		logger.Warn().
			Str(log.FieldEvent, "gate.reject").
			Str(log.FieldProjectID, projectID).
			Int("issues", len(report.Issues)).
			Msg("quality gate rejected project")
		return nil, report, model.Errorf(model.KindQualityGateRejected,
			"gate: %d rule(s) failed, first: %s at %s", len(report.Issues), report.Issues[0].Rule, report.Issues[0].Path)
	}

	manifest := g.buildManifest(projectID, in, report)
	if _, err := g.store.Put(ctx, projectID, manifest); err != nil {
		return nil, nil, err
	}
	if err := g.putJSON(ctx, layout.ManifestPath(), manifest); err != nil {
		return nil, nil, err
	}
	if err := g.putJSON(ctx, layout.ProjectSummaryPath(), summary{
		Project:          projectID,
		Timestamp:        report.DecidedAt,
		KPIs:             report.KPIs,
		ValidationPassed: true,
	}); err != nil {
		return nil, nil, err
	}

	metrics.GateDecisions.WithLabelValues("approve").Inc()
	logger.Info().
		Str(log.FieldEvent, "gate.approve").
		Str(log.FieldProjectID, projectID).
		Int("warnings", len(report.Warnings)).
		Msg("quality gate approved project")
	return manifest, report, nil
}

func (g *Gate) loadInputs(ctx context.Context, projectID string) (*inputs, error) {
	var in inputs
	load := func(t model.ContextType, dst any) error {
		doc, err := g.store.Get(ctx, projectID, t)
		if err != nil {
			if errors.Is(err, ctxstore.ErrNotFound) || errors.Is(err, ctxstore.ErrExpired) {
				return model.Errorf(model.KindContextMissing, "gate: context %q is absent", t)
			}
			return err
		}
		switch d := dst.(type) {
		case **model.TopicContext:
			*d = doc.(*model.TopicContext)
		case **model.SceneContext:
			*d = doc.(*model.SceneContext)
		case **model.MediaContext:
			*d = doc.(*model.MediaContext)
		case **model.AudioContext:
			*d = doc.(*model.AudioContext)
		}
		return nil
	}
	if err := load(model.CtxTopic, &in.topic); err != nil {
		return nil, err
	}
	if err := load(model.CtxScene, &in.scene); err != nil {
		return nil, err
	}
	if err := load(model.CtxMedia, &in.media); err != nil {
		return nil, err
	}
	if err := load(model.CtxAudio, &in.audio); err != nil {
		return nil, err
	}
	return &in, nil
}

// evaluate applies every hard and soft rule and fills the KPI block.
func (g *Gate) evaluate(in *inputs, layout registry.Layout, keys []string, minVisuals int) *Report {
	report := &Report{ProjectID: layout.ProjectID}

	have := make(map[string]bool, len(keys))
	for _, k := range keys {
		have[k] = true
	}
	hasPrefix := func(prefix string) bool {
		prefix = strings.TrimSuffix(prefix, "/") + "/"
		for _, k := range keys {
			if strings.HasPrefix(k, prefix) {
				return true
			}
		}
		return false
	}

	fail := func(rule, p, msg string) {
		report.Issues = append(report.Issues, Issue{Rule: rule, Path: p, Severity: SeverityError, Message: msg})
	}
	warn := func(rule, p, msg string) {
		report.Warnings = append(report.Warnings, Issue{Rule: rule, Path: p, Severity: SeverityWarning, Message: msg})
	}

	// Structural: six folders.
	for _, dir := range []string{layout.ContextDir(), layout.ScriptDir(), layout.MediaDir(),
		layout.AudioDir(), layout.VideoDir(), layout.MetadataDir()} {
		if !hasPrefix(dir) {
			fail(RuleFolders, relPath(layout, dir)+"/", "required folder is missing")
		}
	}

	// Structural: well-known files.
	hasScript := have[layout.ScriptPath()]
	if !hasScript {
		fail(RuleScriptJSON, relPath(layout, layout.ScriptPath()), "script.json is missing")
	}
	hasNarration := have[layout.NarrationPath()]
	if !hasNarration {
		fail(RuleNarration, relPath(layout, layout.NarrationPath()), "master narration is missing")
	}

	scenes := in.scene.Scenes
	perSceneVisuals := make(map[int]int, len(scenes))
	totalVisuals := 0
	for _, sc := range scenes {
		segKey := layout.AudioSegmentPath(sc.SceneNumber)
		if !have[segKey] {
			fail(RuleAudioSegment, relPath(layout, segKey), "per-scene audio segment is missing")
		}

		imgPrefix := layout.SceneImagesDir(sc.SceneNumber)
		count := countVisuals(keys, imgPrefix)
		perSceneVisuals[sc.SceneNumber] = count
		totalVisuals += count

		switch {
		case minVisuals > 0 && count < minVisuals:
			fail(RuleMinVisuals, relPath(layout, imgPrefix)+"/",
				fmt.Sprintf("%d visual file(s), need at least %d", count, minVisuals))
		case count < g.cfg.RecommendedVisuals:
			warn(RuleLowVisuals, relPath(layout, imgPrefix)+"/",
				fmt.Sprintf("%d visual file(s), %d recommended", count, g.cfg.RecommendedVisuals))
		}
	}

	// Consistency: audio segments vs scenes.
	if len(in.audio.Segments) != len(scenes) {
		fail(RuleSegmentCount, relPath(layout, layout.AudioDir())+"/audio-segments/",
			fmt.Sprintf("audio has %d segment(s), script has %d scene(s)", len(in.audio.Segments), len(scenes)))
	}

	// Consistency: media scene-number set vs scene context.
	want := in.scene.SceneNumbers()
	got := make([]int, 0, len(in.media.SceneMediaMapping))
	for n := range in.media.SceneMediaMapping {
		got = append(got, n)
	}
	sort.Ints(got)
	if !equalInts(want, got) {
		fail(RuleSceneNumbers, relPath(layout, layout.MediaDir())+"/",
			fmt.Sprintf("media covers scenes %v, script defines %v", got, want))
	} else {
		for _, sc := range scenes {
			if sc.VisualCount > 0 && len(in.media.SceneMediaMapping[sc.SceneNumber]) != sc.VisualCount {
				warn(RuleMediaCount, relPath(layout, layout.SceneImagesDir(sc.SceneNumber))+"/",
					fmt.Sprintf("scene %d has %d curated asset(s), script requested %d",
						sc.SceneNumber, len(in.media.SceneMediaMapping[sc.SceneNumber]), sc.VisualCount))
			}
		}
	}

	// Quantitative: narration duration drift.
	var sceneTotal float64
	for _, sc := range scenes {
		sceneTotal += sc.Duration
	}
	tolerance := g.cfg.ToleranceFraction * sceneTotal
	if tolerance < g.cfg.ToleranceFloor {
		tolerance = g.cfg.ToleranceFloor
	}
	drift := sceneTotal - in.audio.TotalDuration
	if drift < 0 {
		drift = -drift
	}
	if drift > tolerance {
		fail(RuleDurationDrift, relPath(layout, layout.NarrationPath()),
			fmt.Sprintf("narration is %.1fs, script totals %.1fs (tolerance %.1fs)",
				in.audio.TotalDuration, sceneTotal, tolerance))
	}

	// Soft: SEO tags and hook balance.
	if len(in.topic.SEOContext.Tags) == 0 {
		warn(RuleNoSEOTags, "01-context/", "no SEO tags in topic context")
	}
	if len(scenes) > 0 && sceneTotal > 0 && scenes[0].Duration > g.cfg.HookFraction*sceneTotal {
		warn(RuleUnbalancedHook, "02-script/",
			fmt.Sprintf("hook is %.0f%% of total runtime", 100*scenes[0].Duration/sceneTotal))
	}

	report.KPIs = model.KPIs{
		ScenesDetected:  len(scenes),
		AudioSegments:   len(in.audio.Segments),
		HasNarration:    hasNarration,
		HasScript:       hasScript,
		TotalVisuals:    totalVisuals,
		PerSceneVisuals: perSceneVisuals,
	}
	return report
}

// buildManifest assembles the single source of truth for assembly/publish.
func (g *Gate) buildManifest(projectID string, in *inputs, report *Report) *model.Manifest {
	segByScene := make(map[int]model.AudioSegment, len(in.audio.Segments))
	for _, seg := range in.audio.Segments {
		segByScene[seg.SceneNumber] = seg
	}

	manifest := &model.Manifest{
		ProjectID:  projectID,
		VideoID:    projectID,
		Title:      in.topic.SelectedTopic,
		Visibility: "private",
		Export: model.ExportSettings{
			Resolution: "1920x1080",
			FPS:        30,
			Codec:      "h264",
			Preset:     "medium",
		},
		Upload: model.UploadSettings{
			Visibility: "private",
			Tags:       in.topic.SEOContext.Tags,
		},
		Metadata: model.ManifestMetadata{
			KPIs:      report.KPIs,
			DecidedAt: report.DecidedAt,
		},
	}

	for _, sc := range in.scene.Scenes {
		manifest.Chapters = append(manifest.Chapters, model.Chapter{
			StartTime: sc.StartTime,
			Label:     chapterLabel(sc),
		})

		seg := segByScene[sc.SceneNumber]
		ms := model.ManifestScene{
			ID:     sc.SceneNumber,
			Script: sc.Script,
			Audio:  model.ManifestAudio{StorageKey: seg.StorageKey, Duration: seg.Duration},
		}
		for _, asset := range in.media.SceneMediaMapping[sc.SceneNumber] {
			ms.Visuals = append(ms.Visuals, model.ManifestVisual{
				Type:         asset.Type,
				StorageKey:   asset.StorageKey,
				DurationHint: asset.DurationHint,
			})
		}
		manifest.Scenes = append(manifest.Scenes, ms)
	}
	return manifest
}

func (g *Gate) putJSON(ctx context.Context, key string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return model.NewStageError(model.KindBackend, "gate: encode "+key, err)
	}
	if err := g.objects.Put(ctx, key, data, "application/json"); err != nil {
		return model.NewStageError(model.KindBackend, "gate: write "+key, err)
	}
	return nil
}

// relPath strips the project id prefix so report paths match the layout
// documentation ("03-media/scene-3/images/").
func relPath(layout registry.Layout, key string) string {
	return strings.TrimPrefix(key, layout.ProjectID+"/")
}

func countVisuals(keys []string, prefix string) int {
	prefix = strings.TrimSuffix(prefix, "/") + "/"
	n := 0
	for _, k := range keys {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if visualExts[strings.ToLower(path.Ext(k))] {
			n++
		}
	}
	return n
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func chapterLabel(sc model.Scene) string {
	words := strings.Fields(sc.Script)
	if len(words) == 0 {
		return fmt.Sprintf("Scene %d", sc.SceneNumber)
	}
	if len(words) > 6 {
		words = words[:6]
	}
	return strings.Join(words, " ")
}
