// SPDX-License-Identifier: MIT

package gate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/autocast/internal/objstore"
	"github.com/ManuGH/autocast/internal/pipeline/ctxstore"
	"github.com/ManuGH/autocast/internal/pipeline/model"
	"github.com/ManuGH/autocast/internal/pipeline/registry"
)

const testProject = "2026-03-01_10-00-00_quantum-computing"

type memKV struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *memKV) Set(_ context.Context, key string, val []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), val...)
	return nil
}

func (m *memKV) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ctxstore.ErrNotFound
	}
	return v, nil
}

func (m *memKV) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	return ok, nil
}

func (m *memKV) Close() error { return nil }

type env struct {
	gate    *Gate
	store   *ctxstore.Store
	objects objstore.Store
	layout  registry.Layout
}

func newEnv(t *testing.T, cfg Config) *env {
	t.Helper()
	objects, err := objstore.NewFSStore(t.TempDir())
	require.NoError(t, err)
	store := ctxstore.New(&memKV{data: map[string][]byte{}}, objects, ctxstore.Options{})
	return &env{
		gate:    New(store, objects, cfg),
		store:   store,
		objects: objects,
		layout:  registry.LayoutFor(testProject),
	}
}

// seedContexts writes the four upstream contexts of a two-scene project
// whose script and narration agree exactly.
func (e *env) seedContexts(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	_, err := e.store.Put(ctx, testProject, &model.TopicContext{
		ProjectID:      testProject,
		SelectedTopic:  "Quantum Computing",
		ExpandedTopics: []string{"Quantum Computing Basics"},
		VideoStructure: model.VideoStructure{HookSeconds: 3, MainSeconds: 14, ConclusionSeconds: 3, RecommendedScenes: 2},
		SEOContext:     model.SEOContext{PrimaryKeywords: []string{"quantum"}, Tags: []string{"quantum", "computing"}},
	})
	require.NoError(t, err)

	_, err = e.store.Put(ctx, testProject, &model.SceneContext{
		ProjectID:        testProject,
		SelectedSubtopic: "Quantum Computing Basics",
		TotalDuration:    20,
		Scenes: []model.Scene{
			{SceneNumber: 1, StartTime: 0, Duration: 3, Script: "What if one machine could try every answer at once"},
			{SceneNumber: 2, StartTime: 3, Duration: 17, Script: "Qubits explained from the ground up"},
		},
	})
	require.NoError(t, err)

	_, err = e.store.Put(ctx, testProject, &model.MediaContext{
		ProjectID: testProject,
		SceneMediaMapping: map[int][]model.MediaAsset{
			1: {
				{Source: "pexels", Type: "image", StorageKey: e.layout.SceneImagesDir(1) + "/a.jpg"},
				{Source: "pexels", Type: "image", StorageKey: e.layout.SceneImagesDir(1) + "/b.png"},
				{Source: "generated", Type: "video", StorageKey: e.layout.SceneImagesDir(1) + "/c.mp4"},
			},
			2: {
				{Source: "pexels", Type: "image", StorageKey: e.layout.SceneImagesDir(2) + "/a.jpg"},
				{Source: "pexels", Type: "image", StorageKey: e.layout.SceneImagesDir(2) + "/b.jpg"},
				{Source: "pexels", Type: "image", StorageKey: e.layout.SceneImagesDir(2) + "/c.webp"},
			},
		},
		TotalAssets: 6,
	})
	require.NoError(t, err)

	_, err = e.store.Put(ctx, testProject, &model.AudioContext{
		ProjectID:     testProject,
		MasterAudioID: "narration-master",
		TotalDuration: 20,
		Segments: []model.AudioSegment{
			{SceneNumber: 1, StorageKey: e.layout.AudioSegmentPath(1), Duration: 3},
			{SceneNumber: 2, StorageKey: e.layout.AudioSegmentPath(2), Duration: 17},
		},
		TimingMarks: model.TimingMarks{Scenes: []model.TimingMark{
			{Label: "scene-1", StartTime: 0, EndTime: 3},
			{Label: "scene-2", StartTime: 3, EndTime: 20},
		}},
	})
	require.NoError(t, err)
}

// seedObjects writes the folder skeleton and the generated assets. Visual
// counts per scene come from the visuals map.
func (e *env) seedObjects(t *testing.T, visuals map[int][]string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, registry.New(e.objects).EnsureLayout(ctx, testProject))

	put := func(key string) {
		require.NoError(t, e.objects.Put(ctx, key, []byte("x"), "application/octet-stream"))
	}
	put(e.layout.ScriptPath())
	put(e.layout.NarrationPath())
	put(e.layout.AudioSegmentPath(1))
	put(e.layout.AudioSegmentPath(2))
	for scene, names := range visuals {
		for _, name := range names {
			put(e.layout.SceneImagesDir(scene) + "/" + name)
		}
	}
}

func fullVisuals() map[int][]string {
	return map[int][]string{
		1: {"a.jpg", "b.png", "c.mp4"},
		2: {"a.jpg", "b.jpg", "c.webp"},
	}
}

func TestGateApprovesCompleteProject(t *testing.T) {
	e := newEnv(t, DefaultConfig())
	e.seedContexts(t)
	e.seedObjects(t, fullVisuals())
	ctx := context.Background()

	manifest, report, err := e.gate.Run(ctx, testProject, model.Options{})
	require.NoError(t, err)
	require.NotNil(t, manifest)
	assert.True(t, report.Approved())

	assert.Equal(t, "Quantum Computing", manifest.Title)
	assert.Equal(t, testProject, manifest.ProjectID)
	require.Len(t, manifest.Scenes, 2)
	assert.Equal(t, e.layout.AudioSegmentPath(1), manifest.Scenes[0].Audio.StorageKey)
	assert.Len(t, manifest.Scenes[0].Visuals, 3)
	require.Len(t, manifest.Chapters, 2)
	assert.Equal(t, "What if one machine could try", manifest.Chapters[0].Label)

	// Three visuals is below the recommended five: soft rule only.
	var lowVisuals int
	for _, w := range report.Warnings {
		if w.Rule == RuleLowVisuals {
			lowVisuals++
		}
	}
	assert.Equal(t, 2, lowVisuals)

	assert.Equal(t, 2, report.KPIs.ScenesDetected)
	assert.Equal(t, 2, report.KPIs.AudioSegments)
	assert.True(t, report.KPIs.HasNarration)
	assert.Equal(t, 6, report.KPIs.TotalVisuals)

	// The manifest lands in the context store and the object store,
	// together with the project summary.
	_, err = e.store.Get(ctx, testProject, model.CtxManifest)
	require.NoError(t, err)
	for _, key := range []string{e.layout.ManifestPath(), e.layout.ProjectSummaryPath()} {
		ok, err := e.objects.Exists(ctx, key)
		require.NoError(t, err)
		assert.True(t, ok, key)
	}
}

func TestGateRejectsMissingVisuals(t *testing.T) {
	e := newEnv(t, DefaultConfig())
	e.seedContexts(t)
	visuals := fullVisuals()
	visuals[2] = []string{"a.jpg"} // below the hard floor of three
	e.seedObjects(t, visuals)
	ctx := context.Background()

	manifest, report, err := e.gate.Run(ctx, testProject, model.Options{})
	require.Error(t, err)
	assert.Equal(t, model.KindQualityGateRejected, model.KindOf(err))
	assert.Nil(t, manifest)
	require.NotNil(t, report)
	assert.False(t, report.Approved())

	require.Len(t, report.Issues, 1)
	assert.Equal(t, RuleMinVisuals, report.Issues[0].Rule)
	assert.Equal(t, "03-media/scene-2/images/", report.Issues[0].Path)

	// The rejection is persisted for operators; no manifest is written.
	ok, err := e.objects.Exists(ctx, e.layout.ValidationReportPath())
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = e.objects.Exists(ctx, e.layout.ManifestPath())
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = e.store.Get(ctx, testProject, model.CtxManifest)
	require.ErrorIs(t, err, ctxstore.ErrNotFound)
}

func TestGateMinVisualsOverride(t *testing.T) {
	e := newEnv(t, DefaultConfig())
	e.seedContexts(t)
	visuals := fullVisuals()
	visuals[2] = []string{"a.jpg"}
	e.seedObjects(t, visuals)

	one := 1
	manifest, report, err := e.gate.Run(context.Background(), testProject, model.Options{MinVisuals: &one})
	require.NoError(t, err)
	require.NotNil(t, manifest)
	assert.True(t, report.Approved())
}

func TestGateRejectsDurationDrift(t *testing.T) {
	e := newEnv(t, DefaultConfig())
	e.seedContexts(t)
	e.seedObjects(t, fullVisuals())
	ctx := context.Background()

	// Re-write the audio context with a narration ten seconds too long.
	// Tolerance is max(2% of 20s, 3s) = 3s.
	_, err := e.store.Put(ctx, testProject, &model.AudioContext{
		ProjectID:     testProject,
		MasterAudioID: "narration-master",
		TotalDuration: 30,
		Segments: []model.AudioSegment{
			{SceneNumber: 1, StorageKey: e.layout.AudioSegmentPath(1), Duration: 5},
			{SceneNumber: 2, StorageKey: e.layout.AudioSegmentPath(2), Duration: 25},
		},
		TimingMarks: model.TimingMarks{Scenes: []model.TimingMark{
			{Label: "scene-1", StartTime: 0, EndTime: 5},
			{Label: "scene-2", StartTime: 5, EndTime: 30},
		}},
	})
	require.NoError(t, err)

	_, report, err := e.gate.Run(ctx, testProject, model.Options{})
	require.Error(t, err)
	assert.Equal(t, model.KindQualityGateRejected, model.KindOf(err))
	require.Len(t, report.Issues, 1)
	assert.Equal(t, RuleDurationDrift, report.Issues[0].Rule)
}

func TestGateRejectsSceneNumberMismatch(t *testing.T) {
	e := newEnv(t, DefaultConfig())
	e.seedContexts(t)
	visuals := fullVisuals()
	visuals[3] = []string{"a.jpg", "b.jpg", "c.jpg"}
	e.seedObjects(t, visuals)
	ctx := context.Background()

	// Media claims a scene the script never defined.
	_, err := e.store.Put(ctx, testProject, &model.MediaContext{
		ProjectID: testProject,
		SceneMediaMapping: map[int][]model.MediaAsset{
			1: {{Source: "pexels", Type: "image", StorageKey: e.layout.SceneImagesDir(1) + "/a.jpg"}},
			3: {{Source: "pexels", Type: "image", StorageKey: e.layout.SceneImagesDir(3) + "/a.jpg"}},
		},
		TotalAssets: 2,
	})
	require.NoError(t, err)

	_, report, err := e.gate.Run(ctx, testProject, model.Options{})
	require.Error(t, err)
	require.NotNil(t, report)

	var rules []string
	for _, issue := range report.Issues {
		rules = append(rules, issue.Rule)
	}
	assert.Contains(t, rules, RuleSceneNumbers)
}

func TestGateRequiresAllContexts(t *testing.T) {
	e := newEnv(t, DefaultConfig())
	// Only the topic context exists.
	_, err := e.store.Put(context.Background(), testProject, &model.TopicContext{
		ProjectID:      testProject,
		SelectedTopic:  "Quantum Computing",
		ExpandedTopics: []string{"Quantum Computing Basics"},
		VideoStructure: model.VideoStructure{RecommendedScenes: 2},
		SEOContext:     model.SEOContext{PrimaryKeywords: []string{"quantum"}},
	})
	require.NoError(t, err)

	_, _, err = e.gate.Run(context.Background(), testProject, model.Options{})
	require.Error(t, err)
	assert.Equal(t, model.KindContextMissing, model.KindOf(err))
	assert.Contains(t, err.Error(), `"scene"`)
}
