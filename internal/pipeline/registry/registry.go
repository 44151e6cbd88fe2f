// SPDX-License-Identifier: MIT

// Package registry allocates project identities and owns the fixed object
// store layout. No other component creates layout prefixes.
package registry

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/ManuGH/autocast/internal/log"
	"github.com/ManuGH/autocast/internal/objstore"
)

// Folder prefixes of a project. A project is valid iff all six exist.
var folders = []string{
	"01-context",
	"02-script",
	"03-media",
	"04-audio",
	"05-video",
	"06-metadata",
}

// sentinel is the empty placeholder object written into each fresh prefix.
// Flat object stores have no real directories; the sentinel makes the
// prefix observable to listings.
const sentinel = ".keep"

var reProjectID = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}_\d{2}-\d{2}-\d{2}_[a-z0-9-]{1,50}$`)

// IsValidProjectID reports whether id has the canonical
// YYYY-MM-DD_HH-MM-SS_<slug> shape.
func IsValidProjectID(id string) bool {
	return reProjectID.MatchString(id)
}

// Registry allocates ProjectIds and constructs the folder skeleton.
type Registry struct {
	store objstore.Store
	now   func() time.Time
}

// New returns a Registry writing through the given object store.
func New(store objstore.Store) *Registry {
	return &Registry{store: store, now: time.Now}
}

// WithClock overrides the clock, for tests.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

// ProjectID composes the canonical id for a topic at the given instant.
// Allocation is deterministic: two calls in the same UTC second with the
// same topic produce the same id, and CreateProject re-verifies idempotently.
func ProjectID(topic string, at time.Time) string {
	return at.UTC().Format("2006-01-02_15-04-05") + "_" + slugify(topic)
}

// CreateProject allocates a project id for the topic and writes every
// required folder prefix. Re-invocation with the same id re-verifies the
// skeleton and returns without error.
func (r *Registry) CreateProject(ctx context.Context, topic string) (string, error) {
	id := ProjectID(topic, r.now())
	if err := r.EnsureLayout(ctx, id); err != nil {
		return "", err
	}
	log.WithComponentFromContext(ctx, "registry").Info().
		Str(log.FieldEvent, "project.created").
		Str(log.FieldProjectID, id).
		Str(log.FieldTopic, topic).
		Msg("project skeleton ready")
	return id, nil
}

// EnsureLayout writes any missing folder sentinel for the project.
func (r *Registry) EnsureLayout(ctx context.Context, projectID string) error {
	if !IsValidProjectID(projectID) {
		return fmt.Errorf("registry: invalid project id %q", projectID)
	}
	for _, dir := range folders {
		key := projectID + "/" + dir + "/" + sentinel
		ok, err := r.store.Exists(ctx, key)
		if err != nil {
			return fmt.Errorf("registry: verify %s: %w", key, err)
		}
		if ok {
			continue
		}
		if err := r.store.Put(ctx, key, nil, "application/octet-stream"); err != nil {
			return fmt.Errorf("registry: create %s: %w", key, err)
		}
	}
	return nil
}

// Valid reports whether all six top-level folders exist for the project.
func (r *Registry) Valid(ctx context.Context, projectID string) (bool, error) {
	for _, dir := range folders {
		keys, err := r.store.List(ctx, projectID+"/"+dir)
		if err != nil {
			return false, err
		}
		if len(keys) == 0 {
			return false, nil
		}
	}
	return true, nil
}

// Layout is the pure computation of every well-known path of a project.
type Layout struct {
	ProjectID string
}

// LayoutFor returns the layout for a project id.
func LayoutFor(projectID string) Layout { return Layout{ProjectID: projectID} }

func (l Layout) prefix(parts ...string) string {
	out := l.ProjectID
	for _, p := range parts {
		out += "/" + p
	}
	return out
}

func (l Layout) ContextDir() string  { return l.prefix("01-context") }
func (l Layout) ScriptDir() string   { return l.prefix("02-script") }
func (l Layout) MediaDir() string    { return l.prefix("03-media") }
func (l Layout) AudioDir() string    { return l.prefix("04-audio") }
func (l Layout) VideoDir() string    { return l.prefix("05-video") }
func (l Layout) MetadataDir() string { return l.prefix("06-metadata") }

// Context blobs spilled out of the fast store.
func (l Layout) ContextBlob(contextType string) string {
	return l.prefix("01-context", contextType+".json.gz")
}

func (l Layout) ManifestPath() string { return l.prefix("01-context", "manifest.json") }
func (l Layout) ScriptPath() string   { return l.prefix("02-script", "script.json") }

// Per-scene visual prefix: 03-media/scene-N/images/.
func (l Layout) SceneImagesDir(scene int) string {
	return l.prefix("03-media", fmt.Sprintf("scene-%d", scene), "images")
}

func (l Layout) NarrationPath() string { return l.prefix("04-audio", "narration.mp3") }

func (l Layout) AudioSegmentPath(scene int) string {
	return l.prefix("04-audio", "audio-segments", fmt.Sprintf("scene-%d.mp3", scene))
}

func (l Layout) FinalVideoPath() string { return l.prefix("05-video", "final-video.mp4") }

func (l Layout) ProcessingLogsDir() string { return l.prefix("05-video", "processing-logs") }

func (l Layout) ValidationReportPath() string {
	return l.prefix("06-metadata", "validation-report.json")
}

func (l Layout) ProjectSummaryPath() string {
	return l.prefix("06-metadata", "project-summary.json")
}
