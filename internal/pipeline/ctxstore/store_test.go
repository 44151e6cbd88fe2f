// SPDX-License-Identifier: MIT

package ctxstore

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/autocast/internal/objstore"
	"github.com/ManuGH/autocast/internal/pipeline/model"
)

const testProject = "2026-03-01_10-00-00_quantum-computing"

// memKV is an in-memory KV with scriptable failures for retry tests.
type memKV struct {
	mu       sync.Mutex
	data     map[string][]byte
	getCalls int
	failGets int
}

func newMemKV() *memKV {
	return &memKV{data: map[string][]byte{}}
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
	m.getCalls++
	if m.failGets > 0 {
		m.failGets--
		return nil, errors.New("transient backend failure")
	}
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
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

func newTestStore(t *testing.T, kv KV, opts Options) (*Store, *objstore.FSStore) {
	t.Helper()
	blobs, err := objstore.NewFSStore(t.TempDir())
	require.NoError(t, err)
	s := New(kv, blobs, opts)
	s.sleep = func(context.Context, time.Duration) error { return nil }
	return s, blobs
}

func topicDoc() *model.TopicContext {
	return &model.TopicContext{
		ProjectID:      testProject,
		SelectedTopic:  "Quantum Computing",
		ExpandedTopics: []string{"Quantum Computing Basics"},
		VideoStructure: model.VideoStructure{RecommendedScenes: 5},
		SEOContext:     model.SEOContext{PrimaryKeywords: []string{"quantum"}},
	}
}

func TestPutSmallDocumentStaysInline(t *testing.T) {
	kv := newMemKV()
	s, blobs := newTestStore(t, kv, Options{SmallCtxBytes: 100 << 10})
	ctx := context.Background()

	ref, err := s.Put(ctx, testProject, topicDoc())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(ref), "inline:"), "ref %q", ref)

	// No blob must exist for an inline write.
	keys, err := blobs.List(ctx, testProject)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestPutLargeDocumentSpillsToBlob(t *testing.T) {
	kv := newMemKV()
	s, blobs := newTestStore(t, kv, Options{SmallCtxBytes: 256})
	ctx := context.Background()

	doc := topicDoc()
	doc.TargetAudience = strings.Repeat("general audience ", 100)

	ref, err := s.Put(ctx, testProject, doc)
	require.NoError(t, err)
	assert.Equal(t, Ref("blob:"+testProject+"/01-context/topic.json.gz"), ref)

	ok, err := blobs.Exists(ctx, testProject+"/01-context/topic.json.gz")
	require.NoError(t, err)
	assert.True(t, ok)

	// The spilled document reads back identically.
	got, err := s.Get(ctx, testProject, model.CtxTopic)
	require.NoError(t, err)
	if diff := cmp.Diff(doc, got); diff != "" {
		t.Fatalf("document mismatch (-want +got):\n%s", diff)
	}
}

func TestGetRoundTrip(t *testing.T) {
	kv := newMemKV()
	s, _ := newTestStore(t, kv, Options{})
	ctx := context.Background()

	want := topicDoc()
	_, err := s.Put(ctx, testProject, want)
	require.NoError(t, err)

	got, err := s.Get(ctx, testProject, model.CtxTopic)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("document mismatch (-want +got):\n%s", diff)
	}
}

func TestPutRejectsProjectMismatch(t *testing.T) {
	kv := newMemKV()
	s, _ := newTestStore(t, kv, Options{})

	_, err := s.Put(context.Background(), "2026-03-01_10-00-00_other", topicDoc())
	require.Error(t, err)
	assert.Equal(t, model.KindValidation, model.KindOf(err))
}

func TestPutRejectsInvalidDocument(t *testing.T) {
	kv := newMemKV()
	s, _ := newTestStore(t, kv, Options{})

	doc := topicDoc()
	doc.SEOContext.PrimaryKeywords = nil
	_, err := s.Put(context.Background(), testProject, doc)
	require.Error(t, err)
	assert.Equal(t, model.KindValidation, model.KindOf(err))
}

func TestLastWriteWins(t *testing.T) {
	kv := newMemKV()
	s, _ := newTestStore(t, kv, Options{})
	ctx := context.Background()

	first := topicDoc()
	_, err := s.Put(ctx, testProject, first)
	require.NoError(t, err)

	second := topicDoc()
	second.SelectedTopic = "Quantum Computing, revised"
	_, err = s.Put(ctx, testProject, second)
	require.NoError(t, err)

	got, err := s.Get(ctx, testProject, model.CtxTopic)
	require.NoError(t, err)
	assert.Equal(t, "Quantum Computing, revised", got.(*model.TopicContext).SelectedTopic)
}

func TestGetMissingReturnsErrNotFound(t *testing.T) {
	kv := newMemKV()
	s, _ := newTestStore(t, kv, Options{})

	_, err := s.Get(context.Background(), testProject, model.CtxScene)
	require.ErrorIs(t, err, ErrNotFound)
	// Not-found aborts immediately, no retries.
	assert.Equal(t, 1, kv.getCalls)
}

func TestGetRetriesTransientFailures(t *testing.T) {
	kv := newMemKV()
	s, _ := newTestStore(t, kv, Options{MaxRetries: 3})
	ctx := context.Background()

	_, err := s.Put(ctx, testProject, topicDoc())
	require.NoError(t, err)

	kv.getCalls = 0
	kv.failGets = 2
	_, err = s.Get(ctx, testProject, model.CtxTopic)
	require.NoError(t, err)
	assert.Equal(t, 3, kv.getCalls)
}

func TestGetGivesUpAfterMaxRetries(t *testing.T) {
	kv := newMemKV()
	s, _ := newTestStore(t, kv, Options{MaxRetries: 3})

	kv.failGets = 10
	_, err := s.Get(context.Background(), testProject, model.CtxTopic)
	require.Error(t, err)
	assert.Equal(t, model.KindBackend, model.KindOf(err))
	assert.Equal(t, 3, kv.getCalls)
}

func TestExpiredEnvelopeReturnsErrExpired(t *testing.T) {
	kv := newMemKV()
	s, _ := newTestStore(t, kv, Options{InlineTTL: time.Hour})
	ctx := context.Background()

	_, err := s.Put(ctx, testProject, topicDoc())
	require.NoError(t, err)

	s.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = s.Get(ctx, testProject, model.CtxTopic)
	require.ErrorIs(t, err, ErrExpired)

	ok, err := s.Exists(ctx, testProject, model.CtxTopic)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExists(t *testing.T) {
	kv := newMemKV()
	s, _ := newTestStore(t, kv, Options{})
	ctx := context.Background()

	ok, err := s.Exists(ctx, testProject, model.CtxTopic)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Put(ctx, testProject, topicDoc())
	require.NoError(t, err)

	ok, err = s.Exists(ctx, testProject, model.CtxTopic)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMaybeCompressKeepsOnlyWorthwhileResults(t *testing.T) {
	// Repetitive JSON compresses far beyond the 20% bar.
	big := []byte(strings.Repeat(`{"key":"value"}`, 200))
	out, compressed := maybeCompress(big)
	assert.True(t, compressed)
	assert.Less(t, len(out), len(big))

	// Tiny input gains nothing; the original must pass through.
	small := []byte("x")
	out, compressed = maybeCompress(small)
	assert.False(t, compressed)
	assert.Equal(t, small, out)
}
