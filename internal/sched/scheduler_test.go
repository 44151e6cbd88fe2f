// SPDX-License-Identifier: MIT

package sched

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/autocast/internal/pipeline/model"
	"github.com/ManuGH/autocast/internal/pipeline/runstore"
)

type fakeClock struct {
	mu sync.Mutex
	at time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.at
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.at = c.at.Add(d)
}

// fakeRunner records dispatched topics. A non-nil block channel holds every
// Execute until the test releases it.
type fakeRunner struct {
	mu     sync.Mutex
	topics []string
	block  chan struct{}
	err    error
}

func (r *fakeRunner) Execute(_ context.Context, req model.StartRunRequest) (*model.RunRecord, error) {
	r.mu.Lock()
	r.topics = append(r.topics, req.Topic)
	block := r.block
	err := r.err
	r.mu.Unlock()
	if block != nil {
		<-block
	}
	if err != nil {
		return nil, err
	}
	return &model.RunRecord{Topic: req.Topic, Trigger: req.Trigger}, nil
}

func (r *fakeRunner) Topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.topics...)
}

func writeTopics(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "topics.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func newAudit(t *testing.T) *runstore.Store {
	t.Helper()
	s, err := runstore.Open(filepath.Join(t.TempDir(), "runs.db"), runstore.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func outcomes(t *testing.T, audit *runstore.Store) []string {
	t.Helper()
	entries, err := audit.ListAudit(context.Background(), 50)
	require.NoError(t, err)
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Outcome)
	}
	return out
}

func TestTickDispatchesHighestPriority(t *testing.T) {
	path := writeTopics(t, `topics:
  - topic: Space Telescopes
    dailyFrequency: 1
    priority: 1
  - topic: Quantum Computing
    dailyFrequency: 1
    priority: 5
`)
	runner := &fakeRunner{}
	audit := newAudit(t)
	s, err := New(Config{TopicSource: path, MaxConcurrent: 2}, runner, audit)
	require.NoError(t, err)

	s.Tick(context.Background(), TickEvent{Source: "test"})
	s.wg.Wait()

	assert.Equal(t, []string{"Quantum Computing"}, runner.Topics())
	assert.Equal(t, []string{OutcomeDispatched}, outcomes(t, audit))
}

func TestRestartHonoursSpentQuota(t *testing.T) {
	// lastUsed == today with a daily frequency of one: the topic already
	// fired before the restart and must stay ineligible until tomorrow.
	today := time.Now().UTC().Format(dayFormat)
	path := writeTopics(t, `topics:
  - topic: Quantum Computing
    dailyFrequency: 1
    lastUsed: "`+today+`"
    priority: 1
`)
	runner := &fakeRunner{}
	audit := newAudit(t)
	s, err := New(Config{TopicSource: path, MaxConcurrent: 2}, runner, audit)
	require.NoError(t, err)

	s.Tick(context.Background(), TickEvent{Source: "test"})
	s.wg.Wait()

	assert.Empty(t, runner.Topics())
	assert.Contains(t, outcomes(t, audit), OutcomeNoEligibleTopic)
}

func TestDailyQuotaIsConsumedPerTick(t *testing.T) {
	path := writeTopics(t, `topics:
  - topic: Quantum Computing
    dailyFrequency: 2
    priority: 1
`)
	runner := &fakeRunner{}
	audit := newAudit(t)
	s, err := New(Config{TopicSource: path, MaxConcurrent: 4}, runner, audit)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		s.Tick(context.Background(), TickEvent{Source: "test"})
	}
	s.wg.Wait()

	assert.Len(t, runner.Topics(), 2)
	assert.ElementsMatch(t,
		[]string{OutcomeDispatched, OutcomeDispatched, OutcomeNoEligibleTopic},
		outcomes(t, audit))
}

func TestQuotaResetsOnDayRollover(t *testing.T) {
	clock := &fakeClock{at: time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)}
	path := writeTopics(t, `topics:
  - topic: Quantum Computing
    dailyFrequency: 1
    priority: 1
`)
	runner := &fakeRunner{}
	s, err := New(Config{TopicSource: path, MaxConcurrent: 4}, runner, nil)
	require.NoError(t, err)
	s.WithClock(clock.Now)

	s.Tick(context.Background(), TickEvent{Source: "test"})
	s.Tick(context.Background(), TickEvent{Source: "test"})
	s.wg.Wait()
	assert.Len(t, runner.Topics(), 1, "second tick must hit the daily cap")

	clock.Advance(2 * time.Hour) // crosses UTC midnight
	s.Tick(context.Background(), TickEvent{Source: "test"})
	s.wg.Wait()
	assert.Len(t, runner.Topics(), 2)
}

func TestTickThrottledAtConcurrencyCap(t *testing.T) {
	path := writeTopics(t, `topics:
  - topic: Quantum Computing
    dailyFrequency: 10
    priority: 1
`)
	block := make(chan struct{})
	runner := &fakeRunner{block: block}
	audit := newAudit(t)
	s, err := New(Config{TopicSource: path, MaxConcurrent: 1}, runner, audit)
	require.NoError(t, err)

	s.Tick(context.Background(), TickEvent{Source: "test"})
	// The first run still holds the only slot; this tick is dropped.
	s.Tick(context.Background(), TickEvent{Source: "test"})
	close(block)
	s.wg.Wait()

	assert.Len(t, runner.Topics(), 1)
	assert.Contains(t, outcomes(t, audit), OutcomeThrottled)
}

func TestSelectorRestrictsTick(t *testing.T) {
	path := writeTopics(t, `topics:
  - topic: Quantum Computing
    dailyFrequency: 1
    priority: 5
  - topic: Space Telescopes
    dailyFrequency: 1
    priority: 1
`)
	runner := &fakeRunner{}
	s, err := New(Config{TopicSource: path, MaxConcurrent: 2}, runner, nil)
	require.NoError(t, err)

	s.Tick(context.Background(), TickEvent{Source: "test", Selector: "Space Telescopes"})
	s.wg.Wait()
	assert.Equal(t, []string{"Space Telescopes"}, runner.Topics())
}

func TestReloadCarriesSpentQuota(t *testing.T) {
	path := writeTopics(t, `topics:
  - topic: Quantum Computing
    dailyFrequency: 1
    priority: 1
`)
	runner := &fakeRunner{}
	audit := newAudit(t)
	s, err := New(Config{TopicSource: path, MaxConcurrent: 4}, runner, audit)
	require.NoError(t, err)

	s.Tick(context.Background(), TickEvent{Source: "test"})
	s.wg.Wait()
	require.Len(t, runner.Topics(), 1)

	// Editing the file must not grant the topic a fresh budget.
	require.NoError(t, os.WriteFile(path, []byte(`topics:
  - topic: Quantum Computing
    dailyFrequency: 1
    priority: 9
`), 0o600))
	require.NoError(t, s.Reload())

	s.Tick(context.Background(), TickEvent{Source: "test"})
	s.wg.Wait()
	assert.Len(t, runner.Topics(), 1)
	assert.Contains(t, outcomes(t, audit), OutcomeNoEligibleTopic)
}

func TestRunnerFailureIsAudited(t *testing.T) {
	path := writeTopics(t, `topics:
  - topic: Quantum Computing
    dailyFrequency: 1
    priority: 1
`)
	runner := &fakeRunner{err: model.Errorf(model.KindBackend, "coordinator unavailable")}
	audit := newAudit(t)
	s, err := New(Config{TopicSource: path, MaxConcurrent: 2}, runner, audit)
	require.NoError(t, err)

	s.Tick(context.Background(), TickEvent{Source: "test"})
	s.wg.Wait()

	got := outcomes(t, audit)
	assert.Contains(t, got, OutcomeDispatched)
	assert.Contains(t, got, OutcomeError)
}

func TestLoadRulesValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"empty topic", "topics:\n  - topic: \"\"\n    dailyFrequency: 1\n", "empty topic"},
		{"duplicate", "topics:\n  - topic: A\n    dailyFrequency: 1\n  - topic: A\n    dailyFrequency: 1\n", "duplicate"},
		{"zero frequency", "topics:\n  - topic: A\n    dailyFrequency: 0\n", "dailyFrequency"},
		{"bad lastUsed", "topics:\n  - topic: A\n    dailyFrequency: 1\n    lastUsed: yesterday\n", "lastUsed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadRules(writeTopics(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
