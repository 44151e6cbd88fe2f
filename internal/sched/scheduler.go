// SPDX-License-Identifier: MIT

package sched

import (
	"context"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/semaphore"

	"github.com/ManuGH/autocast/internal/log"
	"github.com/ManuGH/autocast/internal/metrics"
	"github.com/ManuGH/autocast/internal/pipeline/model"
	"github.com/ManuGH/autocast/internal/pipeline/runstore"
)

// Tick outcomes recorded in the audit trail and metrics.
const (
	OutcomeDispatched      = "dispatched"
	OutcomeThrottled       = "throttled"
	OutcomeNoEligibleTopic = "no_eligible_topic"
	OutcomeError           = "error"
)

// TickEvent is one scheduled trigger. Selector optionally restricts the
// tick to a single topic; empty means "pick by priority".
type TickEvent struct {
	Source      string    `json:"source"`
	ScheduledAt time.Time `json:"scheduledAt"`
	Selector    string    `json:"selector,omitempty"`
}

// Runner executes one run to completion. Satisfied by the run coordinator.
type Runner interface {
	Execute(ctx context.Context, req model.StartRunRequest) (*model.RunRecord, error)
}

// Config tunes the scheduler.
type Config struct {
	// TopicSource is the path to the YAML topic file.
	TopicSource string
	// MaxConcurrent caps simultaneous scheduled runs. Excess ticks are
	// dropped, never queued.
	MaxConcurrent int64
	// TickInterval drives the internal timer. Zero disables it; ticks then
	// only arrive through Tick (API, CLI, tests).
	TickInterval time.Duration
}

// Scheduler selects topics for scheduled ticks and submits runs.
type Scheduler struct {
	cfg    Config
	runner Runner
	audit  *runstore.Store
	sem    *semaphore.Weighted

	mu    sync.Mutex
	rules []*ruleState

	wg  sync.WaitGroup
	now func() time.Time
}

// New loads the topic source and builds a scheduler.
func New(cfg Config, runner Runner, audit *runstore.Store) (*Scheduler, error) {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	s := &Scheduler{
		cfg:    cfg,
		runner: runner,
		audit:  audit,
		sem:    semaphore.NewWeighted(cfg.MaxConcurrent),
		now:    time.Now,
	}
	if cfg.TopicSource != "" {
		if err := s.Reload(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// WithClock overrides the time source (tests).
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Reload re-reads the topic source. Quota counters carry over for topics
// that still exist so a file edit cannot reset a spent daily budget.
func (s *Scheduler) Reload() error {
	rules, err := LoadRules(s.cfg.TopicSource)
	if err != nil {
		return err
	}
	today := s.now().UTC().Format(dayFormat)

	s.mu.Lock()
	defer s.mu.Unlock()
	prev := make(map[string]*ruleState, len(s.rules))
	for _, st := range s.rules {
		prev[st.Topic] = st
	}
	s.rules = seed(rules, prev, today)
	log.WithComponent("sched").Info().
		Str(log.FieldEvent, "sched.reload").
		Str(log.FieldPath, s.cfg.TopicSource).
		Int("topics", len(s.rules)).
		Msg("topic source loaded")
	return nil
}

// Tick handles one scheduled trigger. The decision is always recorded in
// the audit trail; a full scheduler drops the tick instead of queueing it.
func (s *Scheduler) Tick(ctx context.Context, ev TickEvent) {
	logger := log.WithComponent("sched")

	if !s.sem.TryAcquire(1) {
		metrics.SchedulerTicks.WithLabelValues(OutcomeThrottled).Inc()
		s.record(ctx, runstore.AuditEntry{
			At:      s.now().UTC(),
			Outcome: OutcomeThrottled,
			Detail:  "concurrency cap reached, tick dropped",
		})
		logger.Warn().
			Str(log.FieldEvent, "sched.throttled").
			Str("source", ev.Source).
			Msg("dropping tick, concurrency cap reached")
		return
	}

	topic, ok := s.selectTopic(ev.Selector)
	if !ok {
		s.sem.Release(1)
		metrics.SchedulerTicks.WithLabelValues(OutcomeNoEligibleTopic).Inc()
		s.record(ctx, runstore.AuditEntry{
			At:      s.now().UTC(),
			Outcome: OutcomeNoEligibleTopic,
			Detail:  "all topics exhausted their daily quota",
		})
		logger.Info().
			Str(log.FieldEvent, "sched.idle").
			Str("source", ev.Source).
			Msg("no eligible topic for tick")
		return
	}

	metrics.SchedulerTicks.WithLabelValues(OutcomeDispatched).Inc()
	s.record(ctx, runstore.AuditEntry{
		At:      s.now().UTC(),
		Outcome: OutcomeDispatched,
		Topic:   topic,
	})
	logger.Info().
		Str(log.FieldEvent, "sched.dispatch").
		Str(log.FieldTopic, topic).
		Str("source", ev.Source).
		Msg("dispatching scheduled run")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.sem.Release(1)
		// The run outlives the tick; only daemon shutdown cancels it.
		_, err := s.runner.Execute(context.Background(), model.StartRunRequest{
			Topic:   topic,
			Trigger: model.TriggerScheduled,
		})
		if err != nil {
			metrics.SchedulerTicks.WithLabelValues(OutcomeError).Inc()
			s.record(context.Background(), runstore.AuditEntry{
				At:      s.now().UTC(),
				Outcome: OutcomeError,
				Topic:   topic,
				Detail:  err.Error(),
			})
		}
	}()
}

// selectTopic picks the highest-priority eligible topic, consumes one unit
// of its quota and stamps lastUsed. Rules are kept priority-sorted.
func (s *Scheduler) selectTopic(selector string) (string, bool) {
	today := s.now().UTC().Format(dayFormat)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.rules {
		if selector != "" && st.Topic != selector {
			continue
		}
		if !st.eligible(today) {
			continue
		}
		st.firedToday++
		st.LastUsed = today
		return st.Topic, true
	}
	return "", false
}

// Topics returns a snapshot of the current rule state for the API.
func (s *Scheduler) Topics() []Rule {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Rule, 0, len(s.rules))
	for _, st := range s.rules {
		out = append(out, st.Rule)
	}
	return out
}

// Run drives the internal timer and the topic source watcher until ctx is
// cancelled. It blocks; the daemon runs it in its errgroup.
func (s *Scheduler) Run(ctx context.Context) error {
	var watcher *fsnotify.Watcher
	if s.cfg.TopicSource != "" {
		var err error
		watcher, err = fsnotify.NewWatcher()
		if err != nil {
			return err
		}
		defer func() { _ = watcher.Close() }()
		if err := watcher.Add(s.cfg.TopicSource); err != nil {
			return err
		}
	}

	var tick <-chan time.Time
	if s.cfg.TickInterval > 0 {
		ticker := time.NewTicker(s.cfg.TickInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	logger := log.WithComponent("sched")
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return ctx.Err()
		case at := <-tick:
			s.Tick(ctx, TickEvent{Source: "timer", ScheduledAt: at.UTC()})
		case ev, ok := <-watcherEvents(watcher):
			if !ok {
				continue
			}
			if ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create) {
				if err := s.Reload(); err != nil {
					logger.Error().Err(err).
						Str(log.FieldPath, s.cfg.TopicSource).
						Msg("topic source reload failed, keeping previous rules")
				}
			}
		case err, ok := <-watcherErrors(watcher):
			if ok && err != nil {
				logger.Warn().Err(err).Msg("topic source watcher error")
			}
		}
	}
}

func (s *Scheduler) record(ctx context.Context, e runstore.AuditEntry) {
	if s.audit == nil {
		return
	}
	if err := s.audit.AppendAudit(ctx, e); err != nil {
		log.WithComponent("sched").Error().Err(err).Msg("failed to append audit entry")
	}
}

// watcherEvents and watcherErrors tolerate a nil watcher so the select in
// Run stays flat when no topic source is configured.
func watcherEvents(w *fsnotify.Watcher) <-chan fsnotify.Event {
	if w == nil {
		return nil
	}
	return w.Events
}

func watcherErrors(w *fsnotify.Watcher) <-chan error {
	if w == nil {
		return nil
	}
	return w.Errors
}
