// SPDX-License-Identifier: MIT

// Package run drives a single pipeline execution from topic to published
// video. The coordinator owns the RunRecord: every stage transition goes
// through it and is persisted before anything else observes the new state.
package run

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/autocast/internal/log"
	"github.com/ManuGH/autocast/internal/metrics"
	"github.com/ManuGH/autocast/internal/pipeline/model"
	"github.com/ManuGH/autocast/internal/pipeline/plan"
	"github.com/ManuGH/autocast/internal/pipeline/registry"
	"github.com/ManuGH/autocast/internal/pipeline/runstore"
	"github.com/ManuGH/autocast/internal/pipeline/stage"
)

// Config tunes run execution.
type Config struct {
	// RunTimeout is the ceiling for one end-to-end run.
	RunTimeout time.Duration
	// GracePeriod bounds how long a cancelled run waits for in-flight
	// stage attempts before the record is sealed.
	GracePeriod time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		RunTimeout:  15 * time.Minute,
		GracePeriod: 5 * time.Second,
	}
}

// Coordinator executes runs over the fixed pipeline DAG.
type Coordinator struct {
	cfg      Config
	projects *registry.Registry
	stages   *stage.Registry
	graph    *plan.Graph
	runs     *runstore.Store

	mu     sync.Mutex
	active map[string]context.CancelFunc

	wg    sync.WaitGroup
	newID func() string
	now   func() time.Time
}

// New builds a coordinator. The stage registry must contain an adapter for
// every stage the graph names; a missing adapter fails that stage at
// execution time, not at construction.
func New(cfg Config, projects *registry.Registry, stages *stage.Registry, graph *plan.Graph, runs *runstore.Store) *Coordinator {
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = DefaultConfig().RunTimeout
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultConfig().GracePeriod
	}
	return &Coordinator{
		cfg:      cfg,
		projects: projects,
		stages:   stages,
		graph:    graph,
		runs:     runs,
		active:   make(map[string]context.CancelFunc),
		newID:    newExecutionID,
		now:      time.Now,
	}
}

// WithClock overrides the time source (tests).
func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	c.now = now
	return c
}

// newExecutionID returns a time-ordered UUID so lexical sort matches
// submission order in listings.
func newExecutionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Prepare validates the request, creates the project workspace and
// persists the initial running record. It does not execute anything.
func (c *Coordinator) Prepare(ctx context.Context, req model.StartRunRequest) (*model.RunRecord, error) {
	if req.Topic == "" {
		return nil, model.NewStageError(model.KindValidation, "run: topic must not be empty", nil)
	}
	trigger := req.Trigger
	if trigger == "" {
		trigger = model.TriggerManual
	}

	projectID, err := c.projects.CreateProject(ctx, req.Topic)
	if err != nil {
		return nil, model.NewStageError(model.KindBackend, "run: create project failed", err)
	}

	waves, err := c.graph.Waves()
	if err != nil {
		return nil, model.NewStageError(model.KindConfig, "run: invalid pipeline graph", err)
	}
	var stageRecords []model.StageRecord
	for _, wave := range waves {
		for _, name := range wave {
			stageRecords = append(stageRecords, model.StageRecord{
				Name:   name,
				Status: model.StagePending,
			})
		}
	}

	rec := &model.RunRecord{
		ExecutionID: c.newID(),
		ProjectID:   projectID,
		Topic:       req.Topic,
		Trigger:     trigger,
		Status:      model.RunRunning,
		StartedAt:   c.now().UTC(),
		Stages:      stageRecords,
	}
	if err := c.runs.Put(ctx, rec); err != nil {
		return nil, model.NewStageError(model.KindBackend, "run: persist initial record failed", err)
	}
	metrics.ActiveRuns.Inc()
	return rec, nil
}

// Execute runs a request to completion and returns the sealed record.
func (c *Coordinator) Execute(ctx context.Context, req model.StartRunRequest) (*model.RunRecord, error) {
	rec, err := c.Prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	c.run(ctx, rec, req.Options)
	return rec, nil
}

// Start begins an asynchronous run and returns the initial record
// immediately. The run continues on a background context so an aborted
// HTTP request does not cancel it.
func (c *Coordinator) Start(ctx context.Context, req model.StartRunRequest) (*model.RunRecord, error) {
	rec, err := c.Prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	// The run goroutine mutates rec.Stages in place; the returned snapshot
	// must not share that backing array.
	snapshot := *rec
	snapshot.Stages = append([]model.StageRecord(nil), rec.Stages...)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(context.Background(), rec, req.Options)
	}()
	return &snapshot, nil
}

// Status returns the persisted record for an execution.
// Submitting an executionId that already reached a terminal state is a
// no-op: callers get the sealed record back unchanged.
func (c *Coordinator) Status(ctx context.Context, executionID string) (*model.RunRecord, error) {
	return c.runs.Get(ctx, executionID)
}

// List returns recent runs, newest first.
func (c *Coordinator) List(ctx context.Context, limit int) ([]*model.RunRecord, error) {
	return c.runs.List(ctx, limit)
}

// Cancel requests cancellation of a running execution. It reports whether
// the execution was active. In-flight stage attempts get GracePeriod to
// wind down before the record is sealed.
func (c *Coordinator) Cancel(executionID string) bool {
	c.mu.Lock()
	cancel, ok := c.active[executionID]
	c.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Wait blocks until all asynchronous runs finish. Called on shutdown.
func (c *Coordinator) Wait() { c.wg.Wait() }

// stageOutcome carries one finished stage back to the wave loop.
type stageOutcome struct {
	name      string
	status    model.StageStatus
	attempts  int
	outputRef string
	err       *model.StageError
}

func (c *Coordinator) run(parent context.Context, rec *model.RunRecord, opts model.Options) {
	runCtx, cancelRun := context.WithTimeout(parent, c.cfg.RunTimeout)
	cancelled := make(chan struct{})
	var cancelOnce sync.Once

	c.mu.Lock()
	c.active[rec.ExecutionID] = func() {
		cancelOnce.Do(func() { close(cancelled) })
		cancelRun()
	}
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.active, rec.ExecutionID)
		c.mu.Unlock()
		cancelRun()
	}()

	runCtx = log.ContextWithExecutionID(runCtx, rec.ExecutionID)
	runCtx = log.ContextWithProjectID(runCtx, rec.ProjectID)
	logger := log.WithComponentFromContext(runCtx, "run")

	tracer := otel.Tracer("autocast/pipeline")
	runCtx, span := tracer.Start(runCtx, "pipeline.run",
		trace.WithAttributes(
			attribute.String("execution.id", rec.ExecutionID),
			attribute.String("project.id", rec.ProjectID),
			attribute.String("trigger", string(rec.Trigger)),
		))
	defer span.End()

	logger.Info().
		Str(log.FieldEvent, "run.start").
		Str(log.FieldTopic, rec.Topic).
		Msg("starting pipeline run")

	waves, err := c.graph.Waves()
	if err != nil {
		c.seal(rec, model.RunFailed)
		return
	}

	status := make(map[string]model.StageStatus, len(rec.Stages))
	for _, s := range rec.Stages {
		status[s.Name] = s.Status
	}
	configSkipped := map[string]bool{}

	for _, wave := range waves {
		var wg sync.WaitGroup
		// Buffered to the wave size so a late send from an abandoned stage
		// goroutine never blocks. The channel is never closed for the same
		// reason.
		results := make(chan stageOutcome, len(wave))
		launched := 0

		for _, name := range wave {
			if blocked, dep := c.blockedBy(name, status); blocked {
				c.markSkipped(runCtx, rec, name, "dependency "+dep+" did not succeed")
				status[name] = model.StageSkipped
				continue
			}
			if opts.SkipPublish && name == model.StagePublisher {
				c.markSkipped(runCtx, rec, name, "publishing disabled for this run")
				status[name] = model.StageSkipped
				configSkipped[name] = true
				continue
			}

			adapter, ok := c.stages.Lookup(name)
			if !ok {
				c.apply(runCtx, rec, stageOutcome{
					name:   name,
					status: model.StageFailed,
					err:    model.NewStageError(model.KindConfig, "no adapter registered for stage "+name, nil),
				})
				status[name] = model.StageFailed
				continue
			}

			c.markRunning(runCtx, rec, name)
			status[name] = model.StageRunning

			wg.Add(1)
			launched++
			go func(name string, adapter stage.Adapter) {
				defer wg.Done()
				results <- c.invoke(runCtx, tracer, rec.ProjectID, name, adapter, opts)
			}(name, adapter)
		}

		// A failed sibling never cancels the rest of the wave; each stage
		// runs to its own terminal outcome.
		waited := c.waitWave(&wg, cancelled)
		if waited {
			for i := 0; i < launched; i++ {
				out := <-results
				c.apply(runCtx, rec, out)
				status[out.name] = out.status
			}
		} else {
			// Collect what already finished; outcomes that trickle in after
			// the grace period land in the buffer and are discarded.
			for drained := true; drained; {
				select {
				case out := <-results:
					c.apply(runCtx, rec, out)
					status[out.name] = out.status
				default:
					drained = false
				}
			}
			// Grace expired with attempts still in flight. Seal whatever
			// never reported as cancelled.
			for _, name := range wave {
				if status[name] == model.StageRunning {
					c.apply(runCtx, rec, stageOutcome{
						name:   name,
						status: model.StageCancelled,
						err:    model.NewStageError(model.KindCancelled, name+": abandoned after cancellation grace period", nil),
					})
					status[name] = model.StageCancelled
				}
			}
		}
	}

	select {
	case <-cancelled:
		now := c.now().UTC()
		rec.CancelledAt = &now
	default:
	}

	c.seal(rec, aggregate(rec, configSkipped))
	logger.Info().
		Str(log.FieldEvent, "run.done").
		Str("status", string(rec.Status)).
		Msg("pipeline run finished")
}

// blockedBy reports whether any dependency of name failed to reach
// succeeded, returning the first offender.
func (c *Coordinator) blockedBy(name string, status map[string]model.StageStatus) (bool, string) {
	for _, dep := range c.graph.Dependencies(name) {
		if status[dep] != model.StageSucceeded {
			return true, dep
		}
	}
	return false, ""
}

func (c *Coordinator) invoke(ctx context.Context, tracer trace.Tracer, projectID, name string, adapter stage.Adapter, opts model.Options) stageOutcome {
	ctx = log.ContextWithStage(ctx, name)
	ctx, span := tracer.Start(ctx, "pipeline.stage",
		trace.WithAttributes(attribute.String("stage", name)))
	defer span.End()

	start := c.now()
	res, attempts, err := stage.InvokeWithRetry(ctx, adapter, projectID, opts)
	metrics.StageDuration.WithLabelValues(name).Observe(c.now().Sub(start).Seconds())

	if err == nil {
		return stageOutcome{
			name:      name,
			status:    model.StageSucceeded,
			attempts:  attempts,
			outputRef: res.OutputRef,
		}
	}

	st := model.StageFailed
	switch model.KindOf(err) {
	case model.KindTimeout:
		st = model.StageTimedOut
	case model.KindCancelled:
		st = model.StageCancelled
		// The run ceiling is a timeout, not an operator cancellation.
		if ctx.Err() == context.DeadlineExceeded {
			st = model.StageTimedOut
		}
	}
	return stageOutcome{
		name:     name,
		status:   st,
		attempts: attempts,
		err:      asStageError(name, err),
	}
}

// waitWave waits for the wave to finish. Once cancellation is requested it
// grants GracePeriod more, then gives up. Returns false if it gave up.
func (c *Coordinator) waitWave(wg *sync.WaitGroup, cancelled <-chan struct{}) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-cancelled:
	}
	select {
	case <-done:
		return true
	case <-time.After(c.cfg.GracePeriod):
		return false
	}
}

func (c *Coordinator) markRunning(ctx context.Context, rec *model.RunRecord, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := rec.Stage(name)
	now := c.now().UTC()
	s.Status = model.StageRunning
	s.StartedAt = &now
	c.persist(ctx, rec)
}

func (c *Coordinator) markSkipped(ctx context.Context, rec *model.RunRecord, name, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := rec.Stage(name)
	now := c.now().UTC()
	s.Status = model.StageSkipped
	s.CompletedAt = &now
	metrics.StageOutcomes.WithLabelValues(name, string(model.StageSkipped)).Inc()
	log.WithComponentFromContext(ctx, "run").Info().
		Str(log.FieldEvent, "stage.skipped").
		Str(log.FieldStage, name).
		Str("reason", reason).
		Msg("stage skipped")
	c.persist(ctx, rec)
}

func (c *Coordinator) apply(ctx context.Context, rec *model.RunRecord, out stageOutcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := rec.Stage(out.name)
	now := c.now().UTC()
	s.Status = out.status
	s.CompletedAt = &now
	s.Attempts = out.attempts
	s.Error = out.err
	s.OutputContextRef = out.outputRef
	metrics.StageOutcomes.WithLabelValues(out.name, string(out.status)).Inc()

	logger := log.WithComponentFromContext(ctx, "run")
	ev := logger.Info()
	if out.err != nil {
		ev = logger.Warn().Str(log.FieldErrorKind, string(out.err.Kind)).Str("error", out.err.Message)
	}
	ev.Str(log.FieldEvent, "stage.done").
		Str(log.FieldStage, out.name).
		Str("status", string(out.status)).
		Int(log.FieldAttempt, out.attempts).
		Msg("stage finished")
	c.persist(ctx, rec)
}

// seal assigns the terminal run status, stamps CompletedAt and persists.
func (c *Coordinator) seal(rec *model.RunRecord, status model.RunStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rec.Sealed() {
		return
	}
	now := c.now().UTC()
	rec.Status = status
	rec.CompletedAt = &now
	metrics.ActiveRuns.Dec()
	metrics.RunsTotal.WithLabelValues(string(status), string(rec.Trigger)).Inc()
	c.persist(context.Background(), rec)
}

// persist writes the record; callers hold c.mu. A storage hiccup must not
// abort the run, so failures are logged and the next transition retries.
func (c *Coordinator) persist(ctx context.Context, rec *model.RunRecord) {
	if err := c.runs.Put(ctx, rec); err != nil {
		log.WithComponentFromContext(ctx, "run").Error().Err(err).
			Str(log.FieldExecutionID, rec.ExecutionID).
			Msg("failed to persist run record")
	}
}

// aggregate derives the run status from the stage outcomes. Partial means
// the gate admitted the project but a non-essential stage was skipped by
// configuration; any failure, timeout or cancellation makes the run failed.
func aggregate(rec *model.RunRecord, configSkipped map[string]bool) model.RunStatus {
	if rec.CancelledAt != nil {
		return model.RunFailed
	}
	allOK := true
	gateOK := false
	onlyConfigSkips := true
	for _, s := range rec.Stages {
		if s.Name == model.StageQualityGate && s.Status == model.StageSucceeded {
			gateOK = true
		}
		switch s.Status {
		case model.StageSucceeded:
		case model.StageSkipped:
			allOK = false
			if !configSkipped[s.Name] {
				onlyConfigSkips = false
			}
		default:
			allOK = false
			onlyConfigSkips = false
		}
	}
	if allOK {
		return model.RunSucceeded
	}
	if gateOK && onlyConfigSkips {
		return model.RunPartial
	}
	return model.RunFailed
}

func asStageError(name string, err error) *model.StageError {
	var se *model.StageError
	if errors.As(err, &se) {
		return se
	}
	return model.NewStageError(model.KindOf(err), name+": "+err.Error(), err)
}
