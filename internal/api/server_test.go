// SPDX-License-Identifier: MIT

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/autocast/internal/pipeline/gate"
	"github.com/ManuGH/autocast/internal/pipeline/model"
	"github.com/ManuGH/autocast/internal/pipeline/runstore"
	"github.com/ManuGH/autocast/internal/sched"
)

const testProject = "2026-03-01_10-00-00_quantum-computing"

type fakeRuns struct {
	records   map[string]*model.RunRecord
	active    map[string]bool
	started   []model.StartRunRequest
	startErr  error
	cancelled []string
}

func (f *fakeRuns) Start(_ context.Context, req model.StartRunRequest) (*model.RunRecord, error) {
	f.started = append(f.started, req)
	if f.startErr != nil {
		return nil, f.startErr
	}
	return &model.RunRecord{
		ExecutionID: "exec-1",
		ProjectID:   testProject,
		Topic:       req.Topic,
		Trigger:     req.Trigger,
		Status:      model.RunRunning,
		StartedAt:   time.Now().UTC(),
	}, nil
}

func (f *fakeRuns) Status(_ context.Context, executionID string) (*model.RunRecord, error) {
	rec, ok := f.records[executionID]
	if !ok {
		return nil, runstore.ErrNotFound
	}
	return rec, nil
}

func (f *fakeRuns) List(_ context.Context, _ int) ([]*model.RunRecord, error) {
	var out []*model.RunRecord
	for _, rec := range f.records {
		out = append(out, rec)
	}
	return out, nil
}

func (f *fakeRuns) Cancel(executionID string) bool {
	f.cancelled = append(f.cancelled, executionID)
	return f.active[executionID]
}

type fakeValidator struct {
	manifest *model.Manifest
	report   *gate.Report
	err      error
}

func (f *fakeValidator) Run(context.Context, string, model.Options) (*model.Manifest, *gate.Report, error) {
	return f.manifest, f.report, f.err
}

type fakeTicker struct {
	ticks  []sched.TickEvent
	topics []sched.Rule
}

func (f *fakeTicker) Tick(_ context.Context, ev sched.TickEvent) { f.ticks = append(f.ticks, ev) }
func (f *fakeTicker) Topics() []sched.Rule                       { return f.topics }

type fakeAudit struct {
	entries []runstore.AuditEntry
}

func (f *fakeAudit) ListAudit(context.Context, int) ([]runstore.AuditEntry, error) {
	return f.entries, nil
}

func newTestServer(runs Runs, validator Validator, ticker Ticker, audit AuditLog) *httptest.Server {
	s := New(Config{RateLimit: 1000, Version: "test"}, runs, validator, ticker, audit)
	return httptest.NewServer(s.Handler())
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	buf, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(buf)) // #nosec G107
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestSubmitRunAccepted(t *testing.T) {
	runs := &fakeRuns{}
	srv := newTestServer(runs, nil, nil, nil)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/runs", map[string]any{
		"topic":   "Quantum Computing",
		"trigger": "scheduled", // clients cannot claim scheduler identity
	})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	body := decode[map[string]any](t, resp)
	assert.Equal(t, "exec-1", body["executionId"])
	assert.Equal(t, testProject, body["projectId"])
	assert.Equal(t, "running", body["status"])

	require.Len(t, runs.started, 1)
	assert.Equal(t, model.TriggerManual, runs.started[0].Trigger)
}

func TestSubmitRunValidationError(t *testing.T) {
	runs := &fakeRuns{startErr: model.Errorf(model.KindValidation, "run: topic must not be empty")}
	srv := newTestServer(runs, nil, nil, nil)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/runs", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body := decode[map[string]string](t, resp)
	assert.Equal(t, "Validation", body["kind"])
}

func TestGetRunStatusMapping(t *testing.T) {
	runs := &fakeRuns{records: map[string]*model.RunRecord{
		"exec-1": {ExecutionID: "exec-1", Status: model.RunSucceeded},
	}}
	srv := newTestServer(runs, nil, nil, nil)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/runs/exec-1")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	rec := decode[model.RunRecord](t, resp)
	assert.Equal(t, model.RunSucceeded, rec.Status)

	resp, err = http.Get(srv.URL + "/api/runs/ghost")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestCancelRun(t *testing.T) {
	runs := &fakeRuns{
		active: map[string]bool{"exec-1": true},
		records: map[string]*model.RunRecord{
			"exec-1": {ExecutionID: "exec-1", Status: model.RunRunning},
			"exec-2": {ExecutionID: "exec-2", Status: model.RunSucceeded},
		},
	}
	srv := newTestServer(runs, nil, nil, nil)
	defer srv.Close()

	del := func(id string) *http.Response {
		req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/runs/"+id, nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		return resp
	}

	// Active run: cancellation is accepted.
	resp := del("exec-1")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	body := decode[map[string]string](t, resp)
	assert.Equal(t, "cancelling", body["status"])

	// Sealed run: conflict, with the sealed record for context.
	resp = del("exec-2")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	rec := decode[model.RunRecord](t, resp)
	assert.Equal(t, model.RunSucceeded, rec.Status)

	// Unknown run.
	resp = del("ghost")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestValidateApproved(t *testing.T) {
	v := &fakeValidator{
		manifest: &model.Manifest{ProjectID: testProject},
		report:   &gate.Report{ProjectID: testProject},
	}
	srv := newTestServer(nil, v, nil, nil)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/validate/"+testProject, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	assert.Equal(t, true, body["approved"])
	assert.NotNil(t, body["manifest"])
}

func TestValidateRejectionIsNotAnHTTPError(t *testing.T) {
	v := &fakeValidator{
		report: &gate.Report{
			ProjectID: testProject,
			Issues:    []gate.Issue{{Rule: gate.RuleMinVisuals, Path: "03-media/scene-2/images/", Severity: gate.SeverityError}},
		},
		err: model.Errorf(model.KindQualityGateRejected, "gate: 1 rule(s) failed"),
	}
	srv := newTestServer(nil, v, nil, nil)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/validate/"+testProject, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	assert.Equal(t, false, body["approved"])
	assert.NotNil(t, body["report"])
}

func TestValidateRejectsMalformedProjectID(t *testing.T) {
	srv := newTestServer(nil, &fakeValidator{}, nil, nil)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/validate/not-a-project-id", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestValidateBackendErrorMapsTo500(t *testing.T) {
	v := &fakeValidator{err: model.Errorf(model.KindBackend, "object store down")}
	srv := newTestServer(nil, v, nil, nil)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/validate/"+testProject, nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestTickEndpoint(t *testing.T) {
	ticker := &fakeTicker{}
	srv := newTestServer(nil, nil, ticker, nil)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/ticks", map[string]string{"selector": "Quantum Computing"})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	_ = resp.Body.Close()

	require.Len(t, ticker.ticks, 1)
	assert.Equal(t, "api", ticker.ticks[0].Source)
	assert.Equal(t, "Quantum Computing", ticker.ticks[0].Selector)
}

func TestTopicsEndpoint(t *testing.T) {
	ticker := &fakeTicker{topics: []sched.Rule{{Topic: "Quantum Computing", DailyFrequency: 1, Priority: 5}}}
	srv := newTestServer(nil, nil, ticker, nil)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/topics")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	topics := decode[[]sched.Rule](t, resp)
	require.Len(t, topics, 1)
	assert.Equal(t, "Quantum Computing", topics[0].Topic)
}

func TestAuditEndpoint(t *testing.T) {
	audit := &fakeAudit{entries: []runstore.AuditEntry{{Outcome: "dispatched", Topic: "Quantum Computing"}}}
	srv := newTestServer(nil, nil, nil, audit)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/audit")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	entries := decode[[]runstore.AuditEntry](t, resp)
	require.Len(t, entries, 1)
	assert.Equal(t, "dispatched", entries[0].Outcome)
}

func TestNilDependenciesAnswer404(t *testing.T) {
	srv := newTestServer(nil, nil, nil, nil)
	defer srv.Close()

	for _, path := range []string{"/api/runs", "/api/audit", "/api/topics"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
		_ = resp.Body.Close()
	}
}

func TestHealthAndReadiness(t *testing.T) {
	srv := newTestServer(nil, nil, nil, nil)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]string](t, resp)
	assert.Equal(t, "test", body["version"])

	// A failing readiness check flips /readyz only.
	failing := New(Config{
		Version:    "test",
		RateLimit:  1000,
		ReadyCheck: func(context.Context) error { return errors.New("db unreachable") },
	}, nil, nil, nil, nil)
	fsrv := httptest.NewServer(failing.Handler())
	defer fsrv.Close()

	resp, err = http.Get(fsrv.URL + "/readyz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	_ = resp.Body.Close()

	resp, err = http.Get(fsrv.URL + "/healthz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()
}
