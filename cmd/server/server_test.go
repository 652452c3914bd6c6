package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"stageci/internal/core"
	"stageci/internal/ledger"
	"stageci/internal/report"
	"stageci/internal/security"
	"stageci/internal/storage"
	"stageci/internal/tasks"
	"stageci/internal/workspace"
)

const testWorkflow = `
name: ci
on:
  push:
    branches: [main]
jobs:
  build:
    steps:
      - name: Build
        run: echo building
  slow:
    steps:
      - name: Wait
        run: sleep 30
`

const testToken = "test-api-token"

// lockedBuffer collects log output written from handler goroutines.
type lockedBuffer struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type testEnv struct {
	server    *httptest.Server
	scheduler *core.Scheduler
	ledger    *ledger.Ledger
	logs      *lockedBuffer
	token     string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	logs := &lockedBuffer{}
	logger := slog.New(slog.NewTextHandler(logs, nil))

	keys, err := security.GenerateKeyPair()
	require.NoError(t, err)
	l, err := ledger.Open(filepath.Join(dir, "ledger.jsonl"), keys)
	require.NoError(t, err)

	archive := &report.Archive{Logs: storage.NewLogStorage(filepath.Join(dir, "logs")), Ledger: l, Logger: logger}
	runner := core.NewRunner(workspace.NewProvider("", filepath.Join(dir, "work")), security.MapProvider{}, archive, logger)
	scheduler := core.NewScheduler(runner, logger)

	srv := NewServer(context.Background(), scheduler, tasks.DefaultRegistry(nil), l, logger)
	srv.apiToken = []byte(testToken)
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(func() {
		ts.Close()
		scheduler.Shutdown()
	})
	return &testEnv{server: ts, scheduler: scheduler, ledger: l, logs: logs, token: testToken}
}

func (e *testEnv) do(t *testing.T, method, path, body string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, e.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	resp, err := e.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (e *testEnv) waitFor(t *testing.T, id string, state core.State) runView {
	t.Helper()
	var view runView
	require.Eventually(t, func() bool {
		e.do(t, http.MethodGet, "/runs/"+id, "", &view)
		return view.State == state
	}, 20*time.Second, 50*time.Millisecond)
	return view
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	var body map[string]string
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/healthz", "", &body))
	require.Equal(t, "ok", body["status"])
}

func TestWorkflowLifecycle(t *testing.T) {
	env := newTestEnv(t)

	var created workflowView
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/workflows", testWorkflow, &created))
	require.Equal(t, "ci", created.Name)
	require.Equal(t, []string{"build", "slow"}, created.Jobs)

	var listed []workflowView
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/workflows", "", &listed))
	require.Len(t, listed, 1)

	// a branch outside the filter starts nothing
	var dispatched struct{ Runs []string }
	require.Equal(t, http.StatusAccepted, env.do(t, http.MethodPost, "/events", `{"kind":"push","branch":"feature"}`, &dispatched))
	require.Empty(t, dispatched.Runs)

	require.Equal(t, http.StatusAccepted, env.do(t, http.MethodPost, "/events", `{"kind":"push","branch":"main"}`, &dispatched))
	require.Len(t, dispatched.Runs, 2)

	var build, slow string
	for _, id := range dispatched.Runs {
		run, ok := env.scheduler.Run(id)
		require.True(t, ok)
		if run.Pipeline.Job == "build" {
			build = id
		} else {
			slow = id
		}
	}

	view := env.waitFor(t, build, core.StateSucceeded)
	require.Equal(t, "ci/build", view.Pipeline)
	require.Len(t, view.Steps, 1)
	require.Equal(t, "building\n", view.Steps[0].Output)
	require.NotNil(t, view.Outcome)

	env.waitFor(t, slow, core.StateRunning)
	require.Equal(t, http.StatusAccepted, env.do(t, http.MethodPost, "/runs/"+slow+"/cancel", "", nil))
	view = env.waitFor(t, slow, core.StateCancelled)
	require.Equal(t, 1, view.Outcome.StepIndex)
	require.Equal(t, http.StatusConflict, env.do(t, http.MethodPost, "/runs/"+slow+"/cancel", "", nil))

	var runs []runView
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/runs", "", &runs))
	require.Len(t, runs, 2)

	var verify map[string]any
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/ledger/verify", "", &verify))
	require.Equal(t, true, verify["ok"])
	require.Greater(t, env.ledger.Len(), 0)
}

func TestInvalidRequests(t *testing.T) {
	env := newTestEnv(t)

	var body map[string]any
	require.Equal(t, http.StatusUnprocessableEntity, env.do(t, http.MethodPost, "/workflows",
		"name: bad\non: push\njobs:\n  a:\n    steps:\n      - name: x\n        uses: nobody/nothing\n", &body))
	require.NotEmpty(t, body["issues"])

	require.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/workflows", "jobs: [", nil))
	require.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/events", `{"kind":"tag","branch":"main"}`, nil))
	require.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/events", `{"kind":"push"}`, nil))
	require.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/runs/missing", "", nil))
	require.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/runs/missing/cancel", "", nil))
	require.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/webhook", "{}", nil))
}

func TestMutatingEndpointsRequireToken(t *testing.T) {
	env := newTestEnv(t)

	env.token = ""
	require.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodPost, "/workflows", testWorkflow, nil))
	require.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodPost, "/events", `{"kind":"push","branch":"main"}`, nil))
	require.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodPost, "/runs/any/cancel", "", nil))

	env.token = "wrong"
	require.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodPost, "/workflows", testWorkflow, nil))
	require.Empty(t, env.scheduler.Definitions())
	require.Empty(t, env.scheduler.Runs())

	// reads stay open
	env.token = ""
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/workflows", "", nil))
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/runs", "", nil))
	require.Contains(t, env.logs.String(), "unauthorized api request")
}

func TestMutatingEndpointsDisabledWithoutToken(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	scheduler := core.NewScheduler(core.NewRunner(workspace.NewProvider("", t.TempDir()), nil, nil, logger), logger)
	t.Cleanup(scheduler.Shutdown)
	ts := httptest.NewServer(NewServer(context.Background(), scheduler, tasks.DefaultRegistry(nil), nil, logger).Routes())
	t.Cleanup(ts.Close)

	env := &testEnv{server: ts, scheduler: scheduler, token: "anything"}
	require.Equal(t, http.StatusForbidden, env.do(t, http.MethodPost, "/workflows", testWorkflow, nil))
	require.Equal(t, http.StatusForbidden, env.do(t, http.MethodPost, "/events", `{"kind":"push","branch":"main"}`, nil))
	require.Empty(t, scheduler.Definitions())
}

func TestRequestIDLogged(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/workflows", testWorkflow, nil))
	require.Regexp(t, `msg="workflow registered".* request_id=\S+`, env.logs.String())
}
