package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func waitDone(t *testing.T, h Handle) Outcome {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(20 * time.Second):
		t.Fatalf("run %s did not finish", h.ID)
	}
	o, ok := h.Run.Outcome()
	require.True(t, ok)
	return o
}

func start(t *testing.T, s *Scheduler, p *Pipeline, ev Event) Handle {
	t.Helper()
	h, err := s.Start(context.Background(), p, ev)
	require.NoError(t, err)
	return h
}

func TestDispatchHonoursBranchFilter(t *testing.T) {
	def := mustDefinition(t, `
name: ci
on:
  push:
    branches: [main]
jobs:
  build:
    steps: [{name: Build, run: "true"}]
  test:
    steps: [{name: Test, run: "true"}]
`, nil)
	s := NewScheduler(newTestRunner(t, "", nil, nil), discardLogger())
	s.Register(def)
	defer s.Shutdown()

	require.Empty(t, s.Dispatch(context.Background(), Event{Kind: EventPush, Branch: "feature"}))
	require.Empty(t, s.Dispatch(context.Background(), Event{Kind: EventPullRequest, Branch: "main"}))
	require.Empty(t, s.Runs())

	handles := s.Dispatch(context.Background(), Event{Kind: EventPush, Branch: "main"})
	require.Len(t, handles, 2)
	require.NotEqual(t, handles[0].Run.Pipeline.Job, handles[1].Run.Pipeline.Job)
	for _, h := range handles {
		require.True(t, waitDone(t, h).Succeeded())
	}
	require.Len(t, s.Runs(), 2)

	run, ok := s.Run(handles[0].ID)
	require.True(t, ok)
	require.Same(t, handles[0].Run, run)
	require.Equal(t, []*Definition{def}, s.Definitions())
}

func TestSchedulerCancel(t *testing.T) {
	def := mustDefinition(t, "name: ci\non: push\njobs:\n  a:\n    steps: [{name: Slow, run: sleep 30}]\n", nil)
	started := make(chan struct{}, 1)
	rec := &recorder{onStep: func(int) { started <- struct{}{} }}
	s := NewScheduler(newTestRunner(t, "", nil, rec), discardLogger())
	defer s.Shutdown()

	h := start(t, s, def.Pipelines[0], Event{Kind: EventPush, Branch: "main"})
	<-started
	require.NoError(t, s.Cancel(h.ID))

	o := waitDone(t, h)
	require.Equal(t, StateCancelled, o.State)
	require.Equal(t, 1, o.StepIndex)

	require.ErrorIs(t, s.Cancel(h.ID), ErrRunFinished)
	require.ErrorIs(t, s.Cancel("missing"), ErrRunNotFound)
}

func TestSchedulerSupersede(t *testing.T) {
	def := mustDefinition(t, "name: ci\non: push\njobs:\n  a:\n    steps: [{name: Slow, run: sleep 30}]\n", nil)
	started := make(chan struct{}, 4)
	rec := &recorder{onStep: func(int) { started <- struct{}{} }}
	s := NewScheduler(newTestRunner(t, "", nil, rec), discardLogger())
	s.Supersede = true
	defer s.Shutdown()

	ev := Event{Kind: EventPush, Branch: "main"}
	first := start(t, s, def.Pipelines[0], ev)
	<-started
	other := start(t, s, def.Pipelines[0], Event{Kind: EventPush, Branch: "dev"})
	second := start(t, s, def.Pipelines[0], ev)

	require.Equal(t, StateCancelled, waitDone(t, first).State)
	require.False(t, second.Run.State().Terminal())
	require.False(t, other.Run.State().Terminal())

	require.NoError(t, s.Cancel(second.ID))
	require.NoError(t, s.Cancel(other.ID))
	waitDone(t, second)
	waitDone(t, other)
}

func TestShutdownCancelsInFlightRuns(t *testing.T) {
	def := mustDefinition(t, "name: ci\non: push\njobs:\n  a:\n    steps: [{name: Slow, run: sleep 30}]\n", nil)
	started := make(chan struct{}, 1)
	rec := &recorder{onStep: func(int) { started <- struct{}{} }}
	s := NewScheduler(newTestRunner(t, "", nil, rec), discardLogger())

	h := start(t, s, def.Pipelines[0], Event{Kind: EventPush})
	<-started
	s.Shutdown()
	o, ok := h.Run.Outcome()
	require.True(t, ok)
	require.Equal(t, StateCancelled, o.State)
}

func TestRunTimeoutEndsCancelled(t *testing.T) {
	def := mustDefinition(t, "name: ci\non: push\njobs:\n  a:\n    steps: [{name: Slow, run: sleep 30}]\n", nil)
	s := NewScheduler(newTestRunner(t, "", nil, nil), discardLogger())
	s.RunTimeout = 200 * time.Millisecond
	defer s.Shutdown()

	o := waitDone(t, start(t, s, def.Pipelines[0], Event{Kind: EventPush}))
	require.Equal(t, StateCancelled, o.State)
	require.Equal(t, "Slow", o.StepLabel)
}

func TestFinishedRunsLeaveHistory(t *testing.T) {
	def := mustDefinition(t, "name: ci\non: push\njobs:\n  a:\n    steps: [{name: Quick, run: \"true\"}]\n", nil)
	s := NewScheduler(newTestRunner(t, "", nil, nil), discardLogger())
	s.History = 2
	s.Supersede = true
	defer s.Shutdown()

	var handles []Handle
	for i := 0; i < 3; i++ {
		h := start(t, s, def.Pipelines[0], Event{Kind: EventPush, Branch: "main"})
		require.True(t, waitDone(t, h).Succeeded())
		handles = append(handles, h)
	}

	runs := s.Runs()
	require.Len(t, runs, 2)
	require.Same(t, handles[1].Run, runs[0])
	require.Same(t, handles[2].Run, runs[1])

	_, ok := s.Run(handles[0].ID)
	require.False(t, ok)
	require.ErrorIs(t, s.Cancel(handles[0].ID), ErrRunNotFound)

	// the handle still carries the outcome of a forgotten run
	o, ok := handles[0].Run.Outcome()
	require.True(t, ok)
	require.True(t, o.Succeeded())

	s.mu.Lock()
	require.Empty(t, s.latest)
	s.mu.Unlock()
}

func TestZeroHistoryForgetsFinishedRuns(t *testing.T) {
	def := mustDefinition(t, "name: ci\non: push\njobs:\n  a:\n    steps: [{name: Quick, run: \"true\"}]\n", nil)
	s := NewScheduler(newTestRunner(t, "", nil, nil), discardLogger())
	s.History = 0
	defer s.Shutdown()

	h := start(t, s, def.Pipelines[0], Event{Kind: EventPush})
	require.True(t, waitDone(t, h).Succeeded())
	require.Empty(t, s.Runs())
}

func TestStartAfterShutdown(t *testing.T) {
	def := mustDefinition(t, "name: ci\non: push\njobs:\n  a:\n    steps: [{name: Quick, run: \"true\"}]\n", nil)
	s := NewScheduler(newTestRunner(t, "", nil, nil), discardLogger())
	s.Register(def)
	s.Shutdown()

	_, err := s.Start(context.Background(), def.Pipelines[0], Event{Kind: EventPush})
	require.ErrorIs(t, err, ErrSchedulerClosed)
	require.Empty(t, s.Dispatch(context.Background(), Event{Kind: EventPush, Branch: "main"}))
	require.Empty(t, s.Runs())
}
