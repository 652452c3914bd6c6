package core

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"stageci/internal/security"
	"stageci/internal/workspace"
)

// stubTask is a packaged task returning a fixed result.
type stubTask struct {
	name   string
	issues []string
	result ActionResult
	calls  int
	mu     sync.Mutex
}

func (s *stubTask) Name() string { return s.name }

func (s *stubTask) Validate(map[string]string) []string { return s.issues }

func (s *stubTask) Invoke(context.Context, StepContext) ActionResult {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.result
}

type stubResolver map[string]TaskAdapter

func (r stubResolver) Resolve(uses string) (TaskAdapter, error) {
	if a, ok := r[uses]; ok {
		return a, nil
	}
	return nil, ErrUnknownTask
}

// recorder captures reporter callbacks in order.
type recorder struct {
	mu       sync.Mutex
	started  []int
	finished []StepResult
	outcomes []Outcome
	onStep   func(index int)
}

func (r *recorder) RunStarted(*Run) {}

func (r *recorder) StepStarted(_ *Run, index int, _ *Step) {
	r.mu.Lock()
	r.started = append(r.started, index)
	hook := r.onStep
	r.mu.Unlock()
	if hook != nil {
		hook(index)
	}
}

func (r *recorder) StepFinished(_ *Run, result StepResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, result)
}

func (r *recorder) RunFinished(_ *Run, o Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustDefinition(t *testing.T, yml string, resolver TaskResolver) *Definition {
	t.Helper()
	def, err := ParseDefinition([]byte(yml), "test", resolver)
	require.NoError(t, err)
	return def
}

func newTestRunner(t *testing.T, source string, secrets security.SecretProvider, reporter Reporter) *Runner {
	t.Helper()
	return NewRunner(workspace.NewProvider(source, t.TempDir()), secrets, reporter, discardLogger())
}
