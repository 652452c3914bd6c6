package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"stageci/internal/security"
)

// ErrUnknownTask is returned by a TaskResolver for a uses reference that
// has no registered adapter.
var ErrUnknownTask = errors.New("unknown task")

// Action is the executable part of a step.
type Action interface {
	// Describe returns a one-line description for logs and reports.
	Describe() string

	// Invoke runs the action against the step context. Invoke blocks until
	// the action terminates or ctx is cancelled.
	Invoke(ctx context.Context, sc StepContext) ActionResult
}

// TaskAdapter runs one kind of packaged task.
type TaskAdapter interface {
	Name() string

	// Validate checks the step's with parameters at load time.
	Validate(params map[string]string) []string

	Invoke(ctx context.Context, sc StepContext) ActionResult
}

// TaskResolver maps a uses reference to its adapter.
type TaskResolver interface {
	Resolve(uses string) (TaskAdapter, error)
}

// StepContext is everything an action sees of its run.
type StepContext struct {
	RunID string
	Label string
	Dir   string   // working copy root
	Env   []string // KEY=VALUE, secrets already expanded

	// Params holds the step's with parameters, secrets already expanded.
	Params map[string]string

	WarningsAreErrors bool
	Exec              *Executor
	Logger            *slog.Logger

	// Redactor masks the run's secret values. Actions that surface output
	// anywhere other than their result (annotations, publishers) pass it
	// through Redact first.
	Redactor *security.Redactor

	secrets map[string]security.Secret
}

// Expand substitutes ${{ secrets.NAME }} references with resolved values.
func (sc StepContext) Expand(s string) string {
	return security.Expand(s, sc.secrets)
}

// Redact masks secret values in s.
func (sc StepContext) Redact(s string) string {
	return sc.Redactor.Redact(s)
}

// Annotation is a diagnostic attached to a source location.
type Annotation struct {
	Level   string `json:"level"` // "warning" or "error"
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Message string `json:"message"`
}

func (a Annotation) String() string {
	if a.File == "" {
		return fmt.Sprintf("%s: %s", a.Level, a.Message)
	}
	return fmt.Sprintf("%s:%d:%d: %s: %s", a.File, a.Line, a.Column, a.Level, a.Message)
}

// ActionResult is what an action reports back. A nil Err means success.
type ActionResult struct {
	Output      string
	ExitCode    int
	Err         error
	Annotations []Annotation
}

// ShellCommand runs an opaque command string through the shell.
type ShellCommand struct {
	Command string
}

func (c ShellCommand) Describe() string { return "run: " + c.Command }

func (c ShellCommand) Invoke(ctx context.Context, sc StepContext) ActionResult {
	res, err := sc.Exec.Run(ctx, Command{
		Script: sc.Expand(c.Command),
		Dir:    sc.Dir,
		Env:    sc.Env,
	})
	if err != nil {
		return ActionResult{Output: res.Output, ExitCode: res.ExitCode, Err: err}
	}
	if res.ExitCode != 0 {
		return ActionResult{
			Output:   res.Output,
			ExitCode: res.ExitCode,
			Err:      StepFailure(fmt.Errorf("exit code %d", res.ExitCode)),
		}
	}
	return ActionResult{Output: res.Output}
}

// PackagedTask invokes a named external integration through its adapter.
type PackagedTask struct {
	Uses    string
	Adapter TaskAdapter
}

func (t PackagedTask) Describe() string { return "uses: " + t.Uses }

func (t PackagedTask) Invoke(ctx context.Context, sc StepContext) ActionResult {
	return t.Adapter.Invoke(ctx, sc)
}

func newAction(spec StepSpec, resolver TaskResolver) (Action, error) {
	if spec.Run != "" {
		return ShellCommand{Command: spec.Run}, nil
	}
	if resolver == nil {
		return nil, fmt.Errorf("step %q: %w %q (no task registry)", spec.Name, ErrUnknownTask, spec.Uses)
	}
	adapter, err := resolver.Resolve(spec.Uses)
	if err != nil {
		return nil, fmt.Errorf("step %q: %w", spec.Name, err)
	}
	return PackagedTask{Uses: spec.Uses, Adapter: adapter}, nil
}
