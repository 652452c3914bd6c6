package core

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"stageci/internal/security"
	"stageci/internal/workspace"
)

// Runner executes a run's steps in declared order against the run's own
// working copy, stopping at the first step that does not succeed.
type Runner struct {
	Executor   *Executor
	Workspaces *workspace.Provider
	Secrets    security.SecretProvider
	Reporter   Reporter
	Logger     *slog.Logger

	// Environ is the base environment of every step. Nil means os.Environ().
	Environ []string
}

func NewRunner(workspaces *workspace.Provider, secrets security.SecretProvider, reporter Reporter, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		Executor:   NewExecutor(),
		Workspaces: workspaces,
		Secrets:    secrets,
		Reporter:   reporter,
		Logger:     logger,
	}
}

// Execute drives run from pending to a terminal state and returns its
// outcome. Cancelling ctx kills the in-flight step and ends the run as
// cancelled. Execute never retries.
func (r *Runner) Execute(ctx context.Context, run *Run) Outcome {
	reporter := r.Reporter
	if reporter == nil {
		reporter = Reporters(nil)
	}
	logger := r.Logger.With("run", run.ID, "pipeline", run.Pipeline.Name())

	if err := run.start(); err != nil {
		logger.Error("run not started", "error", err)
		o, _ := run.Outcome()
		return o
	}
	reporter.RunStarted(run)
	logger.Info("run started",
		"event", run.Event.Kind,
		"branch", run.Event.Branch,
		"runs_on", run.Pipeline.RunsOn,
		"steps", len(run.Pipeline.Steps),
	)

	finish := func(o Outcome) Outcome {
		o = run.finish(o)
		reporter.RunFinished(run, o)
		logger.Info("run finished", "state", o.State, "outcome", o.String())
		return o
	}

	if ctx.Err() != nil {
		return finish(Outcome{State: StateCancelled, StepIndex: 0, StepLabel: SetupLabel})
	}

	workspaces := r.Workspaces
	if workspaces == nil {
		workspaces = workspace.NewProvider("", "")
	}
	wc, err := workspaces.Provision(ctx, run.ID)
	if err != nil {
		if ctx.Err() != nil {
			return finish(Outcome{State: StateCancelled, StepIndex: 0, StepLabel: SetupLabel})
		}
		return finish(setupFailure(fmt.Errorf("provisioning working copy: %w", err)))
	}
	defer func() {
		if err := wc.Release(); err != nil {
			logger.Warn("releasing working copy", "error", err)
		}
	}()

	fingerprint, err := workspace.Fingerprint(wc.Dir())
	if err != nil {
		logger.Warn("fingerprinting working copy", "error", err)
	}

	secrets, err := security.ResolveAll(ctx, r.Secrets, run.Pipeline.SecretRefs())
	if err != nil {
		o := setupFailure(fmt.Errorf("resolving secrets: %w", err))
		o.Fingerprint = fingerprint
		return finish(o)
	}
	redactor := security.NewRedactor(secrets)

	base := r.Environ
	if base == nil {
		base = os.Environ()
	}

	total := len(run.Pipeline.Steps)
	for i, step := range run.Pipeline.Steps {
		index := i + 1
		if ctx.Err() != nil {
			return finish(Outcome{State: StateCancelled, StepIndex: index, StepLabel: step.Label, Fingerprint: fingerprint})
		}

		sc := StepContext{
			RunID:             run.ID,
			Label:             step.Label,
			Dir:               wc.Dir(),
			Env:               r.stepEnv(base, run, wc.Dir(), step, secrets),
			Params:            expandParams(step.With, secrets),
			WarningsAreErrors: run.Pipeline.WarningsAreErrors,
			Exec:              r.Executor,
			Logger:            logger.With("step", index),
			Redactor:          redactor,
			secrets:           secrets,
		}

		reporter.StepStarted(run, index, step)
		logger.Debug("step started", "step", index, "label", step.Label, "action", step.Action.Describe())

		started := time.Now()
		res := step.Action.Invoke(ctx, sc)
		result := StepResult{
			Index:       index,
			Label:       step.Label,
			Status:      StepOK,
			ExitCode:    res.ExitCode,
			Output:      redactor.Redact(res.Output),
			Duration:    time.Since(started),
			Annotations: redactAnnotations(redactor, res.Annotations),
		}

		switch {
		case ctx.Err() != nil:
			result.Status = StepCancelled
			result.Error = ctx.Err().Error()
		case res.Err != nil:
			result.Status = StepFailed
			result.Kind = KindOf(res.Err)
			result.Error = redactor.Redact(res.Err.Error())
		}

		run.record(result)
		reporter.StepFinished(run, result)
		logger.Info("step finished",
			"step", fmt.Sprintf("%d/%d", index, total),
			"label", step.Label,
			"status", result.Status,
			"duration", result.Duration,
		)

		switch result.Status {
		case StepCancelled:
			return finish(Outcome{
				State:       StateCancelled,
				StepIndex:   index,
				StepLabel:   step.Label,
				Output:      result.Output,
				Fingerprint: fingerprint,
			})
		case StepFailed:
			return finish(Outcome{
				State:       StateFailed,
				StepIndex:   index,
				StepLabel:   step.Label,
				Kind:        result.Kind,
				Error:       result.Error,
				Output:      result.Output,
				Fingerprint: fingerprint,
			})
		}
	}

	return finish(Outcome{State: StateSucceeded, Fingerprint: fingerprint})
}

func (r *Runner) stepEnv(base []string, run *Run, dir string, step *Step, secrets map[string]security.Secret) []string {
	env := make([]string, 0, len(base)+len(run.Pipeline.Env)+len(step.Env)+5)
	env = append(env, base...)
	env = append(env,
		"CI=true",
		"STAGECI_RUN_ID="+run.ID,
		"STAGECI_EVENT="+string(run.Event.Kind),
		"STAGECI_BRANCH="+run.Event.Branch,
		"STAGECI_WORKSPACE="+dir,
	)
	for _, layer := range []map[string]string{run.Pipeline.Env, step.Env} {
		for k, v := range layer {
			env = append(env, k+"="+security.Expand(v, secrets))
		}
	}
	return env
}

func expandParams(with map[string]string, secrets map[string]security.Secret) map[string]string {
	params := make(map[string]string, len(with))
	for k, v := range with {
		params[k] = security.Expand(v, secrets)
	}
	return params
}

func redactAnnotations(redactor *security.Redactor, annotations []Annotation) []Annotation {
	if len(annotations) == 0 {
		return annotations
	}
	out := make([]Annotation, len(annotations))
	for i, a := range annotations {
		a.File = redactor.Redact(a.File)
		a.Message = redactor.Redact(a.Message)
		out[i] = a
	}
	return out
}

func setupFailure(err error) Outcome {
	return Outcome{
		State:     StateFailed,
		StepIndex: 0,
		StepLabel: SetupLabel,
		Kind:      FailureEnvironment,
		Error:     err.Error(),
	}
}
