package tasks

import (
	"context"
	"fmt"
	"strings"

	"stageci/internal/core"
)

// LintAnnotations runs a static analysis command, turns its diagnostics
// into annotations and publishes them. Errors and a non-zero exit always
// fail the step; warnings fail it only under the warnings-are-errors
// policy.
//
// Parameters:
//
//	command  full command line to run
//	tool     program to run when command is not set
//	args     arguments appended to tool
//	token    repository access token, exported to the tool as GITHUB_TOKEN
type LintAnnotations struct {
	Annotator Annotator
}

func (*LintAnnotations) Name() string { return "lint-annotations" }

func (*LintAnnotations) Validate(params map[string]string) []string {
	if params["command"] == "" && params["tool"] == "" {
		return []string{"with.command or with.tool is required"}
	}
	if params["command"] != "" && params["tool"] != "" {
		return []string{"with.command and with.tool are mutually exclusive"}
	}
	return nil
}

func (l *LintAnnotations) Invoke(ctx context.Context, sc core.StepContext) core.ActionResult {
	command := sc.Params["command"]
	if command == "" {
		command = strings.TrimSpace(sc.Params["tool"] + " " + sc.Params["args"])
	}

	env := sc.Env
	if token := sc.Params["token"]; token != "" {
		env = append(append([]string(nil), env...), "GITHUB_TOKEN="+token)
	}

	res, err := sc.Exec.Run(ctx, core.Command{Script: command, Dir: sc.Dir, Env: env})
	if err != nil {
		return core.ActionResult{Output: res.Output, ExitCode: res.ExitCode, Err: err}
	}

	output := sc.Redact(res.Output)
	annotations, scanErr := ParseDiagnostics(output)
	warnings, errs := countLevels(annotations)

	var out strings.Builder
	out.WriteString(output)
	if output != "" && !strings.HasSuffix(output, "\n") {
		out.WriteByte('\n')
	}
	fmt.Fprintf(&out, "%d warning(s), %d error(s)\n", warnings, errs)

	result := core.ActionResult{
		Output:      out.String(),
		ExitCode:    res.ExitCode,
		Annotations: annotations,
	}

	if len(annotations) > 0 && l.Annotator != nil {
		if err := l.Annotator.Publish(ctx, sc.Label, annotations); err != nil {
			result.Err = core.EnvironmentFailure(fmt.Errorf("publishing annotations: %w", err))
			return result
		}
	}

	switch {
	case res.ExitCode != 0:
		result.Err = core.StepFailure(fmt.Errorf("exit code %d", res.ExitCode))
	case scanErr != nil:
		result.Err = core.StepFailure(fmt.Errorf("reading diagnostics: %w", scanErr))
	case errs > 0:
		result.Err = core.StepFailure(fmt.Errorf("%d error(s) reported", errs))
	case warnings > 0 && sc.WarningsAreErrors:
		result.Err = core.StepFailure(fmt.Errorf("%d warning(s) reported and warnings are errors", warnings))
	case warnings > 0 && sc.Logger != nil:
		sc.Logger.Info("lint warnings reported as annotations only", "warnings", warnings)
	}
	return result
}
