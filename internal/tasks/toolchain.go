package tasks

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"stageci/internal/core"
)

// SetupToolchain checks that the programs listed in the require parameter
// are on the step's PATH. A missing program is an environment failure.
type SetupToolchain struct{}

func (SetupToolchain) Name() string { return "setup-toolchain" }

func (SetupToolchain) Validate(params map[string]string) []string {
	if len(splitList(params["require"])) == 0 {
		return []string{`with.require: at least one program is required`}
	}
	return nil
}

func (SetupToolchain) Invoke(_ context.Context, sc core.StepContext) core.ActionResult {
	path := lookupEnv(sc.Env, "PATH")

	var out strings.Builder
	var missing []string
	for _, program := range splitList(sc.Params["require"]) {
		found, err := lookPath(program, path)
		if err != nil {
			missing = append(missing, program)
			fmt.Fprintf(&out, "%s: not found\n", program)
			continue
		}
		fmt.Fprintf(&out, "%s: %s\n", program, found)
	}
	if len(missing) > 0 {
		return core.ActionResult{
			Output:   out.String(),
			ExitCode: 1,
			Err:      core.EnvironmentFailure(fmt.Errorf("missing toolchain programs: %s", strings.Join(missing, ", "))),
		}
	}
	return core.ActionResult{Output: out.String()}
}

// lookPath searches path (a PATH value) for program. Programs containing
// a separator are checked as given.
func lookPath(program, path string) (string, error) {
	if strings.ContainsRune(program, filepath.Separator) {
		return exec.LookPath(program)
	}
	for _, dir := range filepath.SplitList(path) {
		if dir == "" {
			dir = "."
		}
		candidate := filepath.Join(dir, program)
		if found, err := exec.LookPath(candidate); err == nil {
			return found, nil
		}
	}
	return "", exec.ErrNotFound
}

func lookupEnv(env []string, key string) string {
	prefix := key + "="
	value := ""
	for _, kv := range env {
		if strings.HasPrefix(kv, prefix) {
			value = kv[len(prefix):]
		}
	}
	return value
}

// splitList splits on commas and whitespace, dropping empty entries.
func splitList(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
}
