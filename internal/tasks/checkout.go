package tasks

import (
	"context"
	"fmt"
	"os"

	"stageci/internal/core"
)

// Checkout stands in for a source checkout. The run already owns a fresh
// working copy, so the adapter only confirms it is there.
type Checkout struct{}

func (Checkout) Name() string { return "checkout" }

func (Checkout) Validate(map[string]string) []string { return nil }

func (Checkout) Invoke(_ context.Context, sc core.StepContext) core.ActionResult {
	info, err := os.Stat(sc.Dir)
	if err != nil {
		return core.ActionResult{ExitCode: -1, Err: core.EnvironmentFailure(fmt.Errorf("working copy: %w", err))}
	}
	if !info.IsDir() {
		return core.ActionResult{ExitCode: -1, Err: core.EnvironmentFailure(fmt.Errorf("working copy %s is not a directory", sc.Dir))}
	}
	return core.ActionResult{Output: fmt.Sprintf("working copy ready at %s\n", sc.Dir)}
}
