package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// Command is one shell invocation.
type Command struct {
	Script string
	Dir    string
	Env    []string
}

// ExecResult is the termination status and combined output of a command.
type ExecResult struct {
	ExitCode int
	Output   string
}

// Executor is responsible for running shell commands for steps.
type Executor struct {
	Shell string

	// WaitDelay bounds how long Run waits for inherited pipes to close
	// after the process group has been killed.
	WaitDelay time.Duration
}

func NewExecutor() *Executor {
	return &Executor{Shell: "sh", WaitDelay: 5 * time.Second}
}

// Run executes cmd.Script with "<shell> -c" in cmd.Dir, capturing stdout
// and stderr into one buffer. A non-zero exit is reported through
// ExecResult.ExitCode with a nil error. The returned error is set only
// when the command could not run to completion: the shell could not be
// started (an environment failure) or ctx was cancelled, in which case the
// whole process group is killed and ctx.Err() is returned.
func (e *Executor) Run(ctx context.Context, cmd Command) (ExecResult, error) {
	shell := e.Shell
	if shell == "" {
		shell = "sh"
	}

	c := exec.CommandContext(ctx, shell, "-c", cmd.Script)
	c.Dir = cmd.Dir
	if cmd.Env != nil {
		c.Env = cmd.Env
	}
	c.WaitDelay = e.WaitDelay
	setProcessGroup(c)

	var out bytes.Buffer
	c.Stdout = &out
	c.Stderr = &out

	err := c.Run()
	res := ExecResult{Output: out.String()}
	if err == nil {
		return res, nil
	}
	if ctx.Err() != nil {
		res.ExitCode = -1
		return res, ctx.Err()
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}

	res.ExitCode = -1
	return res, EnvironmentFailure(fmt.Errorf("starting %s: %w", shell, err))
}
