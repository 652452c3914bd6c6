package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"stageci/internal/config"
	"stageci/internal/core"
	"stageci/internal/ledger"
	"stageci/internal/report"
	"stageci/internal/security"
	"stageci/internal/storage"
	"stageci/internal/tasks"
	"stageci/internal/workspace"
)

const (
	exitFailure   = 1
	exitCancelled = 130
)

func runCommand(args []string) error {
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	configPath := fs.String("config", "", "path to a YAML configuration file")
	job := fs.String("job", "", "run only this job")
	event := fs.String("event", string(core.EventPush), "triggering event kind (push or pull_request)")
	branch := fs.String("branch", "main", "branch the event refers to")
	source := fs.String("source", ".", "source tree copied into each working copy")
	force := fs.Bool("force", false, "run even when the workflow's branch filter does not match")
	warnings := fs.Bool("warnings-are-errors", true, "fail lint steps on warnings (overrides the workflow)")
	verbose := fs.BoolP("verbose", "v", false, "print the output of every step")
	timeout := fs.Duration("timeout", 0, "cancel each run after this long (0 means no limit)")
	archive := fs.Bool("archive", false, "store step logs and record results in the signed ledger")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: stageci run [flags] <workflow.yml>")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return exitError{code: 2}
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	cfg.SourceDir = *source
	if fs.Changed("warnings-are-errors") {
		cfg.WarningsAreErrors = warnings
	}
	if fs.Changed("timeout") {
		cfg.RunTimeout = *timeout
	}
	logger := cfg.NewLogger()

	ev := core.Event{Kind: core.EventKind(*event), Branch: *branch}
	if !ev.Kind.Valid() {
		return fmt.Errorf("unknown event kind %q", *event)
	}

	var annotator tasks.Annotator = tasks.LogAnnotator{Logger: logger}
	if os.Getenv("GITHUB_ACTIONS") == "true" {
		annotator = &tasks.WorkflowCommandAnnotator{W: os.Stdout}
	}
	registry := tasks.DefaultRegistry(annotator)

	def, err := core.LoadDefinition(fs.Arg(0), registry)
	if err != nil {
		return err
	}
	if cfg.WarningsAreErrors != nil {
		def.SetWarningsAreErrors(*cfg.WarningsAreErrors)
	}

	pipelines := def.Pipelines
	if *job != "" {
		p, ok := def.Pipeline(*job)
		if !ok {
			return fmt.Errorf("workflow %s has no job %q", def.Name, *job)
		}
		pipelines = []*core.Pipeline{p}
	}
	if !*force && !def.Matches(ev) {
		fmt.Printf("workflow %s does not run on %s to %s\n", def.Name, ev.Kind, ev.Branch)
		return nil
	}

	console := report.NewConsole(os.Stdout)
	console.Verbose = *verbose
	reporters := core.Reporters{console}

	if cfg.ResultLog != "" {
		rl, err := report.NewResultLog(cfg.ResultLog, logger)
		if err != nil {
			return err
		}
		defer rl.Close()
		reporters = append(reporters, rl)
	}
	if *archive {
		keys, _, err := security.EnsureKeyPair(cfg.KeysDir)
		if err != nil {
			return err
		}
		l, err := ledger.Open(cfg.LedgerPath, keys)
		if err != nil {
			return err
		}
		reporters = append(reporters, &report.Archive{Logs: storage.NewLogStorage(cfg.LogDir), Ledger: l, Logger: logger})
	}

	secrets := security.ChainProvider{security.EnvProvider{Prefix: "STAGECI_SECRET_"}}
	if cfg.SecretsDir != "" {
		secrets = append(secrets, security.FileProvider{Dir: cfg.SecretsDir})
	}
	runner := core.NewRunner(workspace.NewProvider(cfg.SourceDir, cfg.WorkspaceRoot), secrets, reporters, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code := 0
	for _, p := range pipelines {
		outcome := execute(ctx, runner, p, ev, cfg.RunTimeout)
		switch outcome.State {
		case core.StateCancelled:
			return exitError{code: exitCancelled}
		case core.StateFailed:
			code = exitFailure
		}
	}
	if code != 0 {
		return exitError{code: code}
	}
	return nil
}

func execute(ctx context.Context, runner *core.Runner, p *core.Pipeline, ev core.Event, timeout time.Duration) core.Outcome {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return runner.Execute(ctx, core.NewRun(p, ev))
}

// loadDefinitions validates every path and reports the failures together.
func loadDefinitions(paths []string, resolver core.TaskResolver) ([]*core.Definition, error) {
	var (
		defs []*core.Definition
		errs []error
	)
	for _, path := range paths {
		def, err := core.LoadDefinition(path, resolver)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		defs = append(defs, def)
	}
	return defs, errors.Join(errs...)
}
