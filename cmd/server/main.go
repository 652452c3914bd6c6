package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
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
	"stageci/internal/webhook"
	"stageci/internal/workspace"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "stageci-server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := pflag.String("config", "", "path to a YAML configuration file")
	addr := pflag.String("addr", "", "listen address (overrides configuration)")
	supersede := pflag.Bool("supersede", false, "cancel an in-flight run when a newer event starts the same job on the same branch")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if pflag.CommandLine.Changed("supersede") {
		cfg.Supersede = *supersede
	}
	logger := cfg.NewLogger()

	keys, created, err := security.EnsureKeyPair(cfg.KeysDir)
	if err != nil {
		return fmt.Errorf("initialising ledger keys: %w", err)
	}
	if created {
		logger.Info("generated ledger keys", "dir", cfg.KeysDir)
	}
	l, err := ledger.Open(cfg.LedgerPath, keys)
	if err != nil {
		return err
	}
	if err := l.Verify(); err != nil {
		logger.Warn("ledger verification failed", "path", cfg.LedgerPath, "error", err)
	}

	reporters := core.Reporters{
		&report.Archive{Logs: storage.NewLogStorage(cfg.LogDir), Ledger: l, Logger: logger},
	}
	if cfg.ResultLog != "" {
		rl, err := report.NewResultLog(cfg.ResultLog, logger)
		if err != nil {
			return err
		}
		defer rl.Close()
		reporters = append(reporters, rl)
	}

	secrets := security.ChainProvider{security.EnvProvider{Prefix: "STAGECI_SECRET_"}}
	if cfg.SecretsDir != "" {
		secrets = append(secrets, security.FileProvider{Dir: cfg.SecretsDir})
	}

	registry := tasks.DefaultRegistry(tasks.LogAnnotator{Logger: logger})
	runner := core.NewRunner(workspace.NewProvider(cfg.SourceDir, cfg.WorkspaceRoot), secrets, reporters, logger)
	scheduler := core.NewScheduler(runner, logger)
	scheduler.Supersede = cfg.Supersede
	scheduler.RunTimeout = cfg.RunTimeout
	scheduler.History = cfg.RunHistory

	for _, path := range cfg.Workflows {
		def, err := core.LoadDefinition(path, registry)
		if err != nil {
			return err
		}
		if cfg.WarningsAreErrors != nil {
			def.SetWarningsAreErrors(*cfg.WarningsAreErrors)
		}
		scheduler.Register(def)
		logger.Info("workflow loaded", "workflow", def.Name, "path", path, "jobs", len(def.Pipelines))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := NewServer(ctx, scheduler, registry, l, logger)
	srv.warningsAreErrors = cfg.WarningsAreErrors
	if cfg.WebhookSecretFile != "" {
		secret, err := os.ReadFile(cfg.WebhookSecretFile)
		if err != nil {
			return fmt.Errorf("reading webhook secret: %w", err)
		}
		srv.webhook = webhook.NewHandler([]byte(strings.TrimSpace(string(secret))), logger, func(e core.Event) {
			srv.Dispatch(e)
		})
	} else {
		logger.Warn("webhook endpoint disabled: no webhook secret configured")
	}
	if cfg.APITokenFile != "" {
		token, err := os.ReadFile(cfg.APITokenFile)
		if err != nil {
			return fmt.Errorf("reading api token: %w", err)
		}
		srv.apiToken = []byte(strings.TrimSpace(string(token)))
		if len(srv.apiToken) == 0 {
			return fmt.Errorf("api token file %s is empty", cfg.APITokenFile)
		}
	} else {
		logger.Warn("api endpoints disabled: no api token configured")
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("stageci server listening", "addr", cfg.Addr, "supersede", cfg.Supersede)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	scheduler.Shutdown()
	logger.Info("all runs finished")
	return nil
}
