// Package config loads stageci settings: built-in defaults, then an
// optional YAML file, then STAGECI_* environment variables. Binaries apply
// their command-line flags on top.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// Addr is the server listen address.
	Addr string `yaml:"addr"`

	// Workflows are definition files registered at server start.
	Workflows []string `yaml:"workflows"`

	// SourceDir is the checked-out source tree copied into each run.
	SourceDir string `yaml:"source_dir"`

	// WorkspaceRoot is the parent of per-run working copies.
	WorkspaceRoot string `yaml:"workspace_root"`

	LogDir     string `yaml:"log_dir"`
	LedgerPath string `yaml:"ledger"`
	KeysDir    string `yaml:"keys_dir"`

	// ResultLog, when set, receives JSONL run results.
	ResultLog string `yaml:"result_log"`

	// WebhookSecretFile holds the HMAC secret for /webhook. Without it the
	// webhook endpoint is disabled.
	WebhookSecretFile string `yaml:"webhook_secret_file"`

	// APITokenFile holds the bearer token required by the endpoints that
	// register workflows, dispatch events and cancel runs. Without it those
	// endpoints refuse every request.
	APITokenFile string `yaml:"api_token_file"`

	// SecretsDir holds one file per pipeline secret. Environment variables
	// named STAGECI_SECRET_<NAME> are consulted first.
	SecretsDir string `yaml:"secrets_dir"`

	LogLevel string `yaml:"log_level"`

	// WarningsAreErrors overrides every job's warnings policy when set.
	WarningsAreErrors *bool `yaml:"warnings_are_errors"`

	// Supersede cancels an older in-flight run of the same job and branch.
	Supersede bool `yaml:"supersede"`

	// RunTimeout bounds each run; zero means no limit.
	RunTimeout time.Duration `yaml:"run_timeout"`

	// RunHistory is how many finished runs the server keeps visible.
	RunHistory int `yaml:"run_history"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Addr:          ":8080",
		WorkspaceRoot: filepath.Join(os.TempDir(), "stageci"),
		LogDir:        "./logs",
		LedgerPath:    "./ledger.jsonl",
		KeysDir:       "./keys",
		LogLevel:      "info",
		RunHistory:    100,
	}
}

// Load reads path (skipped when empty) over the defaults and applies the
// environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if port, ok := lookup("PORT"); ok && port != "" {
		c.Addr = ":" + port
	}
	strs := map[string]*string{
		"STAGECI_ADDR":                &c.Addr,
		"STAGECI_SOURCE_DIR":          &c.SourceDir,
		"STAGECI_WORKSPACE_ROOT":      &c.WorkspaceRoot,
		"STAGECI_LOG_DIR":             &c.LogDir,
		"STAGECI_LEDGER":              &c.LedgerPath,
		"STAGECI_KEYS_DIR":            &c.KeysDir,
		"STAGECI_RESULT_LOG":          &c.ResultLog,
		"STAGECI_WEBHOOK_SECRET_FILE": &c.WebhookSecretFile,
		"STAGECI_API_TOKEN_FILE":      &c.APITokenFile,
		"STAGECI_SECRETS_DIR":         &c.SecretsDir,
		"STAGECI_LOG_LEVEL":           &c.LogLevel,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	if v, ok := lookup("STAGECI_WORKFLOWS"); ok {
		c.Workflows = filepath.SplitList(v)
	}
	if v, ok := lookup("STAGECI_WARNINGS_ARE_ERRORS"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("STAGECI_WARNINGS_ARE_ERRORS: %w", err)
		}
		c.WarningsAreErrors = &b
	}
	if v, ok := lookup("STAGECI_SUPERSEDE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("STAGECI_SUPERSEDE: %w", err)
		}
		c.Supersede = b
	}
	if v, ok := lookup("STAGECI_RUN_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("STAGECI_RUN_TIMEOUT: %w", err)
		}
		c.RunTimeout = d
	}
	if v, ok := lookup("STAGECI_RUN_HISTORY"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("STAGECI_RUN_HISTORY: %w", err)
		}
		c.RunHistory = n
	}
	return nil
}

// Validate checks values that would otherwise fail late.
func (c Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	if c.RunTimeout < 0 {
		errs = append(errs, errors.New("run_timeout must not be negative"))
	}
	if c.RunHistory < 0 {
		errs = append(errs, errors.New("run_history must not be negative"))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.SourceDir != "" {
		if info, err := os.Stat(c.SourceDir); err != nil {
			errs = append(errs, fmt.Errorf("source_dir: %w", err))
		} else if !info.IsDir() {
			errs = append(errs, fmt.Errorf("source_dir %s is not a directory", c.SourceDir))
		}
	}
	return errors.Join(errs...)
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("log_level: unknown level %q", s)
}

// NewLogger builds the process logger: text records on stderr at the
// configured level.
func (c Config) NewLogger() *slog.Logger {
	level, err := ParseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
