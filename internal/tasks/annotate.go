package tasks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"stageci/internal/core"
)

// Annotator publishes lint annotations to an external integration.
type Annotator interface {
	Publish(ctx context.Context, step string, annotations []core.Annotation) error
}

// LogAnnotator publishes annotations as structured log records.
type LogAnnotator struct {
	Logger *slog.Logger
}

func (a LogAnnotator) Publish(_ context.Context, step string, annotations []core.Annotation) error {
	logger := a.Logger
	if logger == nil {
		logger = slog.Default()
	}
	for _, ann := range annotations {
		level := slog.LevelWarn
		if ann.Level == "error" {
			level = slog.LevelError
		}
		logger.Log(context.Background(), level, ann.Message,
			"step", step,
			"file", ann.File,
			"line", ann.Line,
			"column", ann.Column,
		)
	}
	return nil
}

// WorkflowCommandAnnotator writes annotations as workflow commands
// ("::warning file=f,line=1,col=2::message"), the format CI platforms
// pick up from a job's standard output.
type WorkflowCommandAnnotator struct {
	mu sync.Mutex
	W  io.Writer
}

func (a *WorkflowCommandAnnotator) Publish(_ context.Context, step string, annotations []core.Annotation) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, ann := range annotations {
		if _, err := io.WriteString(a.W, FormatWorkflowCommand(step, ann)+"\n"); err != nil {
			return fmt.Errorf("writing annotation: %w", err)
		}
	}
	return nil
}

// FormatWorkflowCommand renders one annotation as a workflow command.
func FormatWorkflowCommand(step string, ann core.Annotation) string {
	props := []string{"title=" + escapeProperty(step)}
	if ann.File != "" {
		props = append(props,
			"file="+escapeProperty(ann.File),
			fmt.Sprintf("line=%d", ann.Line),
			fmt.Sprintf("col=%d", ann.Column),
		)
	}
	return fmt.Sprintf("::%s %s::%s", ann.Level, strings.Join(props, ","), escapeData(ann.Message))
}

func escapeData(s string) string {
	return strings.NewReplacer("%", "%25", "\r", "%0D", "\n", "%0A").Replace(s)
}

func escapeProperty(s string) string {
	return strings.NewReplacer("%", "%25", "\r", "%0D", "\n", "%0A", ":", "%3A", ",", "%2C").Replace(s)
}

// Annotators publishes to each annotator in turn and joins their errors.
type Annotators []Annotator

func (as Annotators) Publish(ctx context.Context, step string, annotations []core.Annotation) error {
	var errs []error
	for _, a := range as {
		if err := a.Publish(ctx, step, annotations); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
