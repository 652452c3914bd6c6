package report

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"stageci/internal/core"
)

// ResultLog appends one JSON object per line for run start, each step,
// and the outcome. Completed lines survive a crash mid-run.
type ResultLog struct {
	mu      sync.Mutex
	file    *os.File
	encoder *json.Encoder
	logger  *slog.Logger
}

type resultEntry struct {
	Type       string           `json:"type"` // start, step, succeeded, failed, cancelled
	RunID      string           `json:"runId"`
	Pipeline   string           `json:"pipeline"`
	Timestamp  string           `json:"timestamp"`
	Event      *core.Event      `json:"event,omitempty"`
	StepCount  int              `json:"stepCount,omitempty"`
	Step       *core.StepResult `json:"step,omitempty"`
	Outcome    *core.Outcome    `json:"outcome,omitempty"`
	DurationMS int64            `json:"durationMs,omitempty"`
}

// NewResultLog opens path for appending.
func NewResultLog(path string, logger *slog.Logger) (*ResultLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening result log %s: %w", path, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ResultLog{file: f, encoder: json.NewEncoder(f), logger: logger}, nil
}

func (r *ResultLog) Close() error {
	if r == nil {
		return nil
	}
	return r.file.Close()
}

func (r *ResultLog) RunStarted(run *core.Run) {
	if r == nil {
		return
	}
	event := run.Event
	r.write(resultEntry{
		Type:      "start",
		RunID:     run.ID,
		Pipeline:  run.Pipeline.Name(),
		Event:     &event,
		StepCount: len(run.Pipeline.Steps),
	})
}

func (r *ResultLog) StepStarted(*core.Run, int, *core.Step) {}

func (r *ResultLog) StepFinished(run *core.Run, result core.StepResult) {
	if r == nil {
		return
	}
	r.write(resultEntry{
		Type:     "step",
		RunID:    run.ID,
		Pipeline: run.Pipeline.Name(),
		Step:     &result,
	})
}

func (r *ResultLog) RunFinished(run *core.Run, outcome core.Outcome) {
	if r == nil {
		return
	}
	started, ended := run.Times()
	r.write(resultEntry{
		Type:       string(outcome.State),
		RunID:      run.ID,
		Pipeline:   run.Pipeline.Name(),
		Outcome:    &outcome,
		DurationMS: ended.Sub(started).Milliseconds(),
	})
}

func (r *ResultLog) write(entry resultEntry) {
	entry.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.encoder.Encode(entry); err != nil {
		r.logger.Warn("writing result log entry", "type", entry.Type, "error", err)
	}
}
