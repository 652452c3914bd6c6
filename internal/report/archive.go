package report

import (
	"log/slog"

	"stageci/internal/core"
	"stageci/internal/ledger"
	"stageci/internal/storage"
	"stageci/pkg/utils"
)

// Archive stores each step's output and appends a ledger entry per step
// plus one for the run outcome. Recording is best effort: a failure is
// logged and never changes the run's outcome.
type Archive struct {
	Logs   *storage.LogStorage
	Ledger *ledger.Ledger
	Logger *slog.Logger
}

func (a *Archive) RunStarted(*core.Run) {}

func (a *Archive) StepStarted(*core.Run, int, *core.Step) {}

func (a *Archive) StepFinished(run *core.Run, result core.StepResult) {
	if a == nil {
		return
	}
	logger := a.logger().With("run", run.ID, "step", result.Index)

	entry := &ledger.Entry{
		Kind:      ledger.KindStep,
		RunID:     run.ID,
		Pipeline:  run.Pipeline.Name(),
		Branch:    run.Event.Branch,
		StepIndex: result.Index,
		Step:      result.Label,
		Status:    string(result.Status),
		LogHash:   utils.HashString(result.Output),
	}

	if a.Logs != nil {
		path, err := a.Logs.SaveLog(run.ID, result.Index, result.Label, result.Output)
		if err != nil {
			logger.Warn("saving step log", "error", err)
		} else if hash, err := utils.HashFile(path); err != nil {
			logger.Warn("hashing step log", "error", err)
		} else {
			entry.LogPath = path
			entry.LogHash = hash
		}
	}
	a.append(logger, entry)
}

func (a *Archive) RunFinished(run *core.Run, outcome core.Outcome) {
	if a == nil {
		return
	}
	a.append(a.logger().With("run", run.ID), &ledger.Entry{
		Kind:      ledger.KindOutcome,
		RunID:     run.ID,
		Pipeline:  run.Pipeline.Name(),
		Branch:    run.Event.Branch,
		StepIndex: outcome.StepIndex,
		Step:      outcome.StepLabel,
		Status:    string(outcome.State),
		LogHash:   utils.HashString(outcome.Fingerprint + "\x00" + outcome.Output),
	})
}

func (a *Archive) append(logger *slog.Logger, entry *ledger.Entry) {
	if a.Ledger == nil {
		return
	}
	if err := a.Ledger.Append(entry); err != nil {
		logger.Warn("appending ledger entry", "error", err)
		return
	}
	logger.Debug("ledger entry appended", "index", entry.Index, "hash", entry.Hash[:16])
}

func (a *Archive) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}
