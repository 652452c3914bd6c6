// Package report provides run observers: a styled console printer, a JSONL
// result log, and an archive that stores step logs and records outcomes in
// the ledger. Every reporter's methods are no-ops on a nil receiver.
package report

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"stageci/internal/core"
)

var (
	okStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	failStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	cancelStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true)
	headerStyle    = lipgloss.NewStyle().Bold(true)
	dimStyle       = lipgloss.NewStyle().Faint(true)
	outputBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(lipgloss.Color("1")).
			PaddingLeft(1)
)

// Console prints human-readable progress, one line per step, and the
// captured output of the step that failed.
type Console struct {
	mu sync.Mutex
	w  io.Writer

	// Verbose prints the output of every step, not only the failing one.
	Verbose bool
}

func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

func (c *Console) RunStarted(run *core.Run) {
	if c == nil {
		return
	}
	c.printf("%s %s (%d steps) on %s %s\n",
		headerStyle.Render("==> "+run.Pipeline.Name()),
		dimStyle.Render(run.ID),
		len(run.Pipeline.Steps),
		run.Event.Kind, run.Event.Branch,
	)
}

func (c *Console) StepStarted(*core.Run, int, *core.Step) {}

func (c *Console) StepFinished(run *core.Run, result core.StepResult) {
	if c == nil {
		return
	}
	var status string
	switch result.Status {
	case core.StepOK:
		status = okStyle.Render("ok")
	case core.StepCancelled:
		status = cancelStyle.Render("cancelled")
	default:
		status = failStyle.Render("failed")
	}
	c.printf("step %d/%d: %s... %s (%s)\n",
		result.Index, len(run.Pipeline.Steps), result.Label, status, formatDuration(result))

	for _, a := range result.Annotations {
		c.printf("  %s\n", dimStyle.Render(a.String()))
	}
	if c.Verbose || result.Status == core.StepFailed {
		if out := strings.TrimRight(result.Output, "\n"); out != "" {
			c.printf("%s\n", outputBoxStyle.Render(out))
		}
	}
}

func (c *Console) RunFinished(run *core.Run, outcome core.Outcome) {
	if c == nil {
		return
	}
	switch outcome.State {
	case core.StateSucceeded:
		c.printf("%s %s\n", okStyle.Render("PASS"), run.Pipeline.Name())
	case core.StateCancelled:
		c.printf("%s %s: %s\n", cancelStyle.Render("CANCELLED"), run.Pipeline.Name(), outcome)
	default:
		c.printf("%s %s: %s\n", failStyle.Render("FAIL"), run.Pipeline.Name(), outcome)
		if outcome.StepIndex == 0 && outcome.Error != "" {
			c.printf("%s\n", outputBoxStyle.Render(outcome.Error))
		}
	}
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, format, args...)
}

func formatDuration(result core.StepResult) string {
	return fmt.Sprintf("%.1fs", result.Duration.Seconds())
}
