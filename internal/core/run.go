package core

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of a run.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether no further transition is possible from s.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// SetupLabel labels the pseudo-step covering working copy provisioning and
// secret resolution. Failures there carry StepIndex 0.
const SetupLabel = "Set up run"

// Outcome is the terminal result of a run. For failed and cancelled runs
// StepIndex (1-based) and StepLabel identify the step that did not
// complete; no step after it was invoked.
type Outcome struct {
	State       State       `json:"state"`
	StepIndex   int         `json:"stepIndex,omitempty"`
	StepLabel   string      `json:"stepLabel,omitempty"`
	Kind        FailureKind `json:"kind,omitempty"`
	Error       string      `json:"error,omitempty"`
	Output      string      `json:"output,omitempty"`
	Fingerprint string      `json:"fingerprint,omitempty"`
}

func (o Outcome) Succeeded() bool { return o.State == StateSucceeded }

func (o Outcome) String() string {
	switch o.State {
	case StateSucceeded:
		return "success"
	case StateFailed:
		return fmt.Sprintf("failure at step %d (%s): %s", o.StepIndex, o.StepLabel, o.Error)
	case StateCancelled:
		return fmt.Sprintf("cancelled at step %d (%s)", o.StepIndex, o.StepLabel)
	default:
		return string(o.State)
	}
}

// StepStatus is the result of one invoked step.
type StepStatus string

const (
	StepOK        StepStatus = "ok"
	StepFailed    StepStatus = "failed"
	StepCancelled StepStatus = "cancelled"
)

// StepResult records one invoked step. Steps that never ran have none.
type StepResult struct {
	Index       int           `json:"index"` // 1-based
	Label       string        `json:"label"`
	Status      StepStatus    `json:"status"`
	ExitCode    int           `json:"exitCode"`
	Output      string        `json:"output"`
	Error       string        `json:"error,omitempty"`
	Kind        FailureKind   `json:"kind,omitempty"`
	Duration    time.Duration `json:"duration"`
	Annotations []Annotation  `json:"annotations,omitempty"`
}

// Run is one execution of a pipeline, created for one triggering event.
type Run struct {
	ID        string
	Pipeline  *Pipeline
	Event     Event
	CreatedAt time.Time

	mu        sync.Mutex
	state     State
	startedAt time.Time
	endedAt   time.Time
	outcome   Outcome
	steps     []StepResult
}

// NewRun creates a pending run of p for event.
func NewRun(p *Pipeline, event Event) *Run {
	return &Run{
		ID:        uuid.NewString(),
		Pipeline:  p,
		Event:     event,
		CreatedAt: time.Now().UTC(),
		state:     StatePending,
	}
}

func (r *Run) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Outcome returns the terminal outcome, or false while the run is not
// finished.
func (r *Run) Outcome() (Outcome, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outcome, r.state.Terminal()
}

// Steps returns a copy of the results of the steps invoked so far.
func (r *Run) Steps() []StepResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]StepResult, len(r.steps))
	copy(out, r.steps)
	return out
}

// Times returns when the run started and ended (zero while unset).
func (r *Run) Times() (started, ended time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.startedAt, r.endedAt
}

func (r *Run) start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StatePending {
		return fmt.Errorf("run %s: cannot start from state %s", r.ID, r.state)
	}
	r.state = StateRunning
	r.startedAt = time.Now().UTC()
	return nil
}

func (r *Run) record(res StepResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, res)
}

// finish moves the run to the outcome's terminal state. It is a no-op on an
// already finished run.
func (r *Run) finish(o Outcome) Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Terminal() {
		return r.outcome
	}
	r.state = o.State
	r.outcome = o
	r.endedAt = time.Now().UTC()
	return o
}
