package core

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// DefaultHistory is how many finished runs a new Scheduler remembers.
const DefaultHistory = 100

// Scheduler turns triggering events into runs. Each matching job gets its
// own run, started on its own goroutine with its own working copy; steps
// within a run stay strictly sequential.
type Scheduler struct {
	runner *Runner
	logger *slog.Logger

	// Supersede cancels an in-flight run when a newer event starts the
	// same workflow job on the same branch.
	Supersede bool

	// RunTimeout, when positive, bounds each run. A run that exceeds it
	// ends cancelled.
	RunTimeout time.Duration

	// History is how many finished runs stay visible through Run and
	// Runs. Older finished runs are forgotten; zero forgets a run as soon
	// as it records its outcome.
	History int

	mu          sync.Mutex
	definitions map[string]*Definition
	runs        map[string]*runState
	finished    []string          // finished run IDs, oldest first
	latest      map[string]string // supersede key -> in-flight run ID
	closed      bool
	wg          sync.WaitGroup
}

type runState struct {
	run    *Run
	cancel context.CancelFunc
	done   chan struct{}
	key    string
}

// Handle refers to a started run.
type Handle struct {
	ID  string
	Run *Run

	done <-chan struct{}
}

// Done is closed once the run has reached a terminal state.
func (h Handle) Done() <-chan struct{} { return h.done }

func NewScheduler(runner *Runner, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		runner:      runner,
		logger:      logger,
		definitions: make(map[string]*Definition),
		runs:        make(map[string]*runState),
		latest:      make(map[string]string),
		History:     DefaultHistory,
	}
}

// Register adds or replaces a definition by name.
func (s *Scheduler) Register(def *Definition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.definitions[def.Name] = def
}

// Definitions returns the registered definitions sorted by name.
func (s *Scheduler) Definitions() []*Definition {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Definition, 0, len(s.definitions))
	for _, def := range s.definitions {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Dispatch starts one run per job of every registered definition whose
// branch filter matches event. Events matching nothing start no runs.
// Runs derive from ctx, so ctx must outlive them.
func (s *Scheduler) Dispatch(ctx context.Context, event Event) []Handle {
	var handles []Handle
	for _, def := range s.Definitions() {
		if !def.Matches(event) {
			s.logger.Debug("event does not match workflow",
				"workflow", def.Name, "event", event.Kind, "branch", event.Branch)
			continue
		}
		for _, p := range def.Pipelines {
			h, err := s.Start(ctx, p, event)
			if err != nil {
				s.logger.Warn("run not started", "pipeline", p.Name(), "error", err)
				return handles
			}
			handles = append(handles, h)
		}
	}
	if len(handles) == 0 {
		s.logger.Info("event matched no workflow", "event", event.Kind, "branch", event.Branch)
	}
	return handles
}

// Start runs p for event without consulting branch filters. It fails
// with ErrSchedulerClosed once Shutdown has been called.
func (s *Scheduler) Start(ctx context.Context, p *Pipeline, event Event) (Handle, error) {
	run := NewRun(p, event)
	state := &runState{
		run:  run,
		done: make(chan struct{}),
		key:  fmt.Sprintf("%s@%s", p.Name(), event.Branch),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Handle{}, ErrSchedulerClosed
	}
	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if s.RunTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, s.RunTimeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	state.cancel = cancel
	s.runs[run.ID] = state
	var superseded *runState
	if s.Supersede {
		if prevID, ok := s.latest[state.key]; ok {
			if prev := s.runs[prevID]; prev != nil && !prev.run.State().Terminal() {
				superseded = prev
			}
		}
	}
	s.latest[state.key] = run.ID
	s.wg.Add(1)
	s.mu.Unlock()

	if superseded != nil {
		s.logger.Info("cancelling superseded run", "run", superseded.run.ID, "by", run.ID)
		superseded.cancel()
	}

	go func() {
		defer s.wg.Done()
		defer cancel()
		s.runner.Execute(runCtx, run)
		s.retire(state)
		close(state.done)
	}()

	return Handle{ID: run.ID, Run: run, done: state.done}, nil
}

// retire moves a finished run into the history and forgets whatever falls
// out of it.
func (s *Scheduler) retire(state *runState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest[state.key] == state.run.ID {
		delete(s.latest, state.key)
	}
	s.finished = append(s.finished, state.run.ID)
	for len(s.finished) > max(s.History, 0) {
		delete(s.runs, s.finished[0])
		s.finished = s.finished[1:]
	}
}

// Cancel stops a run. The in-flight step is killed and the run ends
// cancelled. Cancelling a finished run returns ErrRunFinished.
func (s *Scheduler) Cancel(id string) error {
	s.mu.Lock()
	state, ok := s.runs[id]
	s.mu.Unlock()
	if !ok {
		return ErrRunNotFound
	}
	if state.run.State().Terminal() {
		return ErrRunFinished
	}
	state.cancel()
	return nil
}

// Run returns a run by ID.
func (s *Scheduler) Run(id string) (*Run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.runs[id]
	if !ok {
		return nil, false
	}
	return state.run, true
}

// Runs returns every known run, oldest first.
func (s *Scheduler) Runs() []*Run {
	s.mu.Lock()
	out := make([]*Run, 0, len(s.runs))
	for _, state := range s.runs {
		out = append(out, state.run)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Shutdown refuses new runs, cancels every in-flight run and waits for
// all of them to record their outcome.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	s.closed = true
	for _, state := range s.runs {
		state.cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}
