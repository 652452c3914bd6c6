package core

// Reporter observes run progress. Implementations must not block for long:
// they are called synchronously from the run's goroutine.
type Reporter interface {
	RunStarted(run *Run)
	StepStarted(run *Run, index int, step *Step)
	StepFinished(run *Run, result StepResult)
	RunFinished(run *Run, outcome Outcome)
}

// Reporters fans every call out to each non-nil reporter in order.
type Reporters []Reporter

func (rs Reporters) RunStarted(run *Run) {
	for _, r := range rs {
		if r != nil {
			r.RunStarted(run)
		}
	}
}

func (rs Reporters) StepStarted(run *Run, index int, step *Step) {
	for _, r := range rs {
		if r != nil {
			r.StepStarted(run, index, step)
		}
	}
}

func (rs Reporters) StepFinished(run *Run, result StepResult) {
	for _, r := range rs {
		if r != nil {
			r.StepFinished(run, result)
		}
	}
}

func (rs Reporters) RunFinished(run *Run, outcome Outcome) {
	for _, r := range rs {
		if r != nil {
			r.RunFinished(run, outcome)
		}
	}
}
