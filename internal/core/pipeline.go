package core

import (
	"sort"

	"stageci/internal/security"
)

// Workflow is the parsed definition document: a name, the events that
// trigger it, and its jobs.
type Workflow struct {
	Name string             `yaml:"name" json:"name"`
	On   Triggers           `yaml:"on" json:"on"`
	Env  map[string]string  `yaml:"env" json:"env"`
	Jobs map[string]JobSpec `yaml:"jobs" json:"jobs"`
}

// Definition is a validated workflow compiled into executable pipelines,
// one per job, ordered by job key.
type Definition struct {
	Name      string
	Triggers  Triggers
	Pipelines []*Pipeline
}

// Matches reports whether event should start runs of this definition.
func (d *Definition) Matches(event Event) bool {
	return d.Triggers.Matches(event)
}

// Pipeline returns the pipeline compiled from the given job key.
func (d *Definition) Pipeline(job string) (*Pipeline, bool) {
	for _, p := range d.Pipelines {
		if p.Job == job {
			return p, true
		}
	}
	return nil, false
}

// SetWarningsAreErrors overrides the warnings policy of every pipeline.
func (d *Definition) SetWarningsAreErrors(v bool) {
	for _, p := range d.Pipelines {
		p.WarningsAreErrors = v
	}
}

// Pipeline is an ordered, non-empty sequence of steps. The order is fixed
// when the definition is compiled.
type Pipeline struct {
	Workflow          string
	Job               string
	Label             string
	RunsOn            string
	WarningsAreErrors bool
	Env               map[string]string
	Steps             []*Step
}

// Name identifies the pipeline as "<workflow>/<job>".
func (p *Pipeline) Name() string {
	return p.Workflow + "/" + p.Job
}

// SecretRefs lists the secret names referenced anywhere in the pipeline,
// sorted and de-duplicated.
func (p *Pipeline) SecretRefs() []string {
	seen := make(map[string]struct{})
	collect := func(s string) {
		for _, name := range security.References(s) {
			seen[name] = struct{}{}
		}
	}
	for _, v := range p.Env {
		collect(v)
	}
	for _, step := range p.Steps {
		if sc, ok := step.Action.(ShellCommand); ok {
			collect(sc.Command)
		}
		for _, v := range step.With {
			collect(v)
		}
		for _, v := range step.Env {
			collect(v)
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Step is one named unit of work.
type Step struct {
	Label  string
	Action Action
	With   map[string]string
	Env    map[string]string
}

// compile turns a validated workflow into a Definition. Validate must have
// returned no issues for w.
func compile(w *Workflow, resolver TaskResolver) (*Definition, error) {
	keys := make([]string, 0, len(w.Jobs))
	for key := range w.Jobs {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	def := &Definition{Name: w.Name, Triggers: w.On}
	for _, key := range keys {
		job := w.Jobs[key]
		label := job.Name
		if label == "" {
			label = key
		}
		p := &Pipeline{
			Workflow:          w.Name,
			Job:               key,
			Label:             label,
			RunsOn:            job.RunsOn,
			WarningsAreErrors: job.WarningsAreErrors == nil || *job.WarningsAreErrors,
			Env:               mergeEnv(w.Env, job.Env),
		}
		for _, spec := range job.Steps {
			action, err := newAction(spec, resolver)
			if err != nil {
				return nil, err
			}
			p.Steps = append(p.Steps, &Step{
				Label:  spec.Name,
				Action: action,
				With:   spec.With,
				Env:    spec.Env,
			})
		}
		def.Pipelines = append(def.Pipelines, p)
	}
	return def, nil
}

func mergeEnv(layers ...map[string]string) map[string]string {
	merged := make(map[string]string)
	for _, layer := range layers {
		for k, v := range layer {
			merged[k] = v
		}
	}
	return merged
}
