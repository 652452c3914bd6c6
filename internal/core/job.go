package core

// JobSpec is one entry of a workflow's jobs mapping, as written in the
// definition file. It compiles to exactly one Pipeline.
type JobSpec struct {
	Name   string `yaml:"name" json:"name"`       // display label; defaults to the job key
	RunsOn string `yaml:"runs-on" json:"runs-on"` // execution environment descriptor, opaque

	// WarningsAreErrors decides whether packaged lint tasks fail the step
	// on warnings. Nil means the default (true).
	WarningsAreErrors *bool `yaml:"warnings-are-errors" json:"warnings-are-errors"`

	Env   map[string]string `yaml:"env" json:"env"`
	Steps []StepSpec        `yaml:"steps" json:"steps"`
}

// StepSpec is a step descriptor. Exactly one of Run or Uses is set.
type StepSpec struct {
	Name string            `yaml:"name" json:"name"`
	Run  string            `yaml:"run" json:"run"`   // shell command
	Uses string            `yaml:"uses" json:"uses"` // packaged task reference
	With map[string]string `yaml:"with" json:"with"` // task parameters (uses only)
	Env  map[string]string `yaml:"env" json:"env"`
}
