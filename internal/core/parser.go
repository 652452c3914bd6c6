package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// ParseWorkflow parses YAML content into a Workflow.
func ParseWorkflow(data []byte) (*Workflow, error) {
	var w Workflow
	if err := yaml.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("parsing workflow: %w", err)
	}
	return &w, nil
}

// ParseWorkflowJSONC strips comments and trailing commas, then parses the
// JSON document into a Workflow.
func ParseWorkflowJSONC(data []byte) (*Workflow, error) {
	var w Workflow
	if err := json.Unmarshal(jsonc.ToJSON(data), &w); err != nil {
		return nil, fmt.Errorf("parsing workflow: %w", err)
	}
	return &w, nil
}

// LoadWorkflow reads a workflow file. .json and .jsonc files are parsed as
// JSONC, everything else as YAML.
func LoadWorkflow(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var w *Workflow
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		w, err = ParseWorkflowJSONC(data)
	default:
		w, err = ParseWorkflow(data)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if w.Name == "" {
		w.Name = NameFromPath(path)
	}
	return w, nil
}

// ValidationError carries every issue found in a workflow.
type ValidationError struct {
	Workflow string
	Issues   []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("workflow %q has validation errors:\n  %s", e.Workflow, strings.Join(e.Issues, "\n  "))
}

// Build validates w and compiles it. Unknown task references, missing
// steps and malformed descriptors are reported here, before any run.
func Build(w *Workflow, resolver TaskResolver) (*Definition, error) {
	if issues := Validate(w, resolver); len(issues) > 0 {
		return nil, &ValidationError{Workflow: w.Name, Issues: issues}
	}
	return compile(w, resolver)
}

// LoadDefinition reads, validates and compiles a workflow file.
func LoadDefinition(path string, resolver TaskResolver) (*Definition, error) {
	w, err := LoadWorkflow(path)
	if err != nil {
		return nil, err
	}
	return Build(w, resolver)
}

// ParseDefinition parses YAML content, validates and compiles it. name is
// used when the document has no name of its own.
func ParseDefinition(data []byte, name string, resolver TaskResolver) (*Definition, error) {
	w, err := ParseWorkflow(data)
	if err != nil {
		return nil, err
	}
	if w.Name == "" {
		w.Name = name
	}
	return Build(w, resolver)
}

// NameFromPath strips the directory and extension from a workflow path.
func NameFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
