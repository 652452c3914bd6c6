package core

import (
	"fmt"
	"path"
	"sort"
)

// Validate checks a workflow for structural issues and returns one
// human-readable line per issue. An empty result means the workflow can be
// compiled. resolver may be nil, in which case uses references are not
// checked against the task registry.
func Validate(w *Workflow, resolver TaskResolver) []string {
	var issues []string

	if w.Name == "" {
		issues = append(issues, "name is required")
	}

	if len(w.On) == 0 {
		issues = append(issues, "on: at least one event is required")
	}
	kinds := make([]EventKind, 0, len(w.On))
	for kind := range w.On {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	for _, kind := range kinds {
		branches := w.On[kind]
		if !kind.Valid() {
			issues = append(issues, fmt.Sprintf("on.%s: unsupported event (want push or pull_request)", kind))
			continue
		}
		for i, pattern := range branches {
			if pattern == "" {
				issues = append(issues, fmt.Sprintf("on.%s.branches[%d]: empty branch name", kind, i))
				continue
			}
			if _, err := path.Match(pattern, ""); err != nil {
				issues = append(issues, fmt.Sprintf("on.%s.branches[%d] %q: %v", kind, i, pattern, err))
			}
		}
	}

	if len(w.Jobs) == 0 {
		issues = append(issues, "jobs: at least one job is required")
	}

	keys := make([]string, 0, len(w.Jobs))
	for key := range w.Jobs {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		issues = append(issues, validateJob(key, w.Jobs[key], resolver)...)
	}
	return issues
}

func validateJob(key string, job JobSpec, resolver TaskResolver) []string {
	var issues []string
	prefix := fmt.Sprintf("jobs.%s", key)

	if len(job.Steps) == 0 {
		issues = append(issues, fmt.Sprintf("%s: steps: at least one step is required", prefix))
	}

	names := make(map[string]int, len(job.Steps))
	for i, step := range job.Steps {
		stepPrefix := fmt.Sprintf("%s.steps[%d]", prefix, i)
		if step.Name == "" {
			issues = append(issues, fmt.Sprintf("%s: name is required", stepPrefix))
		} else {
			if first, exists := names[step.Name]; exists {
				issues = append(issues, fmt.Sprintf("%s %q: duplicate step name (first used at steps[%d])", stepPrefix, step.Name, first))
			} else {
				names[step.Name] = i
			}
			stepPrefix = fmt.Sprintf("%s %q", stepPrefix, step.Name)
		}

		hasRun := step.Run != ""
		hasUses := step.Uses != ""
		switch {
		case hasRun && hasUses:
			issues = append(issues, fmt.Sprintf("%s: run and uses are mutually exclusive", stepPrefix))
		case !hasRun && !hasUses:
			issues = append(issues, fmt.Sprintf("%s: one of run or uses is required", stepPrefix))
		}

		if hasRun && len(step.With) > 0 {
			issues = append(issues, fmt.Sprintf("%s: with is only valid on uses steps", stepPrefix))
		}

		if hasUses && !hasRun && resolver != nil {
			adapter, err := resolver.Resolve(step.Uses)
			if err != nil {
				issues = append(issues, fmt.Sprintf("%s: %v", stepPrefix, err))
				continue
			}
			for _, issue := range adapter.Validate(step.With) {
				issues = append(issues, fmt.Sprintf("%s: %s", stepPrefix, issue))
			}
		}
	}
	return issues
}
