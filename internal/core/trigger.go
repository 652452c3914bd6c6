package core

import (
	"encoding/json"
	"fmt"
	"path"

	"gopkg.in/yaml.v3"
)

// EventKind is the kind of source-control event that can start runs.
type EventKind string

const (
	EventPush        EventKind = "push"
	EventPullRequest EventKind = "pull_request"
)

// Valid reports whether k is a supported event kind.
func (k EventKind) Valid() bool {
	return k == EventPush || k == EventPullRequest
}

// Event is a triggering event. For pull requests Branch is the target
// (base) branch.
type Event struct {
	Kind       EventKind `json:"kind"`
	Branch     string    `json:"branch"`
	Repository string    `json:"repository,omitempty"`
	Commit     string    `json:"commit,omitempty"`
	DeliveryID string    `json:"deliveryId,omitempty"`
}

// Triggers maps event kinds to branch filters. An empty filter matches
// every branch. Filter entries are exact names or path.Match globs.
type Triggers map[EventKind][]string

// Matches reports whether event passes the filter.
func (t Triggers) Matches(event Event) bool {
	branches, ok := t[event.Kind]
	if !ok {
		return false
	}
	if len(branches) == 0 {
		return true
	}
	for _, pattern := range branches {
		if pattern == event.Branch {
			return true
		}
		if ok, err := path.Match(pattern, event.Branch); err == nil && ok {
			return true
		}
	}
	return false
}

type branchFilter struct {
	Branches []string `yaml:"branches" json:"branches"`
}

// UnmarshalYAML accepts the scalar ("push"), sequence ([push, pull_request])
// and mapping (push: {branches: [main]}) forms.
func (t *Triggers) UnmarshalYAML(node *yaml.Node) error {
	out := make(Triggers)
	switch node.Kind {
	case yaml.ScalarNode:
		out[EventKind(node.Value)] = nil
	case yaml.SequenceNode:
		var kinds []string
		if err := node.Decode(&kinds); err != nil {
			return err
		}
		for _, k := range kinds {
			out[EventKind(k)] = nil
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			key, value := node.Content[i], node.Content[i+1]
			var filter branchFilter
			if !(value.Kind == yaml.ScalarNode && value.Tag == "!!null") {
				if err := value.Decode(&filter); err != nil {
					return fmt.Errorf("on.%s: %w", key.Value, err)
				}
			}
			out[EventKind(key.Value)] = filter.Branches
		}
	default:
		return fmt.Errorf("on: unsupported node at line %d", node.Line)
	}
	*t = out
	return nil
}

// UnmarshalJSON accepts the same three forms as UnmarshalYAML.
func (t *Triggers) UnmarshalJSON(data []byte) error {
	out := make(Triggers)

	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		out[EventKind(single)] = nil
		*t = out
		return nil
	}

	var kinds []string
	if err := json.Unmarshal(data, &kinds); err == nil {
		for _, k := range kinds {
			out[EventKind(k)] = nil
		}
		*t = out
		return nil
	}

	var mapping map[string]*branchFilter
	if err := json.Unmarshal(data, &mapping); err != nil {
		return fmt.Errorf("on: %w", err)
	}
	for k, filter := range mapping {
		if filter == nil {
			out[EventKind(k)] = nil
			continue
		}
		out[EventKind(k)] = filter.Branches
	}
	*t = out
	return nil
}
