package orchestrator

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseDefinitionYAML decodes and validates a workflow definition.
func ParseDefinitionYAML(data []byte) (*Definition, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("workflow: definition payload is empty")
	}
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("workflow: decode definition: %w", err)
	}
	return def.normalized()
}

// LoadDefinitionFile loads a workflow definition from path.
func LoadDefinitionFile(path string) (*Definition, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("workflow: read %s: %w", path, err)
	}
	def, err := ParseDefinitionYAML(content)
	if err != nil {
		return nil, fmt.Errorf("workflow: %s: %w", path, err)
	}
	return def, nil
}

// LoadDir loads every *.yaml and *.yml file in dir, sorted by file name. An
// empty dir loads nothing.
func LoadDir(dir string) ([]*Definition, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("workflow: read dir %s: %w", dir, err)
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".yaml", ".yml":
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(paths)
	defs := make([]*Definition, 0, len(paths))
	for _, path := range paths {
		def, err := LoadDefinitionFile(path)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// normalized returns a trimmed copy of d after validation. Event names and
// stage keys are upper-cased to match what callers submit; state names keep
// their case.
func (d Definition) normalized() (*Definition, error) {
	out := d
	out.Name = strings.TrimSpace(d.Name)
	out.InitialState = strings.TrimSpace(d.InitialState)
	out.States = make(map[string]State, len(d.States))
	for name, state := range d.States {
		name = strings.TrimSpace(name)
		normalized, err := cloneState(state)
		if err != nil {
			return nil, fmt.Errorf("workflow: state %s: %w", name, err)
		}
		out.States[name] = normalized
	}
	out.StageEvents = make(map[string]string, len(d.StageEvents))
	for stageName, event := range d.StageEvents {
		out.StageEvents[eventName(stageName)] = eventName(event)
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return &out, nil
}

func eventName(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func cloneState(s State) (State, error) {
	out := State{
		OnEnter:     cloneActions(s.OnEnter),
		Transitions: make(map[string]Transition, len(s.Transitions)),
	}
	if s.RequiresApprovals != nil {
		out.RequiresApprovals = make([]string, len(s.RequiresApprovals))
		for i, approval := range s.RequiresApprovals {
			out.RequiresApprovals[i] = eventName(approval)
		}
	}
	for event, tr := range s.Transitions {
		key := eventName(event)
		if _, dup := out.Transitions[key]; dup {
			return State{}, fmt.Errorf("transition %q declared twice", key)
		}
		out.Transitions[key] = Transition{To: strings.TrimSpace(tr.To), Actions: cloneActions(tr.Actions)}
	}
	return out, nil
}

func cloneActions(actions []Action) []Action {
	if len(actions) == 0 {
		return nil
	}
	out := make([]Action, len(actions))
	for i, a := range actions {
		out[i] = Action{EnqueueAgent: strings.ToUpper(strings.TrimSpace(a.EnqueueAgent))}
		if len(a.Params) > 0 {
			out[i].Params = make(map[string]string, len(a.Params))
			for k, v := range a.Params {
				out[i].Params[k] = v
			}
		}
	}
	return out
}
