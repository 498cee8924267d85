package orchestrator

import (
	"fmt"
	"sort"
	"strings"

	"remotedev/internal/services"
)

// Action enqueues one agent job.
type Action struct {
	EnqueueAgent string            `yaml:"enqueue_agent" json:"enqueue_agent"`
	Params       map[string]string `yaml:"params,omitempty" json:"params,omitempty"`
}

// Transition is the target of one event.
type Transition struct {
	To      string   `yaml:"to" json:"to"`
	Actions []Action `yaml:"actions,omitempty" json:"actions,omitempty"`
}

// State is one node of a workflow graph.
type State struct {
	OnEnter           []Action              `yaml:"on_enter,omitempty" json:"on_enter,omitempty"`
	Transitions       map[string]Transition `yaml:"transitions,omitempty" json:"transitions,omitempty"`
	RequiresApprovals []string              `yaml:"requires_approvals,omitempty" json:"requires_approvals,omitempty"`
}

// Definition is an immutable workflow graph. StageEvents maps a pipeline stage
// to the event submitted when a job for that stage completes.
type Definition struct {
	Name         string            `yaml:"name" json:"name"`
	Description  string            `yaml:"description,omitempty" json:"description,omitempty"`
	InitialState string            `yaml:"initial_state" json:"initial_state"`
	States       map[string]State  `yaml:"states" json:"states"`
	StageEvents  map[string]string `yaml:"stage_events,omitempty" json:"stage_events,omitempty"`
}

// Validate ensures the definition is self-consistent.
func (d *Definition) Validate() error {
	var problems []string
	if strings.TrimSpace(d.Name) == "" {
		problems = append(problems, "name is empty")
	}
	if len(d.States) == 0 {
		problems = append(problems, "no states declared")
	}
	if _, ok := d.States[d.InitialState]; !ok {
		problems = append(problems, fmt.Sprintf("initial_state %q is not declared", d.InitialState))
	}
	for _, name := range d.StateNames() {
		state := d.States[name]
		problems = append(problems, validateActions(name+".on_enter", state.OnEnter)...)
		for _, event := range sortedKeys(state.Transitions) {
			tr := state.Transitions[event]
			if _, ok := d.States[tr.To]; !ok {
				problems = append(problems, fmt.Sprintf("%s: event %s targets undeclared state %q", name, event, tr.To))
			}
			problems = append(problems, validateActions(name+"."+event, tr.Actions)...)
		}
		if state.RequiresApprovals != nil {
			problems = append(problems, validateApprovals(name, state)...)
		}
	}
	for stageName, event := range d.StageEvents {
		if strings.TrimSpace(event) == "" {
			problems = append(problems, fmt.Sprintf("stage_events.%s is empty", stageName))
		}
	}
	if len(problems) > 0 {
		return services.Wrap(services.ErrConfiguration, "orchestrator", "validate "+d.Name, strings.Join(problems, "; "), nil)
	}
	return nil
}

func validateActions(where string, actions []Action) []string {
	var problems []string
	for i, action := range actions {
		if strings.TrimSpace(action.EnqueueAgent) == "" {
			problems = append(problems, fmt.Sprintf("%s[%d]: enqueue_agent is empty", where, i))
		}
	}
	return problems
}

func validateApprovals(name string, state State) []string {
	if len(state.RequiresApprovals) == 0 {
		return []string{name + ": requires_approvals is present but empty"}
	}
	var problems []string
	for _, approval := range state.RequiresApprovals {
		if strings.TrimSpace(approval) == "" {
			problems = append(problems, name+": requires_approvals contains an empty event")
		}
	}
	combined, ok := CombinedEvent(state.RequiresApprovals)
	if !ok {
		problems = append(problems, fmt.Sprintf("%s: no combined event for approvals %v", name, state.RequiresApprovals))
	} else if _, ok := state.Transitions[combined]; !ok {
		problems = append(problems, fmt.Sprintf("%s: combined event %s has no transition", name, combined))
	}
	return problems
}

// StateNames returns the declared state names in sorted order.
func (d *Definition) StateNames() []string {
	return sortedKeys(d.States)
}

// EventFor returns the event a completed job for stageName submits.
func (d *Definition) EventFor(stageName string) (string, bool) {
	event, ok := d.StageEvents[strings.ToUpper(strings.TrimSpace(stageName))]
	return event, ok && event != ""
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
