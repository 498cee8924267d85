package envelope

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalid is the base of every envelope validation error.
var ErrInvalid = errors.New("invalid envelope")

var knownStatuses = map[Status]struct{}{
	StatusPending:        {},
	StatusRunning:        {},
	StatusCompleted:      {},
	StatusFailed:         {},
	StatusPendingPRClose: {},
	StatusPRMerged:       {},
	StatusRework:         {},
}

// Validate reports every structural problem found in e. A nil return means
// the envelope is well formed.
func (e *Envelope) Validate() error {
	if e == nil {
		return fmt.Errorf("%w: nil envelope", ErrInvalid)
	}
	var problems []string
	if strings.TrimSpace(e.ID) == "" {
		problems = append(problems, "id is empty")
	}
	if e.Meta.EventID != "" && e.Meta.EventID != e.ID {
		problems = append(problems, fmt.Sprintf("meta.event_id %q does not match id", e.Meta.EventID))
	}
	if e.Meta.Timestamp.IsZero() {
		problems = append(problems, "meta.timestamp is missing")
	}
	if strings.TrimSpace(e.Meta.Version) == "" {
		problems = append(problems, "meta.version is missing")
	}
	if _, ok := knownStatuses[e.Task.Status]; !ok {
		problems = append(problems, fmt.Sprintf("task.status %q is unknown", e.Task.Status))
	}
	if strings.TrimSpace(e.Task.CurrentStage) == "" {
		problems = append(problems, "task.current_stage is empty")
	}
	if e.Task.NeedsClarification && strings.TrimSpace(e.Task.ClarificationQuestion) == "" {
		problems = append(problems, "task.clarification_question is empty while clarification is requested")
	}
	for i, entry := range e.History {
		if strings.TrimSpace(entry.Stage) == "" {
			problems = append(problems, fmt.Sprintf("history[%d].stage is empty", i))
		}
		if i > 0 && entry.Timestamp.Before(e.History[i-1].Timestamp) {
			problems = append(problems, fmt.Sprintf("history[%d] is older than its predecessor", i))
		}
	}
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
}
