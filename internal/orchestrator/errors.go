package orchestrator

import (
	"fmt"

	"remotedev/internal/services"
)

// TransitionError reports an event the work item's current state does not
// accept. The work item is left unchanged.
type TransitionError struct {
	WorkItemID string
	State      string
	Event      string
	Reason     string
}

func (e *TransitionError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = "invalid transition"
	}
	return fmt.Sprintf("%s: %s: event %s from state %s (work item %s)", services.ErrTransition, reason, e.Event, e.State, e.WorkItemID)
}

func (e *TransitionError) Unwrap() error { return services.ErrTransition }
