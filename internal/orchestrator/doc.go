// Package orchestrator runs declarative workflow state machines over work
// items.
//
// A Definition names states, the events that leave each state, and the agent
// jobs enqueued when a state is entered. HandleEvent moves a WorkItem along
// those transitions; states that declare required approvals collect approval
// flags and only advance once every flag is set, through the combined event in
// the static approval table. Jobs are task envelopes pushed to the same stage
// queues the pipeline stepper drains, tagged with the work item id so the
// stepper can report completion back through StageCompleted.
package orchestrator
