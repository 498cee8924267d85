package api

import (
	"slices"
	"strings"
	"time"

	"remotedev/internal/envelope"
	"remotedev/internal/orchestrator"
	"remotedev/internal/prwait"
	"remotedev/internal/stage"
	"remotedev/internal/workflow"
)

// FormatTime renders t for API payloads; the zero time renders empty.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

// FromEnvelope converts an envelope to its summary row.
func FromEnvelope(env *envelope.Envelope) EnvelopeSummary {
	if env == nil {
		return EnvelopeSummary{}
	}
	dto := EnvelopeSummary{
		ID:           env.ID,
		Title:        env.Task.Title,
		Status:       string(env.Task.Status),
		CurrentStage: env.Task.CurrentStage,
		WorkItemID:   env.Meta.WorkItemID,
		Source:       env.Meta.Source,
		CreatedAt:    FormatTime(env.Meta.Timestamp),
		UpdatedAt:    FormatTime(lastActivity(env)),
	}
	if env.Task.HasError {
		dto.Error = env.Task.ErrorMessage
	}
	return dto
}

// FromEnvelopes converts a slice of envelopes.
func FromEnvelopes(envs []*envelope.Envelope) []EnvelopeSummary {
	if len(envs) == 0 {
		return nil
	}
	out := make([]EnvelopeSummary, 0, len(envs))
	for _, env := range envs {
		out = append(out, FromEnvelope(env))
	}
	return out
}

func lastActivity(env *envelope.Envelope) time.Time {
	if n := len(env.History); n > 0 {
		return env.History[n-1].Timestamp
	}
	return env.Meta.Timestamp
}

// PendingFromClarification converts a suspended clarification.
func PendingFromClarification(env *envelope.Envelope) PendingItem {
	return pendingFromEnvelope(PendingClarification, env, env.Task.ClarificationQuestion)
}

// PendingFromApproval converts a suspended approval.
func PendingFromApproval(env *envelope.Envelope) PendingItem {
	return pendingFromEnvelope(PendingApproval, env, env.Task.ApprovalMessage)
}

func pendingFromEnvelope(kind string, env *envelope.Envelope, message string) PendingItem {
	return PendingItem{
		Kind:      kind,
		ID:        env.ID,
		Title:     env.Task.Title,
		Stage:     env.Task.CurrentStage,
		Message:   strings.TrimSpace(message),
		UpdatedAt: FormatTime(lastActivity(env)),
	}
}

// PendingFromRegistration converts a pull request wait.
func PendingFromRegistration(reg prwait.Registration) PendingItem {
	item := PendingItem{
		Kind:      PendingPR,
		ID:        reg.EventID,
		Stage:     reg.AgentName,
		PRNumber:  reg.PRNumber,
		PRURL:     reg.PRURL,
		UpdatedAt: FormatTime(reg.CreatedAt),
	}
	if reg.RepoOwner != "" || reg.RepoName != "" {
		item.Repo = reg.RepoOwner + "/" + reg.RepoName
	}
	if reg.Snapshot != nil {
		item.Title = reg.Snapshot.Task.Title
	}
	if reg.NextAgent != "" {
		item.Message = "next: " + reg.NextAgent
	}
	if !reg.LastCheckedAt.IsZero() {
		item.UpdatedAt = FormatTime(reg.LastCheckedAt)
	}
	return item
}

// PendingFromWorkItem converts a work item waiting on approvals.
func PendingFromWorkItem(p orchestrator.PendingApproval) PendingItem {
	return PendingItem{
		Kind:      PendingWorkItem,
		ID:        p.WorkItemID,
		Title:     p.Title,
		Stage:     p.State,
		Message:   "workflow " + p.Workflow,
		Pending:   slices.Clone(p.Pending),
		UpdatedAt: FormatTime(p.UpdatedAt),
	}
}

// CountPending tallies items by kind.
func CountPending(items []PendingItem) PendingCounts {
	var counts PendingCounts
	for _, item := range items {
		switch item.Kind {
		case PendingClarification:
			counts.Clarifications++
		case PendingApproval:
			counts.Approvals++
		case PendingPR:
			counts.PRWaits++
		case PendingWorkItem:
			counts.WorkItems++
		}
	}
	return counts
}

// FromWorkItem converts a work item to its summary row. Approvals lists the
// flags received so far.
func FromWorkItem(item *orchestrator.WorkItem) WorkItemSummary {
	if item == nil {
		return WorkItemSummary{}
	}
	dto := WorkItemSummary{
		ID:        item.ID,
		Title:     item.Title,
		Workflow:  item.WorkflowName,
		State:     item.CurrentState,
		CreatedAt: FormatTime(item.CreatedAt),
		UpdatedAt: FormatTime(item.UpdatedAt),
	}
	for name, set := range item.ApprovalFlags {
		if set {
			dto.Approvals = append(dto.Approvals, name)
		}
	}
	slices.Sort(dto.Approvals)
	return dto
}

// FromWorkItems converts a slice of work items.
func FromWorkItems(items []*orchestrator.WorkItem) []WorkItemSummary {
	if len(items) == 0 {
		return nil
	}
	out := make([]WorkItemSummary, 0, len(items))
	for _, item := range items {
		out = append(out, FromWorkItem(item))
	}
	return out
}

// FromDefinition describes a workflow definition.
func FromDefinition(def *orchestrator.Definition) WorkflowInfo {
	if def == nil {
		return WorkflowInfo{}
	}
	return WorkflowInfo{
		Name:         def.Name,
		Description:  def.Description,
		InitialState: def.InitialState,
		States:       def.StateNames(),
	}
}

// FromStatusSummary converts the stepper status.
func FromStatusSummary(summary workflow.StatusSummary) PipelineStatus {
	depths := summary.QueueDepths
	if depths == nil {
		depths = map[string]int{}
	}
	return PipelineStatus{
		Running:        summary.Running,
		Ticks:          summary.Ticks,
		LastTick:       FormatTime(summary.LastTick),
		LastError:      summary.LastError,
		LastEnvelopeID: summary.LastEnvelopeID,
		Stages:         slices.Clone(summary.Stages),
		QueueDepths:    depths,
		StageHealth:    StageHealthSlice(summary.StageHealth),
	}
}

// FromPollerStatus converts the pull request poller status.
func FromPollerStatus(summary prwait.StatusSummary) PRWaitStatus {
	status := PRWaitStatus{
		Running:  summary.Running,
		Pending:  summary.Pending,
		LastPoll: FormatTime(summary.LastPoll),
	}
	if summary.LastErr != nil {
		status.LastError = summary.LastErr.Error()
	}
	return status
}

// StageHealthSlice keeps registry order.
func StageHealthSlice(health []stage.Health) []StageHealth {
	if len(health) == 0 {
		return nil
	}
	out := make([]StageHealth, 0, len(health))
	for _, h := range health {
		out = append(out, StageHealth{Name: h.Name, Ready: h.Ready, Detail: h.Detail})
	}
	return out
}
