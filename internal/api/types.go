package api

import (
	"remotedev/internal/envelope"
	"remotedev/internal/orchestrator"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Locations an envelope can be found in.
const (
	WhereQueue         = "queue"
	WhereClarification = "clarification"
	WhereApproval      = "approval"
	WherePRWait        = "pr_wait"
	WhereArchive       = "archive"
)

// Pending item kinds.
const (
	PendingClarification = "clarification"
	PendingApproval      = "approval"
	PendingPR            = "pr_wait"
	PendingWorkItem      = "workitem"
)

// IngestRequest creates a new envelope at the first stage.
type IngestRequest struct {
	Title      string         `json:"title"`
	Prompt     string         `json:"prompt"`
	Context    map[string]any `json:"context,omitempty"`
	GitContext map[string]any `json:"git_context,omitempty"`
}

// EnvelopeSummary is the condensed row used by listings.
type EnvelopeSummary struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Status       string `json:"status"`
	CurrentStage string `json:"current_stage"`
	WorkItemID   string `json:"work_item_id,omitempty"`
	Source       string `json:"source"`
	CreatedAt    string `json:"created_at,omitempty"`
	UpdatedAt    string `json:"updated_at,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Envelope wraps a full envelope with the store it was found in.
type Envelope struct {
	Where    string             `json:"where"`
	Envelope *envelope.Envelope `json:"envelope"`
}

// QueueDepth reports one stage queue.
type QueueDepth struct {
	Stage string            `json:"stage"`
	Depth int               `json:"depth"`
	Head  []EnvelopeSummary `json:"head,omitempty"`
}

// PendingItem is one entry awaiting a human or an external event.
type PendingItem struct {
	Kind      string   `json:"kind"`
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Stage     string   `json:"stage,omitempty"`
	Message   string   `json:"message,omitempty"`
	PRNumber  int      `json:"pr_number,omitempty"`
	PRURL     string   `json:"pr_url,omitempty"`
	Repo      string   `json:"repo,omitempty"`
	Pending   []string `json:"pending,omitempty"`
	UpdatedAt string   `json:"updated_at,omitempty"`
}

// PendingCounts summarizes PendingItem kinds.
type PendingCounts struct {
	Clarifications int `json:"clarifications"`
	Approvals      int `json:"approvals"`
	PRWaits        int `json:"pr_waits"`
	WorkItems      int `json:"work_items"`
}

// WorkItemSummary is the condensed work item row.
type WorkItemSummary struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Workflow  string   `json:"workflow"`
	State     string   `json:"state"`
	Approvals []string `json:"approvals,omitempty"`
	CreatedAt string   `json:"created_at,omitempty"`
	UpdatedAt string   `json:"updated_at,omitempty"`
}

// CreateWorkItemRequest creates a work item.
type CreateWorkItemRequest struct {
	Title    string         `json:"title"`
	Workflow string         `json:"workflow,omitempty"`
	Meta     map[string]any `json:"meta,omitempty"`
}

// WorkflowEventRequest submits an event to a work item.
type WorkflowEventRequest struct {
	WorkItemID string         `json:"work_item_id"`
	Event      string         `json:"event"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// ApprovalRequest answers a suspended approval or a work item approval.
type ApprovalRequest struct {
	Type     string `json:"type,omitempty"`
	Approved bool   `json:"approved"`
	Comment  string `json:"comment,omitempty"`
}

// ClarificationRequest answers a suspended clarification.
type ClarificationRequest struct {
	Response string `json:"response"`
}

// WorkItemResponse pairs a work item with the outcome of the operation that
// produced it.
type WorkItemResponse struct {
	WorkItem *orchestrator.WorkItem `json:"work_item,omitempty"`
	Result   orchestrator.Result    `json:"result"`
}

// WorkflowInfo describes a loaded workflow definition.
type WorkflowInfo struct {
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	InitialState string   `json:"initial_state"`
	States       []string `json:"states"`
}

// PRWaitRequest registers a pull request opened outside the daemon.
type PRWaitRequest struct {
	EventID   string `json:"event_id"`
	PRNumber  int    `json:"pr_number"`
	PRURL     string `json:"pr_url,omitempty"`
	RepoOwner string `json:"repo_owner,omitempty"`
	RepoName  string `json:"repo_name,omitempty"`
	AgentName string `json:"agent_name"`
	NextAgent string `json:"next_agent,omitempty"`
}

// StageHealth mirrors readiness reporting for pipeline stages.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// PipelineStatus summarizes the stepper.
type PipelineStatus struct {
	Running        bool           `json:"running"`
	Ticks          int64          `json:"ticks"`
	LastTick       string         `json:"last_tick,omitempty"`
	LastError      string         `json:"last_error,omitempty"`
	LastEnvelopeID string         `json:"last_envelope_id,omitempty"`
	Stages         []string       `json:"stages"`
	QueueDepths    map[string]int `json:"queue_depths"`
	StageHealth    []StageHealth  `json:"stage_health"`
}

// PRWaitStatus summarizes the pull request poller.
type PRWaitStatus struct {
	Running   bool   `json:"running"`
	Pending   int    `json:"pending"`
	LastPoll  string `json:"last_poll,omitempty"`
	LastError string `json:"last_error,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool           `json:"running"`
	PID          int            `json:"pid"`
	StorePath    string         `json:"store_path"`
	LockFilePath string         `json:"lock_file_path"`
	LogPath      string         `json:"log_path,omitempty"`
	APIBind      string         `json:"api_bind,omitempty"`
	Workflows    []string       `json:"workflows"`
	Pipeline     PipelineStatus `json:"pipeline"`
	PRWait       PRWaitStatus   `json:"pr_wait"`
	Pending      PendingCounts  `json:"pending"`
}

// ErrorResponse is the body of every non-2xx HTTP response.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
