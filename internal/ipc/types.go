package ipc

import (
	"remotedev/internal/api"
	"remotedev/internal/logging"
	"remotedev/internal/orchestrator"
)

// StartRequest resumes pipeline processing.
type StartRequest struct{}

// StartResponse indicates whether processing was started.
type StartResponse struct {
	Started bool   `json:"started"`
	Message string `json:"message"`
}

// StopRequest pauses pipeline processing without exiting the daemon.
type StopRequest struct{}

// StopResponse indicates stop result.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse is the daemon status as served over the HTTP API.
type StatusResponse = api.DaemonStatus

// IngestRequest creates a new task envelope.
type IngestRequest = api.IngestRequest

// IngestResponse reports the queued envelope.
type IngestResponse struct {
	Envelope api.EnvelopeSummary `json:"envelope"`
	Queue    string              `json:"queue"`
}

// ShowRequest locates an envelope by id.
type ShowRequest struct {
	ID string `json:"id"`
}

// ShowResponse contains the envelope and where it was found.
type ShowResponse = api.Envelope

// ClarifyRequest answers a pending clarification.
type ClarifyRequest struct {
	ID       string `json:"id"`
	Response string `json:"response"`
}

// ApproveRequest resolves a pending stage approval.
type ApproveRequest struct {
	ID       string `json:"id"`
	Approved bool   `json:"approved"`
	Comment  string `json:"comment"`
}

// ResumeResponse reports the envelope after a suspension was resolved.
type ResumeResponse struct {
	Envelope api.EnvelopeSummary `json:"envelope"`
}

// QueueListRequest lists stage queues. Head limits how many envelopes per
// queue are returned; zero returns depths only.
type QueueListRequest struct {
	Head int `json:"head"`
}

// QueueListResponse contains per-stage queue depths.
type QueueListResponse struct {
	Queues []api.QueueDepth `json:"queues"`
}

// PendingRequest lists everything waiting on an operator or an external event.
type PendingRequest struct{}

// PendingResponse contains pending items and counts per kind.
type PendingResponse struct {
	Items  []api.PendingItem `json:"items"`
	Counts api.PendingCounts `json:"counts"`
}

// WorkItemCreateRequest creates a work item.
type WorkItemCreateRequest = api.CreateWorkItemRequest

// WorkItemResponse is a work item together with the transition result.
type WorkItemResponse = api.WorkItemResponse

// WorkItemListRequest lists work items.
type WorkItemListRequest struct{}

// WorkItemListResponse contains work item summaries.
type WorkItemListResponse struct {
	Items []api.WorkItemSummary `json:"items"`
}

// WorkItemShowRequest fetches one work item.
type WorkItemShowRequest struct {
	ID string `json:"id"`
}

// WorkItemShowResponse contains the full work item including its history.
type WorkItemShowResponse struct {
	Item *orchestrator.WorkItem `json:"item"`
}

// WorkItemDeleteRequest removes a work item.
type WorkItemDeleteRequest struct {
	ID string `json:"id"`
}

// WorkItemDeleteResponse reports whether the work item existed.
type WorkItemDeleteResponse struct {
	Removed bool `json:"removed"`
}

// WorkItemEventRequest applies an event to a work item.
type WorkItemEventRequest = api.WorkflowEventRequest

// WorkItemApproveRequest records a UX or ARCH approval on a work item.
type WorkItemApproveRequest struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Approved bool   `json:"approved"`
	Comment  string `json:"comment"`
}

// WorkflowsRequest lists loaded workflow definitions.
type WorkflowsRequest struct{}

// WorkflowsResponse contains workflow summaries.
type WorkflowsResponse struct {
	Workflows []api.WorkflowInfo `json:"workflows"`
}

// PRWaitRegisterRequest parks an envelope until its pull request closes.
type PRWaitRegisterRequest = api.PRWaitRequest

// PRWaitRegisterResponse contains the registration as a pending item.
type PRWaitRegisterResponse struct {
	Item api.PendingItem `json:"item"`
}

// LogTailRequest fetches buffered log events after Offset.
type LogTailRequest struct {
	Offset     uint64 `json:"offset"`
	Limit      int    `json:"limit"`
	Follow     bool   `json:"follow"`
	WaitMillis int    `json:"wait_millis"`
}

// LogTailResponse returns log events and the next offset.
type LogTailResponse struct {
	Events []logging.LogEvent `json:"events"`
	Offset uint64             `json:"offset"`
}

// TestNotificationRequest triggers a notification test.
type TestNotificationRequest struct{}

// TestNotificationResponse reports notification test outcome.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}
