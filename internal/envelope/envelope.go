package envelope

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the task lifecycle status carried in Task.Status.
type Status string

const (
	StatusPending        Status = "PENDING"
	StatusRunning        Status = "RUNNING"
	StatusCompleted      Status = "COMPLETED"
	StatusFailed         Status = "FAILED"
	StatusPendingPRClose Status = "PENDING_PR_CLOSE"
	StatusPRMerged       Status = "PR_MERGED"
	StatusRework         Status = "REWORK"
)

// IsTerminal reports whether no automatic transition leaves s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

const (
	// SchemaVersion is recorded in Meta.Version for envelopes created by this build.
	SchemaVersion = "1.0"
	// SourceAPI marks envelopes created through the ingest operation.
	SourceAPI = "api_ingress"
	// SourceOrchestrator marks envelopes enqueued by workflow actions.
	SourceOrchestrator = "orchestrator"
	// StageDone is recorded in Task.CurrentStage once the last stage finishes.
	StageDone = "DONE"
	// StageIngress is the history stage for envelope creation.
	StageIngress = "INGRESS"
)

// Meta holds creation metadata. WorkItemID links envelopes dispatched by the
// orchestrator back to their work item.
type Meta struct {
	EventID    string    `json:"event_id"`
	Timestamp  time.Time `json:"timestamp"`
	Source     string    `json:"source"`
	Version    string    `json:"version"`
	WorkItemID string    `json:"work_item_id,omitempty"`
}

// Task is the mutable control block stages and the pipeline act on.
type Task struct {
	Title                 string `json:"title"`
	Status                Status `json:"status"`
	CurrentStage          string `json:"current_stage"`
	OriginalPrompt        string `json:"original_prompt"`
	NeedsClarification    bool   `json:"needs_clarification"`
	ClarificationQuestion string `json:"clarification_question,omitempty"`
	NeedsApproval         bool   `json:"needs_approval"`
	ApprovalMessage       string `json:"approval_message,omitempty"`

	// ApprovalGranted is set when a human approved the stage that requested
	// approval, so the stage can proceed instead of asking again.
	ApprovalGranted bool `json:"approval_granted,omitempty"`

	HasError           bool           `json:"has_error"`
	ErrorMessage       string         `json:"error_message,omitempty"`
	GitContext         map[string]any `json:"git_context,omitempty"`
	IsRework           bool           `json:"is_rework,omitempty"`
	ReworkFeedback     string         `json:"rework_feedback,omitempty"`
	ReworkInstructions string         `json:"rework_instructions,omitempty"`

	// WorkflowEvent lets a stage choose the orchestrator event emitted when it
	// completes a work item job (e.g. QA_FAILED instead of QA_PASSED).
	WorkflowEvent string `json:"workflow_event,omitempty"`
}

// HistoryEntry records one step in the envelope's life.
type HistoryEntry struct {
	Stage     string    `json:"stage"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// Envelope is the task unit moved through pipeline stages.
type Envelope struct {
	ID      string         `json:"id"`
	Meta    Meta           `json:"meta"`
	Context map[string]any `json:"context"`
	Task    Task           `json:"task"`
	Data    map[string]any `json:"data"`
	History []HistoryEntry `json:"history"`
}

// Options describes a new envelope.
type Options struct {
	Title      string
	Prompt     string
	Stage      string
	Source     string
	Context    map[string]any
	GitContext map[string]any
	WorkItemID string
	// Message is the INGRESS history message; defaults to "Task ingested via API".
	Message string
	Now     time.Time
}

// NewID returns a fresh envelope identifier of the form evt_<unix>_<8 hex>.
func NewID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("evt_%d_%s", now.Unix(), suffix)
}

// New builds a PENDING envelope positioned at opts.Stage.
func New(opts Options) *Envelope {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()
	source := opts.Source
	if source == "" {
		source = SourceAPI
	}
	message := opts.Message
	if message == "" {
		message = "Task ingested via API"
	}
	id := NewID(now)
	ctx := opts.Context
	if ctx == nil {
		ctx = map[string]any{}
	}
	return &Envelope{
		ID: id,
		Meta: Meta{
			EventID:    id,
			Timestamp:  now,
			Source:     source,
			Version:    SchemaVersion,
			WorkItemID: opts.WorkItemID,
		},
		Context: ctx,
		Task: Task{
			Title:          opts.Title,
			Status:         StatusPending,
			CurrentStage:   opts.Stage,
			OriginalPrompt: opts.Prompt,
			GitContext:     opts.GitContext,
		},
		Data: map[string]any{},
		History: []HistoryEntry{{
			Stage:     StageIngress,
			Timestamp: now,
			Message:   message,
		}},
	}
}

// DataKey returns the Data map key a stage writes its output under.
func DataKey(stage string) string {
	return strings.ToLower(strings.TrimSpace(stage))
}

// AppendHistory appends one history entry.
func (e *Envelope) AppendHistory(stage, message string, at time.Time) {
	if at.IsZero() {
		at = time.Now()
	}
	e.History = append(e.History, HistoryEntry{Stage: stage, Timestamp: at.UTC(), Message: message})
}

// StageOutput returns the output recorded for stage, if any.
func (e *Envelope) StageOutput(stage string) (any, bool) {
	if e.Data == nil {
		return nil, false
	}
	value, ok := e.Data[DataKey(stage)]
	return value, ok
}

// SetStageOutput records output for stage.
func (e *Envelope) SetStageOutput(stage string, output any) {
	if e.Data == nil {
		e.Data = map[string]any{}
	}
	e.Data[DataKey(stage)] = output
}

// Clone returns a deep copy. Opaque maps are copied through JSON so nested
// values cannot alias.
func (e *Envelope) Clone() *Envelope {
	if e == nil {
		return nil
	}
	raw, err := json.Marshal(e)
	if err != nil {
		cp := *e
		cp.History = append([]HistoryEntry(nil), e.History...)
		return &cp
	}
	var out Envelope
	if err := json.Unmarshal(raw, &out); err != nil {
		cp := *e
		return &cp
	}
	return &out
}

// Marshal encodes the envelope for storage.
func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal decodes a stored envelope. It only fails when raw is not a JSON
// object; structural problems are reported by Validate.
func Unmarshal(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	if env.Context == nil {
		env.Context = map[string]any{}
	}
	if env.Data == nil {
		env.Data = map[string]any{}
	}
	return &env, nil
}

// ContextString returns a string value from the opaque context map.
func (e *Envelope) ContextString(key string) string {
	if e == nil || e.Context == nil {
		return ""
	}
	switch v := e.Context[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
