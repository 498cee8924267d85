package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"remotedev/internal/envelope"
	"remotedev/internal/logging"
	"remotedev/internal/metrics"
	"remotedev/internal/notifications"
	"remotedev/internal/services"
	"remotedev/internal/store"
)

// Context keys set on job envelopes.
const (
	ContextWorkItemID    = "work_item_id"
	ContextWorkflowState = "workflow_state"
	ContextWorkflow      = "workflow"
	ContextJob           = "job"
)

// Event sources recorded on events.
const (
	SourceHuman    = "human"
	SourcePipeline = "pipeline"
	SourceOperator = "operator"
)

// Enqueuer pushes job envelopes onto stage queues.
type Enqueuer interface {
	Push(ctx context.Context, stage string, env *envelope.Envelope) error
}

// Notifier receives fire-and-forget notifications.
type Notifier interface {
	Notify(ctx context.Context, channel string, msg notifications.Message)
}

// Options configures an Orchestrator.
type Options struct {
	DefaultWorkflow string
	Notifier        Notifier
	Metrics         *metrics.Metrics
	Logger          *slog.Logger
	Now             func() time.Time
}

// Event is a named input to a work item's state machine. When ExpectedState is
// set the event is rejected unless the work item is still in that state.
type Event struct {
	WorkItemID    string
	Name          string
	Payload       map[string]any
	Source        string
	ExpectedState string
}

// Result describes what HandleEvent did. Waiting is set when an approval was
// recorded but others are still outstanding.
type Result struct {
	WorkItemID    string   `json:"work_item_id"`
	Event         string   `json:"event"`
	From          string   `json:"from"`
	To            string   `json:"to"`
	Transitioned  bool     `json:"transitioned"`
	Waiting       bool     `json:"waiting"`
	Pending       []string `json:"pending,omitempty"`
	Message       string   `json:"message"`
	FailedActions []string `json:"failed_actions,omitempty"`
}

// Orchestrator applies workflow definitions to persisted work items.
type Orchestrator struct {
	items           workItems
	queue           Enqueuer
	definitions     map[string]*Definition
	defaultWorkflow string
	notifier        Notifier
	metrics         *metrics.Metrics
	logger          *slog.Logger
	now             func() time.Time

	// mu serializes read-modify-write cycles on work items.
	mu sync.Mutex
}

// New builds an Orchestrator over defs. Definition names must be unique.
func New(st store.Store, q Enqueuer, defs []*Definition, opts Options) (*Orchestrator, error) {
	if st == nil || q == nil {
		return nil, services.Wrap(services.ErrConfiguration, "orchestrator", "new", "store and queue are required", nil)
	}
	definitions := make(map[string]*Definition, len(defs))
	for _, def := range defs {
		if def == nil {
			continue
		}
		if err := def.Validate(); err != nil {
			return nil, err
		}
		if _, dup := definitions[def.Name]; dup {
			return nil, services.Wrap(services.ErrConfiguration, "orchestrator", "new", "duplicate workflow "+def.Name, nil)
		}
		definitions[def.Name] = def
	}
	defaultWorkflow := strings.TrimSpace(opts.DefaultWorkflow)
	if defaultWorkflow == "" {
		defaultWorkflow = DefaultWorkflow
	}
	if _, ok := definitions[defaultWorkflow]; !ok {
		return nil, services.Wrap(services.ErrConfiguration, "orchestrator", "new", "default workflow "+defaultWorkflow+" is not defined", nil)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		items:           workItems{store: st},
		queue:           q,
		definitions:     definitions,
		defaultWorkflow: defaultWorkflow,
		notifier:        opts.Notifier,
		metrics:         opts.Metrics,
		logger:          logging.NewComponentLogger(opts.Logger, "orchestrator"),
		now:             func() time.Time { return now().UTC() },
	}, nil
}

// Workflows returns the loaded workflow names, sorted.
func (o *Orchestrator) Workflows() []string {
	return sortedKeys(o.definitions)
}

// Definition returns a loaded workflow.
func (o *Orchestrator) Definition(name string) (*Definition, bool) {
	def, ok := o.definitions[name]
	return def, ok
}

// CreateWorkItem stores a new work item in its workflow's initial state and
// enqueues that state's onEnter jobs.
func (o *Orchestrator) CreateWorkItem(ctx context.Context, title, workflowName string, meta map[string]any) (*WorkItem, Result, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, Result{}, services.Wrap(services.ErrValidation, "orchestrator", "create work item", "title is empty", nil)
	}
	if strings.TrimSpace(workflowName) == "" {
		workflowName = o.defaultWorkflow
	}
	def, ok := o.definitions[workflowName]
	if !ok {
		return nil, Result{}, services.Wrap(services.ErrNotFound, "orchestrator", "create work item", "unknown workflow "+workflowName, nil)
	}
	if meta == nil {
		meta = map[string]any{}
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	now := o.now()
	item := &WorkItem{
		ID:            newWorkItemID(),
		Title:         title,
		WorkflowName:  def.Name,
		CurrentState:  def.InitialState,
		ApprovalFlags: map[string]bool{},
		Meta:          meta,
		CreatedAt:     now,
	}
	item.addHistory(StateCreated, "WorkItem created", now)
	if err := o.items.save(ctx, item); err != nil {
		return nil, Result{}, err
	}

	ctx = services.WithWorkItemID(ctx, item.ID)
	logging.WithContext(ctx, o.logger).Info("work item created",
		logging.String(logging.FieldEventType, "workitem_created"),
		logging.String("workflow", def.Name),
		logging.String("state", item.CurrentState),
	)
	result := Result{
		WorkItemID: item.ID,
		To:         item.CurrentState,
		Message:    "Created in " + item.CurrentState,
	}
	result.FailedActions = o.dispatch(ctx, item, def.States[item.CurrentState].OnEnter, "")
	return item, result, nil
}

// GetWorkItem loads one work item.
func (o *Orchestrator) GetWorkItem(ctx context.Context, id string) (*WorkItem, error) {
	return o.items.get(ctx, strings.TrimSpace(id))
}

// ListWorkItems returns every indexed work item, oldest first.
func (o *Orchestrator) ListWorkItems(ctx context.Context) ([]*WorkItem, error) {
	return o.items.list(ctx)
}

// DeleteWorkItem removes a work item and reports whether it existed. Jobs
// already queued for it are not recalled.
func (o *Orchestrator) DeleteWorkItem(ctx context.Context, id string) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.items.delete(ctx, strings.TrimSpace(id))
}

// HandleEvent applies one event to a work item.
func (o *Orchestrator) HandleEvent(ctx context.Context, event Event) (Result, error) {
	event.Name = eventName(event.Name)
	if event.Name == "" {
		return Result{}, services.Wrap(services.ErrValidation, "orchestrator", "handle event", "event name is empty", nil)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	item, err := o.items.get(ctx, strings.TrimSpace(event.WorkItemID))
	if err != nil {
		return Result{}, err
	}
	ctx = services.WithWorkItemID(ctx, item.ID)
	def, ok := o.definitions[item.WorkflowName]
	if !ok {
		return Result{}, services.Wrap(services.ErrConfiguration, "orchestrator", "handle event", "unknown workflow "+item.WorkflowName, nil)
	}
	state, ok := def.States[item.CurrentState]
	if !ok {
		return Result{}, &TransitionError{WorkItemID: item.ID, State: item.CurrentState, Event: event.Name, Reason: "invalid state"}
	}
	if event.ExpectedState != "" && event.ExpectedState != item.CurrentState {
		return Result{}, &TransitionError{WorkItemID: item.ID, State: item.CurrentState, Event: event.Name,
			Reason: "stale event for state " + event.ExpectedState}
	}

	if contains(state.RequiresApprovals, event.Name) {
		return o.recordApproval(ctx, def, item, state, event)
	}

	tr, ok := state.Transitions[event.Name]
	if !ok {
		return Result{}, &TransitionError{WorkItemID: item.ID, State: item.CurrentState, Event: event.Name}
	}
	from := item.CurrentState
	now := o.now()
	item.CurrentState = tr.To
	item.addHistory(tr.To, fmt.Sprintf("Transitioned from %s via %s", from, event.Name), now)
	if len(state.RequiresApprovals) > 0 {
		item.ApprovalFlags = map[string]bool{}
	}
	if err := o.items.save(ctx, item); err != nil {
		return Result{}, err
	}
	return o.entered(ctx, def, item, from, event, tr), nil
}

// recordApproval sets an approval flag and advances through the combined
// event once every required approval is present.
func (o *Orchestrator) recordApproval(ctx context.Context, def *Definition, item *WorkItem, state State, event Event) (Result, error) {
	now := o.now()
	item.ApprovalFlags[event.Name] = true
	item.addHistory(item.CurrentState, "Approval received: "+event.Name, now)
	logger := logging.WithContext(ctx, o.logger)

	pending := pendingApprovals(state.RequiresApprovals, item.ApprovalFlags)
	if len(pending) == 0 {
		combined, ok := CombinedEvent(state.RequiresApprovals)
		tr, hasTransition := state.Transitions[combined]
		if ok && hasTransition && tr.To != item.CurrentState {
			from := item.CurrentState
			item.CurrentState = tr.To
			item.ApprovalFlags = map[string]bool{}
			item.addHistory(tr.To, "All approvals received, transitioned from "+from, now)
			if err := o.items.save(ctx, item); err != nil {
				return Result{}, err
			}
			result := o.entered(ctx, def, item, from, Event{WorkItemID: item.ID, Name: combined, Source: event.Source}, tr)
			result.Message = "All approvals received. Transitioned to " + tr.To
			return result, nil
		}
		logging.WarnWithContext(logger, "all approvals recorded but no combined transition applies", "approval_unresolved",
			logging.String("state", item.CurrentState),
			logging.Strings("approvals", state.RequiresApprovals),
			logging.String(logging.FieldImpact, "work item stays in its current state"),
			logging.String(logging.FieldErrorHint, "add a combined approval transition to workflow "+def.Name),
		)
	}

	if err := o.items.save(ctx, item); err != nil {
		return Result{}, err
	}
	logger.Info("approval recorded",
		logging.String(logging.FieldEventType, "approval_recorded"),
		logging.String("event", event.Name),
		logging.Strings("pending", pending),
	)
	return Result{
		WorkItemID: item.ID,
		Event:      event.Name,
		From:       item.CurrentState,
		To:         item.CurrentState,
		Waiting:    true,
		Pending:    pending,
		Message:    fmt.Sprintf("Approval %s recorded. Waiting for: %v", event.Name, pending),
	}, nil
}

// entered runs the transition's actions and then the new state's onEnter
// actions. item has already been persisted.
func (o *Orchestrator) entered(ctx context.Context, def *Definition, item *WorkItem, from string, event Event, tr Transition) Result {
	logging.WithContext(ctx, o.logger).Info("work item transitioned",
		logging.String(logging.FieldEventType, "workitem_transition"),
		logging.String("from", from),
		logging.String("to", item.CurrentState),
		logging.String("event", event.Name),
		logging.String("source", event.Source),
	)
	o.metrics.Transition(def.Name, event.Name)
	if o.notifier != nil {
		o.notifier.Notify(ctx, item.MetaString(notifications.ChannelKey),
			notifications.WorkItemTransition(item.ID, item.Title, from, item.CurrentState, event.Name))
	}

	failed := o.dispatch(ctx, item, tr.Actions, event.Name)
	failed = append(failed, o.dispatch(ctx, item, def.States[item.CurrentState].OnEnter, event.Name)...)
	return Result{
		WorkItemID:    item.ID,
		Event:         event.Name,
		From:          from,
		To:            item.CurrentState,
		Transitioned:  true,
		Message:       fmt.Sprintf("Transitioned from %s to %s via %s", from, item.CurrentState, event.Name),
		FailedActions: failed,
	}
}

// dispatch enqueues one job per action and returns the agents whose job could
// not be queued. The work item's state change is not rolled back.
func (o *Orchestrator) dispatch(ctx context.Context, item *WorkItem, actions []Action, trigger string) []string {
	var failed []string
	for _, action := range actions {
		env := o.job(item, action, trigger)
		if err := o.queue.Push(ctx, action.EnqueueAgent, env); err != nil {
			failed = append(failed, action.EnqueueAgent)
			logging.WarnWithContext(logging.WithContext(ctx, o.logger), "failed to enqueue workflow job", "job_enqueue_failed",
				logging.String(logging.FieldStage, action.EnqueueAgent),
				logging.Error(err),
				logging.String(logging.FieldImpact, "work item changed state but the job was not queued"),
				logging.String(logging.FieldErrorHint, "re-submit the entering event or ingest the job manually"),
			)
			continue
		}
		logging.WithContext(ctx, o.logger).Info("workflow job enqueued",
			logging.String(logging.FieldEventType, "job_enqueued"),
			logging.String(logging.FieldStage, action.EnqueueAgent),
			logging.String(logging.FieldEnvelopeID, env.ID),
		)
	}
	return failed
}

func (o *Orchestrator) job(item *WorkItem, action Action, trigger string) *envelope.Envelope {
	now := o.now()
	payload := make(map[string]any, len(action.Params))
	for k, v := range action.Params {
		payload[k] = v
	}
	jobCtx := map[string]any{
		ContextWorkItemID:    item.ID,
		ContextWorkflowState: item.CurrentState,
		ContextWorkflow:      item.WorkflowName,
		ContextJob: map[string]any{
			"agent":      action.EnqueueAgent,
			"payload":    payload,
			"created_at": now.Format(time.RFC3339),
		},
	}
	if trigger != "" {
		jobCtx["trigger_event"] = trigger
	}
	if channel := item.MetaString(notifications.ChannelKey); channel != "" {
		jobCtx[notifications.ChannelKey] = channel
	}
	prompt := item.MetaString("prompt")
	if prompt == "" {
		prompt = item.Title
	}
	var git map[string]any
	if raw, ok := item.Meta["git_context"].(map[string]any); ok && len(raw) > 0 {
		git = make(map[string]any, len(raw))
		for k, v := range raw {
			git[k] = v
		}
	}
	return envelope.New(envelope.Options{
		Title:      item.Title,
		Prompt:     prompt,
		Stage:      action.EnqueueAgent,
		Source:     envelope.SourceOrchestrator,
		Context:    jobCtx,
		GitContext: git,
		WorkItemID: item.ID,
		Message:    fmt.Sprintf("Job enqueued by workflow %s in state %s", item.WorkflowName, item.CurrentState),
		Now:        now,
	})
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}

// PendingApproval is a work item waiting on human approvals.
type PendingApproval struct {
	WorkItemID string    `json:"work_item_id"`
	Title      string    `json:"title"`
	Workflow   string    `json:"workflow"`
	State      string    `json:"state"`
	Required   []string  `json:"required"`
	Received   []string  `json:"received"`
	Pending    []string  `json:"pending"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// PendingApprovals lists work items whose current state requires approvals.
func (o *Orchestrator) PendingApprovals(ctx context.Context) ([]PendingApproval, error) {
	items, err := o.items.list(ctx)
	if err != nil {
		return nil, err
	}
	var out []PendingApproval
	for _, item := range items {
		def, ok := o.definitions[item.WorkflowName]
		if !ok {
			continue
		}
		state := def.States[item.CurrentState]
		if len(state.RequiresApprovals) == 0 {
			continue
		}
		var received []string
		for _, approval := range state.RequiresApprovals {
			if item.ApprovalFlags[approval] {
				received = append(received, approval)
			}
		}
		sort.Strings(received)
		out = append(out, PendingApproval{
			WorkItemID: item.ID,
			Title:      item.Title,
			Workflow:   item.WorkflowName,
			State:      item.CurrentState,
			Required:   append([]string(nil), state.RequiresApprovals...),
			Received:   received,
			Pending:    pendingApprovals(state.RequiresApprovals, item.ApprovalFlags),
			UpdatedAt:  item.UpdatedAt,
		})
	}
	return out, nil
}

// SubmitApproval maps a human decision to its approve or reject event.
func (o *Orchestrator) SubmitApproval(ctx context.Context, workItemID string, approvalType ApprovalType, approved bool, comment string) (Result, error) {
	kind := ApprovalType(strings.ToUpper(strings.TrimSpace(string(approvalType))))
	events, ok := approvalTypes[kind]
	if !ok {
		return Result{}, services.Wrap(services.ErrValidation, "orchestrator", "submit approval",
			fmt.Sprintf("unknown approval type %q (want UX, ARCH or RELEASE)", approvalType), nil)
	}
	name := events.approve
	if !approved {
		name = events.reject
	}
	return o.HandleEvent(ctx, Event{
		WorkItemID: workItemID,
		Name:       name,
		Payload:    map[string]any{"comment": comment},
		Source:     SourceHuman,
	})
}

// StageCompleted reports a finished work item job. The event is the one the
// handler chose, or the workflow's stage_events entry for stageName; with
// neither, nothing happens.
func (o *Orchestrator) StageCompleted(ctx context.Context, stageName string, env *envelope.Envelope) error {
	if env == nil || env.Meta.WorkItemID == "" {
		return nil
	}
	item, err := o.GetWorkItem(ctx, env.Meta.WorkItemID)
	if err != nil {
		return err
	}
	def, ok := o.definitions[item.WorkflowName]
	if !ok {
		return services.Wrap(services.ErrConfiguration, "orchestrator", "stage completed", "unknown workflow "+item.WorkflowName, nil)
	}
	name := strings.TrimSpace(env.Task.WorkflowEvent)
	if name == "" {
		name, ok = def.EventFor(stageName)
		if !ok {
			logging.WithContext(services.WithWorkItemID(ctx, item.ID), o.logger).Debug("job completed without workflow event",
				logging.String(logging.FieldEventType, "job_no_event"),
				logging.String(logging.FieldStage, stageName),
			)
			return nil
		}
	}
	_, err = o.HandleEvent(ctx, Event{
		WorkItemID:    item.ID,
		Name:          name,
		Payload:       map[string]any{"envelope_id": env.ID, "stage": stageName},
		Source:        SourcePipeline,
		ExpectedState: env.ContextString(ContextWorkflowState),
	})
	return err
}
