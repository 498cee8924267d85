package daemon

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"

	"remotedev/internal/api"
	"remotedev/internal/envelope"
	"remotedev/internal/logging"
	"remotedev/internal/notifications"
	"remotedev/internal/orchestrator"
	"remotedev/internal/prwait"
	"remotedev/internal/services"
	"remotedev/internal/suspension"
)

// Ingest creates an envelope and pushes it to the first stage.
func (d *Daemon) Ingest(ctx context.Context, req api.IngestRequest) (*envelope.Envelope, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, services.Wrap(services.ErrValidation, "daemon", "ingest", "prompt is empty", nil)
	}
	first := d.cfg.Pipeline.FirstStage
	env := envelope.New(envelope.Options{
		Title:      strings.TrimSpace(req.Title),
		Prompt:     prompt,
		Stage:      first,
		Context:    maps.Clone(req.Context),
		GitContext: maps.Clone(req.GitContext),
	})
	if env.Task.Title == "" {
		env.Task.Title = "Task-" + env.ID[len(env.ID)-6:]
	}
	if err := d.queue.Push(ctx, first, env); err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}
	d.logger.Info("envelope ingested",
		logging.String(logging.FieldEventType, "envelope_ingested"),
		logging.String(logging.FieldEnvelopeID, env.ID),
		logging.String(logging.FieldStage, first),
	)
	return env, nil
}

// Show finds an envelope wherever it currently lives. Live locations are
// checked before the terminal archive.
func (d *Daemon) Show(ctx context.Context, id string) (api.Envelope, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return api.Envelope{}, services.Wrap(services.ErrValidation, "daemon", "show", "id is empty", nil)
	}
	for _, kind := range []suspension.Kind{suspension.KindClarification, suspension.KindApproval} {
		env, err := d.suspensions.Get(ctx, kind, id)
		if err == nil {
			return api.Envelope{Where: string(kind), Envelope: env}, nil
		}
		if !errors.Is(err, services.ErrNotFound) {
			return api.Envelope{}, err
		}
	}
	if reg, err := d.prs.Get(ctx, id); err == nil {
		return api.Envelope{Where: api.WherePRWait, Envelope: reg.Snapshot}, nil
	} else if !errors.Is(err, services.ErrNotFound) {
		return api.Envelope{}, err
	}
	stages, err := d.queue.Stages(ctx)
	if err != nil {
		return api.Envelope{}, err
	}
	for _, name := range stages {
		queued, err := d.queue.Peek(ctx, name, 0)
		if err != nil {
			return api.Envelope{}, err
		}
		for _, env := range queued {
			if env.ID == id {
				return api.Envelope{Where: api.WhereQueue, Envelope: env}, nil
			}
		}
	}
	if env, err := d.archive.Get(ctx, id); err == nil {
		return api.Envelope{Where: api.WhereArchive, Envelope: env}, nil
	} else if !errors.Is(err, services.ErrNotFound) {
		return api.Envelope{}, err
	}
	return api.Envelope{}, services.Wrap(services.ErrNotFound, "daemon", "show", "no envelope "+id, nil)
}

// ResumeClarification answers a suspended clarification.
func (d *Daemon) ResumeClarification(ctx context.Context, id, response string) (*envelope.Envelope, error) {
	return d.suspensions.ResumeClarification(ctx, id, response)
}

// ResumeApproval answers a suspended approval. A rejection fails the
// envelope and notifies its channel.
func (d *Daemon) ResumeApproval(ctx context.Context, id string, approved bool, comment string) (*envelope.Envelope, error) {
	env, err := d.suspensions.ResumeApproval(ctx, id, approved, comment)
	if err != nil {
		return nil, err
	}
	if !approved {
		d.notifier.Notify(ctx, notifications.Channel(env), notifications.Failed(env, env.Task.CurrentStage))
	}
	return env, nil
}

// CreateWorkItem starts a work item in workflow (the default when empty).
func (d *Daemon) CreateWorkItem(ctx context.Context, req api.CreateWorkItemRequest) (api.WorkItemResponse, error) {
	item, result, err := d.orchestrator.CreateWorkItem(ctx, req.Title, req.Workflow, req.Meta)
	if err != nil {
		return api.WorkItemResponse{}, err
	}
	return api.WorkItemResponse{WorkItem: item, Result: result}, nil
}

// GetWorkItem loads one work item.
func (d *Daemon) GetWorkItem(ctx context.Context, id string) (*orchestrator.WorkItem, error) {
	return d.orchestrator.GetWorkItem(ctx, id)
}

// ListWorkItems returns every work item, oldest first.
func (d *Daemon) ListWorkItems(ctx context.Context) ([]*orchestrator.WorkItem, error) {
	return d.orchestrator.ListWorkItems(ctx)
}

// DeleteWorkItem removes a work item; queued jobs are not recalled.
func (d *Daemon) DeleteWorkItem(ctx context.Context, id string) (bool, error) {
	return d.orchestrator.DeleteWorkItem(ctx, id)
}

// HandleEvent submits an operator event to a work item.
func (d *Daemon) HandleEvent(ctx context.Context, req api.WorkflowEventRequest) (api.WorkItemResponse, error) {
	result, err := d.orchestrator.HandleEvent(ctx, orchestrator.Event{
		WorkItemID: strings.TrimSpace(req.WorkItemID),
		Name:       strings.ToUpper(strings.TrimSpace(req.Event)),
		Payload:    req.Payload,
		Source:     orchestrator.SourceOperator,
	})
	if err != nil {
		return api.WorkItemResponse{Result: result}, err
	}
	return d.withWorkItem(ctx, result), nil
}

// SubmitApproval records a UX, ARCH or RELEASE decision on a work item.
func (d *Daemon) SubmitApproval(ctx context.Context, id string, req api.ApprovalRequest) (api.WorkItemResponse, error) {
	result, err := d.orchestrator.SubmitApproval(ctx, id, orchestrator.ApprovalType(req.Type), req.Approved, req.Comment)
	if err != nil {
		return api.WorkItemResponse{Result: result}, err
	}
	return d.withWorkItem(ctx, result), nil
}

func (d *Daemon) withWorkItem(ctx context.Context, result orchestrator.Result) api.WorkItemResponse {
	resp := api.WorkItemResponse{Result: result}
	if item, err := d.orchestrator.GetWorkItem(ctx, result.WorkItemID); err == nil {
		resp.WorkItem = item
	}
	return resp
}

// Workflows describes the loaded workflow definitions.
func (d *Daemon) Workflows() []api.WorkflowInfo {
	names := d.orchestrator.Workflows()
	out := make([]api.WorkflowInfo, 0, len(names))
	for _, name := range names {
		if def, ok := d.orchestrator.Definition(name); ok {
			out = append(out, api.FromDefinition(def))
		}
	}
	return out
}

// RegisterPRWait records a pull request opened outside the pipeline for an
// archived envelope. Envelopes still queued or suspended are rejected so an
// envelope never lives in two places.
func (d *Daemon) RegisterPRWait(ctx context.Context, req api.PRWaitRequest) (prwait.Registration, error) {
	found, err := d.Show(ctx, req.EventID)
	if err != nil {
		return prwait.Registration{}, err
	}
	if found.Where != api.WhereArchive && found.Where != api.WherePRWait {
		return prwait.Registration{}, services.Wrap(services.ErrValidation, "daemon", "register pr wait",
			fmt.Sprintf("envelope %s is still active in %s", found.Envelope.ID, found.Where), nil)
	}
	owner := firstNonEmpty(req.RepoOwner, d.cfg.GitHub.DefaultOwner)
	repo := firstNonEmpty(req.RepoName, d.cfg.GitHub.DefaultRepo)
	agent := strings.ToUpper(strings.TrimSpace(req.AgentName))
	next := strings.ToUpper(strings.TrimSpace(req.NextAgent))
	if next == "" {
		next = d.cfg.NextStage(agent)
	}

	snapshot := found.Envelope.Clone()
	snapshot.Task.Status = envelope.StatusPendingPRClose
	snapshot.Task.HasError = false
	snapshot.Task.ErrorMessage = ""
	snapshot.Task.CurrentStage = agent
	snapshot.SetGit(envelope.GitPRNumber, req.PRNumber)
	snapshot.SetGit(envelope.GitRepoOwner, owner)
	snapshot.SetGit(envelope.GitRepoName, repo)
	if req.PRURL != "" {
		snapshot.SetGit(envelope.GitPRURL, req.PRURL)
	}
	snapshot.AppendHistory(agent, fmt.Sprintf("Awaiting PR #%d (registered by operator)", req.PRNumber), d.now().UTC())

	reg := prwait.Registration{
		EventID:   snapshot.ID,
		PRNumber:  req.PRNumber,
		PRURL:     strings.TrimSpace(req.PRURL),
		RepoOwner: owner,
		RepoName:  repo,
		AgentName: agent,
		NextAgent: next,
		Snapshot:  snapshot,
	}
	if err := d.prs.Register(ctx, reg); err != nil {
		return prwait.Registration{}, err
	}
	d.logger.Info("pr wait registered by operator",
		logging.String(logging.FieldEventType, "pr_registered"),
		logging.String(logging.FieldEnvelopeID, reg.EventID),
		logging.Int("pr_number", reg.PRNumber),
		logging.String("repo", owner+"/"+repo),
	)
	return d.prs.Get(ctx, reg.EventID)
}

// ListQueues reports every stage queue, registry stages first. head bounds
// how many envelopes are listed per stage.
func (d *Daemon) ListQueues(ctx context.Context, head int) ([]api.QueueDepth, error) {
	stages := d.workflow.Status(ctx).Stages
	extra, err := d.queue.Stages(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(extra)
	for _, name := range extra {
		if !slices.Contains(stages, name) {
			stages = append(stages, name)
		}
	}
	out := make([]api.QueueDepth, 0, len(stages))
	for _, name := range stages {
		depth, err := d.queue.Len(ctx, name)
		if err != nil {
			return nil, err
		}
		row := api.QueueDepth{Stage: name, Depth: depth}
		if head > 0 && depth > 0 {
			envs, err := d.queue.Peek(ctx, name, head)
			if err != nil {
				return nil, err
			}
			row.Head = api.FromEnvelopes(envs)
		}
		out = append(out, row)
	}
	return out, nil
}

// Pending lists everything waiting on a human or a pull request.
func (d *Daemon) Pending(ctx context.Context) ([]api.PendingItem, error) {
	var items []api.PendingItem
	clarifications, err := d.suspensions.List(ctx, suspension.KindClarification)
	if err != nil {
		return nil, err
	}
	for _, env := range clarifications {
		items = append(items, api.PendingFromClarification(env))
	}
	approvals, err := d.suspensions.List(ctx, suspension.KindApproval)
	if err != nil {
		return nil, err
	}
	for _, env := range approvals {
		items = append(items, api.PendingFromApproval(env))
	}
	regs, err := d.prs.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, reg := range regs {
		items = append(items, api.PendingFromRegistration(reg))
	}
	waiting, err := d.orchestrator.PendingApprovals(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range waiting {
		items = append(items, api.PendingFromWorkItem(p))
	}
	return items, nil
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) api.DaemonStatus {
	status := api.DaemonStatus{
		Running:      d.running.Load(),
		PID:          pid(),
		StorePath:    d.cfg.StorePath(),
		LockFilePath: d.lockPath,
		LogPath:      d.cfg.LogPath(),
		APIBind:      d.cfg.API.Bind,
		Workflows:    d.orchestrator.Workflows(),
		Pipeline:     api.FromStatusSummary(d.workflow.Status(ctx)),
	}
	if d.poller != nil {
		status.PRWait = api.FromPollerStatus(d.poller.Status(ctx))
	} else if n, err := d.prs.Count(ctx); err == nil {
		status.PRWait.Pending = n
	}
	if items, err := d.Pending(ctx); err == nil {
		status.Pending = api.CountPending(items)
	} else {
		d.logger.Warn("failed to count pending items", logging.Error(err))
	}
	return status
}

// TestNotification sends a test message through every configured backend.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	n := d.cfg.Notifications
	if d.notifySvc == nil || (strings.TrimSpace(n.NtfyTopic) == "" && strings.TrimSpace(n.NATSURL) == "") {
		return false, "no notification backend configured", nil
	}
	if err := d.notifySvc.Send(ctx, "", notifications.Test()); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
