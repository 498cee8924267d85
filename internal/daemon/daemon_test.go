package daemon_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"remotedev/internal/agents"
	"remotedev/internal/api"
	"remotedev/internal/config"
	"remotedev/internal/daemon"
	"remotedev/internal/envelope"
	"remotedev/internal/notifications"
	"remotedev/internal/orchestrator"
	"remotedev/internal/services"
	"remotedev/internal/stage"
	"remotedev/internal/store"
	"remotedev/internal/testsupport"
)

type recordingService struct {
	mu   sync.Mutex
	sent []notifications.Message
}

func (r *recordingService) Send(_ context.Context, _ string, msg notifications.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return nil
}

func (r *recordingService) events() []notifications.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notifications.Event, 0, len(r.sent))
	for _, msg := range r.sent {
		out = append(out, msg.Event)
	}
	return out
}

// approvalStage asks for approval until it has been granted.
type approvalStage struct{}

func (approvalStage) Name() string        { return "REQUIREMENT" }
func (approvalStage) DisplayName() string { return "Requirement Agent" }
func (approvalStage) NextStage() string   { return "" }
func (approvalStage) Process(_ context.Context, env *envelope.Envelope) (*envelope.Envelope, error) {
	if !env.Task.ApprovalGranted {
		env.Task.NeedsApproval = true
		env.Task.ApprovalMessage = "Proceed with requirements?"
	}
	return env, nil
}

func newDaemon(t *testing.T, cfg *config.Config, registry *stage.Registry, svc notifications.Service) *daemon.Daemon {
	t.Helper()
	if registry == nil {
		var err error
		registry, err = agents.Build(cfg, agents.Deps{})
		if err != nil {
			t.Fatalf("agents.Build: %v", err)
		}
	}
	d, err := daemon.New(cfg, daemon.Options{
		Store:         store.NewMemory(),
		Registry:      registry,
		Notifications: svc,
		SkipPreflight: true,
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	registry, err := agents.Build(cfg, agents.Deps{})
	if err != nil {
		t.Fatalf("agents.Build: %v", err)
	}
	d, err := daemon.New(cfg, daemon.Options{Store: testsupport.MustOpenStore(t, cfg), Registry: registry})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	status := d.Status(ctx)
	if !status.Running || !status.Pipeline.Running {
		t.Fatalf("expected running status, got %+v", status)
	}
	if status.LockFilePath != cfg.LockPath() || status.StorePath != cfg.StorePath() {
		t.Fatalf("unexpected paths: %+v", status)
	}
	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second Start to fail")
	}

	other := newDaemon(t, cfg, nil, nil)
	if err := other.Start(ctx); err == nil {
		t.Fatal("expected lock contention error")
	}

	d.Stop()
	if d.Status(ctx).Running {
		t.Fatal("expected stopped status")
	}
}

func TestStartRefusesMissingDataDir(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Paths.DataDir = "/nonexistent/remotedev-data"
	registry, _ := agents.Build(cfg, agents.Deps{})
	d, err := daemon.New(cfg, daemon.Options{Store: store.NewMemory(), Registry: registry})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(context.Background()); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if _, err := daemon.New(cfg, daemon.Options{}); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestIngestRunsLinearPipeline(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d := newDaemon(t, cfg, nil, nil)
	ctx := context.Background()

	env, err := d.Ingest(ctx, api.IngestRequest{Prompt: "Build a todo app", Context: map[string]any{"user": "ana"}})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if env.Task.CurrentStage != cfg.Pipeline.FirstStage || env.Meta.Source != envelope.SourceAPI {
		t.Fatalf("unexpected envelope: %+v", env.Task)
	}
	if env.Task.Title != "Task-"+env.ID[len(env.ID)-6:] {
		t.Fatalf("default title = %q", env.Task.Title)
	}

	found, err := d.Show(ctx, env.ID)
	if err != nil || found.Where != api.WhereQueue {
		t.Fatalf("Show before tick = %+v, %v", found, err)
	}

	// Every stage is a record handler, so one tick cascades to the end.
	d.Workflow().Tick(ctx)

	found, err = d.Show(ctx, env.ID)
	if err != nil {
		t.Fatalf("Show: %v", err)
	}
	if found.Where != api.WhereArchive || found.Envelope.Task.Status != envelope.StatusCompleted {
		t.Fatalf("expected completed in archive, got %s %s", found.Where, found.Envelope.Task.Status)
	}
	if found.Envelope.Task.CurrentStage != envelope.StageDone {
		t.Fatalf("current stage = %q", found.Envelope.Task.CurrentStage)
	}
}

func TestIngestRejectsEmptyPrompt(t *testing.T) {
	d := newDaemon(t, testsupport.NewConfig(t), nil, nil)
	if _, err := d.Ingest(context.Background(), api.IngestRequest{Title: "x", Prompt: "  "}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestShowUnknownEnvelope(t *testing.T) {
	d := newDaemon(t, testsupport.NewConfig(t), nil, nil)
	if _, err := d.Show(context.Background(), "evt_missing"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestApprovalSuspensionResume(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Notifications.NtfyTopic = "remotedev-test"
	registry := stage.NewRegistry()
	if err := registry.Register(approvalStage{}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	svc := &recordingService{}
	d := newDaemon(t, cfg, registry, svc)
	ctx := context.Background()

	rejected, _ := d.Ingest(ctx, api.IngestRequest{Title: "Rejected", Prompt: "a"})
	approved, _ := d.Ingest(ctx, api.IngestRequest{Title: "Approved", Prompt: "b"})
	d.Workflow().Tick(ctx)
	d.Workflow().Tick(ctx)

	pending, err := d.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if counts := api.CountPending(pending); counts.Approvals != 2 {
		t.Fatalf("expected two approvals, got %+v", counts)
	}

	env, err := d.ResumeApproval(ctx, rejected.ID, false, "out of scope")
	if err != nil {
		t.Fatalf("ResumeApproval reject: %v", err)
	}
	if env.Task.Status != envelope.StatusFailed {
		t.Fatalf("status = %s", env.Task.Status)
	}
	events := svc.events()
	if events[len(events)-1] != notifications.EventEnvelopeFailed {
		t.Fatalf("expected failure notification, got %v", events)
	}
	if _, err := d.ResumeApproval(ctx, rejected.ID, true, ""); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found on second resume, got %v", err)
	}

	if _, err := d.ResumeApproval(ctx, approved.ID, true, "ship it"); err != nil {
		t.Fatalf("ResumeApproval approve: %v", err)
	}
	d.Workflow().Tick(ctx)
	found, err := d.Show(ctx, approved.ID)
	if err != nil || found.Envelope.Task.Status != envelope.StatusCompleted {
		t.Fatalf("expected approved envelope completed, got %+v %v", found, err)
	}

	ok, _, err := d.TestNotification(ctx)
	if !ok || err != nil {
		t.Fatalf("TestNotification = %v, %v", ok, err)
	}
	events = svc.events()
	if events[len(events)-1] != notifications.EventTest {
		t.Fatalf("expected test notification, got %v", events)
	}
}

func TestClarificationResumeValidates(t *testing.T) {
	d := newDaemon(t, testsupport.NewConfig(t), nil, nil)
	if _, err := d.ResumeClarification(context.Background(), "evt_x", "answer"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := d.ResumeClarification(context.Background(), "evt_x", " "); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestWorkItemRunsThroughDesignApprovals(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d := newDaemon(t, cfg, nil, nil)
	ctx := context.Background()

	created, err := d.CreateWorkItem(ctx, api.CreateWorkItemRequest{Title: "Login page"})
	if err != nil {
		t.Fatalf("CreateWorkItem: %v", err)
	}
	id := created.WorkItem.ID
	if created.WorkItem.WorkflowName != orchestrator.DefaultWorkflow || created.Result.To != "REQUIREMENTS" {
		t.Fatalf("unexpected creation: %+v", created)
	}
	queues, err := d.ListQueues(ctx, 5)
	if err != nil {
		t.Fatalf("ListQueues: %v", err)
	}
	if queues[0].Stage != "REQUIREMENT" || queues[0].Depth != 1 || queues[0].Head[0].WorkItemID != id {
		t.Fatalf("unexpected first queue: %+v", queues[0])
	}

	// REQUIREMENT and PLAN emit their stage events; UXUI and ARCHITECT wait
	// for human approval.
	d.Workflow().Tick(ctx)
	item, err := d.GetWorkItem(ctx, id)
	if err != nil {
		t.Fatalf("GetWorkItem: %v", err)
	}
	if item.CurrentState != "DESIGN" {
		t.Fatalf("state after tick = %s", item.CurrentState)
	}

	pending, _ := d.Pending(ctx)
	if counts := api.CountPending(pending); counts.WorkItems != 1 {
		t.Fatalf("expected work item pending, got %+v", counts)
	}

	resp, err := d.SubmitApproval(ctx, id, api.ApprovalRequest{Type: "ux", Approved: true})
	if err != nil {
		t.Fatalf("SubmitApproval UX: %v", err)
	}
	if !resp.Result.Waiting || len(resp.Result.Pending) != 1 {
		t.Fatalf("expected waiting on ARCH, got %+v", resp.Result)
	}
	resp, err = d.SubmitApproval(ctx, id, api.ApprovalRequest{Type: "ARCH", Approved: true})
	if err != nil {
		t.Fatalf("SubmitApproval ARCH: %v", err)
	}
	if !resp.Result.Transitioned || resp.WorkItem.CurrentState != "CODING" {
		t.Fatalf("expected CODING, got %+v", resp.Result)
	}

	d.Workflow().Tick(ctx)
	item, _ = d.GetWorkItem(ctx, id)
	if item.CurrentState != "RELEASE" {
		t.Fatalf("state after second tick = %s", item.CurrentState)
	}

	if _, err := d.HandleEvent(ctx, api.WorkflowEventRequest{WorkItemID: id, Event: "bogus"}); !errors.Is(err, services.ErrTransition) {
		t.Fatalf("expected transition error, got %v", err)
	}
	resp, err = d.HandleEvent(ctx, api.WorkflowEventRequest{WorkItemID: id, Event: "released"})
	if err != nil || resp.WorkItem.CurrentState != "MONITORING" {
		t.Fatalf("HandleEvent RELEASED = %+v, %v", resp, err)
	}

	items, _ := d.ListWorkItems(ctx)
	if len(items) != 1 {
		t.Fatalf("expected one work item, got %d", len(items))
	}
	if removed, err := d.DeleteWorkItem(ctx, id); err != nil || !removed {
		t.Fatalf("DeleteWorkItem = %v, %v", removed, err)
	}
	if _, err := d.GetWorkItem(ctx, id); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestRegisterPRWait(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.GitHub.DefaultOwner = "acme"
	cfg.GitHub.DefaultRepo = "todo"
	d := newDaemon(t, cfg, nil, nil)
	ctx := context.Background()

	env, _ := d.Ingest(ctx, api.IngestRequest{Prompt: "Build"})
	if _, err := d.RegisterPRWait(ctx, api.PRWaitRequest{EventID: env.ID, PRNumber: 3, AgentName: "CODE"}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected queued envelope to be rejected, got %v", err)
	}

	d.Workflow().Tick(ctx)
	reg, err := d.RegisterPRWait(ctx, api.PRWaitRequest{EventID: env.ID, PRNumber: 3, AgentName: "code"})
	if err != nil {
		t.Fatalf("RegisterPRWait: %v", err)
	}
	if reg.RepoOwner != "acme" || reg.RepoName != "todo" || reg.NextAgent != "REFACTORING" {
		t.Fatalf("unexpected registration: %+v", reg)
	}
	if reg.Snapshot.Task.Status != envelope.StatusPendingPRClose {
		t.Fatalf("snapshot status = %s", reg.Snapshot.Task.Status)
	}

	found, err := d.Show(ctx, env.ID)
	if err != nil || found.Where != api.WherePRWait {
		t.Fatalf("Show = %+v, %v", found, err)
	}
	status := d.Status(ctx)
	if status.PRWait.Pending != 1 || status.Pending.PRWaits != 1 {
		t.Fatalf("unexpected status: %+v", status)
	}
}
