package ipc_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"remotedev/internal/agents"
	"remotedev/internal/api"
	"remotedev/internal/daemon"
	"remotedev/internal/ipc"
	"remotedev/internal/logging"
	"remotedev/internal/orchestrator"
	"remotedev/internal/store"
	"remotedev/internal/testsupport"
)

func startIPC(t *testing.T) *ipc.Client {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	hub := logging.NewStreamHub(64)
	logger, err := logging.New(logging.Options{
		Format:      "json",
		Level:       "info",
		OutputPaths: []string{filepath.Join(cfg.Paths.LogDir, "ipc-test.log")},
		Stream:      hub,
	})
	if err != nil {
		t.Fatalf("logging.New: %v", err)
	}
	registry, err := agents.Build(cfg, agents.Deps{Logger: logger})
	if err != nil {
		t.Fatalf("agents.Build: %v", err)
	}
	d, err := daemon.New(cfg, daemon.Options{
		Store:         store.NewMemory(),
		Registry:      registry,
		Logger:        logger,
		LogHub:        hub,
		SkipPreflight: true,
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	srv, err := ipc.NewServer(ctx, cfg.SocketPath(), d, logger)
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping IPC server test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(srv.Close)

	client, err := ipc.Dial(cfg.SocketPath())
	if err != nil {
		t.Fatalf("ipc.Dial: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestIPCEnvelopeLifecycle(t *testing.T) {
	client := startIPC(t)

	ingest, err := client.Ingest(ipc.IngestRequest{Prompt: "Build a todo app", Title: "Todo"})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if ingest.Queue != "queue:REQUIREMENT" || ingest.Envelope.Title != "Todo" {
		t.Fatalf("unexpected ingest response: %+v", ingest)
	}

	shown, err := client.Show(ingest.Envelope.ID)
	if err != nil {
		t.Fatalf("Show failed: %v", err)
	}
	if shown.Where != api.WhereQueue || shown.Envelope.Task.OriginalPrompt != "Build a todo app" {
		t.Fatalf("unexpected show response: %+v", shown)
	}

	queues, err := client.QueueList(5)
	if err != nil {
		t.Fatalf("QueueList failed: %v", err)
	}
	var found bool
	for _, q := range queues.Queues {
		if q.Stage == "REQUIREMENT" {
			found = q.Depth == 1 && len(q.Head) == 1 && q.Head[0].ID == ingest.Envelope.ID
		}
	}
	if !found {
		t.Fatalf("expected envelope at head of REQUIREMENT, got %+v", queues.Queues)
	}

	if _, err := client.Show("evt_missing"); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
	if _, err := client.Clarify(ingest.Envelope.ID, "yes"); err == nil {
		t.Fatal("expected clarify on a queued envelope to fail")
	}
	if _, err := client.Ingest(ipc.IngestRequest{Prompt: "  "}); err == nil {
		t.Fatal("expected empty prompt to be rejected")
	}

	logs, err := client.LogTail(ipc.LogTailRequest{Limit: 50})
	if err != nil {
		t.Fatalf("LogTail failed: %v", err)
	}
	var ingested bool
	for _, evt := range logs.Events {
		if evt.Message == "envelope ingested" && evt.EnvelopeID == ingest.Envelope.ID {
			ingested = true
		}
	}
	if !ingested || logs.Offset == 0 {
		t.Fatalf("expected ingest log event, got %+v offset=%d", logs.Events, logs.Offset)
	}

	follow, err := client.LogTail(ipc.LogTailRequest{Offset: logs.Offset, Follow: true, WaitMillis: 50})
	if err != nil {
		t.Fatalf("LogTail follow failed: %v", err)
	}
	if len(follow.Events) != 0 || follow.Offset != logs.Offset {
		t.Fatalf("expected idle follow to return nothing, got %+v offset=%d", follow.Events, follow.Offset)
	}
}

func TestIPCWorkItems(t *testing.T) {
	client := startIPC(t)

	created, err := client.WorkItemCreate(ipc.WorkItemCreateRequest{Title: "Checkout"})
	if err != nil {
		t.Fatalf("WorkItemCreate failed: %v", err)
	}
	id := created.WorkItem.ID
	if created.WorkItem.CurrentState != "REQUIREMENTS" {
		t.Fatalf("unexpected initial state %q", created.WorkItem.CurrentState)
	}

	moved, err := client.WorkItemEvent(ipc.WorkItemEventRequest{WorkItemID: id, Event: "requirements_completed"})
	if err != nil {
		t.Fatalf("WorkItemEvent failed: %v", err)
	}
	if !moved.Result.Transitioned || moved.WorkItem.CurrentState != "PLANNING" {
		t.Fatalf("unexpected transition: %+v", moved.Result)
	}

	if _, err := client.WorkItemApprove(ipc.WorkItemApproveRequest{ID: id, Type: "QA", Approved: true}); err == nil {
		t.Fatal("expected unknown approval type to fail")
	}

	list, err := client.WorkItemList()
	if err != nil {
		t.Fatalf("WorkItemList failed: %v", err)
	}
	if len(list.Items) != 1 || list.Items[0].State != "PLANNING" {
		t.Fatalf("unexpected list: %+v", list.Items)
	}

	shown, err := client.WorkItemShow(id)
	if err != nil {
		t.Fatalf("WorkItemShow failed: %v", err)
	}
	if len(shown.Item.History) < 2 {
		t.Fatalf("expected history entries, got %+v", shown.Item.History)
	}

	workflows, err := client.Workflows()
	if err != nil {
		t.Fatalf("Workflows failed: %v", err)
	}
	if len(workflows.Workflows) != 1 || workflows.Workflows[0].Name != orchestrator.DefaultWorkflow {
		t.Fatalf("unexpected workflows: %+v", workflows.Workflows)
	}

	pending, err := client.Pending()
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	if pending.Counts.WorkItems != 0 || len(pending.Items) != 0 {
		t.Fatalf("expected nothing pending, got %+v", pending)
	}

	deleted, err := client.WorkItemDelete(id)
	if err != nil || !deleted.Removed {
		t.Fatalf("WorkItemDelete: removed=%v err=%v", deleted != nil && deleted.Removed, err)
	}
	again, err := client.WorkItemDelete(id)
	if err != nil || again.Removed {
		t.Fatalf("second delete should report not removed: %+v %v", again, err)
	}
}

func TestIPCStartStopAndNotify(t *testing.T) {
	client := startIPC(t)

	started, err := client.Start()
	if err != nil {
		t.Fatalf("Start RPC failed: %v", err)
	}
	if !started.Started {
		t.Fatalf("expected Started=true, message=%s", started.Message)
	}
	again, err := client.Start()
	if err != nil {
		t.Fatalf("second Start RPC failed: %v", err)
	}
	if again.Started || again.Message == "" {
		t.Fatalf("expected second start to be refused, got %+v", again)
	}

	status, err := client.Status()
	if err != nil {
		t.Fatalf("Status RPC failed: %v", err)
	}
	if !status.Running || status.PID == 0 || !strings.HasSuffix(status.StorePath, "remotedev.db") {
		t.Fatalf("unexpected status: %+v", status)
	}

	notify, err := client.TestNotification()
	if err != nil {
		t.Fatalf("TestNotification failed: %v", err)
	}
	if notify.Sent || notify.Message != "no notification backend configured" {
		t.Fatalf("unexpected notification response: %+v", notify)
	}

	if _, err := client.PRWaitRegister(ipc.PRWaitRegisterRequest{EventID: "evt_missing", PRNumber: 7, AgentName: "code"}); err == nil {
		t.Fatal("expected PR wait registration for unknown envelope to fail")
	}

	stopped, err := client.Stop()
	if err != nil {
		t.Fatalf("Stop RPC failed: %v", err)
	}
	if !stopped.Stopped {
		t.Fatal("expected stop response to be true")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		status, err = client.Status()
		if err != nil {
			t.Fatalf("Status RPC failed: %v", err)
		}
		if !status.Running || time.Now().After(deadline) {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if status.Running {
		t.Fatal("expected daemon to be stopped")
	}
}
