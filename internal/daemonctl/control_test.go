package daemonctl_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"remotedev/internal/daemonctl"
	"remotedev/internal/envelope"
	"remotedev/internal/queue"
	"remotedev/internal/testsupport"
)

func TestReadPID(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "missing.pid")
	if pid, err := daemonctl.ReadPID(missing); err != nil || pid != 0 {
		t.Fatalf("missing pid file: pid=%d err=%v", pid, err)
	}

	good := filepath.Join(dir, "good.pid")
	testsupport.WriteFile(t, good, "4242\n")
	if pid, err := daemonctl.ReadPID(good); err != nil || pid != 4242 {
		t.Fatalf("good pid file: pid=%d err=%v", pid, err)
	}

	bad := filepath.Join(dir, "bad.pid")
	testsupport.WriteFile(t, bad, "nope")
	if _, err := daemonctl.ReadPID(bad); err == nil {
		t.Fatal("expected error for malformed pid file")
	}
}

func TestOfflineDaemonIsReportedUnavailable(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	socket := cfg.SocketPath()

	alive, pid, err := daemonctl.ProcessInfo(socket)
	if err != nil || alive || pid != 0 {
		t.Fatalf("ProcessInfo: alive=%v pid=%d err=%v", alive, pid, err)
	}
	if _, err := daemonctl.StopAndTerminate(socket, cfg, time.Second); !errors.Is(err, daemonctl.ErrDaemonNotRunning) {
		t.Fatalf("expected ErrDaemonNotRunning, got %v", err)
	}
	if err := daemonctl.WaitForExit(socket, 100*time.Millisecond); err != nil {
		t.Fatalf("WaitForExit on absent socket: %v", err)
	}
}

func TestBuildStatusSnapshotReadsStoreWhenOffline(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	q := queue.New(st, nil)
	env := envelope.New(envelope.Options{Title: "Offline", Prompt: "p", Stage: "PLAN"})
	if err := q.Push(context.Background(), "PLAN", env); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	snap, err := daemonctl.BuildStatusSnapshot(context.Background(), cfg.SocketPath(), cfg)
	if err != nil {
		t.Fatalf("BuildStatusSnapshot: %v", err)
	}
	if snap.Reachable || snap.Status.Running {
		t.Fatalf("expected offline snapshot, got %+v", snap.Status)
	}
	if got := snap.Status.Pipeline.QueueDepths["PLAN"]; got != 1 {
		t.Fatalf("expected PLAN depth 1, got %d (%v)", got, snap.Status.Pipeline.QueueDepths)
	}
	if snap.Status.StorePath != cfg.StorePath() {
		t.Fatalf("unexpected store path %q", snap.Status.StorePath)
	}
	if len(snap.Checks) == 0 || !snap.Checks[0].Passed {
		t.Fatalf("expected passing data directory check, got %+v", snap.Checks)
	}
	if len(snap.System) == 0 || snap.System[0].Label != "Daemon" || snap.System[0].Severity != "warn" {
		t.Fatalf("unexpected system lines: %+v", snap.System)
	}
}

func TestBuildStatusSnapshotWithoutStore(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := os.Remove(cfg.StorePath()); err != nil && !os.IsNotExist(err) {
		t.Fatalf("remove store: %v", err)
	}
	snap, err := daemonctl.BuildStatusSnapshot(context.Background(), cfg.SocketPath(), cfg)
	if err != nil {
		t.Fatalf("BuildStatusSnapshot: %v", err)
	}
	var storeLine bool
	for _, line := range snap.System {
		if line.Label == "Store" && line.Severity == "warn" {
			storeLine = true
		}
	}
	if !storeLine {
		t.Fatalf("expected store warning, got %+v", snap.System)
	}
	if _, err := os.Stat(cfg.StorePath()); !os.IsNotExist(err) {
		t.Fatalf("offline status must not create the store, stat err=%v", err)
	}
}

func TestBuildSystemChecks(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithAPI(""))
	cfg.Notifications.NATSURL = "nats://127.0.0.1:4222"

	lines := daemonctl.BuildSystemChecks(cfg, true, false)
	byLabel := map[string]daemonctl.StatusLine{}
	for _, line := range lines {
		byLabel[line.Label] = line
	}
	if byLabel["Daemon"].Detail != "Paused (run `remotedev start`)" {
		t.Fatalf("unexpected daemon line: %+v", byLabel["Daemon"])
	}
	if byLabel["Notifications"].Detail != "nats" {
		t.Fatalf("unexpected notifications line: %+v", byLabel["Notifications"])
	}
	if byLabel["HTTP API"].Severity != "warn" {
		t.Fatalf("expected tokenless API to warn: %+v", byLabel["HTTP API"])
	}
	if byLabel["PR Polling"].Severity != "warn" {
		t.Fatalf("expected PR polling disabled without token: %+v", byLabel["PR Polling"])
	}
}
