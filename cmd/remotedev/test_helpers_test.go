package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"remotedev/internal/agents"
	"remotedev/internal/config"
	"remotedev/internal/daemon"
	"remotedev/internal/ipc"
	"remotedev/internal/logging"
	"remotedev/internal/store"
	"remotedev/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	daemon     *daemon.Daemon
	socketPath string
	configPath string
}

// setupCLITestEnv writes a config file and serves an in-process daemon on
// the configured socket.
func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()
	env := setupOfflineEnv(t)

	hub := logging.NewStreamHub(128)
	logger, err := logging.New(logging.Options{
		Format:      "json",
		Level:       "info",
		OutputPaths: []string{filepath.Join(env.cfg.Paths.LogDir, "cli-test.log")},
		Stream:      hub,
	})
	if err != nil {
		t.Fatalf("logging.New: %v", err)
	}
	registry, err := agents.Build(env.cfg, agents.Deps{Logger: logger})
	if err != nil {
		t.Fatalf("agents.Build: %v", err)
	}
	d, err := daemon.New(env.cfg, daemon.Options{
		Store:         store.NewMemory(),
		Registry:      registry,
		Logger:        logger,
		LogHub:        hub,
		SkipPreflight: true,
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	srv, err := ipc.NewServer(ctx, env.socketPath, d, logger)
	if err != nil {
		cancel()
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping CLI test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(func() {
		cancel()
		srv.Close()
		_ = d.Close()
	})
	env.daemon = d
	return env
}

// setupOfflineEnv writes a config file without starting a daemon.
func setupOfflineEnv(t *testing.T) *cliTestEnv {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("GITHUB_TOKEN", "")
	t.Setenv("REMOTEDEV_API_TOKEN", "")

	cfg := testsupport.NewConfig(t)
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg)
	return &cliTestEnv{cfg: cfg, socketPath: cfg.SocketPath(), configPath: configPath}
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	content := fmt.Sprintf("[paths]\ndata_dir = %q\nlog_dir = %q\n\n[pipeline]\ntick_interval_seconds = 1\n",
		cfg.Paths.DataDir, cfg.Paths.LogDir)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func (e *cliTestEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--socket", e.socketPath, "--config", e.configPath}, args...))
	err := cmd.Execute()
	return stdout.String(), err
}

func (e *cliTestEnv) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := e.run(t, args...)
	if err != nil {
		t.Fatalf("remotedev %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
