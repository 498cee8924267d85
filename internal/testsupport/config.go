package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"remotedev/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// The directories exist when it returns.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Pipeline.TickInterval = 1
	cfgVal.GitHub.Token = ""
	cfgVal.API.Bind = ""
	cfgVal.API.Token = ""

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}
	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithAPI enables the HTTP API on a loopback port chosen by the kernel.
func WithAPI(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.API.Bind = "127.0.0.1:0"
		b.cfg.API.Token = token
	}
}

// WithWorkflowDir creates and sets paths.workflow_dir.
func WithWorkflowDir() ConfigOption {
	return func(b *configBuilder) {
		dir := filepath.Join(b.baseDir, "workflows")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			b.t.Fatalf("mkdir workflow dir: %v", err)
		}
		b.cfg.Paths.WorkflowDir = dir
	}
}

// WithAgent configures a command agent for stage.
func WithAgent(stage string, command ...string) ConfigOption {
	return func(b *configBuilder) {
		if b.cfg.Agents == nil {
			b.cfg.Agents = map[string]config.Agent{}
		}
		b.cfg.Agents[stage] = config.Agent{Command: command, Timeout: 30}
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := []byte("#!/bin/sh\ncat\n")
		for _, name := range names {
			target := filepath.Join(binDir, name)
			if err := os.WriteFile(target, script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}

		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}

// WriteFile creates path, and any missing parents, holding content.
func WriteFile(t testing.TB, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
