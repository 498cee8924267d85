package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"remotedev/internal/config"
)

func TestLoadDefaultConfigExpandsPathsAndUsesEnvToken(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("REMOTEDEV_CONFIG", "")
	t.Setenv("GITHUB_TOKEN", "ghp-test")
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "remotedev")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.StorePath() != filepath.Join(wantData, "remotedev.db") {
		t.Fatalf("unexpected store path: %q", cfg.StorePath())
	}
	if cfg.GitHub.Token != "ghp-test" {
		t.Fatalf("expected token from env, got %q", cfg.GitHub.Token)
	}
	if got := strings.Join(cfg.Pipeline.Stages, ","); got != strings.Join(config.DefaultStages, ",") {
		t.Fatalf("unexpected stages: %s", got)
	}
	if cfg.TickInterval() != 2*time.Second {
		t.Fatalf("unexpected tick interval: %s", cfg.TickInterval())
	}
	if cfg.PRTimeout() != 24*time.Hour {
		t.Fatalf("unexpected pr timeout: %s", cfg.PRTimeout())
	}
	if cfg.NextStage("REQUIREMENT") != "PLAN" {
		t.Fatalf("unexpected next stage: %q", cfg.NextStage("REQUIREMENT"))
	}
	if cfg.NextStage("EVALUATION") != "" {
		t.Fatalf("expected last stage to have no successor")
	}
}

func TestLoadAPITokenFallsBackToEnv(t *testing.T) {
	t.Setenv("REMOTEDEV_API_TOKEN", " env-token ")
	path := filepath.Join(t.TempDir(), "config.toml")
	content := "[paths]\ndata_dir = \"" + filepath.Join(t.TempDir(), "data") + "\"\n\n[api]\nbind = \" 127.0.0.1:8080 \"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected config file to exist")
	}
	if cfg.API.Bind != "127.0.0.1:8080" {
		t.Fatalf("unexpected bind: %q", cfg.API.Bind)
	}
	if cfg.API.Token != "env-token" {
		t.Fatalf("expected token from env, got %q", cfg.API.Token)
	}
	if cfg.Logging.RetentionDays != 30 {
		t.Fatalf("unexpected retention default: %d", cfg.Logging.RetentionDays)
	}
}

func TestLoadCustomPath(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	configPath := filepath.Join(t.TempDir(), "remotedev.toml")
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(tempHome, "data")
	cfg.Pipeline.Stages = []string{"plan", "code"}
	cfg.Pipeline.FirstStage = "plan"
	cfg.PRWait.TimeoutHours = 2
	cfg.Agents = map[string]config.Agent{"code": {Command: []string{"/bin/cat"}}}

	encoded, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(configPath, encoded, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	loaded, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("expected custom path to be used, got %q (exists=%v)", resolved, exists)
	}
	if got := strings.Join(loaded.Pipeline.Stages, ","); got != "PLAN,CODE" {
		t.Fatalf("expected stages to be upper-cased, got %s", got)
	}
	if loaded.Pipeline.FirstStage != "PLAN" {
		t.Fatalf("unexpected first stage %q", loaded.Pipeline.FirstStage)
	}
	agent, ok := loaded.AgentFor("code")
	if !ok {
		t.Fatal("expected CODE agent to be configured")
	}
	if agent.Timeout != 600 {
		t.Fatalf("expected default agent timeout, got %d", agent.Timeout)
	}
	if loaded.PRTimeout() != 2*time.Hour {
		t.Fatalf("unexpected pr timeout: %s", loaded.PRTimeout())
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	configPath := filepath.Join(t.TempDir(), "remotedev.toml")
	if err := os.WriteFile(configPath, []byte("[pipeline]\nbogus = 1\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, _, err := config.Load(configPath); err == nil {
		t.Fatal("expected unknown key to be rejected")
	}
}

func TestCreateSample(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample returned error: %v", err)
	}
	if _, _, _, err := config.Load(path); err != nil {
		t.Fatalf("sample config should load cleanly: %v", err)
	}
}

func TestValidateDetectsInvalidValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{
			name:   "tick interval",
			mutate: func(c *config.Config) { c.Pipeline.TickInterval = 0 },
			want:   "pipeline.tick_interval_seconds",
		},
		{
			name:   "duplicate stage",
			mutate: func(c *config.Config) { c.Pipeline.Stages = []string{"PLAN", "PLAN"}; c.Pipeline.FirstStage = "PLAN" },
			want:   "duplicate stage",
		},
		{
			name:   "unknown first stage",
			mutate: func(c *config.Config) { c.Pipeline.FirstStage = "NOPE" },
			want:   "pipeline.first_stage",
		},
		{
			name:   "pr timeout",
			mutate: func(c *config.Config) { c.PRWait.TimeoutHours = -1 },
			want:   "pr_wait.timeout_hours",
		},
		{
			name:   "log format",
			mutate: func(c *config.Config) { c.Logging.Format = "xml" },
			want:   "logging.format",
		},
		{
			name:   "log retention",
			mutate: func(c *config.Config) { c.Logging.RetentionDays = -1 },
			want:   "logging.retention_days",
		},
		{
			name: "agent for unknown stage",
			mutate: func(c *config.Config) {
				c.Agents = map[string]config.Agent{"DEPLOY": {Command: []string{"deploy"}}}
			},
			want: "agents.DEPLOY",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error containing %q", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
