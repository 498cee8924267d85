package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir     string `toml:"data_dir"`
	LogDir      string `toml:"log_dir"`
	WorkflowDir string `toml:"workflow_dir"`
}

// Pipeline configures the stage stepper.
type Pipeline struct {
	TickInterval    int      `toml:"tick_interval_seconds"`
	ShutdownTimeout int      `toml:"shutdown_timeout_seconds"`
	Stages          []string `toml:"stages"`
	FirstStage      string   `toml:"first_stage"`
}

// PRWait configures the pull request poller.
type PRWait struct {
	PollInterval int `toml:"poll_interval_seconds"`
	TimeoutHours int `toml:"timeout_hours"`
}

// GitHub contains REST API settings for pull request tracking.
type GitHub struct {
	Token          string `toml:"token"`
	APIURL         string `toml:"api_url"`
	RequestTimeout int    `toml:"request_timeout_seconds"`
	DefaultOwner   string `toml:"default_owner"`
	DefaultRepo    string `toml:"default_repo"`
}

// Git contains settings for pushing work branches.
type Git struct {
	RepoPath   string `toml:"repo_path"`
	Remote     string `toml:"remote"`
	Username   string `toml:"username"`
	BaseBranch string `toml:"base_branch"`
}

// Notifications contains configuration for the ntfy and NATS sinks.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout_seconds"`
	NATSURL        string `toml:"nats_url"`
	NATSSubject    string `toml:"nats_subject"`
}

// Workflow selects the orchestrator workflow used for new work items.
type Workflow struct {
	DefaultName string `toml:"default_name"`
}

// Logging contains log output settings.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// API configures the optional HTTP API. An empty Bind disables it; a
// non-empty Token requires "Authorization: Bearer <token>".
type API struct {
	Bind  string `toml:"bind"`
	Token string `toml:"token"`
}

// Metrics configures the Prometheus listener. An empty Listen disables it.
type Metrics struct {
	Listen string `toml:"listen"`
}

// Agent binds a pipeline stage to an external command. When OpenPullRequest
// is set, a branch named in the returned git_context is pushed and a pull
// request is opened before the stage hands the envelope to the PR poller.
type Agent struct {
	Command         []string `toml:"command"`
	Timeout         int      `toml:"timeout_seconds"`
	Env             []string `toml:"env"`
	OpenPullRequest bool     `toml:"open_pull_request"`
}

// Config encapsulates all configuration values for remotedev.
//
// Configuration sections by subsystem:
//   - Paths: data, log and workflow definition directories
//   - Pipeline: stage order and stepper cadence
//   - PRWait: pull request poll cadence and timeout horizon
//   - GitHub / Git: review API and branch push settings
//   - Notifications: ntfy and NATS sinks
//   - Workflow: default orchestrator workflow
//   - API: optional HTTP surface
//   - Logging / Metrics: observability
//   - Agents: per-stage external commands
type Config struct {
	Paths         Paths            `toml:"paths"`
	Pipeline      Pipeline         `toml:"pipeline"`
	PRWait        PRWait           `toml:"pr_wait"`
	GitHub        GitHub           `toml:"github"`
	Git           Git              `toml:"git"`
	Notifications Notifications    `toml:"notifications"`
	Workflow      Workflow         `toml:"workflow"`
	API           API              `toml:"api"`
	Logging       Logging          `toml:"logging"`
	Metrics       Metrics          `toml:"metrics"`
	Agents        map[string]Agent `toml:"agents"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/remotedev/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if strings.TrimSpace(path) == "" {
		if value, ok := os.LookupEnv("REMOTEDEV_CONFIG"); ok {
			path = strings.TrimSpace(value)
		}
	}
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("remotedev.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// StorePath is the SQLite database holding queues, suspensions and work items.
func (c *Config) StorePath() string {
	return filepath.Join(c.Paths.DataDir, "remotedev.db")
}

// LockPath is the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "remotedevd.lock")
}

// SocketPath is the unix socket the daemon serves IPC on.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Paths.DataDir, "remotedevd.sock")
}

// PIDPath holds the daemon process id while it runs.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.DataDir, "remotedevd.pid")
}

// LogPath is the daemon log file. The daemon points it at the current
// per-run log.
func (c *Config) LogPath() string {
	return filepath.Join(c.Paths.LogDir, "remotedevd.log")
}

// TickInterval returns the stepper tick cadence.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Pipeline.TickInterval) * time.Second
}

// ShutdownTimeout bounds how long loop shutdown waits for in-flight work.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Pipeline.ShutdownTimeout) * time.Second
}

// PRPollInterval returns the PR poller cadence.
func (c *Config) PRPollInterval() time.Duration {
	return time.Duration(c.PRWait.PollInterval) * time.Second
}

// PRTimeout returns the horizon after which a pending PR is abandoned.
func (c *Config) PRTimeout() time.Duration {
	return time.Duration(c.PRWait.TimeoutHours) * time.Hour
}

// AgentFor returns the agent command configured for stage, if any.
func (c *Config) AgentFor(stage string) (Agent, bool) {
	if c.Agents == nil {
		return Agent{}, false
	}
	agent, ok := c.Agents[strings.ToUpper(strings.TrimSpace(stage))]
	if !ok || len(agent.Command) == 0 {
		return Agent{}, false
	}
	return agent, true
}

// NextStage returns the stage configured after name, or "" when name is last.
func (c *Config) NextStage(name string) string {
	for i, stage := range c.Pipeline.Stages {
		if stage == name && i+1 < len(c.Pipeline.Stages) {
			return c.Pipeline.Stages[i+1]
		}
	}
	return ""
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
