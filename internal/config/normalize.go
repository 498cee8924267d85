package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizePipeline()
	c.normalizeGitHub()
	if err := c.normalizeGit(); err != nil {
		return err
	}
	c.normalizeNotifications()
	c.normalizeAPI()
	c.normalizeAgents()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.WorkflowDir, err = expandPath(strings.TrimSpace(c.Paths.WorkflowDir)); err != nil {
		return fmt.Errorf("paths.workflow_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizePipeline() {
	stages := make([]string, 0, len(c.Pipeline.Stages))
	for _, stage := range c.Pipeline.Stages {
		if trimmed := strings.ToUpper(strings.TrimSpace(stage)); trimmed != "" {
			stages = append(stages, trimmed)
		}
	}
	if len(stages) == 0 {
		stages = append(stages, DefaultStages...)
	}
	c.Pipeline.Stages = stages
	c.Pipeline.FirstStage = strings.ToUpper(strings.TrimSpace(c.Pipeline.FirstStage))
	if c.Pipeline.FirstStage == "" {
		c.Pipeline.FirstStage = stages[0]
	}
}

func (c *Config) normalizeGitHub() {
	if strings.TrimSpace(c.GitHub.Token) == "" {
		if value, ok := os.LookupEnv("GITHUB_TOKEN"); ok {
			c.GitHub.Token = strings.TrimSpace(value)
		}
	}
	c.GitHub.APIURL = strings.TrimRight(strings.TrimSpace(c.GitHub.APIURL), "/")
	if c.GitHub.APIURL == "" {
		c.GitHub.APIURL = defaultGitHubAPIURL
	}
	c.GitHub.DefaultOwner = strings.TrimSpace(c.GitHub.DefaultOwner)
	c.GitHub.DefaultRepo = strings.TrimSpace(c.GitHub.DefaultRepo)
}

func (c *Config) normalizeGit() error {
	var err error
	if c.Git.RepoPath, err = expandPath(strings.TrimSpace(c.Git.RepoPath)); err != nil {
		return fmt.Errorf("git.repo_path: %w", err)
	}
	if strings.TrimSpace(c.Git.Remote) == "" {
		c.Git.Remote = defaultGitRemote
	}
	if strings.TrimSpace(c.Git.Username) == "" {
		c.Git.Username = defaultGitUsername
	}
	if c.Git.BaseBranch = strings.TrimSpace(c.Git.BaseBranch); c.Git.BaseBranch == "" {
		c.Git.BaseBranch = defaultGitBaseBranch
	}
	return nil
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	c.Notifications.NATSURL = strings.TrimSpace(c.Notifications.NATSURL)
	if strings.TrimSpace(c.Notifications.NATSSubject) == "" {
		c.Notifications.NATSSubject = defaultNATSSubject
	}
}

func (c *Config) normalizeAPI() {
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	if strings.TrimSpace(c.API.Token) == "" {
		if value, ok := os.LookupEnv("REMOTEDEV_API_TOKEN"); ok {
			c.API.Token = value
		}
	}
	c.API.Token = strings.TrimSpace(c.API.Token)
}

func (c *Config) normalizeAgents() {
	if len(c.Agents) == 0 {
		return
	}
	normalized := make(map[string]Agent, len(c.Agents))
	for name, agent := range c.Agents {
		if agent.Timeout <= 0 {
			agent.Timeout = defaultAgentTimeout
		}
		normalized[strings.ToUpper(strings.TrimSpace(name))] = agent
	}
	c.Agents = normalized
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
