package preflight

import (
	"context"
	"strings"
	"time"

	"remotedev/internal/config"
	"remotedev/internal/services/github"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name     string `json:"name"`
	Passed   bool   `json:"passed"`
	Detail   string `json:"detail"`
	Critical bool   `json:"critical,omitempty"`
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	data := CheckDirectoryAccess("Data directory", cfg.Paths.DataDir)
	data.Critical = true
	results = append(results, data)
	results = append(results, CheckDirectoryAccess("Log directory", cfg.Paths.LogDir))

	if cfg.Paths.WorkflowDir != "" {
		results = append(results, CheckDirectoryAccess("Workflow directory", cfg.Paths.WorkflowDir))
	}
	if cfg.Git.RepoPath != "" {
		results = append(results, CheckDirectoryAccess("Git repository", cfg.Git.RepoPath))
	}

	if strings.TrimSpace(cfg.GitHub.Token) != "" {
		client := github.New(cfg.GitHub.APIURL, cfg.GitHub.Token, 5*time.Second)
		results = append(results, CheckGitHub(ctx, client))
	}

	for _, stage := range cfg.Pipeline.Stages {
		if agent, ok := cfg.AgentFor(stage); ok {
			results = append(results, CheckAgentCommand(stage, agent))
		}
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}

// CriticalFailure returns the first failed critical check.
func CriticalFailure(results []Result) (Result, bool) {
	for _, r := range results {
		if r.Critical && !r.Passed {
			return r, true
		}
	}
	return Result{}, false
}
