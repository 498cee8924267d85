package agents

import (
	"context"
	"fmt"
	"strings"

	"remotedev/internal/envelope"
	"remotedev/internal/services"
	"remotedev/internal/services/github"
	"remotedev/internal/stage"
)

// BranchPusher publishes a local branch to the remote.
type BranchPusher interface {
	PushBranch(ctx context.Context, branch string) error
}

// PullRequestOpener opens (or finds) a pull request for a pushed branch.
type PullRequestOpener interface {
	CreatePullRequest(ctx context.Context, req github.NewPullRequest) (github.PullRequest, error)
}

// PullRequestSettings are the repository defaults for opened pull requests.
type PullRequestSettings struct {
	BaseBranch string
	Owner      string
	Repo       string
}

// PullRequest wraps a handler whose successful output names a branch in
// git_context. The branch is pushed, a pull request opened, and the envelope
// returned as PENDING_PR_CLOSE so the stepper registers the wait.
type PullRequest struct {
	stage.Handler
	pusher   BranchPusher
	opener   PullRequestOpener
	settings PullRequestSettings
}

// NewPullRequest decorates inner.
func NewPullRequest(inner stage.Handler, pusher BranchPusher, opener PullRequestOpener, settings PullRequestSettings) *PullRequest {
	if strings.TrimSpace(settings.BaseBranch) == "" {
		settings.BaseBranch = "main"
	}
	return &PullRequest{Handler: inner, pusher: pusher, opener: opener, settings: settings}
}

func (p *PullRequest) Process(ctx context.Context, env *envelope.Envelope) (*envelope.Envelope, error) {
	out, err := p.Handler.Process(ctx, env)
	if err != nil || out == nil {
		return out, err
	}
	task := out.Task
	if task.HasError || task.NeedsClarification || task.NeedsApproval || task.Status == envelope.StatusPendingPRClose {
		return out, nil
	}
	branch := strings.TrimSpace(out.GitString(envelope.GitBranch))
	if branch == "" {
		return out, nil
	}

	owner := firstNonEmpty(out.GitString(envelope.GitRepoOwner), p.settings.Owner)
	repo := firstNonEmpty(out.GitString(envelope.GitRepoName), p.settings.Repo)
	if owner == "" || repo == "" {
		return nil, services.Wrap(services.ErrConfiguration, p.Name(), "open pull request",
			"repository owner/name missing from git_context and github defaults", nil)
	}

	if err := p.pusher.PushBranch(ctx, branch); err != nil {
		return nil, fmt.Errorf("push %s: %w", branch, err)
	}
	pr, err := p.opener.CreatePullRequest(ctx, github.NewPullRequest{
		Owner: owner,
		Repo:  repo,
		Title: pullRequestTitle(out, p.DisplayName()),
		Head:  branch,
		Base:  p.settings.BaseBranch,
		Body:  pullRequestBody(out, p.Name()),
	})
	if err != nil {
		return nil, fmt.Errorf("open pull request for %s: %w", branch, err)
	}

	out.SetGit(envelope.GitPRNumber, pr.Number)
	out.SetGit(envelope.GitPRURL, pr.HTMLURL)
	out.SetGit(envelope.GitRepoOwner, owner)
	out.SetGit(envelope.GitRepoName, repo)
	out.Task.Status = envelope.StatusPendingPRClose
	return out, nil
}

// HealthCheck forwards to the wrapped handler when it reports health.
func (p *PullRequest) HealthCheck(ctx context.Context) stage.Health {
	if checker, ok := p.Handler.(stage.HealthChecker); ok {
		return checker.HealthCheck(ctx)
	}
	return stage.Healthy(p.Name())
}

func pullRequestTitle(env *envelope.Envelope, display string) string {
	title := strings.TrimSpace(env.Task.Title)
	if title == "" {
		title = env.ID
	}
	if env.Task.IsRework {
		return fmt.Sprintf("[%s] %s (rework)", display, title)
	}
	return fmt.Sprintf("[%s] %s", display, title)
}

func pullRequestBody(env *envelope.Envelope, stageName string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Opened by remotedev for `%s` at stage %s.\n", env.ID, stageName)
	if summary := stageSummary(env, stageName); summary != "" {
		fmt.Fprintf(&b, "\n%s\n", summary)
	}
	if prompt := strings.TrimSpace(env.Task.OriginalPrompt); prompt != "" {
		fmt.Fprintf(&b, "\n### Task\n%s\n", prompt)
	}
	return b.String()
}

func stageSummary(env *envelope.Envelope, stageName string) string {
	output, ok := env.StageOutput(stageName)
	if !ok {
		return ""
	}
	switch v := output.(type) {
	case string:
		return strings.TrimSpace(v)
	case map[string]any:
		if s, ok := v["summary"].(string); ok {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
