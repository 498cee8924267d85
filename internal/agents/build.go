package agents

import (
	"log/slog"

	"remotedev/internal/config"
	"remotedev/internal/logging"
	"remotedev/internal/services"
	"remotedev/internal/stage"
)

// Deps are the collaborators shared by the built handlers. Pusher and Opener
// may be nil when no agent opens pull requests.
type Deps struct {
	Pusher   BranchPusher
	Opener   PullRequestOpener
	Executor Executor
	Logger   *slog.Logger
}

// Build registers one handler per configured pipeline stage, in order.
func Build(cfg *config.Config, deps Deps) (*stage.Registry, error) {
	registry := stage.NewRegistry()
	logger := logging.NewComponentLogger(deps.Logger, "agents")
	for _, name := range cfg.Pipeline.Stages {
		next := cfg.NextStage(name)
		agent, ok := cfg.AgentFor(name)
		if !ok {
			if err := registry.Register(NewRecord(name, next)); err != nil {
				return nil, err
			}
			continue
		}

		cmd, err := NewCommand(name, next, agent,
			WithExecutor(deps.Executor),
			WithLogger(logger.With(logging.String(logging.FieldStage, name))),
		)
		if err != nil {
			return nil, err
		}
		var handler stage.Handler = cmd
		if agent.OpenPullRequest {
			if deps.Pusher == nil || deps.Opener == nil {
				return nil, services.Wrap(services.ErrConfiguration, "agents", "build",
					"agents."+name+".open_pull_request needs [git] repo_path and a github token", nil)
			}
			handler = NewPullRequest(cmd, deps.Pusher, deps.Opener, PullRequestSettings{
				BaseBranch: cfg.Git.BaseBranch,
				Owner:      cfg.GitHub.DefaultOwner,
				Repo:       cfg.GitHub.DefaultRepo,
			})
		}
		if err := registry.Register(handler); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
