package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"remotedev/internal/envelope"
	"remotedev/internal/logging"
	"remotedev/internal/metrics"
	"remotedev/internal/prwait"
	"remotedev/internal/services"
	"remotedev/internal/stage"
)

// awaitPullRequest hands an envelope whose handler opened a pull request to
// the PR wait registry. The stepper does not see it again until the poller
// re-enqueues it.
func (m *Manager) awaitPullRequest(ctx context.Context, logger *slog.Logger, handler stage.Handler, env *envelope.Envelope) string {
	name := handler.Name()
	reg, err := registrationFor(handler, env)
	if err == nil && m.prs == nil {
		err = services.Wrap(services.ErrConfiguration, "workflow", "register pr wait", "no pr registrar configured", nil)
	}
	if err != nil {
		return m.fail(ctx, logger, name, env, err.Error(), err)
	}

	env.AppendHistory(name, fmt.Sprintf("Processed by %s; awaiting PR #%d", handler.DisplayName(), reg.PRNumber), m.now())
	reg.Snapshot = env
	reg.CreatedAt = m.now()
	if err := m.prs.Register(ctx, reg); err != nil {
		return m.fail(ctx, logger, name, env, "register pr wait failed: "+err.Error(), err)
	}
	logger.Info("envelope awaiting pull request",
		logging.String(logging.FieldEventType, "pr_registered"),
		logging.Int("pr_number", reg.PRNumber),
		logging.String("repo", reg.RepoOwner+"/"+reg.RepoName),
		logging.String("next_agent", reg.NextAgent),
	)
	m.metrics.StageOutcome(name, metrics.OutcomePRWait)
	return metrics.OutcomePRWait
}

func registrationFor(handler stage.Handler, env *envelope.Envelope) (prwait.Registration, error) {
	git := env.Task.GitContext
	number, ok := intValue(git[envelope.GitPRNumber])
	if !ok || number <= 0 {
		return prwait.Registration{}, services.Wrap(services.ErrHandler, handler.Name(), "register pr wait",
			"status PENDING_PR_CLOSE without git_context.pr_number", nil)
	}
	next := stringValue(git[envelope.GitNextAgent])
	if _, set := git[envelope.GitNextAgent]; !set {
		next = handler.NextStage()
	}
	return prwait.Registration{
		EventID:   env.ID,
		PRNumber:  number,
		PRURL:     stringValue(git[envelope.GitPRURL]),
		RepoOwner: stringValue(git[envelope.GitRepoOwner]),
		RepoName:  stringValue(git[envelope.GitRepoName]),
		AgentName: handler.Name(),
		NextAgent: next,
	}, nil
}

// intValue accepts the numeric shapes a git_context value takes after a JSON
// round trip or direct assignment.
func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), n == float64(int(n))
	case string:
		parsed, err := strconv.Atoi(strings.TrimPrefix(strings.TrimSpace(n), "#"))
		return parsed, err == nil
	default:
		return 0, false
	}
}

func stringValue(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(s)
	default:
		return strings.TrimSpace(fmt.Sprint(s))
	}
}
