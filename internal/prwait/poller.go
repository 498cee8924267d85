package prwait

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"remotedev/internal/envelope"
	"remotedev/internal/logging"
	"remotedev/internal/metrics"
	"remotedev/internal/notifications"
	"remotedev/internal/queue"
	"remotedev/internal/services"
	"remotedev/internal/services/github"
)

// History stages recorded when a wait resolves.
const (
	StagePRMerged  = "PR_MERGED"
	StagePRClosed  = "PR_CLOSED"
	StagePRTimeout = "PR_TIMEOUT"
)

// Poll results, also used as metric labels.
const (
	ResultOpen       = "open"
	ResultMerged     = "merged"
	ResultClosed     = "closed"
	ResultTimeout    = "timeout"
	ResultRework     = "rework"
	ResultError      = "error"
	ResultSuperseded = "superseded"
)

// ReviewSource reports pull request and review state.
type ReviewSource interface {
	PullRequestState(ctx context.Context, owner, repo string, number int) (github.State, error)
	PendingReviewFeedback(ctx context.Context, owner, repo string, number int) (*github.ReviewFeedback, error)
}

// Notifier receives fire-and-forget notifications.
type Notifier interface {
	Notify(ctx context.Context, channel string, msg notifications.Message)
}

// Options configures a Poller.
type Options struct {
	Interval time.Duration
	Timeout  time.Duration
	Notifier Notifier
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	Now      func() time.Time
}

// CycleResult summarizes one poll cycle.
type CycleResult struct {
	Checked    int
	Open       int
	Merged     int
	Closed     int
	TimedOut   int
	Reworked   int
	Errors     int
	Superseded int
}

func (c *CycleResult) add(result string) {
	c.Checked++
	switch result {
	case ResultOpen:
		c.Open++
	case ResultMerged:
		c.Merged++
	case ResultClosed:
		c.Closed++
	case ResultTimeout:
		c.TimedOut++
	case ResultRework:
		c.Reworked++
	case ResultError:
		c.Errors++
	case ResultSuperseded:
		c.Superseded++
	}
}

// StatusSummary describes the poller for status output.
type StatusSummary struct {
	Running  bool
	Pending  int
	LastPoll time.Time
	LastErr  error
}

// Poller resolves pull request waits on its own cadence.
type Poller struct {
	registry *Registry
	queue    *queue.Queue
	archive  *queue.Archive
	source   ReviewSource
	notifier Notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger
	interval time.Duration
	timeout  time.Duration
	now      func() time.Time

	mu       sync.RWMutex
	running  bool
	cancel   context.CancelFunc
	done     chan struct{}
	lastPoll time.Time
	lastErr  error
}

// NewPoller constructs a Poller.
func NewPoller(registry *Registry, q *queue.Queue, archive *queue.Archive, source ReviewSource, opts Options) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Poller{
		registry: registry,
		queue:    q,
		archive:  archive,
		source:   source,
		notifier: opts.Notifier,
		metrics:  opts.Metrics,
		logger:   logging.NewComponentLogger(opts.Logger, "prwait"),
		interval: opts.Interval,
		timeout:  opts.Timeout,
		now:      opts.Now,
	}
}

// Start launches the background loop.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return errors.New("pr poller already running")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	go p.run(loopCtx, p.done)
	p.logger.Info("pr poller started",
		logging.Duration("interval", p.interval),
		logging.Duration("timeout", p.timeout),
	)
	return nil
}

// Stop cancels the loop and waits up to timeout for the current cycle to end.
func (p *Poller) Stop(timeout time.Duration) {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel, done := p.cancel, p.done
	p.running = false
	p.cancel = nil
	p.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-time.After(timeout):
		p.logger.Warn("pr poller did not stop in time",
			logging.Duration("timeout", timeout),
			logging.String(logging.FieldEventType, "pr_poller_stop_timeout"),
			logging.String(logging.FieldImpact, "an in-flight poll may finish after shutdown"),
			logging.String(logging.FieldErrorHint, "check GitHub latency"),
		)
	}
}

func (p *Poller) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		p.PollOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.interval):
		}
	}
}

// Status reports the poller state.
func (p *Poller) Status(ctx context.Context) StatusSummary {
	pending, _ := p.registry.Count(ctx)
	p.mu.RLock()
	defer p.mu.RUnlock()
	return StatusSummary{Running: p.running, Pending: pending, LastPoll: p.lastPoll, LastErr: p.lastErr}
}

// PollOnce runs one cycle over every registration. Per-registration failures
// are logged and counted; they never stop the cycle.
func (p *Poller) PollOnce(ctx context.Context) CycleResult {
	var result CycleResult
	regs, err := p.registry.List(ctx)
	if err != nil {
		p.setLastErr(err)
		logging.ErrorWithContext(p.logger, "list pull request waits failed", "pr_poll_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the store"),
		)
		return result
	}
	var lastErr error
	for _, reg := range regs {
		if ctx.Err() != nil {
			break
		}
		outcome, err := p.check(ctx, reg)
		if err != nil {
			lastErr = err
			outcome = ResultError
			logging.WarnWithContext(p.regLogger(ctx, reg), "pull request check failed", "pr_check_failed",
				logging.Error(err),
				logging.String("error_kind", services.Kind(err)),
				logging.String(logging.FieldImpact, "registration kept; retried next cycle"),
				logging.String(logging.FieldErrorHint, "check github.token and repository access"),
			)
		}
		p.metrics.PRPoll(outcome)
		result.add(outcome)
	}
	if pending, err := p.registry.Count(ctx); err == nil {
		p.metrics.PendingPRs(pending)
	}
	p.mu.Lock()
	p.lastPoll = p.now()
	p.lastErr = lastErr
	p.mu.Unlock()
	return result
}

func (p *Poller) setLastErr(err error) {
	p.mu.Lock()
	p.lastErr = err
	p.mu.Unlock()
}

func (p *Poller) regLogger(ctx context.Context, reg Registration) *slog.Logger {
	ctx = services.WithEnvelopeID(ctx, reg.EventID)
	ctx = services.WithStage(ctx, reg.AgentName)
	ctx = services.WithRequestID(ctx, uuid.NewString())
	return logging.WithContext(ctx, p.logger).With(logging.Int("pr_number", reg.PRNumber))
}

func (p *Poller) check(ctx context.Context, reg Registration) (string, error) {
	now := p.now()
	if now.Sub(reg.CreatedAt) > p.timeout {
		detail := fmt.Sprintf("no merge within %s", p.timeout)
		return p.resolved(ctx, reg, ResultTimeout)(p.fail(ctx, reg, StatusTimeout, StagePRTimeout, detail, notifications.EventPRTimeout))
	}

	feedback, err := p.source.PendingReviewFeedback(ctx, reg.RepoOwner, reg.RepoName, reg.PRNumber)
	if err != nil {
		return ResultError, err
	}
	if feedback != nil && feedback.ReviewID != reg.ActionedReviewID {
		return p.resolved(ctx, reg, ResultRework)(p.rework(ctx, reg, feedback))
	}

	state, err := p.source.PullRequestState(ctx, reg.RepoOwner, reg.RepoName, reg.PRNumber)
	if err != nil {
		return ResultError, err
	}
	switch state {
	case github.StateMerged:
		return p.resolved(ctx, reg, ResultMerged)(p.merged(ctx, reg))
	case github.StateClosed:
		return p.resolved(ctx, reg, ResultClosed)(p.fail(ctx, reg, StatusClosed, StagePRClosed, "closed without merge", notifications.EventPRClosed))
	default:
		reg.LastCheckedAt = now.UTC()
		return p.resolved(ctx, reg, ResultOpen)(p.registry.Update(ctx, &reg))
	}
}

// resolved maps a write's (applied, err) pair to a poll result. A write that
// did not apply means another writer replaced the registration mid-check.
func (p *Poller) resolved(ctx context.Context, reg Registration, result string) func(bool, error) (string, error) {
	return func(applied bool, err error) (string, error) {
		if err != nil {
			return result, err
		}
		if !applied {
			p.regLogger(ctx, reg).Info("pull request wait changed during poll; result discarded",
				logging.String(logging.FieldEventType, "pr_wait_superseded"),
			)
			return ResultSuperseded, nil
		}
		return result, nil
	}
}

func (p *Poller) rework(ctx context.Context, reg Registration, fb *github.ReviewFeedback) (bool, error) {
	previous := reg.ActionedReviewID
	reg.ActionedReviewID = fb.ReviewID
	reg.LastCheckedAt = p.now().UTC()
	if updated, err := p.registry.Update(ctx, &reg); err != nil || !updated {
		return updated, err
	}
	env := ReworkEnvelope(reg, fb, p.now())
	if err := p.queue.Push(ctx, reg.AgentName, env); err != nil {
		reg.ActionedReviewID = previous
		if _, restoreErr := p.registry.Update(ctx, &reg); restoreErr != nil {
			return true, errors.Join(err, restoreErr)
		}
		return true, err
	}
	p.regLogger(ctx, reg).Info("changes requested; rework queued",
		logging.String("reviewer", fb.Reviewer),
		logging.Int64("review_id", fb.ReviewID),
		logging.String(logging.FieldEventType, "pr_rework"),
	)
	p.notify(ctx, reg.Snapshot, notifications.Rework(reg.Snapshot, reg.PRNumber, fb.Reviewer))
	return true, nil
}

func (p *Poller) merged(ctx context.Context, reg Registration) (bool, error) {
	if removed, err := p.registry.Release(ctx, reg); err != nil || !removed {
		return removed, err
	}
	var err error
	now := p.now()
	env := reg.Snapshot.Clone()
	env.AppendHistory(StagePRMerged, fmt.Sprintf("PR #%d merged", reg.PRNumber), now)
	if reg.NextAgent == "" {
		env.Task.Status = envelope.StatusCompleted
		env.Task.CurrentStage = envelope.StageDone
		err = p.archive.Record(ctx, env)
	} else {
		env.Task.Status = envelope.StatusPRMerged
		env.Task.CurrentStage = reg.NextAgent
		err = p.queue.Push(ctx, reg.NextAgent, env)
	}
	if err != nil {
		if restoreErr := p.registry.Restore(ctx, reg); restoreErr != nil {
			return true, errors.Join(err, restoreErr)
		}
		return true, err
	}
	p.record(ctx, reg, StatusMerged, "", env)
	p.regLogger(ctx, reg).Info("pull request merged",
		logging.String("next_stage", reg.NextAgent),
		logging.String(logging.FieldEventType, "pr_merged"),
	)
	p.notify(ctx, env, notifications.PRResolved(env, notifications.EventPRMerged, reg.PRNumber, ""))
	return true, nil
}

// fail removes the registration and records a terminal non-merge outcome.
func (p *Poller) fail(ctx context.Context, reg Registration, status Status, stage, detail string, event notifications.Event) (bool, error) {
	if removed, err := p.registry.Release(ctx, reg); err != nil || !removed {
		return removed, err
	}
	now := p.now()
	env := reg.Snapshot.Clone()
	message := fmt.Sprintf("PR #%d %s", reg.PRNumber, detail)
	env.AppendHistory(stage, message, now)
	env.Task.Status = envelope.StatusFailed
	env.Task.HasError = true
	env.Task.ErrorMessage = message
	if err := p.archive.Record(ctx, env); err != nil {
		logging.ErrorWithContext(p.regLogger(ctx, reg), "archive failed pull request wait", "pr_archive_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "outcome record still holds the snapshot"),
		)
	}
	p.record(ctx, reg, status, detail, env)
	logging.WarnWithContext(p.regLogger(ctx, reg), "pull request wait ended without merge", "pr_"+string(status),
		logging.String("detail", detail),
		logging.String(logging.FieldImpact, "envelope failed; no further stages run"),
		logging.String(logging.FieldErrorHint, "re-ingest the task or reopen the pull request and register it again"),
	)
	p.notify(ctx, env, notifications.PRResolved(env, event, reg.PRNumber, detail))
	return true, nil
}

func (p *Poller) record(ctx context.Context, reg Registration, status Status, detail string, env *envelope.Envelope) {
	outcome := Outcome{
		EventID:    reg.EventID,
		PRNumber:   reg.PRNumber,
		RepoOwner:  reg.RepoOwner,
		RepoName:   reg.RepoName,
		Status:     status,
		Detail:     detail,
		ResolvedAt: p.now().UTC(),
		Snapshot:   env,
	}
	if err := p.registry.RecordOutcome(ctx, outcome); err != nil {
		logging.ErrorWithContext(p.regLogger(ctx, reg), "record pull request outcome failed", "pr_outcome_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the store"),
		)
	}
}

func (p *Poller) notify(ctx context.Context, env *envelope.Envelope, msg notifications.Message) {
	if p.notifier == nil || env == nil {
		return
	}
	p.notifier.Notify(ctx, notifications.Channel(env), msg)
}
