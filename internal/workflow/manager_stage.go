package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"remotedev/internal/envelope"
	"remotedev/internal/logging"
	"remotedev/internal/metrics"
	"remotedev/internal/notifications"
	"remotedev/internal/services"
	"remotedev/internal/stage"
	"remotedev/internal/suspension"
)

// processEnvelope runs one handler call and applies its outcome. A panic in
// the handler fails env and never escapes the tick.
func (m *Manager) processEnvelope(ctx context.Context, handler stage.Handler, env *envelope.Envelope) (outcome string) {
	name := handler.Name()
	stageCtx := withStageContext(ctx, name, env, uuid.NewString())
	logger := logging.WithContext(stageCtx, m.logger)
	m.setLastEnvelope(env.ID)
	start := m.now()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("stage handler panicked",
				logging.String(logging.FieldEventType, "stage_panic"),
				logging.Any("panic", r),
				logging.String("stack", string(debug.Stack())),
			)
			err := services.Wrap(services.ErrHandler, name, "process", fmt.Sprintf("handler panic: %v", r), nil)
			outcome = m.fail(stageCtx, logger, name, env.Clone(), err.Error(), err)
		}
	}()

	logger.Info("stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.String("title", strings.TrimSpace(env.Task.Title)),
		logging.Bool("rework", env.Task.IsRework),
	)

	work := env.Clone()
	work.Task.Status = envelope.StatusRunning
	work.Task.CurrentStage = name
	out, err := handler.Process(stageCtx, work)
	m.metrics.HandlerDuration(name, m.now().Sub(start))
	if err != nil {
		return m.fail(stageCtx, logger, name, env.Clone(), failureMessage(err), err)
	}
	if out == nil {
		err := services.Wrap(services.ErrHandler, name, "process", "handler returned no envelope", nil)
		return m.fail(stageCtx, logger, name, env.Clone(), err.Error(), err)
	}

	// The stepper owns identity and history.
	out.ID = env.ID
	out.Meta = env.Meta
	out.History = append([]envelope.HistoryEntry(nil), env.History...)
	if out.Context == nil {
		out.Context = map[string]any{}
	}
	if out.Data == nil {
		out.Data = map[string]any{}
	}

	return m.applyOutcome(stageCtx, logger, handler, out, start)
}

func (m *Manager) applyOutcome(ctx context.Context, logger *slog.Logger, handler stage.Handler, env *envelope.Envelope, start time.Time) string {
	name := handler.Name()
	// A pending human question outranks a reported error.
	switch {
	case env.Task.NeedsClarification:
		return m.suspend(ctx, logger, name, env, suspension.KindClarification)
	case env.Task.NeedsApproval:
		return m.suspend(ctx, logger, name, env, suspension.KindApproval)
	case env.Task.HasError:
		reason := strings.TrimSpace(env.Task.ErrorMessage)
		if reason == "" {
			reason = "handler reported an error"
		}
		return m.fail(ctx, logger, name, env, reason, services.Wrap(services.ErrHandler, name, "process", reason, nil))
	case env.Task.Status == envelope.StatusPendingPRClose:
		return m.awaitPullRequest(ctx, logger, handler, env)
	}

	env.AppendHistory(name, "Processed by "+handler.DisplayName(), m.now())
	event := strings.TrimSpace(env.Task.WorkflowEvent)
	env.Task.ApprovalGranted = false
	env.Task.IsRework = false
	env.Task.ReworkFeedback = ""
	env.Task.ReworkInstructions = ""
	env.Task.WorkflowEvent = ""

	if env.Meta.WorkItemID != "" {
		return m.completeJob(ctx, logger, name, env, event, start)
	}

	next := strings.TrimSpace(handler.NextStage())
	if next == "" {
		env.Task.Status = envelope.StatusCompleted
		env.Task.CurrentStage = envelope.StageDone
		m.record(ctx, logger, env)
		logger.Info("envelope completed",
			logging.String(logging.FieldEventType, "envelope_completed"),
			logging.Duration("stage_duration", m.now().Sub(start)),
			logging.Int("history_entries", len(env.History)),
		)
		m.notify(ctx, env, notifications.Completed(env))
		m.metrics.StageOutcome(name, metrics.OutcomeCompleted)
		return metrics.OutcomeCompleted
	}

	env.Task.Status = envelope.StatusPending
	env.Task.CurrentStage = next
	if err := m.queue.Push(ctx, next, env); err != nil {
		m.setLastError(err)
		return m.fail(ctx, logger, name, env, "enqueue to "+next+" failed: "+err.Error(), err)
	}
	logger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.String("next_stage", next),
		logging.Duration("stage_duration", m.now().Sub(start)),
	)
	m.metrics.StageOutcome(name, metrics.OutcomeAdvanced)
	return metrics.OutcomeAdvanced
}

// completeJob finishes a work item job and reports it to the orchestrator.
func (m *Manager) completeJob(ctx context.Context, logger *slog.Logger, name string, env *envelope.Envelope, event string, start time.Time) string {
	env.Task.Status = envelope.StatusCompleted
	env.Task.CurrentStage = envelope.StageDone
	if event != "" {
		// Carried so the hook can see which event the handler chose.
		env.Task.WorkflowEvent = event
	}
	m.record(ctx, logger, env)
	logger.Info("work item job completed",
		logging.String(logging.FieldEventType, "job_complete"),
		logging.String("workflow_event", event),
		logging.Duration("stage_duration", m.now().Sub(start)),
	)
	m.metrics.StageOutcome(name, metrics.OutcomeCompleted)

	hook := m.completionHook()
	if hook == nil {
		return metrics.OutcomeCompleted
	}
	if err := hook.StageCompleted(ctx, name, env); err != nil {
		m.setLastError(err)
		logging.WarnWithContext(logger, "work item hook failed", "workflow_hook_failed",
			logging.Error(err),
			logging.String("workflow_event", event),
			logging.String(logging.FieldImpact, "work item did not advance; job output is archived"),
			logging.String(logging.FieldErrorHint, "submit the workflow event manually with remotedev workitem event"),
		)
	}
	return metrics.OutcomeCompleted
}

func (m *Manager) suspend(ctx context.Context, logger *slog.Logger, name string, env *envelope.Envelope, kind suspension.Kind) string {
	env.Task.Status = envelope.StatusPending
	env.Task.CurrentStage = name
	var (
		message string
		msg     notifications.Message
		outcome string
	)
	if kind == suspension.KindClarification {
		message = "Waiting for clarification: " + env.Task.ClarificationQuestion
		msg = notifications.ClarificationNeeded(env, name)
		outcome = metrics.OutcomeClarification
	} else {
		message = "Waiting for approval: " + env.Task.ApprovalMessage
		msg = notifications.ApprovalNeeded(env, name)
		outcome = metrics.OutcomeApproval
	}
	env.AppendHistory(name, strings.TrimSpace(message), m.now())

	if err := m.suspensions.Suspend(ctx, kind, env); err != nil {
		m.setLastError(err)
		return m.fail(ctx, logger, name, env, "suspend for "+string(kind)+" failed: "+err.Error(), err)
	}
	logger.Info("envelope suspended",
		logging.String(logging.FieldEventType, "envelope_suspended"),
		logging.String("suspension", string(kind)),
	)
	m.notify(ctx, env, msg)
	m.metrics.StageOutcome(name, outcome)
	return outcome
}

func (m *Manager) fail(ctx context.Context, logger *slog.Logger, name string, env *envelope.Envelope, reason string, cause error) string {
	env.Task.HasError = true
	env.Task.ErrorMessage = reason
	env.Task.Status = envelope.StatusFailed
	env.Task.CurrentStage = name
	env.Task.NeedsClarification = false
	env.Task.NeedsApproval = false
	env.AppendHistory(suspension.StageFailed, fmt.Sprintf("Failed at %s: %s", name, reason), m.now())
	m.record(ctx, logger, env)

	if cause != nil {
		m.setLastError(cause)
	}
	logger.Error("stage failed",
		logging.String(logging.FieldEventType, "envelope_failed"),
		logging.Alert("stage_failure"),
		logging.String("error_kind", services.Kind(cause)),
		logging.String("error_message", reason),
		logging.Error(cause),
		logging.String(logging.FieldErrorHint, "inspect the envelope with remotedev show "+env.ID),
	)
	m.notify(ctx, env, notifications.Failed(env, name))
	m.metrics.StageOutcome(name, metrics.OutcomeFailed)
	return metrics.OutcomeFailed
}

// record stores a terminal envelope.
func (m *Manager) record(ctx context.Context, logger *slog.Logger, env *envelope.Envelope) {
	if m.archive == nil {
		return
	}
	if err := m.archive.Record(ctx, env); err != nil {
		m.setLastError(err)
		logging.ErrorWithContext(logger, "failed to archive terminal envelope", "archive_failed",
			logging.Error(err),
			logging.String("status", string(env.Task.Status)),
			logging.Alert("terminal_state_lost"),
		)
	}
}

func failureMessage(err error) string {
	if err == nil {
		return "handler failed without error detail"
	}
	message := strings.TrimSpace(err.Error())
	if message == "" {
		return "handler failed without error detail"
	}
	return message
}

func withStageContext(ctx context.Context, stageName string, env *envelope.Envelope, requestID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if env != nil {
		ctx = services.WithEnvelopeID(ctx, env.ID)
		ctx = services.WithWorkItemID(ctx, env.Meta.WorkItemID)
	}
	ctx = services.WithStage(ctx, stageName)
	return services.WithRequestID(ctx, requestID)
}
