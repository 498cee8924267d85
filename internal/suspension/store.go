package suspension

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"remotedev/internal/envelope"
	"remotedev/internal/logging"
	"remotedev/internal/queue"
	"remotedev/internal/services"
	"remotedev/internal/store"
)

// Kind names a suspension store.
type Kind string

const (
	KindClarification Kind = "clarification"
	KindApproval      Kind = "approval"
)

// History stages recorded on resumption.
const (
	StageClarification = "CLARIFICATION"
	StageApproval      = "APPROVAL"
	StageFailed        = "FAILED"
)

// Key returns the store key for id in kind.
func Key(kind Kind, id string) string {
	return prefix(kind) + id
}

func prefix(kind Kind) string {
	return "waiting:" + string(kind) + ":"
}

// Store suspends and resumes envelopes.
type Store struct {
	store   store.Store
	queue   *queue.Queue
	archive *queue.Archive
	logger  *slog.Logger
	now     func() time.Time
}

// New constructs a Store. Resumed envelopes are pushed through q; rejected
// approvals are recorded in archive.
func New(st store.Store, q *queue.Queue, archive *queue.Archive, logger *slog.Logger) *Store {
	return &Store{
		store:   st,
		queue:   q,
		archive: archive,
		logger:  logging.NewComponentLogger(logger, "suspension"),
		now:     time.Now,
	}
}

// Suspend stores env under its id, replacing any earlier entry.
func (s *Store) Suspend(ctx context.Context, kind Kind, env *envelope.Envelope) error {
	if env == nil || strings.TrimSpace(env.ID) == "" {
		return services.Wrap(services.ErrValidation, "suspension", "suspend", "envelope id is empty", nil)
	}
	raw, err := env.Marshal()
	if err != nil {
		return services.Wrap(services.ErrValidation, "suspension", "suspend", "encode envelope", err)
	}
	if err := s.store.Set(ctx, Key(kind, env.ID), raw); err != nil {
		return fmt.Errorf("suspend %s: %w", env.ID, err)
	}
	return nil
}

// Get returns the suspended envelope without removing it.
func (s *Store) Get(ctx context.Context, kind Kind, id string) (*envelope.Envelope, error) {
	raw, ok, err := s.store.Get(ctx, Key(kind, id))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, notFound(kind, "get", id)
	}
	return envelope.Unmarshal(raw)
}

// List returns every envelope suspended in kind, ordered by id.
func (s *Store) List(ctx context.Context, kind Kind) ([]*envelope.Envelope, error) {
	keys, err := s.store.Keys(ctx, prefix(kind))
	if err != nil {
		return nil, err
	}
	out := make([]*envelope.Envelope, 0, len(keys))
	for _, key := range keys {
		raw, ok, err := s.store.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		env, err := envelope.Unmarshal(raw)
		if err != nil {
			s.logger.Warn("skipping undecodable suspended envelope",
				logging.String("key", key),
				logging.Error(err),
				logging.String(logging.FieldEventType, "suspension_decode_failed"),
				logging.String(logging.FieldImpact, "entry hidden from listings until repaired"),
				logging.String(logging.FieldErrorHint, "inspect the stored value for this key"),
			)
			continue
		}
		out = append(out, env)
	}
	return out, nil
}

// Count reports the number of envelopes suspended in kind.
func (s *Store) Count(ctx context.Context, kind Kind) (int, error) {
	keys, err := s.store.Keys(ctx, prefix(kind))
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// ResumeClarification appends response to the original prompt and re-enqueues
// the envelope to the stage that asked.
func (s *Store) ResumeClarification(ctx context.Context, id, response string) (*envelope.Envelope, error) {
	response = strings.TrimSpace(response)
	if response == "" {
		return nil, services.Wrap(services.ErrValidation, "suspension", "resume clarification", "response is empty", nil)
	}
	env, raw, err := s.take(ctx, KindClarification, id)
	if err != nil {
		return nil, err
	}
	env.Task.OriginalPrompt = env.Task.OriginalPrompt + "\n\n[User clarification]: " + response
	env.Task.NeedsClarification = false
	env.Task.ClarificationQuestion = ""
	env.Task.Status = envelope.StatusPending
	env.AppendHistory(StageClarification, "User provided clarification: "+truncate(response, 100), s.now())

	if err := s.requeue(ctx, KindClarification, env, raw); err != nil {
		return nil, err
	}
	logging.WithContext(ctx, s.logger).Info("clarification received",
		logging.String(logging.FieldEnvelopeID, env.ID),
		logging.String(logging.FieldStage, env.Task.CurrentStage),
		logging.String(logging.FieldEventType, "clarification_resumed"),
	)
	return env, nil
}

// ResumeApproval records the decision. Approved envelopes return to their
// stage with ApprovalGranted set; rejected envelopes fail terminally.
func (s *Store) ResumeApproval(ctx context.Context, id string, approved bool, comment string) (*envelope.Envelope, error) {
	env, raw, err := s.take(ctx, KindApproval, id)
	if err != nil {
		return nil, err
	}
	comment = strings.TrimSpace(comment)
	now := s.now()
	env.Task.NeedsApproval = false
	env.Task.ApprovalMessage = ""

	if !approved {
		reason := "Approval rejected"
		if comment != "" {
			reason += ": " + comment
		}
		env.AppendHistory(StageApproval, reason, now)
		env.Task.HasError = true
		env.Task.ErrorMessage = reason
		env.Task.Status = envelope.StatusFailed
		env.AppendHistory(StageFailed, fmt.Sprintf("Failed at %s: %s", env.Task.CurrentStage, reason), now)
		if err := s.archive.Record(ctx, env); err != nil {
			return nil, s.restore(ctx, KindApproval, env.ID, raw, err)
		}
		logging.WithContext(ctx, s.logger).Info("approval rejected",
			logging.String(logging.FieldEnvelopeID, env.ID),
			logging.String(logging.FieldStage, env.Task.CurrentStage),
			logging.String(logging.FieldEventType, "approval_rejected"),
		)
		return env, nil
	}

	message := "Approved"
	if comment != "" {
		message += ": " + comment
	}
	env.Task.ApprovalGranted = true
	env.Task.Status = envelope.StatusPending
	env.AppendHistory(StageApproval, message, now)
	if err := s.requeue(ctx, KindApproval, env, raw); err != nil {
		return nil, err
	}
	logging.WithContext(ctx, s.logger).Info("approval granted",
		logging.String(logging.FieldEnvelopeID, env.ID),
		logging.String(logging.FieldStage, env.Task.CurrentStage),
		logging.String(logging.FieldEventType, "approval_resumed"),
	)
	return env, nil
}

func (s *Store) take(ctx context.Context, kind Kind, id string) (*envelope.Envelope, []byte, error) {
	id = strings.TrimSpace(id)
	raw, ok, err := s.store.Take(ctx, Key(kind, id))
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, notFound(kind, "resume", id)
	}
	env, err := envelope.Unmarshal(raw)
	if err != nil {
		cause := services.Wrap(services.ErrValidation, "suspension", "resume", "stored envelope is not decodable", err)
		return nil, nil, s.restore(ctx, kind, id, raw, cause)
	}
	return env, raw, nil
}

func (s *Store) requeue(ctx context.Context, kind Kind, env *envelope.Envelope, raw []byte) error {
	if err := s.queue.Push(ctx, env.Task.CurrentStage, env); err != nil {
		return s.restore(ctx, kind, env.ID, raw, err)
	}
	return nil
}

// restore puts the taken value back unchanged so a failed resume can be retried.
func (s *Store) restore(ctx context.Context, kind Kind, id string, raw []byte, cause error) error {
	if err := s.store.Set(ctx, Key(kind, id), raw); err != nil {
		return fmt.Errorf("resume %s: %w (restore failed: %v)", id, cause, err)
	}
	return fmt.Errorf("resume %s: %w", id, cause)
}

func notFound(kind Kind, op, id string) error {
	return services.Wrap(services.ErrNotFound, "suspension", op, fmt.Sprintf("no %s pending for %s", kind, id), nil)
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
