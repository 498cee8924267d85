package queue

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"remotedev/internal/envelope"
	"remotedev/internal/logging"
	"remotedev/internal/services"
	"remotedev/internal/store"
)

const (
	keyPrefix      = "queue:"
	rejectedPrefix = "rejected:"
)

// Key returns the store list name for stage.
func Key(stage string) string {
	return keyPrefix + stage
}

// RejectedKey returns the list holding undecodable payloads popped from stage.
func RejectedKey(stage string) string {
	return rejectedPrefix + stage
}

// Queue reads and writes stage queues.
type Queue struct {
	store  store.Store
	logger *slog.Logger
}

// New constructs a Queue backed by st.
func New(st store.Store, logger *slog.Logger) *Queue {
	return &Queue{store: st, logger: logging.NewComponentLogger(logger, "queue")}
}

// Push appends env to the tail of stage's queue. Validation problems are
// logged and the envelope is enqueued as-is.
func (q *Queue) Push(ctx context.Context, stage string, env *envelope.Envelope) error {
	if strings.TrimSpace(stage) == "" {
		return services.Wrap(services.ErrValidation, "queue", "push", "stage name is empty", nil)
	}
	if env == nil {
		return services.Wrap(services.ErrValidation, "queue", "push", "envelope is nil", nil)
	}
	if err := env.Validate(); err != nil {
		q.warnInvalid(ctx, "push", stage, env.ID, err)
	}
	raw, err := env.Marshal()
	if err != nil {
		return services.Wrap(services.ErrValidation, "queue", "push", "encode envelope", err)
	}
	if err := q.store.Push(ctx, Key(stage), raw); err != nil {
		return fmt.Errorf("push %s: %w", Key(stage), err)
	}
	return nil
}

// Pop removes and returns the head of stage's queue, or nil when it is empty.
func (q *Queue) Pop(ctx context.Context, stage string) (*envelope.Envelope, error) {
	raw, ok, err := q.store.Pop(ctx, Key(stage))
	if err != nil {
		return nil, fmt.Errorf("pop %s: %w", Key(stage), err)
	}
	if !ok {
		return nil, nil
	}
	env, decodeErr := envelope.Unmarshal(raw)
	if decodeErr != nil {
		if err := q.store.Push(ctx, RejectedKey(stage), raw); err != nil {
			return nil, fmt.Errorf("park undecodable payload from %s: %w", Key(stage), err)
		}
		logging.ErrorWithContext(logging.WithContext(ctx, q.logger), "undecodable queue payload parked", "queue_payload_rejected",
			logging.String(logging.FieldStage, stage),
			logging.String("parked_in", RejectedKey(stage)),
			logging.Error(decodeErr),
			logging.String(logging.FieldErrorHint, "inspect the rejected list and re-ingest the task"),
		)
		return nil, services.Wrap(services.ErrValidation, "queue", "pop", "payload is not an envelope", decodeErr)
	}
	if err := env.Validate(); err != nil {
		q.warnInvalid(ctx, "pop", stage, env.ID, err)
	}
	return env, nil
}

// Len reports the depth of stage's queue.
func (q *Queue) Len(ctx context.Context, stage string) (int, error) {
	return q.store.Len(ctx, Key(stage))
}

// Peek returns up to limit envelopes from the head of stage's queue without
// removing them. Undecodable entries are skipped.
func (q *Queue) Peek(ctx context.Context, stage string, limit int) ([]*envelope.Envelope, error) {
	raws, err := q.store.Range(ctx, Key(stage), limit)
	if err != nil {
		return nil, err
	}
	out := make([]*envelope.Envelope, 0, len(raws))
	for _, raw := range raws {
		env, err := envelope.Unmarshal(raw)
		if err != nil {
			continue
		}
		out = append(out, env)
	}
	return out, nil
}

// Depths reports the queue depth of every stage in stages.
func (q *Queue) Depths(ctx context.Context, stages []string) (map[string]int, error) {
	depths := make(map[string]int, len(stages))
	for _, stage := range stages {
		n, err := q.Len(ctx, stage)
		if err != nil {
			return nil, err
		}
		depths[stage] = n
	}
	return depths, nil
}

// Stages lists every stage that currently has queued envelopes, including
// stages not present in the registry.
func (q *Queue) Stages(ctx context.Context) ([]string, error) {
	lists, err := q.store.Lists(ctx, keyPrefix)
	if err != nil {
		return nil, err
	}
	stages := make([]string, 0, len(lists))
	for _, list := range lists {
		stages = append(stages, strings.TrimPrefix(list, keyPrefix))
	}
	return stages, nil
}

func (q *Queue) warnInvalid(ctx context.Context, op, stage, id string, err error) {
	logging.WarnWithContext(logging.WithContext(ctx, q.logger), "envelope failed validation", "envelope_invalid",
		logging.String("operation", op),
		logging.String(logging.FieldStage, stage),
		logging.String(logging.FieldEnvelopeID, id),
		logging.Error(err),
		logging.String(logging.FieldImpact, "envelope processed as-is; stages may see missing fields"),
		logging.String(logging.FieldErrorHint, "check the producer of this envelope"),
	)
}
