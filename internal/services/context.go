package services

import "context"

type contextKey string

const (
	envelopeIDKey contextKey = "envelope_id"
	workItemIDKey contextKey = "work_item_id"
	stageKey      contextKey = "stage"
	requestIDKey  contextKey = "request_id"
)

// WithEnvelopeID annotates context with the task envelope identifier.
func WithEnvelopeID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, envelopeIDKey, id)
}

// EnvelopeIDFromContext extracts the envelope identifier if present.
func EnvelopeIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(envelopeIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithWorkItemID annotates context with the work item identifier.
func WithWorkItemID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, workItemIDKey, id)
}

// WorkItemIDFromContext extracts the work item identifier if present.
func WorkItemIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(workItemIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithStage annotates context with the pipeline stage name.
func WithStage(ctx context.Context, stage string) context.Context {
	if stage == "" {
		return ctx
	}
	return context.WithValue(ctx, stageKey, stage)
}

// StageFromContext returns the stage name if present.
func StageFromContext(ctx context.Context) (string, bool) {
	v := ctx.Value(stageKey)
	if str, ok := v.(string); ok && str != "" {
		return str, true
	}
	return "", false
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
