package services_test

import (
	"context"
	"testing"

	"remotedev/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithEnvelopeID(ctx, "evt_1")
	ctx = services.WithWorkItemID(ctx, "wi_abc")
	ctx = services.WithStage(ctx, "CODE")
	ctx = services.WithRequestID(ctx, "req-123")

	if id, ok := services.EnvelopeIDFromContext(ctx); !ok || id != "evt_1" {
		t.Fatalf("unexpected envelope id: %v %v", id, ok)
	}
	if id, ok := services.WorkItemIDFromContext(ctx); !ok || id != "wi_abc" {
		t.Fatalf("unexpected work item id: %v %v", id, ok)
	}
	if stage, ok := services.StageFromContext(ctx); !ok || stage != "CODE" {
		t.Fatalf("unexpected stage: %v %v", stage, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestBlankValuesPreserveContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithStage(ctx, "")
	ctx = services.WithEnvelopeID(ctx, "")
	if _, ok := services.StageFromContext(ctx); ok {
		t.Fatal("expected no stage value")
	}
	if _, ok := services.EnvelopeIDFromContext(ctx); ok {
		t.Fatal("expected no envelope value")
	}
}
