package services_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"remotedev/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalService, "github", "pull status", "request failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrExternalService) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"github", "pull status", "request failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected placeholder detail, got %q", err.Error())
	}
}

func TestKindClassification(t *testing.T) {
	tests := []struct {
		err       error
		kind      string
		retryable bool
	}{
		{services.Wrap(services.ErrValidation, "queue", "push", "bad", nil), "validation", false},
		{services.Wrap(services.ErrHandler, "CODE", "process", "bad", nil), "handler", false},
		{fmt.Errorf("outer: %w", services.ErrTransition), "transition", false},
		{services.ErrNotFound, "not_found", false},
		{services.ErrExternalTimeout, "external_timeout", false},
		{services.Wrap(services.ErrExternalService, "github", "", "", nil), "external_service", true},
		{errors.New("plain"), "transient", true},
	}
	for _, tt := range tests {
		if got := services.Kind(tt.err); got != tt.kind {
			t.Fatalf("Kind(%v) = %q, want %q", tt.err, got, tt.kind)
		}
		if got := services.Retryable(tt.err); got != tt.retryable {
			t.Fatalf("Retryable(%v) = %v, want %v", tt.err, got, tt.retryable)
		}
	}
	if services.Kind(nil) != "" {
		t.Fatal("expected empty kind for nil")
	}
}
