package stage

import (
	"context"
	"errors"
	"testing"

	"remotedev/internal/envelope"
	"remotedev/internal/services"
)

type fakeHandler struct {
	name   string
	next   string
	health *Health
}

func (f fakeHandler) Name() string        { return f.name }
func (f fakeHandler) DisplayName() string { return DisplayName(f.name) }
func (f fakeHandler) NextStage() string   { return f.next }
func (f fakeHandler) Process(_ context.Context, env *envelope.Envelope) (*envelope.Envelope, error) {
	return env, nil
}

type checkedHandler struct {
	fakeHandler
}

func (c checkedHandler) HealthCheck(context.Context) Health {
	return Unhealthy(c.name, "command missing")
}

func TestDisplayName(t *testing.T) {
	cases := map[string]string{
		"REQUIREMENT": "Requirement Agent",
		"CODE_REVIEW": "Code Review Agent",
		"testqa":      "Testqa Agent",
		"":            "Agent",
	}
	for input, want := range cases {
		if got := DisplayName(input); got != want {
			t.Fatalf("DisplayName(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestRegistryKeepsOrder(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{"REQUIREMENT", "PLAN", "CODE"} {
		if err := reg.Register(fakeHandler{name: name}); err != nil {
			t.Fatalf("Register(%s): %v", name, err)
		}
	}
	stages := reg.Stages()
	if len(stages) != 3 || stages[0] != "REQUIREMENT" || stages[2] != "CODE" {
		t.Fatalf("unexpected order: %v", stages)
	}
	if _, ok := reg.Get("PLAN"); !ok {
		t.Fatal("expected PLAN handler")
	}
	if _, ok := reg.Get("DOC"); ok {
		t.Fatal("unexpected DOC handler")
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(fakeHandler{name: "PLAN"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	err := reg.Register(fakeHandler{name: "PLAN"})
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestRegistryHealth(t *testing.T) {
	reg := NewRegistry()
	_ = reg.Register(fakeHandler{name: "PLAN"})
	_ = reg.Register(checkedHandler{fakeHandler{name: "CODE"}})

	health := reg.Health(context.Background())
	if len(health) != 2 {
		t.Fatalf("expected two entries, got %d", len(health))
	}
	if !health[0].Ready {
		t.Fatalf("PLAN should default to ready: %+v", health[0])
	}
	if health[1].Ready || health[1].Detail != "command missing" {
		t.Fatalf("unexpected CODE health: %+v", health[1])
	}
}
