package stage

import (
	"context"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"remotedev/internal/envelope"
)

// Handler describes the contract the pipeline stepper needs from each stage.
type Handler interface {
	// Name is the stage name whose queue the handler drains.
	Name() string
	DisplayName() string
	// NextStage returns the stage that receives the envelope after a
	// successful pass, or "" when this stage ends the pipeline.
	NextStage() string
	// Process works on a private copy of the envelope and returns the
	// updated envelope. A returned error is treated as a handler failure.
	Process(ctx context.Context, env *envelope.Envelope) (*envelope.Envelope, error)
}

// HealthChecker is implemented by handlers that can report readiness.
type HealthChecker interface {
	HealthCheck(ctx context.Context) Health
}

// Health is a stage's readiness as reported to status callers.
type Health struct {
	Name   string
	Ready  bool
	Detail string
}

func Healthy(name string) Health { return Health{Name: name, Ready: true} }

// Unhealthy records why a stage cannot take work.
func Unhealthy(name, detail string) Health { return Health{Name: name, Detail: detail} }

// DisplayName derives the operator-facing agent name for a stage, e.g.
// "TESTQA" becomes "Testqa Agent" and "CODE_REVIEW" becomes "Code Review Agent".
func DisplayName(stageName string) string {
	words := strings.Fields(strings.ReplaceAll(strings.ToLower(stageName), "_", " "))
	if len(words) == 0 {
		return "Agent"
	}
	return cases.Title(language.English).String(strings.Join(words, " ")) + " Agent"
}
