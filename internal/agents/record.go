package agents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"remotedev/internal/envelope"
	"remotedev/internal/stage"
)

// Record is the handler for stages without an agent command. It writes a
// placeholder output so the pipeline stays runnable end to end.
type Record struct {
	name string
	next string
	now  func() time.Time
}

// NewRecord returns a Record handler for stage name.
func NewRecord(name, next string) *Record {
	return &Record{name: name, next: next, now: time.Now}
}

func (r *Record) Name() string        { return r.name }
func (r *Record) DisplayName() string { return stage.DisplayName(r.name) }
func (r *Record) NextStage() string   { return r.next }

func (r *Record) Process(_ context.Context, env *envelope.Envelope) (*envelope.Envelope, error) {
	title := strings.TrimSpace(env.Task.Title)
	if title == "" {
		title = env.ID
	}
	env.SetStageOutput(r.name, map[string]any{
		"agent":       r.DisplayName(),
		"summary":     fmt.Sprintf("%s recorded task: %s", r.DisplayName(), title),
		"prompt":      env.Task.OriginalPrompt,
		"recorded_at": r.now().UTC().Format(time.RFC3339),
	})
	return env, nil
}

func (r *Record) HealthCheck(context.Context) stage.Health {
	return stage.Healthy(r.name)
}
