package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"remotedev/internal/logging"
)

// TickResult summarizes one pass over the stage registry.
type TickResult struct {
	Processed int
	// Outcomes maps envelope id to the outcome recorded for it this tick.
	Outcomes map[string]string
}

// Start launches the tick loop.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("pipeline already running")
	}
	if m.registry.Len() == 0 {
		m.mu.Unlock()
		return errors.New("pipeline has no stages registered")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	m.logger.Info("pipeline started",
		logging.String(logging.FieldEventType, "pipeline_start"),
		logging.Strings("stages", m.registry.Stages()),
		logging.Duration("tick_interval", m.tickInterval),
	)

	go m.run(loopCtx, done)
	return nil
}

// Stop cancels the loop and waits for the in-flight tick, bounded by the
// shutdown timeout.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	done := m.done
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	select {
	case <-done:
		m.logger.Info("pipeline stopped", logging.String(logging.FieldEventType, "pipeline_stop"))
	case <-time.After(m.shutdownTimeout):
		logging.WarnWithContext(m.logger, "pipeline did not stop in time", "pipeline_stop_timeout",
			logging.Duration("timeout", m.shutdownTimeout),
			logging.String(logging.FieldImpact, "an in-flight handler may still be running"),
			logging.String(logging.FieldErrorHint, "raise pipeline.shutdown_timeout_seconds or bound the agent command timeout"),
		)
	}
}

func (m *Manager) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		if ctx.Err() != nil {
			return
		}
		m.Tick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(m.tickInterval):
		}
	}
}

// Tick pops at most one envelope from each stage queue, in registry order,
// and processes it.
func (m *Manager) Tick(ctx context.Context) TickResult {
	result := TickResult{Outcomes: map[string]string{}}
	for _, handler := range m.registry.Handlers() {
		if ctx.Err() != nil {
			break
		}
		name := handler.Name()
		if depth, err := m.queue.Len(ctx, name); err == nil {
			m.metrics.QueueDepth(name, depth)
		}
		env, err := m.queue.Pop(ctx, name)
		if err != nil {
			m.setLastError(err)
			logging.WarnWithContext(m.logger, "queue pop failed", "queue_pop_failed",
				logging.String(logging.FieldStage, name),
				logging.Error(err),
				logging.String(logging.FieldImpact, "stage skipped for this tick"),
				logging.String(logging.FieldErrorHint, "undecodable payloads are parked under rejected:"+name),
			)
			continue
		}
		if env == nil {
			continue
		}
		outcome := m.processEnvelope(ctx, handler, env)
		result.Processed++
		result.Outcomes[env.ID] = outcome
	}
	m.metrics.Tick()
	m.mu.Lock()
	m.lastTick = m.now()
	m.ticks++
	m.mu.Unlock()
	return result
}

// StepStage processes at most one envelope from stageName. It reports false
// when the queue was empty.
func (m *Manager) StepStage(ctx context.Context, stageName string) (string, bool, error) {
	handler, ok := m.registry.Get(stageName)
	if !ok {
		return "", false, fmt.Errorf("stage %q is not registered", stageName)
	}
	env, err := m.queue.Pop(ctx, stageName)
	if err != nil || env == nil {
		return "", false, err
	}
	return m.processEnvelope(ctx, handler, env), true, nil
}
