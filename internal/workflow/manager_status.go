package workflow

import (
	"context"
	"time"

	"remotedev/internal/logging"
	"remotedev/internal/stage"
)

// StatusSummary represents lightweight stepper diagnostics.
type StatusSummary struct {
	Running        bool
	LastError      string
	LastEnvelopeID string
	LastTick       time.Time
	Ticks          int64
	Stages         []string
	QueueDepths    map[string]int
	StageHealth    []stage.Health
}

// Status returns the latest stepper information.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	summary := StatusSummary{
		Running:        m.running,
		LastEnvelopeID: m.lastEnvelope,
		LastTick:       m.lastTick,
		Ticks:          m.ticks,
	}
	if m.lastErr != nil {
		summary.LastError = m.lastErr.Error()
	}
	m.mu.RUnlock()

	summary.Stages = m.registry.Stages()
	depths, err := m.queue.Depths(ctx, summary.Stages)
	if err != nil {
		m.logger.Warn("failed to read queue depths", logging.Error(err))
	}
	summary.QueueDepths = depths
	summary.StageHealth = m.registry.Health(ctx)
	return summary
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) setLastEnvelope(id string) {
	m.mu.Lock()
	m.lastEnvelope = id
	m.mu.Unlock()
}
