package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"remotedev/internal/envelope"
	"remotedev/internal/logging"
	"remotedev/internal/metrics"
	"remotedev/internal/notifications"
	"remotedev/internal/prwait"
	"remotedev/internal/queue"
	"remotedev/internal/stage"
	"remotedev/internal/suspension"
)

const (
	defaultTickInterval    = 2 * time.Second
	defaultShutdownTimeout = 30 * time.Second
)

// CompletionHook is told when a work item job finishes a stage.
type CompletionHook interface {
	StageCompleted(ctx context.Context, stageName string, env *envelope.Envelope) error
}

// PRRegistrar records a pull request wait for an envelope.
type PRRegistrar interface {
	Register(ctx context.Context, reg prwait.Registration) error
}

// Notifier receives fire-and-forget notifications.
type Notifier interface {
	Notify(ctx context.Context, channel string, msg notifications.Message)
}

// Options configures a Manager. Zero values fall back to defaults; nil
// collaborators disable the corresponding side effect.
type Options struct {
	TickInterval    time.Duration
	ShutdownTimeout time.Duration
	PRRegistrar     PRRegistrar
	Hook            CompletionHook
	Notifier        Notifier
	Metrics         *metrics.Metrics
	Logger          *slog.Logger
	Now             func() time.Time
}

// Manager is the pipeline stepper.
type Manager struct {
	registry    *stage.Registry
	queue       *queue.Queue
	archive     *queue.Archive
	suspensions *suspension.Store
	prs         PRRegistrar
	notifier    Notifier
	metrics     *metrics.Metrics
	logger      *slog.Logger
	now         func() time.Time

	tickInterval    time.Duration
	shutdownTimeout time.Duration

	mu           sync.RWMutex
	hook         CompletionHook
	running      bool
	cancel       context.CancelFunc
	done         chan struct{}
	lastErr      error
	lastEnvelope string
	lastTick     time.Time
	ticks        int64
}

// NewManager constructs a stepper over the handlers in registry.
func NewManager(registry *stage.Registry, q *queue.Queue, archive *queue.Archive, suspensions *suspension.Store, opts Options) *Manager {
	if registry == nil {
		registry = stage.NewRegistry()
	}
	m := &Manager{
		registry:        registry,
		queue:           q,
		archive:         archive,
		suspensions:     suspensions,
		prs:             opts.PRRegistrar,
		hook:            opts.Hook,
		notifier:        opts.Notifier,
		metrics:         opts.Metrics,
		logger:          logging.NewComponentLogger(opts.Logger, "workflow"),
		now:             opts.Now,
		tickInterval:    opts.TickInterval,
		shutdownTimeout: opts.ShutdownTimeout,
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.tickInterval <= 0 {
		m.tickInterval = defaultTickInterval
	}
	if m.shutdownTimeout <= 0 {
		m.shutdownTimeout = defaultShutdownTimeout
	}
	return m
}

// SetCompletionHook installs the work item hook. The runtime wires the
// orchestrator here after both are constructed.
func (m *Manager) SetCompletionHook(hook CompletionHook) {
	m.mu.Lock()
	m.hook = hook
	m.mu.Unlock()
}

func (m *Manager) completionHook() CompletionHook {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hook
}

func (m *Manager) notify(ctx context.Context, env *envelope.Envelope, msg notifications.Message) {
	if m.notifier == nil || env == nil {
		return
	}
	m.notifier.Notify(ctx, notifications.Channel(env), msg)
}
