package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"remotedev/internal/config"
	"remotedev/internal/logging"
	"remotedev/internal/metrics"
	"remotedev/internal/notifications"
	"remotedev/internal/orchestrator"
	"remotedev/internal/preflight"
	"remotedev/internal/prwait"
	"remotedev/internal/queue"
	"remotedev/internal/services"
	"remotedev/internal/stage"
	"remotedev/internal/store"
	"remotedev/internal/suspension"
	"remotedev/internal/workflow"
)

// Options carries the collaborators built by the caller. Reviews may be nil,
// in which case pull request waits are registered but never polled.
type Options struct {
	Store         store.Store
	Registry      *stage.Registry
	Reviews       prwait.ReviewSource
	Notifications notifications.Service
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
	// LogHub backs LogEvents; nil disables log tailing.
	LogHub *logging.StreamHub
	// Definitions are loaded in addition to the built-in product_dev_v1.
	Definitions []*orchestrator.Definition
	// SkipPreflight disables the startup checks; tests use it.
	SkipPreflight bool
}

// Daemon coordinates the stepper, the pull request poller and the
// orchestrator over one store, and enforces single-instance execution.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger

	store        store.Store
	queue        *queue.Queue
	archive      *queue.Archive
	suspensions  *suspension.Store
	prs          *prwait.Registry
	poller       *prwait.Poller
	workflow     *workflow.Manager
	orchestrator *orchestrator.Orchestrator
	notifySvc    notifications.Service
	notifier     *notifications.Notifier
	metrics      *metrics.Metrics
	api          *apiServer
	logHub       *logging.StreamHub
	now          func() time.Time

	skipPreflight bool
	lockPath      string
	lock          *flock.Flock

	mu      sync.Mutex
	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	bg      sync.WaitGroup
}

// New wires the runtime. Nothing runs until Start.
func New(cfg *config.Config, opts Options) (*Daemon, error) {
	if cfg == nil || opts.Store == nil || opts.Registry == nil {
		return nil, services.Wrap(services.ErrConfiguration, "daemon", "new", "config, store and stage registry are required", nil)
	}
	logger := logging.NewComponentLogger(opts.Logger, "daemon")
	notifier := notifications.NewNotifier(opts.Notifications, opts.Logger)

	q := queue.New(opts.Store, opts.Logger)
	archive := queue.NewArchive(opts.Store)
	suspensions := suspension.New(opts.Store, q, archive, opts.Logger)
	prs := prwait.NewRegistry(opts.Store)

	defs := append([]*orchestrator.Definition{orchestrator.ProductDevV1()}, opts.Definitions...)
	orch, err := orchestrator.New(opts.Store, q, defs, orchestrator.Options{
		DefaultWorkflow: cfg.Workflow.DefaultName,
		Notifier:        notifier,
		Metrics:         opts.Metrics,
		Logger:          opts.Logger,
	})
	if err != nil {
		return nil, err
	}

	mgr := workflow.NewManager(opts.Registry, q, archive, suspensions, workflow.Options{
		TickInterval:    cfg.TickInterval(),
		ShutdownTimeout: cfg.ShutdownTimeout(),
		PRRegistrar:     prs,
		Hook:            orch,
		Notifier:        notifier,
		Metrics:         opts.Metrics,
		Logger:          opts.Logger,
	})

	var poller *prwait.Poller
	if opts.Reviews != nil {
		poller = prwait.NewPoller(prs, q, archive, opts.Reviews, prwait.Options{
			Interval: cfg.PRPollInterval(),
			Timeout:  cfg.PRTimeout(),
			Notifier: notifier,
			Metrics:  opts.Metrics,
			Logger:   opts.Logger,
		})
	}

	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:           cfg,
		logger:        logger,
		store:         opts.Store,
		queue:         q,
		archive:       archive,
		suspensions:   suspensions,
		prs:           prs,
		poller:        poller,
		workflow:      mgr,
		orchestrator:  orch,
		notifySvc:     opts.Notifications,
		notifier:      notifier,
		metrics:       opts.Metrics,
		logHub:        opts.LogHub,
		skipPreflight: opts.SkipPreflight,
		lockPath:      lockPath,
		lock:          flock.New(lockPath),
		now:           time.Now,
	}
	d.api = newAPIServer(cfg, d, opts.Logger)
	return d, nil
}

// Start runs preflight, acquires the lock and launches the background loops.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	if !d.skipPreflight {
		results := preflight.RunAll(ctx, d.cfg)
		for _, r := range preflight.Failed(results) {
			logging.WarnWithContext(d.logger, "preflight check failed", "preflight_failed",
				logging.String("check", r.Name),
				logging.String("detail", r.Detail),
				logging.Bool("critical", r.Critical),
				logging.String(logging.FieldImpact, "the affected component may fail at runtime"),
				logging.String(logging.FieldErrorHint, "run remotedev status after fixing the configuration"),
			)
		}
		if failed, ok := preflight.CriticalFailure(results); ok {
			return services.Wrap(services.ErrConfiguration, "daemon", "preflight", failed.Name+": "+failed.Detail, nil)
		}
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another remotedev daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	if err := d.workflow.Start(d.ctx); err != nil {
		d.abortStart()
		return fmt.Errorf("start pipeline: %w", err)
	}
	if d.poller != nil {
		if err := d.poller.Start(d.ctx); err != nil {
			d.workflow.Stop()
			d.abortStart()
			return fmt.Errorf("start pr poller: %w", err)
		}
	}
	if err := d.api.start(d.ctx); err != nil {
		d.stopLoops()
		d.abortStart()
		return err
	}
	if addr := d.cfg.Metrics.Listen; addr != "" && d.metrics != nil {
		runCtx := d.ctx
		d.bg.Add(1)
		go func() {
			defer d.bg.Done()
			if err := d.metrics.Serve(runCtx, addr, d.logger); err != nil {
				logging.WarnWithContext(d.logger, "metrics listener stopped", "metrics_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "prometheus scrapes will fail"),
					logging.String(logging.FieldErrorHint, "check metrics.listen"),
				)
			}
		}()
	}

	d.running.Store(true)
	d.logger.Info("remotedev daemon started",
		logging.String(logging.FieldEventType, "daemon_start"),
		logging.String("lock", d.lockPath),
		logging.Strings("workflows", d.orchestrator.Workflows()),
		logging.Bool("pr_polling", d.poller != nil),
	)
	return nil
}

func (d *Daemon) abortStart() {
	_ = d.lock.Unlock()
	d.cancel()
	d.ctx = nil
	d.cancel = nil
}

func (d *Daemon) stopLoops() {
	if d.poller != nil {
		d.poller.Stop(d.cfg.ShutdownTimeout())
	}
	d.workflow.Stop()
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}
	d.api.stop()
	d.stopLoops()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.bg.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock",
			logging.Error(err),
			logging.String(logging.FieldEventType, "lock_release_failed"),
			logging.String(logging.FieldImpact, "the next start may report another instance"),
			logging.String(logging.FieldErrorHint, "remove "+d.lockPath+" if no daemon is running"),
		)
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("remotedev daemon stopped", logging.String(logging.FieldEventType, "daemon_stop"))
}

// Close stops the daemon and closes the store.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Running reports whether Start succeeded and Stop has not run.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// Orchestrator exposes the workflow engine.
func (d *Daemon) Orchestrator() *orchestrator.Orchestrator {
	return d.orchestrator
}

// Workflow exposes the stepper.
func (d *Daemon) Workflow() *workflow.Manager {
	return d.workflow
}

// Poller exposes the pull request poller; nil when no review source is set.
func (d *Daemon) Poller() *prwait.Poller {
	return d.poller
}

// LogPath returns the path to the daemon log file.
func (d *Daemon) LogPath() string {
	return d.cfg.LogPath()
}

// LogEvents returns buffered log events after since. With follow set it waits
// up to wait for the first new event.
func (d *Daemon) LogEvents(ctx context.Context, since uint64, limit int, follow bool, wait time.Duration) ([]logging.LogEvent, uint64, error) {
	if d.logHub == nil {
		return nil, since, nil
	}
	if since == 0 && !follow {
		events, next := d.logHub.Tail(limit)
		return events, next, nil
	}
	if follow && wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, wait)
		defer cancel()
	}
	events, next, err := d.logHub.Fetch(ctx, since, limit, follow)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return nil, next, nil
	}
	return events, next, err
}

func pid() int {
	return os.Getpid()
}
