package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"remotedev/internal/agents"
	"remotedev/internal/config"
	"remotedev/internal/daemon"
	"remotedev/internal/ipc"
	"remotedev/internal/logging"
	"remotedev/internal/metrics"
	"remotedev/internal/notifications"
	"remotedev/internal/orchestrator"
	"remotedev/internal/prwait"
	"remotedev/internal/services/github"
	"remotedev/internal/services/gitops"
	"remotedev/internal/store"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	// Ready, when set, is called once the IPC socket accepts connections.
	Ready func()
}

// Run starts the remotedev daemon and blocks until cmdCtx is cancelled or the
// process receives SIGINT or SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("remotedevd-%s.log", runID))
	logHub := logging.NewStreamHub(4096)

	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", logPath},
		Development: opts.Development,
		Stream:      logHub,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	if err := ensureCurrentLogPointer(cfg.LogPath(), logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update %s link: %v\n", filepath.Base(cfg.LogPath()), err)
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: "remotedevd-*.log", Exclude: []string{logPath}},
	)

	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	st, err := store.Open(cfg)
	if err != nil {
		logger.Error("open store", logging.Error(err), logging.String("path", cfg.StorePath()))
		return err
	}
	defer st.Close()

	d, closeDeps, err := build(cfg, st, logger, logHub)
	if err != nil {
		return err
	}
	defer closeDeps()
	defer d.Close()

	ipcServer, err := ipc.NewServer(signalCtx, cfg.SocketPath(), d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()
	if opts.Ready != nil {
		opts.Ready()
	}

	if err := d.Start(signalCtx); err != nil {
		logging.WarnWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check configuration and store access, then run remotedev start"),
			logging.String(logging.FieldImpact, "queued envelopes are not processed"),
		)
	}

	<-signalCtx.Done()
	logger.Info("remotedev daemon shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
	return nil
}

// build wires the stage registry, collaborators and daemon over st.
func build(cfg *config.Config, st store.Store, logger *slog.Logger, hub *logging.StreamHub) (*daemon.Daemon, func(), error) {
	defs, err := orchestrator.LoadDir(cfg.Paths.WorkflowDir)
	if err != nil {
		return nil, nil, fmt.Errorf("load workflows: %w", err)
	}

	deps := agents.Deps{Logger: logger}
	gh := github.NewFromConfig(cfg)
	if pusher := gitops.NewFromConfig(cfg); pusher.Configured() && gh.Configured() {
		deps.Pusher = pusher
		deps.Opener = gh
	}
	registry, err := agents.Build(cfg, deps)
	if err != nil {
		return nil, nil, fmt.Errorf("build stage handlers: %w", err)
	}

	notifier, closeNotifier, err := notifications.NewService(cfg)
	if err != nil {
		// Partial failures still return the usable backends.
		logging.WarnWithContext(logger, "notification backend unavailable", "notification_init_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "some notifications will not be delivered"),
			logging.String(logging.FieldErrorHint, "check [notifications] settings"),
		)
	}

	var reviews prwait.ReviewSource
	if gh.Configured() {
		reviews = gh
	}

	d, err := daemon.New(cfg, daemon.Options{
		Store:         st,
		Registry:      registry,
		Reviews:       reviews,
		Notifications: notifier,
		Metrics:       metrics.New(),
		Logger:        logger,
		LogHub:        hub,
		Definitions:   defs,
	})
	if err != nil {
		closeNotifier()
		return nil, nil, fmt.Errorf("create daemon: %w", err)
	}
	return d, closeNotifier, nil
}

func ensureCurrentLogPointer(current, target string) error {
	if current == "" || target == "" {
		return nil
	}
	if err := os.Remove(current); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}
