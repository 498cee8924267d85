package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"slices"
	"strconv"
	"strings"
	"syscall"
	"time"

	"remotedev/internal/config"
	"remotedev/internal/ipc"
	"remotedev/internal/preflight"
	"remotedev/internal/prwait"
	"remotedev/internal/queue"
	"remotedev/internal/store"
)

// LaunchOptions controls daemon process launch behavior.
type LaunchOptions struct {
	ConfigPath string
	LogLevel   string
}

// StartState describes how EnsureStarted left the daemon.
type StartState string

const (
	StartStateStarted        StartState = "started"
	StartStateAlreadyRunning StartState = "already_running"
	StartStateRequested      StartState = "start_requested"
)

// StartResult captures daemon start orchestration state.
type StartResult struct {
	State    StartState
	Launched bool
	Message  string
}

// ErrDaemonNotRunning indicates daemon IPC is unavailable.
var ErrDaemonNotRunning = errors.New("daemon not running")

// Launch starts a detached "remotedev daemon" process.
func Launch(executablePath string, opts LaunchOptions) error {
	if strings.TrimSpace(executablePath) == "" {
		return fmt.Errorf("resolve executable: executable path is empty")
	}

	args := []string{"daemon"}
	if cfg := strings.TrimSpace(opts.ConfigPath); cfg != "" {
		args = append(args, "--config", cfg)
	}
	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		args = append(args, "--log-level", level)
	}

	proc := exec.Command(executablePath, args...)
	proc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := proc.Start(); err != nil {
		return fmt.Errorf("launch daemon: %w", err)
	}
	return proc.Process.Release()
}

// WaitForClient waits for IPC socket availability and returns a connected client.
func WaitForClient(socketPath string, timeout time.Duration) (*ipc.Client, error) {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		client, err := ipc.Dial(socketPath)
		if err == nil {
			return client, nil
		}
		lastErr = err
		time.Sleep(200 * time.Millisecond)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("timeout waiting for daemon")
	}
	return nil, fmt.Errorf("daemon failed to start: %w", lastErr)
}

// EnsureStarted launches the daemon if its socket is absent and makes sure
// processing is running.
func EnsureStarted(socketPath, executablePath string, opts LaunchOptions, waitTimeout time.Duration) (StartResult, error) {
	client, err := ipc.Dial(socketPath)
	launched := false
	if err != nil {
		if launchErr := Launch(executablePath, opts); launchErr != nil {
			return StartResult{}, launchErr
		}
		client, err = WaitForClient(socketPath, waitTimeout)
		if err != nil {
			return StartResult{}, err
		}
		launched = true
	}
	defer client.Close()

	if launched {
		// A launched daemon starts processing by itself.
		if waitForRunning(client, waitTimeout) {
			return StartResult{State: StartStateStarted, Launched: true}, nil
		}
	} else if status, statusErr := client.Status(); statusErr == nil && status.Running {
		return StartResult{State: StartStateAlreadyRunning}, nil
	}

	resp, err := client.Start()
	if err != nil {
		return StartResult{}, err
	}
	message := strings.TrimSpace(resp.Message)
	switch {
	case resp.Started:
		return StartResult{State: StartStateStarted, Launched: launched, Message: message}, nil
	case strings.EqualFold(message, "daemon already running"):
		if launched {
			return StartResult{State: StartStateStarted, Launched: true, Message: message}, nil
		}
		return StartResult{State: StartStateAlreadyRunning, Message: message}, nil
	case message != "":
		return StartResult{State: StartStateRequested, Launched: launched, Message: message}, nil
	default:
		return StartResult{State: StartStateRequested, Launched: launched, Message: "start request sent"}, nil
	}
}

func waitForRunning(client *ipc.Client, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		status, err := client.Status()
		if err != nil {
			return false
		}
		if status.Running {
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}
	return false
}

// WaitForExit waits until the daemon socket stops accepting connections.
func WaitForExit(socketPath string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		client, err := ipc.Dial(socketPath)
		if err != nil {
			if isDaemonUnavailable(err) {
				return nil
			}
			time.Sleep(200 * time.Millisecond)
			continue
		}
		_ = client.Close()
		time.Sleep(200 * time.Millisecond)
	}
	return fmt.Errorf("daemon did not exit within %s", timeout)
}

// ProcessInfo returns whether daemon IPC is reachable and the daemon PID when available.
func ProcessInfo(socketPath string) (bool, int, error) {
	client, err := ipc.Dial(socketPath)
	if err != nil {
		if isDaemonUnavailable(err) {
			return false, 0, nil
		}
		return false, 0, err
	}
	defer client.Close()
	status, statusErr := client.Status()
	if statusErr != nil {
		return true, 0, statusErr
	}
	return true, status.PID, nil
}

// ReadPID parses the daemon pid file. A missing file yields zero.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read daemon pid file %q: %w", path, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid daemon pid file %q", path)
	}
	return pid, nil
}

// signalProcess sends sig to pid, refusing to signal the current process.
func signalProcess(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return fmt.Errorf("unable to determine daemon pid")
	}
	if pid == os.Getpid() {
		return fmt.Errorf("refusing to signal current process (pid %d)", pid)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("locate daemon process %d: %w", pid, err)
	}
	if err := proc.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("signal daemon process %d: %w", pid, err)
	}
	return nil
}

// StopResult captures daemon stop/termination outcome.
type StopResult struct {
	StopAcknowledged bool
	ForcedKill       bool
	PID              int
}

// RestartResult captures stop/start outcomes for daemon restart.
type RestartResult struct {
	WasRunning bool
	Stop       StopResult
	Start      StartResult
}

// StopAndTerminate pauses processing, asks the daemon process to exit with
// SIGTERM and sends SIGKILL if it is still alive after gracePeriod.
func StopAndTerminate(socketPath string, cfg *config.Config, gracePeriod time.Duration) (StopResult, error) {
	client, err := ipc.Dial(socketPath)
	if err != nil {
		if isDaemonUnavailable(err) {
			return StopResult{}, ErrDaemonNotRunning
		}
		return StopResult{}, err
	}
	pid := 0
	if status, statusErr := client.Status(); statusErr == nil {
		pid = status.PID
	}
	resp, err := client.Stop()
	_ = client.Close()
	if err != nil {
		return StopResult{}, err
	}
	result := StopResult{PID: pid, StopAcknowledged: resp.Stopped}

	if pid == 0 && cfg != nil {
		pid, _ = ReadPID(cfg.PIDPath())
		result.PID = pid
	}
	if err := signalProcess(pid, syscall.SIGTERM); err != nil {
		return result, err
	}
	if WaitForExit(socketPath, gracePeriod) == nil {
		return result, nil
	}

	if err := signalProcess(pid, syscall.SIGKILL); err != nil {
		return result, fmt.Errorf("failed to stop daemon process: %w", err)
	}
	_ = os.Remove(socketPath)
	if cfg != nil {
		_ = os.Remove(cfg.PIDPath())
	}
	result.ForcedKill = true
	return result, nil
}

// Restart stops the daemon if running, then ensures it is started.
func Restart(socketPath string, cfg *config.Config, executablePath string, opts LaunchOptions, stopGracePeriod, startWaitTimeout time.Duration) (RestartResult, error) {
	stopResult, stopErr := StopAndTerminate(socketPath, cfg, stopGracePeriod)
	if stopErr != nil && !errors.Is(stopErr, ErrDaemonNotRunning) {
		return RestartResult{}, stopErr
	}

	startResult, err := EnsureStarted(socketPath, executablePath, opts, startWaitTimeout)
	if err != nil {
		return RestartResult{}, err
	}

	return RestartResult{
		WasRunning: stopErr == nil,
		Stop:       stopResult,
		Start:      startResult,
	}, nil
}

// StatusLine is one labelled row of the status report.
type StatusLine struct {
	Label    string
	Severity string
	Detail   string
}

// Snapshot is the status report shown by the CLI. When the daemon is not
// reachable, queue depths and pull request waits are read from the store.
type Snapshot struct {
	Reachable bool
	Status    ipc.StatusResponse
	Checks    []preflight.Result
	System    []StatusLine
}

// BuildStatusSnapshot collects daemon status and falls back to reading the
// store directly when the daemon is offline.
func BuildStatusSnapshot(ctx context.Context, socketPath string, cfg *config.Config) (*Snapshot, error) {
	if cfg == nil {
		return nil, errors.New("configuration not available")
	}
	snap := &Snapshot{}

	if client, err := ipc.Dial(socketPath); err == nil {
		if resp, statusErr := client.Status(); statusErr == nil {
			snap.Reachable = true
			snap.Status = *resp
		}
		_ = client.Close()
	}

	if !snap.Reachable {
		snap.Status.StorePath = cfg.StorePath()
		snap.Status.LockFilePath = cfg.LockPath()
		snap.Status.LogPath = cfg.LogPath()
		queryCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := readOffline(queryCtx, cfg, &snap.Status); err != nil {
			snap.System = append(snap.System, StatusLine{Label: "Store", Severity: "warn", Detail: err.Error()})
		}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	snap.Checks = preflight.RunAll(checkCtx, cfg)
	snap.System = append(BuildSystemChecks(cfg, snap.Reachable, snap.Status.Running), snap.System...)
	return snap, nil
}

func readOffline(ctx context.Context, cfg *config.Config, status *ipc.StatusResponse) error {
	if _, err := os.Stat(cfg.StorePath()); err != nil {
		return fmt.Errorf("store not initialized: %s", cfg.StorePath())
	}
	st, err := store.Open(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	q := queue.New(st, nil)
	stages := append([]string(nil), cfg.Pipeline.Stages...)
	if extra, err := q.Stages(ctx); err == nil {
		for _, stage := range extra {
			if !slices.Contains(stages, stage) {
				stages = append(stages, stage)
			}
		}
	}
	depths, err := q.Depths(ctx, stages)
	if err != nil {
		return err
	}
	status.Pipeline.Stages = cfg.Pipeline.Stages
	status.Pipeline.QueueDepths = depths
	if n, err := prwait.NewRegistry(st).Count(ctx); err == nil {
		status.PRWait.Pending = n
	}
	return nil
}

// BuildSystemChecks resolves status lines that combine runtime state and config.
func BuildSystemChecks(cfg *config.Config, reachable, running bool) []StatusLine {
	lines := make([]StatusLine, 0, 6)
	switch {
	case running:
		lines = append(lines, StatusLine{Label: "Daemon", Severity: "ok", Detail: "Running"})
	case reachable:
		lines = append(lines, StatusLine{Label: "Daemon", Severity: "warn", Detail: "Paused (run `remotedev start`)"})
	default:
		lines = append(lines, StatusLine{Label: "Daemon", Severity: "warn", Detail: "Not running (run `remotedev start`)"})
	}

	if strings.TrimSpace(cfg.GitHub.Token) != "" {
		lines = append(lines, StatusLine{Label: "PR Polling", Severity: "ok", Detail: "GitHub token configured"})
	} else {
		lines = append(lines, StatusLine{Label: "PR Polling", Severity: "warn", Detail: "Disabled (no GitHub token)"})
	}

	var sinks []string
	if strings.TrimSpace(cfg.Notifications.NtfyTopic) != "" {
		sinks = append(sinks, "ntfy")
	}
	if strings.TrimSpace(cfg.Notifications.NATSURL) != "" {
		sinks = append(sinks, "nats")
	}
	if len(sinks) > 0 {
		lines = append(lines, StatusLine{Label: "Notifications", Severity: "ok", Detail: strings.Join(sinks, ", ")})
	} else {
		lines = append(lines, StatusLine{Label: "Notifications", Severity: "info", Detail: "Not configured"})
	}

	if bind := strings.TrimSpace(cfg.API.Bind); bind != "" {
		detail := bind
		severity := "ok"
		if strings.TrimSpace(cfg.API.Token) == "" {
			detail += " (no token)"
			severity = "warn"
		}
		lines = append(lines, StatusLine{Label: "HTTP API", Severity: severity, Detail: detail})
	} else {
		lines = append(lines, StatusLine{Label: "HTTP API", Severity: "info", Detail: "Disabled"})
	}

	if listen := strings.TrimSpace(cfg.Metrics.Listen); listen != "" {
		lines = append(lines, StatusLine{Label: "Metrics", Severity: "ok", Detail: listen})
	}
	return lines
}

func isDaemonUnavailable(err error) bool {
	return os.IsNotExist(err) ||
		errors.Is(err, os.ErrNotExist) ||
		errors.Is(err, syscall.ENOENT) ||
		errors.Is(err, syscall.ECONNREFUSED)
}
