package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"remotedev/internal/daemonctl"
	"remotedev/internal/daemonrun"
)

const (
	stopGracePeriod  = 5 * time.Second
	startWaitTimeout = 10 * time.Second
)

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the remotedev daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}
			result, err := daemonctl.EnsureStarted(ctx.socketPath(), exe, daemonLaunchOptions(ctx), startWaitTimeout)
			if err != nil {
				return err
			}
			if result.Launched {
				fmt.Fprintln(stdout, "Daemon not running, launching...")
			}
			printStartResult(stdout, result, "Daemon started")
			return nil
		},
	}

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the remotedev daemon (terminates the process)",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			result, err := daemonctl.StopAndTerminate(ctx.socketPath(), ctx.configValue(), stopGracePeriod)
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if result.StopAcknowledged {
				fmt.Fprintln(stdout, "Stopping pipeline...")
			} else {
				fmt.Fprintln(stdout, "Stop request sent")
			}
			if result.ForcedKill && result.PID > 0 {
				fmt.Fprintf(stdout, "Killed daemon process (pid %d)\n", result.PID)
			}
			fmt.Fprintln(stdout, "Daemon stopped")
			return nil
		},
	}

	restartCmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the remotedev daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}
			result, err := daemonctl.Restart(ctx.socketPath(), ctx.configValue(), exe, daemonLaunchOptions(ctx), stopGracePeriod, startWaitTimeout)
			if err != nil {
				return err
			}
			if result.WasRunning {
				if result.Stop.ForcedKill && result.Stop.PID > 0 {
					fmt.Fprintf(stdout, "Killed daemon process (pid %d)\n", result.Stop.PID)
				}
				fmt.Fprintln(stdout, "Daemon stopped")
			}
			printStartResult(stdout, result.Start, "Daemon restarted")
			return nil
		},
	}

	var statusJSON bool
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, preflight and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := daemonctl.BuildStatusSnapshot(cmd.Context(), ctx.socketPath(), ctx.configValue())
			if err != nil {
				return err
			}
			if statusJSON {
				return writeJSON(cmd, snap)
			}
			renderStatus(cmd.OutOrStdout(), snap, shouldColorize(cmd.OutOrStdout()))
			return nil
		},
	}
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print the status snapshot as JSON")

	return []*cobra.Command{startCmd, stopCmd, restartCmd, statusCmd}
}

func printStartResult(w io.Writer, result daemonctl.StartResult, startedMsg string) {
	switch result.State {
	case daemonctl.StartStateStarted:
		fmt.Fprintln(w, startedMsg)
	case daemonctl.StartStateAlreadyRunning:
		fmt.Fprintln(w, "Daemon already running")
	case daemonctl.StartStateRequested:
		if msg := strings.TrimSpace(result.Message); msg != "" {
			fmt.Fprintln(w, msg)
			return
		}
		fmt.Fprintln(w, "Start request sent")
	}
}

func renderStatus(w io.Writer, snap *daemonctl.Snapshot, colorize bool) {
	printSection(w, "System Status", colorize)
	for _, line := range snap.System {
		fmt.Fprintln(w, renderStatusLine(line.Label, statusKindFromSeverity(line.Severity), line.Detail, colorize))
	}
	fmt.Fprintln(w)

	printSection(w, "Preflight", colorize)
	for _, check := range snap.Checks {
		kind := statusOK
		if !check.Passed {
			kind = statusWarn
			if check.Critical {
				kind = statusError
			}
		}
		fmt.Fprintln(w, renderStatusLine(check.Name, kind, check.Detail, colorize))
	}
	fmt.Fprintln(w)

	status := snap.Status
	printSection(w, "Pipeline", colorize)
	if status.PID > 0 {
		fmt.Fprintln(w, renderStatusLine("PID", statusInfo, strconv.Itoa(status.PID), colorize))
	}
	fmt.Fprintln(w, renderStatusLine("Store", statusInfo, status.StorePath, colorize))
	if status.Pipeline.Ticks > 0 {
		fmt.Fprintln(w, renderStatusLine("Ticks", statusInfo, strconv.FormatInt(status.Pipeline.Ticks, 10), colorize))
	}
	if status.Pipeline.LastError != "" {
		fmt.Fprintln(w, renderStatusLine("Last error", statusWarn, status.Pipeline.LastError, colorize))
	}
	fmt.Fprintln(w, renderStatusLine("PR waits", statusInfo, strconv.Itoa(status.PRWait.Pending), colorize))
	pending := status.Pending
	fmt.Fprintln(w, renderStatusLine("Awaiting humans", statusInfo,
		fmt.Sprintf("%d clarification(s), %d approval(s), %d work item(s)", pending.Clarifications, pending.Approvals, pending.WorkItems), colorize))
	fmt.Fprintln(w)

	printSection(w, "Queues", colorize)
	rows := queueDepthRows(status.Pipeline.Stages, status.Pipeline.QueueDepths)
	if len(rows) == 0 {
		fmt.Fprintln(w, "Queues are empty")
		return
	}
	fmt.Fprint(w, renderTable([]string{"Stage", "Depth"}, rows, []columnAlignment{alignLeft, alignRight}))
}

// queueDepthRows lists non-empty queues in stage order, then any others by name.
func queueDepthRows(stages []string, depths map[string]int) [][]string {
	seen := make(map[string]bool, len(stages))
	rows := make([][]string, 0, len(depths))
	for _, stage := range stages {
		seen[stage] = true
		if depths[stage] > 0 {
			rows = append(rows, []string{stage, strconv.Itoa(depths[stage])})
		}
	}
	extra := make([]string, 0)
	for stage, depth := range depths {
		if !seen[stage] && depth > 0 {
			extra = append(extra, stage)
		}
	}
	sort.Strings(extra)
	for _, stage := range extra {
		rows = append(rows, []string{stage, strconv.Itoa(depths[stage])})
	}
	return rows
}

func daemonExecutable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable: %w", err)
	}
	return exe, nil
}

func daemonLaunchOptions(ctx *commandContext) daemonctl.LaunchOptions {
	return daemonctl.LaunchOptions{
		ConfigPath: ctx.configPath(),
		LogLevel:   ctx.logLevel(),
	}
}

// newDaemonRunCommand is the foreground entry point `start` launches.
func newDaemonRunCommand(ctx *commandContext) *cobra.Command {
	var development bool
	cmd := &cobra.Command{
		Use:    "daemon",
		Short:  "Run the remotedev daemon in the foreground",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				LogLevel:    ctx.logLevel(),
				Development: development,
			})
		},
	}
	cmd.Flags().BoolVar(&development, "development", false, "Human-readable debug logging with source locations")
	return cmd
}
