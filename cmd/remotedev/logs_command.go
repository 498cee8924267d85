package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"remotedev/internal/ipc"
	"remotedev/internal/logging"
	"remotedev/internal/logs"
)

const logFollowWait = 5 * time.Second

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var lines int
	var follow bool
	var envelopeID string
	var workItemID string

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent daemon log events",
		RunE: func(cmd *cobra.Command, args []string) error {
			match := func(evt logging.LogEvent) bool {
				if envelopeID != "" && evt.EnvelopeID != envelopeID {
					return false
				}
				return workItemID == "" || evt.WorkItemID == workItemID
			}
			socket := ctx.socketPath()
			client, err := ipc.Dial(socket)
			if err != nil {
				cfg := ctx.configValue()
				if cfg == nil || !daemonUnreachable(err) {
					return wrapDialError(err, socket)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "daemon not reachable; reading %s\n", cfg.LogPath())
				return tailLogFile(cmd.Context(), cfg.LogPath(), cmd.OutOrStdout(), lines, follow, envelopeID, workItemID)
			}
			defer client.Close()
			return tailLogs(cmd.Context(), client, cmd.OutOrStdout(), lines, follow, match)
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of recent events to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep streaming new events")
	cmd.Flags().StringVar(&envelopeID, "envelope", "", "Only show events for this envelope")
	cmd.Flags().StringVar(&workItemID, "workitem", "", "Only show events for this work item")
	return cmd
}

func tailLogs(ctx context.Context, client *ipc.Client, w io.Writer, lines int, follow bool, match func(logging.LogEvent) bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	resp, err := client.LogTail(ipc.LogTailRequest{Limit: lines})
	if err != nil {
		return err
	}
	printLogEvents(w, resp.Events, match)
	offset := resp.Offset
	for follow {
		if err := ctx.Err(); err != nil {
			return nil
		}
		resp, err := client.LogTail(ipc.LogTailRequest{
			Offset:     offset,
			Follow:     true,
			WaitMillis: int(logFollowWait / time.Millisecond),
		})
		if err != nil {
			return err
		}
		printLogEvents(w, resp.Events, match)
		offset = resp.Offset
	}
	return nil
}

// tailLogFile prints raw lines from the daemon log file; filters match on
// substrings since lines are not parsed.
func tailLogFile(ctx context.Context, path string, w io.Writer, lines int, follow bool, filters ...string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	emit := func(batch []string) {
	next:
		for _, line := range batch {
			for _, f := range filters {
				if f != "" && !strings.Contains(line, f) {
					continue next
				}
			}
			fmt.Fprintln(w, line)
		}
	}
	chunk, err := logs.Last(path, lines)
	if err != nil {
		return err
	}
	emit(chunk.Lines)
	for follow {
		chunk, err = logs.Since(ctx, path, chunk.Offset, logFollowWait)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		if err != nil {
			return err
		}
		emit(chunk.Lines)
	}
	return nil
}

func daemonUnreachable(err error) bool {
	return errors.Is(err, syscall.ENOENT) || errors.Is(err, syscall.ECONNREFUSED) || os.IsNotExist(err)
}

func printLogEvents(w io.Writer, events []logging.LogEvent, match func(logging.LogEvent) bool) {
	for _, evt := range events {
		if match != nil && !match(evt) {
			continue
		}
		fmt.Fprintln(w, formatLogEvent(evt))
	}
}

// formatLogEvent renders one event as "time LEVEL [component] msg k=v ...".
func formatLogEvent(evt logging.LogEvent) string {
	var b strings.Builder
	b.WriteString(evt.Timestamp.Local().Format("2006-01-02 15:04:05"))
	b.WriteByte(' ')
	b.WriteString(fmt.Sprintf("%-5s", strings.ToUpper(evt.Level)))
	if evt.Component != "" {
		b.WriteString(" [" + evt.Component + "]")
	}
	b.WriteByte(' ')
	b.WriteString(evt.Message)
	for _, kv := range [][2]string{
		{"stage", evt.Stage},
		{"envelope", evt.EnvelopeID},
		{"work_item", evt.WorkItemID},
	} {
		if kv[1] != "" {
			b.WriteString(" " + kv[0] + "=" + kv[1])
		}
	}
	keys := make([]string, 0, len(evt.Fields))
	for k := range evt.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(" " + k + "=" + evt.Fields[k])
	}
	return b.String()
}
