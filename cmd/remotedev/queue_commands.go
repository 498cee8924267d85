package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"remotedev/internal/api"
	"remotedev/internal/ipc"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect stage queues",
	}

	var head int
	var asJSON bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Show queue depths and the envelopes at the head of each queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.QueueList(head)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				renderQueues(cmd.OutOrStdout(), resp.Queues)
				return nil
			})
		},
	}
	listCmd.Flags().IntVar(&head, "head", 3, "Envelopes to show from the head of each queue")
	listCmd.Flags().BoolVar(&asJSON, "json", false, "Print the listing as JSON")
	queueCmd.AddCommand(listCmd)
	return queueCmd
}

func renderQueues(w io.Writer, queues []api.QueueDepth) {
	rows := make([][]string, 0, len(queues))
	for _, q := range queues {
		if len(q.Head) == 0 {
			rows = append(rows, []string{q.Stage, strconv.Itoa(q.Depth), "", ""})
			continue
		}
		for i, env := range q.Head {
			stage, depth := "", ""
			if i == 0 {
				stage, depth = q.Stage, strconv.Itoa(q.Depth)
			}
			rows = append(rows, []string{stage, depth, env.ID, truncate(env.Title, 40)})
		}
	}
	if len(rows) == 0 {
		fmt.Fprintln(w, "No queues configured")
		return
	}
	fmt.Fprint(w, renderTable([]string{"Stage", "Depth", "Envelope", "Title"}, rows,
		[]columnAlignment{alignLeft, alignRight, alignLeft, alignLeft}))
}

func newPendingCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List envelopes and work items waiting on a human or a pull request",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Pending()
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				renderPending(cmd.OutOrStdout(), resp)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print pending items as JSON")
	return cmd
}

func renderPending(w io.Writer, resp *ipc.PendingResponse) {
	if len(resp.Items) == 0 {
		fmt.Fprintln(w, "Nothing pending")
		return
	}
	rows := make([][]string, 0, len(resp.Items))
	for _, item := range resp.Items {
		rows = append(rows, []string{item.Kind, item.ID, truncate(item.Title, 32), item.Stage, pendingDetail(item)})
	}
	fmt.Fprint(w, renderTable([]string{"Kind", "ID", "Title", "Stage", "Detail"}, rows, nil))
	c := resp.Counts
	fmt.Fprintf(w, "%d clarification(s), %d approval(s), %d PR wait(s), %d work item(s)\n",
		c.Clarifications, c.Approvals, c.PRWaits, c.WorkItems)
}

func pendingDetail(item api.PendingItem) string {
	switch item.Kind {
	case api.PendingPR:
		if item.PRURL != "" {
			return item.PRURL
		}
		return fmt.Sprintf("%s#%d", item.Repo, item.PRNumber)
	case api.PendingWorkItem:
		return "awaiting " + strings.Join(item.Pending, ", ")
	default:
		return truncate(item.Message, 60)
	}
}
