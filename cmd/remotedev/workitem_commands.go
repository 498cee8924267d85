package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"remotedev/internal/ipc"
	"remotedev/internal/orchestrator"
)

func newWorkItemCommand(ctx *commandContext) *cobra.Command {
	workItemCmd := &cobra.Command{
		Use:     "workitem",
		Aliases: []string{"wi"},
		Short:   "Manage orchestrated work items",
	}
	workItemCmd.AddCommand(
		newWorkItemCreateCommand(ctx),
		newWorkItemListCommand(ctx),
		newWorkItemShowCommand(ctx),
		newWorkItemDeleteCommand(ctx),
		newWorkItemEventCommand(ctx),
		newWorkItemApproveCommand(ctx),
	)
	return workItemCmd
}

func newWorkItemCreateCommand(ctx *commandContext) *cobra.Command {
	var workflow string
	var meta map[string]string
	cmd := &cobra.Command{
		Use:   "create <title...>",
		Short: "Create a work item in its workflow's initial state",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := ipc.WorkItemCreateRequest{Title: strings.Join(args, " "), Workflow: workflow}
			if len(meta) > 0 {
				req.Meta = make(map[string]any, len(meta))
				for k, v := range meta {
					req.Meta[k] = v
				}
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.WorkItemCreate(req)
				if err != nil {
					return err
				}
				printWorkItemResult(cmd.OutOrStdout(), resp)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&workflow, "workflow", "w", "", "Workflow name (defaults to the configured default)")
	cmd.Flags().StringToStringVar(&meta, "meta", nil, "Meta entries as key=value")
	return cmd
}

func newWorkItemListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List work items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.WorkItemList()
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				if len(resp.Items) == 0 {
					fmt.Fprintln(out, "No work items")
					return nil
				}
				rows := make([][]string, 0, len(resp.Items))
				for _, item := range resp.Items {
					rows = append(rows, []string{item.ID, truncate(item.Title, 40), item.Workflow, item.State, strings.Join(item.Approvals, ",")})
				}
				fmt.Fprint(out, renderTable([]string{"ID", "Title", "Workflow", "State", "Approvals"}, rows, nil))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print work items as JSON")
	return cmd
}

func newWorkItemShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <work-item-id>",
		Short: "Show a work item with its approvals and history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.WorkItemShow(args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.Item)
				}
				renderWorkItem(cmd.OutOrStdout(), resp.Item)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the work item as JSON")
	return cmd
}

func renderWorkItem(w io.Writer, item *orchestrator.WorkItem) {
	if item == nil {
		fmt.Fprintln(w, "Work item not found")
		return
	}
	fmt.Fprintf(w, "ID:       %s\n", item.ID)
	fmt.Fprintf(w, "Title:    %s\n", item.Title)
	fmt.Fprintf(w, "Workflow: %s\n", item.WorkflowName)
	fmt.Fprintf(w, "State:    %s\n", item.CurrentState)
	if len(item.ApprovalFlags) > 0 {
		names := make([]string, 0, len(item.ApprovalFlags))
		for name := range item.ApprovalFlags {
			names = append(names, name)
		}
		sort.Strings(names)
		parts := make([]string, 0, len(names))
		for _, name := range names {
			parts = append(parts, fmt.Sprintf("%s=%s", name, yesNo(item.ApprovalFlags[name])))
		}
		fmt.Fprintf(w, "Approved: %s\n", strings.Join(parts, " "))
	}
	if len(item.History) == 0 {
		return
	}
	rows := make([][]string, 0, len(item.History))
	for _, h := range item.History {
		rows = append(rows, []string{h.State, h.Timestamp.Local().Format(time.DateTime), truncate(h.Message, 80)})
	}
	fmt.Fprintln(w)
	fmt.Fprint(w, renderTable([]string{"State", "Time", "Message"}, rows, nil))
}

func newWorkItemDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <work-item-id>",
		Short: "Delete a work item (queued jobs are left in place)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.WorkItemDelete(args[0])
				if err != nil {
					return err
				}
				if !resp.Removed {
					fmt.Fprintf(cmd.OutOrStdout(), "Work item %s not found\n", args[0])
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted work item %s\n", args[0])
				return nil
			})
		},
	}
}

func newWorkItemEventCommand(ctx *commandContext) *cobra.Command {
	var payload string
	cmd := &cobra.Command{
		Use:   "event <work-item-id> <event>",
		Short: "Send a workflow event to a work item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := ipc.WorkItemEventRequest{WorkItemID: args[0], Event: args[1]}
			if strings.TrimSpace(payload) != "" {
				if err := json.Unmarshal([]byte(payload), &req.Payload); err != nil {
					return fmt.Errorf("parse --payload: %w", err)
				}
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.WorkItemEvent(req)
				if err != nil {
					return err
				}
				printWorkItemResult(cmd.OutOrStdout(), resp)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&payload, "payload", "", "Event payload as a JSON object")
	return cmd
}

func newWorkItemApproveCommand(ctx *commandContext) *cobra.Command {
	var reject bool
	var comment string
	cmd := &cobra.Command{
		Use:   "approve <work-item-id> <approval-type>",
		Short: "Record an approval (e.g. UX, ARCH) for a work item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := ipc.WorkItemApproveRequest{ID: args[0], Type: args[1], Approved: !reject, Comment: comment}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.WorkItemApprove(req)
				if err != nil {
					return err
				}
				printWorkItemResult(cmd.OutOrStdout(), resp)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&reject, "reject", false, "Record a rejection instead of an approval")
	cmd.Flags().StringVarP(&comment, "comment", "m", "", "Comment recorded in the work item history")
	return cmd
}

func printWorkItemResult(w io.Writer, resp *ipc.WorkItemResponse) {
	res := resp.Result
	id := res.WorkItemID
	if resp.WorkItem != nil {
		id = resp.WorkItem.ID
	}
	switch {
	case res.Transitioned:
		fmt.Fprintf(w, "Work item %s: %s -> %s\n", id, res.From, res.To)
	case res.Waiting:
		fmt.Fprintf(w, "Work item %s waiting in %s for %s\n", id, res.From, strings.Join(res.Pending, ", "))
	case resp.WorkItem != nil:
		fmt.Fprintf(w, "Work item %s in %s\n", id, resp.WorkItem.CurrentState)
	}
	if res.Message != "" {
		fmt.Fprintln(w, res.Message)
	}
	for _, failed := range res.FailedActions {
		fmt.Fprintf(w, "action failed: %s\n", failed)
	}
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
