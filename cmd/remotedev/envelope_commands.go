package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"remotedev/internal/api"
	"remotedev/internal/envelope"
	"remotedev/internal/ipc"
)

func newEnvelopeCommands(ctx *commandContext) []*cobra.Command {
	return []*cobra.Command{
		newIngestCommand(ctx),
		newShowCommand(ctx),
		newClarifyCommand(ctx),
		newApproveCommand(ctx),
	}
}

func newIngestCommand(ctx *commandContext) *cobra.Command {
	var title string
	var promptFile string
	var taskContext map[string]string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "ingest [prompt...]",
		Short: "Queue a new task at the first pipeline stage",
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := readPrompt(cmd.InOrStdin(), promptFile, args)
			if err != nil {
				return err
			}
			req := ipc.IngestRequest{Title: title, Prompt: prompt}
			if len(taskContext) > 0 {
				req.Context = make(map[string]any, len(taskContext))
				for k, v := range taskContext {
					req.Context[k] = v
				}
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Ingest(req)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Ingested %s (%s) into %s\n", resp.Envelope.ID, resp.Envelope.Title, resp.Queue)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&title, "title", "t", "", "Task title (defaults to Task-<id suffix>)")
	cmd.Flags().StringVarP(&promptFile, "file", "f", "", "Read the prompt from a file (- for stdin)")
	cmd.Flags().StringToStringVar(&taskContext, "context", nil, "Context entries as key=value")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the response as JSON")
	return cmd
}

func readPrompt(stdin io.Reader, path string, args []string) (string, error) {
	path = strings.TrimSpace(path)
	if path != "" && len(args) > 0 {
		return "", errors.New("pass the prompt as arguments or --file, not both")
	}
	switch path {
	case "":
		return strings.Join(args, " "), nil
	case "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read prompt from stdin: %w", err)
		}
		return string(data), nil
	default:
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read prompt file: %w", err)
		}
		return string(data), nil
	}
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <envelope-id>",
		Short: "Locate an envelope and print its state and history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Show(args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				renderEnvelope(cmd.OutOrStdout(), resp)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the envelope as JSON")
	return cmd
}

func renderEnvelope(w io.Writer, resp *api.Envelope) {
	env := resp.Envelope
	if env == nil {
		fmt.Fprintln(w, "Envelope has no content")
		return
	}
	fmt.Fprintf(w, "ID:       %s\n", env.ID)
	fmt.Fprintf(w, "Title:    %s\n", env.Task.Title)
	fmt.Fprintf(w, "Where:    %s\n", resp.Where)
	fmt.Fprintf(w, "Status:   %s\n", env.Task.Status)
	fmt.Fprintf(w, "Stage:    %s\n", env.Task.CurrentStage)
	if env.Meta.WorkItemID != "" {
		fmt.Fprintf(w, "WorkItem: %s\n", env.Meta.WorkItemID)
	}
	if env.Task.NeedsClarification {
		fmt.Fprintf(w, "Question: %s\n", env.Task.ClarificationQuestion)
	}
	if env.Task.NeedsApproval {
		fmt.Fprintf(w, "Approval: %s\n", env.Task.ApprovalMessage)
	}
	if env.Task.HasError {
		fmt.Fprintf(w, "Error:    %s\n", env.Task.ErrorMessage)
	}
	fmt.Fprintf(w, "Prompt:   %s\n", truncate(strings.TrimSpace(env.Task.OriginalPrompt), 120))
	if len(env.History) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprint(w, renderTable([]string{"Stage", "Time", "Message"}, historyRows(env.History), nil))
}

func historyRows(history []envelope.HistoryEntry) [][]string {
	rows := make([][]string, 0, len(history))
	for _, entry := range history {
		rows = append(rows, []string{
			entry.Stage,
			entry.Timestamp.Local().Format(time.DateTime),
			truncate(entry.Message, 80),
		})
	}
	return rows
}

func newClarifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clarify <envelope-id> <response...>",
		Short: "Answer a pending clarification and resume the envelope",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			response := strings.Join(args[1:], " ")
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Clarify(args[0], response)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Envelope %s resumed at %s\n", resp.Envelope.ID, resp.Envelope.CurrentStage)
				return nil
			})
		},
	}
}

func newApproveCommand(ctx *commandContext) *cobra.Command {
	var reject bool
	var comment string
	cmd := &cobra.Command{
		Use:   "approve <envelope-id>",
		Short: "Approve (or reject) a stage awaiting human approval",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Approve(ipc.ApproveRequest{ID: args[0], Approved: !reject, Comment: comment})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if reject {
					fmt.Fprintf(out, "Envelope %s rejected (%s)\n", resp.Envelope.ID, resp.Envelope.Status)
					return nil
				}
				fmt.Fprintf(out, "Envelope %s approved, resumed at %s\n", resp.Envelope.ID, resp.Envelope.CurrentStage)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&reject, "reject", false, "Reject instead of approve; the envelope fails and is archived")
	cmd.Flags().StringVarP(&comment, "comment", "m", "", "Comment recorded in the envelope history")
	return cmd
}
