package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"remotedev/internal/ipc"
)

func newWorkflowsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "workflows",
		Short: "List loaded workflow definitions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Workflows()
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				rows := make([][]string, 0, len(resp.Workflows))
				for _, wf := range resp.Workflows {
					rows = append(rows, []string{wf.Name, wf.InitialState, strings.Join(wf.States, " "), truncate(wf.Description, 40)})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"Name", "Initial", "States", "Description"}, rows, nil))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print workflows as JSON")
	return cmd
}

func newPRWaitCommand(ctx *commandContext) *cobra.Command {
	prCmd := &cobra.Command{
		Use:   "prwait",
		Short: "Manage envelopes parked on pull requests",
	}

	var req ipc.PRWaitRegisterRequest
	registerCmd := &cobra.Command{
		Use:   "register <envelope-id>",
		Short: "Park an envelope until a pull request opened outside the daemon closes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if req.PRNumber <= 0 {
				return errors.New("--pr must be a positive pull request number")
			}
			req.EventID = args[0]
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.PRWaitRegister(req)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Envelope %s waiting on %s#%d\n", resp.Item.ID, resp.Item.Repo, resp.Item.PRNumber)
				return nil
			})
		},
	}
	registerCmd.Flags().IntVar(&req.PRNumber, "pr", 0, "Pull request number")
	registerCmd.Flags().StringVar(&req.PRURL, "url", "", "Pull request URL")
	registerCmd.Flags().StringVar(&req.RepoOwner, "owner", "", "Repository owner (defaults to github.default_owner)")
	registerCmd.Flags().StringVar(&req.RepoName, "repo", "", "Repository name (defaults to github.default_repo)")
	registerCmd.Flags().StringVar(&req.AgentName, "agent", "", "Stage that opened the pull request")
	registerCmd.Flags().StringVar(&req.NextAgent, "next", "", "Stage to resume at once the pull request merges")
	prCmd.AddCommand(registerCmd)
	return prCmd
}
