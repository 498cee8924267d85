package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"remotedev/internal/ipc"
)

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Publish a test event to the configured notification backends",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.TestNotification()
				if err != nil {
					return err
				}
				msg := resp.Message
				if msg == "" && resp.Sent {
					msg = "Test notification sent"
				} else if msg == "" {
					msg = "Notification not sent"
				}
				fmt.Fprintln(cmd.OutOrStdout(), msg)
				return nil
			})
		},
	}
}
