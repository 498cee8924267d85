package main

import (
	"github.com/spf13/cobra"
)

const (
	groupDaemon   = "daemon"
	groupPipeline = "pipeline"
	groupWorkflow = "workflow"
)

func newRootCommand() *cobra.Command {
	var socketFlag, configFlag, logLevelFlag string
	ctx := newCommandContext(&socketFlag, &configFlag, &logLevelFlag)

	root := &cobra.Command{
		Use:           "remotedev",
		Short:         "Multi-agent software delivery pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&socketFlag, "socket", "", "Path to the remotedev daemon socket")
	flags.StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	flags.StringVar(&logLevelFlag, "log-level", "", "Daemon log level override (debug, info, warn, error)")

	root.AddGroup(
		&cobra.Group{ID: groupDaemon, Title: "Daemon:"},
		&cobra.Group{ID: groupPipeline, Title: "Pipeline:"},
		&cobra.Group{ID: groupWorkflow, Title: "Work items:"},
	)
	add := func(group string, cmds ...*cobra.Command) {
		for _, c := range cmds {
			c.GroupID = group
			root.AddCommand(c)
		}
	}
	add(groupDaemon, newDaemonCommands(ctx)...)
	add(groupDaemon, newLogsCommand(ctx), newTestNotifyCommand(ctx))
	add(groupPipeline, newEnvelopeCommands(ctx)...)
	add(groupPipeline, newQueueCommand(ctx), newPendingCommand(ctx), newPRWaitCommand(ctx))
	add(groupWorkflow, newWorkItemCommand(ctx), newWorkflowsCommand(ctx))

	root.AddCommand(newDaemonRunCommand(ctx), newConfigCommand(ctx))
	return root
}
