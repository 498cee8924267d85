// Command remotedevd runs the remotedev daemon in the foreground. It is the
// same runtime as "remotedev daemon", packaged for service managers.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"remotedev/internal/config"
	"remotedev/internal/daemonrun"
)

func main() {
	if err := newCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	var configPath string
	var logLevel string
	var development bool

	cmd := &cobra.Command{
		Use:           "remotedevd",
		Short:         "Run the remotedev daemon",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, _, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				LogLevel:    logLevel,
				Development: development,
			})
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Configuration file path")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Log level override (debug, info, warn, error)")
	cmd.Flags().BoolVar(&development, "development", false, "Use development logging")
	return cmd
}
