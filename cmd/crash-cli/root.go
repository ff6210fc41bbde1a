package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var socketFlag string
	var configFlag string

	ctx := newCommandContext(&socketFlag, &configFlag)

	rootCmd := &cobra.Command{
		Use:           "crash-cli",
		Short:         "Inspect and report crashes collected by crashd",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&socketFlag, "socket", "", "Path to the crashd socket")
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")

	rootCmd.AddCommand(
		newListCommand(ctx),
		newInfoCommand(ctx),
		newReportCommand(ctx),
		newDeleteCommand(ctx),
		newPluginsCommand(ctx),
		newSettingsCommand(ctx),
		newStatusCommand(ctx),
		newStopCommand(ctx),
	)
	return rootCmd
}
