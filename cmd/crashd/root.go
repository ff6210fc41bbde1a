package main

import (
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"crashd/internal/daemonrun"
)

const startupTimeout = 30 * time.Second

type rootFlags struct {
	foreground bool
	syslog     bool
	verbosity  int
	timeout    int
	configPath string
}

func newRootCommand() *cobra.Command {
	var flags rootFlags

	rootCmd := &cobra.Command{
		Use:           "crashd",
		Short:         "Crash collection and triage daemon",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if flags.timeout < 0 {
				return fmt.Errorf("--timeout must not be negative")
			}
			if !flags.foreground {
				return detach(cmd, os.Args[1:])
			}
			return daemonrun.Run(cmd.Context(), daemonrun.Options{
				ConfigPath:  flags.configPath,
				Verbosity:   flags.verbosity,
				Syslog:      flags.syslog,
				IdleTimeout: time.Duration(flags.timeout) * time.Second,
			})
		},
	}

	rootCmd.Flags().BoolVarP(&flags.foreground, "foreground", "d", false, "Stay in the foreground and log to stderr")
	rootCmd.Flags().BoolVarP(&flags.syslog, "syslog", "s", false, "Log to syslog")
	rootCmd.Flags().CountVarP(&flags.verbosity, "verbose", "v", "Increase log verbosity (repeatable)")
	rootCmd.Flags().IntVarP(&flags.timeout, "timeout", "t", 0, "Exit after SEC seconds of inactivity (0 disables)")
	rootCmd.Flags().StringVarP(&flags.configPath, "config", "c", "", "Configuration file path")

	return rootCmd
}

func detach(cmd *cobra.Command, args []string) error {
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}
	pid, err := daemonrun.Detach(executable, childArgs(args), startupTimeout)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "crashd started (pid %d)\n", pid)
	return nil
}

// childArgs keeps the caller's flags and forces the detached child into
// foreground mode with syslog output.
func childArgs(args []string) []string {
	out := slices.Clone(args)
	if !slices.Contains(out, "--foreground") && !slices.Contains(out, "-d") {
		out = append(out, "--foreground")
	}
	if !slices.Contains(out, "--syslog") && !slices.Contains(out, "-s") {
		out = append(out, "--syslog")
	}
	return out
}
