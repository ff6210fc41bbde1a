package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"crashd/internal/bus"
	"crashd/internal/daemonctl"
)

func newPluginsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "List plugins known to the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ctx.withClient(cmd.Context(), func(client *bus.Client) error {
				infos, err := client.GetPluginsInfo(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(pluginHeaders, pluginRows(infos), nil))
				return nil
			})
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "settings NAME",
		Short: "Show the settings of one plugin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd.Context(), func(client *bus.Client) error {
				settings, err := client.GetPluginSettings(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Key", "Value"}, keyValueRows(settings), nil))
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "enable NAME",
		Short: "Load a plugin into the running daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd.Context(), func(client *bus.Client) error {
				return client.RegisterPlugin(cmd.Context(), args[0])
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "disable NAME",
		Short: "Unload a plugin from the running daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd.Context(), func(client *bus.Client) error {
				return client.UnRegisterPlugin(cmd.Context(), args[0])
			})
		},
	})
	return cmd
}

func newSettingsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show daemon settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ctx.withClient(cmd.Context(), func(client *bus.Client) error {
				settings, err := client.GetSettings(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Setting", "Value"}, keyValueRows(settings), nil))
				return nil
			})
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "set KEY=VALUE...",
		Short: "Change daemon settings (root only)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parseAssignments(args)
			if err != nil {
				return err
			}
			return ctx.withClient(cmd.Context(), func(client *bus.Client) error {
				return client.SetSettings(cmd.Context(), values)
			})
		},
	})
	return cmd
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report whether crashd is running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			status, err := daemonctl.Probe(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			if !status.Running {
				fmt.Fprintln(out, renderStatusLine("Daemon", statusWarn, "not running", colorize))
				return nil
			}
			fmt.Fprintln(out, renderStatusLine("Daemon", statusOK, fmt.Sprintf("running (pid %d)", status.PID), colorize))
			socketKind := statusOK
			message := status.SocketPath
			if !status.Reachable {
				socketKind = statusError
				message += " unreachable"
			}
			fmt.Fprintln(out, renderStatusLine("Socket", socketKind, message, colorize))
			return nil
		},
	}
}

func newStopCommand(ctx *commandContext) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the running daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := daemonctl.Stop(cmd.Context(), cfg, timeout); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "crashd stopped")
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "wait", 10*time.Second, "How long to wait for shutdown")
	return cmd
}

func parseAssignments(args []string) (map[string]string, error) {
	values := make(map[string]string, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("expected KEY=VALUE, got %q", arg)
		}
		values[key] = value
	}
	return values, nil
}

func keyValueRows(values map[string]string) [][]string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	rows := make([][]string, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, []string{k, values[k]})
	}
	return rows
}
