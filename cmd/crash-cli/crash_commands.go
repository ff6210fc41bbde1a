package main

import (
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"crashd/internal/bus"
)

func newListCommand(ctx *commandContext) *cobra.Command {
	var showAll bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List known crashes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ctx.withClient(cmd.Context(), func(client *bus.Client) error {
				infos, err := client.GetCrashInfos(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if !showAll {
					infos = unreported(infos)
				}
				if len(infos) == 0 {
					fmt.Fprintln(out, "No crashes.")
					return nil
				}
				fmt.Fprintln(out, renderTable(crashListHeaders, crashListRows(infos), crashListAligns))
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&showAll, "all", "a", false, "Include crashes that were already reported")
	return cmd
}

func newInfoCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "info ID",
		Short: "Show stored fields of one crash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd.Context(), func(client *bus.Client) error {
				infos, err := client.GetCrashInfos(cmd.Context())
				if err != nil {
					return err
				}
				for _, info := range infos {
					if info["crash_id"] == args[0] {
						printRecord(cmd.OutOrStdout(), info)
						return nil
					}
				}
				return fmt.Errorf("no crash with id %s", args[0])
			})
		},
	}
}

func newReportCommand(ctx *commandContext) *cobra.Command {
	var reporters []string
	var comment string
	cmd := &cobra.Command{
		Use:   "report ID",
		Short: "Enrich a crash and send it through reporters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(reporters) == 0 {
				return fmt.Errorf("at least one --reporter is required")
			}
			return ctx.withClient(cmd.Context(), func(client *bus.Client) error {
				progress := cmd.ErrOrStderr()
				colorize := shouldColorize(progress)
				client.OnSignal(bus.SignalUpdate, func(m bus.Message) { printSignal(progress, statusInfo, m, colorize) })
				client.OnSignal(bus.SignalWarning, func(m bus.Message) { printSignal(progress, statusWarn, m, colorize) })

				record, err := client.CreateReport(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if comment != "" {
					record["comment"] = comment
				}
				results, err := client.Report(cmd.Context(), bus.ReportRequest{Record: record, Reporters: reporters})
				if err != nil {
					return err
				}
				return printResults(cmd.OutOrStdout(), results, shouldColorize(cmd.OutOrStdout()))
			})
		},
	}
	cmd.Flags().StringArrayVarP(&reporters, "reporter", "r", nil, "Reporter to use, optionally Name(args) (repeatable)")
	cmd.Flags().StringVar(&comment, "comment", "", "Free-form comment attached to the report")
	return cmd
}

func newDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a crash and its dump directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd.Context(), func(client *bus.Client) error {
				if err := client.DeleteDebugDump(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
				return nil
			})
		},
	}
}

func printSignal(w io.Writer, kind statusKind, m bus.Message, colorize bool) {
	var text string
	if err := m.Decode(&text); err != nil {
		return
	}
	fmt.Fprintln(w, renderStatusLine(m.Member, kind, text, colorize))
}

func printResults(w io.Writer, results map[string]bus.ReportResult, colorize bool) error {
	failed := 0
	for _, reporter := range slices.Sorted(maps.Keys(results)) {
		res := results[reporter]
		kind := statusOK
		if !res.Success {
			kind = statusError
			failed++
		}
		fmt.Fprintln(w, renderStatusLine(reporter, kind, res.Message, colorize))
	}
	if failed == len(results) {
		return fmt.Errorf("no reporter succeeded")
	}
	return nil
}
