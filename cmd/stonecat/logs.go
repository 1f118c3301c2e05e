package main

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/stonecat/internal/oplog"
)

var (
	logsOperation string
	logsOutput    string
	logsYes       bool
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Inspect the operation log",
}

var logsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded imports and exports, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		logs := filterLogs(a.Service.Logs(), logsOperation)
		if len(logs) == 0 {
			pterm.Info.Println("No operations recorded")
			return nil
		}
		return pterm.DefaultTable.WithHasHeader().WithData(logTable(logs)).Render()
	},
}

var logsShowCmd = &cobra.Command{
	Use:   "show <log-id>",
	Short: "Show one operation with its errors and warnings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		l, err := a.Service.GetLog(args[0])
		if err != nil {
			return err
		}
		if err := pterm.DefaultTable.WithHasHeader().WithData(logTable([]oplog.Log{l})).Render(); err != nil {
			return err
		}
		if len(l.Errors) > 0 {
			pterm.Warning.Printfln("%d errors", len(l.Errors))
			if err := renderLogIssues(l.Errors); err != nil {
				return err
			}
		}
		if len(l.Warnings) > 0 {
			pterm.Warning.Printfln("%d warnings", len(l.Warnings))
			return renderLogIssues(l.Warnings)
		}
		return nil
	},
}

var logsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the whole operation log as JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		blob, err := a.Service.ExportLogs()
		if err != nil {
			return err
		}
		out := logsOutput
		if out == "" {
			out = blob.Name
		}
		if err := os.WriteFile(out, blob.Data, 0o644); err != nil {
			return errors.Wrap(err, "write log export")
		}
		pterm.Success.Printfln("Operation log written to %s", out)
		return nil
	},
}

var logsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the operation log history",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !logsYes {
			ok, _ := pterm.DefaultInteractiveConfirm.Show("Delete every recorded operation?")
			if !ok {
				pterm.Info.Println("Nothing deleted")
				return nil
			}
		}

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		n := a.Logs.Len()
		if err := a.Service.ClearLogs(cmd.Context()); err != nil {
			return err
		}
		pterm.Success.Printfln("Deleted %d operations", n)
		return nil
	},
}

func init() {
	logsListCmd.Flags().StringVar(&logsOperation, "operation", "", "only show import or export operations")
	logsExportCmd.Flags().StringVarP(&logsOutput, "output", "o", "", "output file (default: generated name)")
	logsClearCmd.Flags().BoolVarP(&logsYes, "yes", "y", false, "skip the confirmation prompt")

	logsCmd.AddCommand(logsListCmd, logsShowCmd, logsExportCmd, logsClearCmd)
}
