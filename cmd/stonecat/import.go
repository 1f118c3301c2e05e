package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/stonecat/internal/core"
)

var (
	importDelimiter string
	importEncoding  string
	hierarchyMode   string
	concurrency     int
)

var importCmd = &cobra.Command{
	Use:   "import <entity-type> <file>",
	Short: "Import a CSV file into the catalog",
	Long: `Parse, validate and commit a CSV file. Nothing is committed unless every
row validates. Rows already committed stay committed when the run is
interrupted with Ctrl-C.

Entity types: variants, specific-variants, products, hierarchy`,
	Args: cobra.ExactArgs(2),
	RunE: runImport,
}

var validateCmd = &cobra.Command{
	Use:   "validate <entity-type> <file>",
	Short: "Check a CSV file without importing it",
	Args:  cobra.ExactArgs(2),
	RunE:  runValidate,
}

func init() {
	for _, cmd := range []*cobra.Command{importCmd, validateCmd} {
		cmd.Flags().StringVar(&importDelimiter, "delimiter", "", "field delimiter: comma, semicolon or tab")
		cmd.Flags().StringVar(&importEncoding, "encoding", "", "file encoding: utf-8, iso-8859-1 or windows-1252")
	}
	importCmd.Flags().StringVar(&hierarchyMode, "hierarchy-mode", "", "strict or lenient parent handling for hierarchy files")
	importCmd.Flags().IntVar(&concurrency, "concurrency", 0, "rows committed in parallel (1-3)")
}

func importRequest(entityType, path string) (core.ImportRequest, *os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return core.ImportRequest{}, nil, errors.Wrap(err, "open input")
	}
	return core.ImportRequest{
		EntityType:    entityType,
		FileName:      filepath.Base(path),
		Reader:        f,
		Delimiter:     importDelimiter,
		Encoding:      importEncoding,
		HierarchyMode: hierarchyMode,
		Concurrency:   concurrency,
	}, f, nil
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	req, f, err := importRequest(args[0], args[1])
	if err != nil {
		return err
	}
	defer f.Close()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	logID, err := a.Service.StartImport(ctx, req)
	if err != nil {
		return err
	}
	updates, err := a.Service.SubscribeProgress(logID)
	if err != nil {
		return err
	}
	stopCancel := context.AfterFunc(ctx, func() { _ = a.Service.Cancel(logID) })
	defer stopCancel()

	spinner, _ := pterm.DefaultSpinner.Start("Importing " + req.FileName)
	for p := range updates {
		spinner.UpdateText(progressText(req.FileName, p))
	}

	res, runErr := a.Service.Wait(context.WithoutCancel(ctx), logID)
	switch {
	case runErr == nil:
		spinner.Success(resultText(res))
	case res != nil:
		spinner.Fail(core.FormatUserError(runErr))
	default:
		spinner.Fail(core.FormatUserError(runErr))
		return runErr
	}

	if res.Validation != nil && len(res.Validation.Errors) > 0 {
		pterm.Warning.Printfln("%d validation errors", len(res.Validation.Errors))
		if err := renderIssues(res.Validation.Errors); err != nil {
			return err
		}
	}
	if len(res.Errors) > 0 {
		pterm.Warning.Printfln("%d rows failed to commit", len(res.Errors))
		if err := renderRowErrors(res.Errors); err != nil {
			return err
		}
	}
	pterm.Info.Printfln("Operation log: %s", res.LogID)
	return runErr
}

func runValidate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	req, f, err := importRequest(args[0], args[1])
	if err != nil {
		return err
	}
	defer f.Close()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.Service.ValidateFile(ctx, req)
	if err != nil {
		return err
	}

	pterm.Info.Printfln("Columns: %v", report.Headers)
	if len(report.MissingColumns) > 0 {
		pterm.Warning.Printfln("Missing required columns: %v", report.MissingColumns)
	}
	stats := report.Outcome.Statistics
	pterm.Info.Printfln("Rows: %d total, %d valid, %d invalid, %d duplicate",
		stats.TotalRows, stats.ValidRows, stats.InvalidRows, stats.DuplicateRows)

	if len(report.Outcome.Warnings) > 0 {
		pterm.Warning.Printfln("%d warnings", len(report.Outcome.Warnings))
		if err := renderIssues(report.Outcome.Warnings); err != nil {
			return err
		}
	}
	if !report.Outcome.IsValid() {
		if err := renderIssues(report.Outcome.Errors); err != nil {
			return err
		}
		return errors.Wrapf(core.ErrValidationFailed, "%d errors", len(report.Outcome.Errors))
	}
	pterm.Success.Println("File is valid")
	return nil
}
