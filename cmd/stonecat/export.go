package main

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/stonecat/internal/core"
)

var (
	exportFormat    string
	exportOutput    string
	exportDelimiter string
	exportFields    []string
	exportNoHeaders bool
	exportNoMeta    bool
	exportPretty    bool
	exportSave      bool
)

var exportCmd = &cobra.Command{
	Use:   "export <entity-type>",
	Short: "Export every entity of a type to CSV or JSON",
	Long: `Fetch every entity of a type from the catalog and write it to a file.

With --save the file is also written to the configured EXPORT_SINK.

Examples:
  stonecat export products
  stonecat export variants --format json --pretty -o variants.json
  stonecat export products --fields name,basePrice --delimiter semicolon`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

var templateOutput string

var templateCmd = &cobra.Command{
	Use:   "template <entity-type>",
	Short: "Write a CSV template for an entity type",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		blob, err := core.TemplateBlob(args[0])
		if err != nil {
			return err
		}
		if templateOutput == "" || templateOutput == "-" {
			_, err := cmd.OutOrStdout().Write(blob.Data)
			return err
		}
		if err := os.WriteFile(templateOutput, blob.Data, 0o644); err != nil {
			return errors.Wrap(err, "write template")
		}
		pterm.Success.Printfln("Template written to %s", templateOutput)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", "csv", "csv or json")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output file (default: generated name in the current directory)")
	exportCmd.Flags().StringVar(&exportDelimiter, "delimiter", "", "CSV delimiter: comma, semicolon or tab")
	exportCmd.Flags().StringSliceVar(&exportFields, "fields", nil, "CSV columns in order (default: fields of the first record)")
	exportCmd.Flags().BoolVar(&exportNoHeaders, "no-headers", false, "omit the CSV header line")
	exportCmd.Flags().BoolVar(&exportNoMeta, "no-metadata", false, "omit the JSON metadata block")
	exportCmd.Flags().BoolVar(&exportPretty, "pretty", false, "indent JSON output")
	exportCmd.Flags().BoolVar(&exportSave, "save", false, "also write the export to the configured sink")

	templateCmd.Flags().StringVarP(&templateOutput, "output", "o", "", "output file (default: stdout)")
}

func exportRequest(entityType string) (core.ExportRequest, error) {
	req := core.ExportRequest{
		EntityType: entityType,
		Format:     exportFormat,
		CSV:        core.DefaultCSVOptions(),
		JSON:       core.JSONOptions{IncludeMetadata: !exportNoMeta, Pretty: exportPretty},
		Save:       exportSave,
	}
	req.CSV.IncludeHeaders = !exportNoHeaders
	req.CSV.CustomFields = exportFields
	if exportDelimiter != "" {
		d, err := core.ParseDelimiter(exportDelimiter)
		if err != nil {
			return core.ExportRequest{}, err
		}
		req.CSV.Delimiter = d
	}
	return req, nil
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	req, err := exportRequest(args[0])
	if err != nil {
		return err
	}

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	spinner, _ := pterm.DefaultSpinner.Start("Exporting " + req.EntityType)
	res, err := a.Service.Export(ctx, req)
	if err != nil {
		spinner.Fail(core.FormatUserError(err))
		return err
	}

	out := exportOutput
	if out == "" {
		out = res.Blob.Name
	}
	if err := os.WriteFile(out, res.Blob.Data, 0o644); err != nil {
		spinner.Fail("could not write " + out)
		return errors.Wrap(err, "write export")
	}
	spinner.Success(pterm.Sprintf("Exported %d records to %s", res.Records, out))
	if res.Location != "" {
		pterm.Info.Printfln("Saved to %s", res.Location)
	}
	pterm.Info.Printfln("Operation log: %s", res.LogID)
	return nil
}
