package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/dyluth/marker/internal/gradebook"
	"github.com/dyluth/marker/internal/printer"
	"github.com/dyluth/marker/internal/timespec"
	"github.com/spf13/cobra"
)

var (
	exportFormat   string
	exportPeriod   int
	exportReviewer string
	exportStatus   string
	exportUpload   bool
	exportSince    string
	exportUntil    string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the gradebook",
	Long: `Export every participant's submissions, one record per participant and period.

Formats:
  table  Compact table with truncated comments and verdicts (default)
  csv    One spreadsheet row per record
  jsonl  Complete records as line-delimited JSON

Filters combine with AND. --reviewer accepts a glob on the reviewer handle.
--since and --until bound the submission time and accept durations ("36h",
"7d"), dates ("2024-10-29") or RFC3339 timestamps; records without a
submission are left out when either is set.

Examples:
  marker export
  marker export --format csv > gradebook.csv
  marker export --period 3 --status pending
  marker export --reviewer '@r*' --format jsonl
  marker export --since 7d --status pending
  marker export --format csv --upload`,
	Args: cobra.NoArgs,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "table", "Output format: table, csv or jsonl")
	exportCmd.Flags().IntVarP(&exportPeriod, "period", "p", 0, "Only this period")
	exportCmd.Flags().StringVarP(&exportReviewer, "reviewer", "r", "", "Only reviewers matching this glob")
	exportCmd.Flags().StringVar(&exportStatus, "status", "", "Only this status: missing, pending or reviewed")
	exportCmd.Flags().StringVar(&exportSince, "since", "", "Only submissions at or after this time")
	exportCmd.Flags().StringVar(&exportUntil, "until", "", "Only submissions before this time")
	exportCmd.Flags().BoolVar(&exportUpload, "upload", false, "Store the export in the artifact store instead of printing it")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	format, err := gradebook.ParseFormat(exportFormat)
	if err != nil {
		return printer.Error("invalid format", err.Error(), nil)
	}
	filter, err := exportFilter()
	if err != nil {
		return err
	}

	ctx := context.Background()
	cfg, client, err := connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	if !exportUpload {
		_, err := gradebook.Export(ctx, client, filter, format, cmd.OutOrStdout())
		return err
	}

	store, err := cfg.OpenArtifacts(ctx)
	if err != nil {
		return printer.Error("artifact store unavailable", err.Error(), []string{"Check the artifacts section of the config"})
	}
	ref, n, err := gradebook.Upload(ctx, client, filter, format, store, time.Now())
	if err != nil {
		return err
	}
	printer.Success("Uploaded %d records to %s\n", n, ref)
	return nil
}

func exportFilter() (gradebook.Filter, error) {
	filter := gradebook.Filter{Period: exportPeriod, ReviewerGlob: exportReviewer}
	if exportPeriod < 0 {
		return filter, printer.Error("invalid period", fmt.Sprintf("--period must be positive, got %d", exportPeriod), nil)
	}
	window, err := timespec.ParseRange(exportSince, exportUntil, time.Now())
	if err != nil {
		return filter, printer.Error("invalid time range", err.Error(), nil)
	}
	filter.Submitted = window
	switch s := gradebook.Status(exportStatus); s {
	case "", gradebook.StatusMissing, gradebook.StatusPending, gradebook.StatusReviewed:
		filter.Status = s
	default:
		return filter, printer.Error("invalid status",
			fmt.Sprintf("%q is not a status", exportStatus),
			[]string{"Use one of: missing, pending, reviewed"})
	}
	return filter, nil
}
