// Package bulkcmd provides commands for Salesforce Bulk API 2.0 operations.
package bulkcmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/open-cli-collective/salesforce-sync/api/bulk"
	"github.com/open-cli-collective/salesforce-sync/api/record"
	"github.com/open-cli-collective/salesforce-sync/internal/cmd/root"
	"github.com/open-cli-collective/salesforce-sync/internal/store"
)

// Register registers the bulk command with the root command.
func Register(parent *cobra.Command, opts *root.Options) {
	cmd := &cobra.Command{
		Use:   "bulk",
		Short: "Bulk API 2.0 operations for large data import/export",
		Long: `Bulk API 2.0 commands for handling large data operations.

Use bulk operations when working with thousands or millions of records.
For smaller datasets, use the record command instead.

Submitted jobs are recorded in the local job ledger.

Examples:
  sfsync bulk import Account --file accounts.csv --operation insert
  sfsync bulk export "SELECT Id, Name FROM Account" --output-file accounts.csv --wait
  sfsync bulk job list
  sfsync bulk job status 750xx000000001`,
	}

	cmd.AddCommand(newImportCommand(opts))
	cmd.AddCommand(newExportCommand(opts))
	cmd.AddCommand(newJobCommand(opts))

	parent.AddCommand(cmd)
}

// recordJob adds a submitted job to the ledger. A ledger failure is reported
// as a warning; the job already exists in Salesforce.
func recordJob(ctx context.Context, opts *root.Options, job store.Job) {
	ledger, err := opts.Ledger()
	if err != nil {
		opts.View().Warning("job %s not recorded: %v", job.ID, err)
		return
	}
	defer ledger.Close()

	if err := ledger.RecordJob(ctx, job); err != nil {
		opts.View().Warning("job %s not recorded: %v", job.ID, err)
	}
}

// refreshJob brings the ledger row for status up to date.
func refreshJob(ctx context.Context, opts *root.Options, status *bulk.JobStatus) {
	if status == nil {
		return
	}
	ledger, err := opts.Ledger()
	if err != nil {
		opts.Logger().Debug("ledger unavailable", "error", err)
		return
	}
	defer ledger.Close()

	if err := ledger.RecordJob(ctx, store.JobFromStatus(status)); err != nil {
		opts.Logger().Debug("failed to refresh ledger", "job_id", status.ID, "error", err)
	}
}

func renderStatus(opts *root.Options, status *bulk.JobStatus) error {
	v := opts.View()

	if opts.Output == "json" {
		return v.JSON(status)
	}

	v.Info("  ID:                %s", status.ID)
	if status.Object != "" {
		v.Info("  Object:            %s", status.Object)
	}
	v.Info("  Operation:         %s", status.Operation)
	v.Info("  State:             %s", v.State(string(status.State)))
	v.Info("  Records Processed: %d", status.NumberRecordsProcessed)
	if status.Operation.IsIngest() {
		v.Info("  Records Failed:    %d", status.NumberRecordsFailed)
	}
	if status.ErrorMessage != "" {
		v.Info("  Error:             %s", status.ErrorMessage)
	}

	if status.NumberRecordsFailed > 0 {
		v.Info("\nUse 'sfsync bulk job errors %s' to see failed records.", status.ID)
	}

	return nil
}

// writeRecords writes recs to path by extension, or to stdout as CSV, or as
// JSON with -o json.
func writeRecords(opts *root.Options, recs []record.Record, path string) error {
	if path != "" {
		if err := record.WriteFile(path, recs, nil); err != nil {
			return err
		}
		opts.View().Info("%d record(s) written to %s", len(recs), path)
		return nil
	}

	if opts.Output == "json" {
		if recs == nil {
			recs = []record.Record{}
		}
		return opts.View().JSON(recs)
	}
	return record.WriteCSV(opts.Stdout, recs, nil)
}

// pollInterval is how often --wait checks job state.
var pollInterval = bulk.DefaultPollConfig().Interval

func pollConfig(timeout time.Duration) bulk.PollConfig {
	cfg := bulk.DefaultPollConfig()
	cfg.Interval = pollInterval
	if timeout > 0 {
		cfg.Timeout = timeout
	}
	return cfg
}
