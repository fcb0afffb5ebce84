package recordcmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/open-cli-collective/salesforce-sync/api/record"
	"github.com/open-cli-collective/salesforce-sync/api/records"
	"github.com/open-cli-collective/salesforce-sync/internal/cmd/root"
)

// importSummary is the JSON shape of a record import.
type importSummary struct {
	BatchID  string                 `json:"batch_id"`
	Total    int                    `json:"total"`
	Inserted []records.Inserted     `json:"inserted"`
	Failed   []records.FailedRecord `json:"failed"`
	Report   string                 `json:"report,omitempty"`
}

func newImportCommand(opts *root.Options) *cobra.Command {
	var (
		file      string
		reportDir string
	)

	cmd := &cobra.Command{
		Use:   "import <object>",
		Short: "Insert records one at a time from a file",
		Long: `Insert records from a CSV, JSON or XML file through the REST API, one
record at a time in chunks of batch_size.

A storage probe runs first; if it fails nothing is written. Records that
cannot be created are written to a failed_records_<timestamp>.csv report and
saved to the local ledger under the batch id. Use 'sfsync bulk import' for
large files.

Examples:
  sfsync record import Account --file accounts.csv
  sfsync record import Contact --file contacts.json --report-dir ./failures`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd.Context(), opts, args[0], file, reportDir)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Path to CSV, JSON or XML file (required)")
	cmd.Flags().StringVar(&reportDir, "report-dir", ".", "Directory for the failure report")

	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func runImport(ctx context.Context, opts *root.Options, objectName, file, reportDir string) error {
	recs, err := record.ReadFile(file)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	if len(recs) == 0 {
		return fmt.Errorf("no records found in %s", file)
	}

	svc, err := opts.RecordService(ctx)
	if err != nil {
		return err
	}

	v := opts.View()
	batchID := uuid.NewString()

	if opts.Output != "json" {
		v.Info("Inserting %d %s record(s)...", len(recs), objectName)
	}
	inserted, failed := svc.BatchInsert(ctx, objectName, recs)

	summary := importSummary{
		BatchID:  batchID,
		Total:    len(recs),
		Inserted: inserted,
		Failed:   failed,
	}
	if summary.Inserted == nil {
		summary.Inserted = []records.Inserted{}
	}
	if summary.Failed == nil {
		summary.Failed = []records.FailedRecord{}
	}

	if len(failed) > 0 {
		summary.Report, err = writeReport(reportDir, failed)
		if err != nil {
			v.Warning("failure report not written: %v", err)
		}
		saveFailures(ctx, opts, batchID, objectName, failed)
	}

	if opts.Output == "json" {
		if err := v.JSON(summary); err != nil {
			return err
		}
	} else {
		v.Info("Inserted %d of %d record(s)", len(inserted), len(recs))
		if summary.Report != "" {
			v.Info("Failed records written to %s", summary.Report)
		}
	}

	if len(failed) > 0 {
		return fmt.Errorf("%d record(s) failed (batch %s)", len(failed), batchID)
	}
	return nil
}

func writeReport(dir string, failed []records.FailedRecord) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}

	path := filepath.Join(dir, records.FailureReportName(time.Now()))
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := records.WriteFailureReport(f, failed); err != nil {
		f.Close()
		return "", err
	}
	return path, f.Close()
}

// saveFailures stores failed records in the ledger. It runs even if ctx was
// cancelled mid-batch.
func saveFailures(ctx context.Context, opts *root.Options, batchID, objectName string, failed []records.FailedRecord) {
	ledger, err := opts.Ledger()
	if err != nil {
		opts.View().Warning("failed records not saved to ledger: %v", err)
		return
	}
	defer ledger.Close()

	if err := ledger.SaveFailures(context.WithoutCancel(ctx), batchID, objectName, failed); err != nil {
		opts.View().Warning("failed records not saved to ledger: %v", err)
	}
}
