package bulkcmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/open-cli-collective/salesforce-sync/api/bulk"
	"github.com/open-cli-collective/salesforce-sync/api/record"
	"github.com/open-cli-collective/salesforce-sync/internal/cmd/root"
	"github.com/open-cli-collective/salesforce-sync/internal/store"
)

type importOptions struct {
	file       string
	operation  string
	externalID string
	fieldOrder []string
	wait       bool
	timeout    time.Duration
}

func newImportCommand(opts *root.Options) *cobra.Command {
	var flags importOptions

	cmd := &cobra.Command{
		Use:   "import <object>",
		Short: "Import records from a file using Bulk API 2.0",
		Long: `Import records from a CSV, JSON or XML file into Salesforce using Bulk API 2.0.

CSV files need a header row with field names matching the Salesforce object.
JSON files hold an array of objects or {"records": [...]}. XML files hold
<record> elements whose children are the fields.

Operations:
  insert      - Create new records
  update      - Update existing records (requires Id column)
  upsert      - Insert or update based on external ID field
  delete      - Delete records (requires Id column)
  hardDelete  - Delete records without using the recycle bin

Examples:
  sfsync bulk import Account --file accounts.csv --operation insert
  sfsync bulk import Contact --file contacts.json --operation upsert --external-id Email
  sfsync bulk import Account --file accounts.csv --operation update --wait
  sfsync bulk import Account --file accounts.xml --field-order Name,Industry`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd.Context(), opts, args[0], flags)
		},
	}

	cmd.Flags().StringVarP(&flags.file, "file", "f", "", "Path to CSV, JSON or XML file (required)")
	cmd.Flags().StringVar(&flags.operation, "operation", "insert", "Operation: insert, update, upsert, delete, hardDelete")
	cmd.Flags().StringVar(&flags.externalID, "external-id", "", "External ID field for upsert operation")
	cmd.Flags().StringSliceVar(&flags.fieldOrder, "field-order", nil, "Comma-separated CSV column order")
	cmd.Flags().BoolVar(&flags.wait, "wait", false, "Wait for job to complete")
	cmd.Flags().DurationVar(&flags.timeout, "timeout", 0, "Maximum time to wait with --wait (default 10m)")

	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func runImport(ctx context.Context, opts *root.Options, object string, flags importOptions) error {
	op, err := bulk.ParseOperation(flags.operation)
	if err != nil || !op.IsIngest() {
		return fmt.Errorf("invalid operation: %s (must be insert, update, upsert, delete, or hardDelete)", flags.operation)
	}

	// Upsert requires external ID
	if op == bulk.OperationUpsert && strings.TrimSpace(flags.externalID) == "" {
		return fmt.Errorf("--external-id is required for upsert operation")
	}

	recs, err := record.ReadFile(flags.file)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	if len(recs) == 0 {
		return fmt.Errorf("no records found in %s", flags.file)
	}

	co, err := opts.Coordinator(ctx)
	if err != nil {
		return fmt.Errorf("failed to create bulk client: %w", err)
	}

	v := opts.View()

	v.Info("Creating bulk %s job for %s with %d record(s)...", op, object, len(recs))
	jobID, err := co.SubmitIngest(ctx, bulk.IngestRequest{
		Object:          object,
		Operation:       op,
		Records:         recs,
		ExternalIDField: flags.externalID,
		FieldOrder:      flags.fieldOrder,
	})
	if err != nil {
		return err
	}

	v.Info("Job created: %s", jobID)
	recordJob(ctx, opts, store.Job{
		ID:        jobID,
		Object:    object,
		Operation: string(op),
		Kind:      store.KindIngest,
		State:     string(bulk.StateUploadComplete),
	})

	if !flags.wait {
		v.Info("Job %s is processing. Use 'sfsync bulk job status %s' to check progress.", jobID, jobID)
		return nil
	}

	v.Info("Waiting for job to complete...")
	status, err := co.Wait(ctx, jobID, false, pollConfig(flags.timeout))
	refreshJob(ctx, opts, status)
	if err != nil {
		return fmt.Errorf("failed waiting for job: %w", err)
	}

	v.Info("Job finished:")
	return renderStatus(opts, status)
}
