package bulkcmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/open-cli-collective/salesforce-sync/api/bulk"
	"github.com/open-cli-collective/salesforce-sync/internal/cmd/root"
	"github.com/open-cli-collective/salesforce-sync/internal/store"
)

func newExportCommand(opts *root.Options) *cobra.Command {
	var (
		outputFile string
		all        bool
		wait       bool
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "export <soql>",
		Short: "Export data using a bulk query",
		Long: `Export data from Salesforce using a Bulk API 2.0 query.

Without --wait the job id is printed and results can be fetched later with
'sfsync bulk job results <id> --query'. With --wait the command polls until
the job finishes and writes every result page. The output file format follows
its extension (.csv, .json, .xml); without a file CSV goes to stdout.

Examples:
  sfsync bulk export "SELECT Id, Name, Industry FROM Account"
  sfsync bulk export "SELECT Id, Name FROM Account" --wait --output-file accounts.csv
  sfsync bulk export "SELECT Id FROM Contact" --all --wait -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd.Context(), opts, args[0], outputFile, all, wait, timeout)
		},
	}

	cmd.Flags().StringVar(&outputFile, "output-file", "", "Output file path (prints to stdout if not specified)")
	cmd.Flags().BoolVar(&all, "all", false, "Include deleted and archived records (queryAll)")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for the query and download its results")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Maximum time to wait with --wait (default 10m)")

	return cmd
}

func runExport(ctx context.Context, opts *root.Options, soql, outputFile string, all, wait bool, timeout time.Duration) error {
	co, err := opts.Coordinator(ctx)
	if err != nil {
		return fmt.Errorf("failed to create bulk client: %w", err)
	}

	op := bulk.OperationQuery
	if all {
		op = bulk.OperationQueryAll
	}

	v := opts.View()

	v.Info("Creating bulk query job...")
	jobID, err := co.SubmitQuery(ctx, soql, op)
	if err != nil {
		return err
	}

	v.Info("Job created: %s", jobID)
	recordJob(ctx, opts, store.Job{
		ID:        jobID,
		Operation: string(op),
		Kind:      store.KindQuery,
		State:     string(bulk.StateUploadComplete),
	})

	if !wait {
		v.Info("Use 'sfsync bulk job results %s --query' once the job completes.", jobID)
		return nil
	}

	v.Info("Waiting for query to complete...")
	status, err := co.Wait(ctx, jobID, true, pollConfig(timeout))
	refreshJob(ctx, opts, status)
	if err != nil {
		return fmt.Errorf("failed waiting for query job: %w", err)
	}

	if status.State != bulk.StateJobComplete {
		if status.ErrorMessage != "" {
			return fmt.Errorf("query job %s ended in state %s: %s", jobID, status.State, status.ErrorMessage)
		}
		return fmt.Errorf("query job %s ended in state %s", jobID, status.State)
	}

	v.Info("Query completed. Records: %d", status.NumberRecordsProcessed)

	v.Info("Downloading results...")
	rs, err := co.Results(ctx, jobID, true)
	if err != nil {
		return err
	}

	return writeRecords(opts, rs.Records, outputFile)
}
