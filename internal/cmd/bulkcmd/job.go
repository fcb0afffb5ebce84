package bulkcmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/open-cli-collective/salesforce-sync/internal/cmd/root"
	"github.com/open-cli-collective/salesforce-sync/internal/store"
)

func newJobCommand(opts *root.Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Manage bulk jobs",
		Long: `Manage Salesforce Bulk API 2.0 jobs.

Pass --query for query jobs; ingest jobs are the default.

Examples:
  sfsync bulk job list
  sfsync bulk job list --remote --query
  sfsync bulk job status 750xx000000001
  sfsync bulk job results 750xx000000001
  sfsync bulk job errors 750xx000000001
  sfsync bulk job unprocessed 750xx000000001
  sfsync bulk job abort 750xx000000001 --query
  sfsync bulk job delete 750xx000000001`,
	}

	cmd.AddCommand(newJobListCommand(opts))
	cmd.AddCommand(newJobStatusCommand(opts))
	cmd.AddCommand(newJobResultsCommand(opts))
	cmd.AddCommand(newJobErrorsCommand(opts))
	cmd.AddCommand(newJobUnprocessedCommand(opts))
	cmd.AddCommand(newJobAbortCommand(opts))
	cmd.AddCommand(newJobDeleteCommand(opts))

	return cmd
}

func newJobListCommand(opts *root.Options) *cobra.Command {
	var (
		remote bool
		query  bool
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List bulk jobs",
		Long: `List bulk jobs from the local ledger, or from Salesforce with --remote.

Examples:
  sfsync bulk job list
  sfsync bulk job list --limit 100
  sfsync bulk job list --remote
  sfsync bulk job list --remote --query -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if remote {
				return runRemoteJobList(cmd.Context(), opts, query)
			}
			return runJobList(cmd.Context(), opts, limit)
		},
	}

	cmd.Flags().BoolVar(&remote, "remote", false, "List jobs from Salesforce instead of the ledger")
	cmd.Flags().BoolVar(&query, "query", false, "With --remote, list query jobs")
	cmd.Flags().IntVar(&limit, "limit", store.DefaultListLimit, "Maximum number of ledger entries")

	return cmd
}

func runJobList(ctx context.Context, opts *root.Options, limit int) error {
	ledger, err := opts.Ledger()
	if err != nil {
		return err
	}
	defer ledger.Close()

	jobs, err := ledger.ListJobs(ctx, limit)
	if err != nil {
		return err
	}

	v := opts.View()

	if len(jobs) == 0 {
		v.Info("No bulk jobs found")
		return nil
	}

	if opts.Output == "json" {
		return v.JSON(jobs)
	}

	headers := []string{"ID", "Kind", "Object", "Operation", "State", "Processed", "Failed", "Updated"}
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		rows = append(rows, []string{
			job.ID,
			string(job.Kind),
			job.Object,
			job.Operation,
			v.State(job.State),
			fmt.Sprintf("%d", job.RecordsProcessed),
			fmt.Sprintf("%d", job.RecordsFailed),
			job.UpdatedAt.Local().Format(time.DateTime),
		})
	}

	if err := v.Table(headers, rows); err != nil {
		return err
	}

	v.Info("\n%d job(s)", len(jobs))
	return nil
}

func runRemoteJobList(ctx context.Context, opts *root.Options, query bool) error {
	client, err := opts.BulkClient(ctx)
	if err != nil {
		return fmt.Errorf("failed to create bulk client: %w", err)
	}

	v := opts.View()

	var (
		data any
		rows [][]string
	)
	if query {
		resp, err := client.ListQueryJobs(ctx)
		if err != nil {
			return fmt.Errorf("failed to list query jobs: %w", err)
		}
		data = resp
		for _, job := range resp.Records {
			rows = append(rows, []string{job.ID, job.Object, string(job.Operation), v.State(string(job.State)), fmt.Sprintf("%d", job.NumberRecordsProcessed), ""})
		}
	} else {
		resp, err := client.ListJobs(ctx)
		if err != nil {
			return fmt.Errorf("failed to list jobs: %w", err)
		}
		data = resp
		for _, job := range resp.Records {
			rows = append(rows, []string{job.ID, job.Object, string(job.Operation), v.State(string(job.State)), fmt.Sprintf("%d", job.NumberRecordsProcessed), fmt.Sprintf("%d", job.NumberRecordsFailed)})
		}
	}

	if len(rows) == 0 {
		v.Info("No bulk jobs found")
		return nil
	}

	if opts.Output == "json" {
		return v.JSON(data)
	}

	headers := []string{"ID", "Object", "Operation", "State", "Processed", "Failed"}
	if err := v.Table(headers, rows); err != nil {
		return err
	}

	v.Info("\n%d job(s)", len(rows))
	return nil
}

func newJobStatusCommand(opts *root.Options) *cobra.Command {
	var query bool

	cmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Get bulk job status",
		Long: `Get the status of a bulk job and refresh its ledger entry.

Examples:
  sfsync bulk job status 750xx000000001
  sfsync bulk job status 750xx000000002 --query -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobStatus(cmd.Context(), opts, args[0], query)
		},
	}

	cmd.Flags().BoolVar(&query, "query", false, "The job is a query job")

	return cmd
}

func runJobStatus(ctx context.Context, opts *root.Options, jobID string, query bool) error {
	co, err := opts.Coordinator(ctx)
	if err != nil {
		return fmt.Errorf("failed to create bulk client: %w", err)
	}

	status, err := co.Status(ctx, jobID, query)
	if err != nil {
		return err
	}

	refreshJob(ctx, opts, status)
	return renderStatus(opts, status)
}

func newJobResultsCommand(opts *root.Options) *cobra.Command {
	var (
		output string
		query  bool
	)

	cmd := &cobra.Command{
		Use:   "results <job-id>",
		Short: "Get results from a completed bulk job",
		Long: `Get the results of a completed bulk job.

For ingest jobs these are the successfully processed records; -o json prints
all three partitions (successful, failed and unprocessed). For query jobs
these are every record across all result pages.

Examples:
  sfsync bulk job results 750xx000000001
  sfsync bulk job results 750xx000000002 --query --output-file accounts.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobResults(cmd.Context(), opts, args[0], output, query)
		},
	}

	cmd.Flags().StringVar(&output, "output-file", "", "Output file path")
	cmd.Flags().BoolVar(&query, "query", false, "The job is a query job")

	return cmd
}

func runJobResults(ctx context.Context, opts *root.Options, jobID, output string, query bool) error {
	co, err := opts.Coordinator(ctx)
	if err != nil {
		return fmt.Errorf("failed to create bulk client: %w", err)
	}

	rs, err := co.Results(ctx, jobID, query)
	if err != nil {
		return err
	}

	if query {
		return writeRecords(opts, rs.Records, output)
	}
	if opts.Output == "json" && output == "" {
		return opts.View().JSON(rs)
	}
	return writeRecords(opts, rs.Successful, output)
}

func newJobErrorsCommand(opts *root.Options) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "errors <job-id>",
		Short: "Get failed records from a bulk job",
		Long: `Get the failed records from a bulk ingest job as CSV, including the
sf__Error column Salesforce adds.

Examples:
  sfsync bulk job errors 750xx000000001
  sfsync bulk job errors 750xx000000001 --output-file errors.csv`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRawPartition(cmd.Context(), opts, args[0], output, "failed")
		},
	}

	cmd.Flags().StringVar(&output, "output-file", "", "Output file path")

	return cmd
}

func newJobUnprocessedCommand(opts *root.Options) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "unprocessed <job-id>",
		Short: "Get unprocessed records from a bulk job",
		Long: `Get the records a bulk ingest job never processed, for example because
it was aborted or failed.

Examples:
  sfsync bulk job unprocessed 750xx000000001
  sfsync bulk job unprocessed 750xx000000001 --output-file retry.csv`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRawPartition(cmd.Context(), opts, args[0], output, "unprocessed")
		},
	}

	cmd.Flags().StringVar(&output, "output-file", "", "Output file path")

	return cmd
}

func runRawPartition(ctx context.Context, opts *root.Options, jobID, output, partition string) error {
	client, err := opts.BulkClient(ctx)
	if err != nil {
		return fmt.Errorf("failed to create bulk client: %w", err)
	}

	fetch := client.GetFailedResults
	if partition == "unprocessed" {
		fetch = client.GetUnprocessedRecords
	}

	data, err := fetch(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to get %s records: %w", partition, err)
	}

	if output != "" {
		if err := os.WriteFile(output, data, 0644); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
		opts.View().Info("Records written to %s", output)
		return nil
	}

	fmt.Fprint(opts.Stdout, string(data))
	return nil
}

func newJobAbortCommand(opts *root.Options) *cobra.Command {
	var query bool

	cmd := &cobra.Command{
		Use:   "abort <job-id>",
		Short: "Abort a bulk job",
		Long: `Abort a bulk job that has not finished.

Examples:
  sfsync bulk job abort 750xx000000001
  sfsync bulk job abort 750xx000000002 --query`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobAbort(cmd.Context(), opts, args[0], query)
		},
	}

	cmd.Flags().BoolVar(&query, "query", false, "The job is a query job")

	return cmd
}

func runJobAbort(ctx context.Context, opts *root.Options, jobID string, query bool) error {
	co, err := opts.Coordinator(ctx)
	if err != nil {
		return fmt.Errorf("failed to create bulk client: %w", err)
	}

	status, err := co.Abort(ctx, jobID, query)
	if err != nil {
		return err
	}

	refreshJob(ctx, opts, status)

	if opts.Output == "json" {
		return opts.View().JSON(status)
	}
	opts.View().Success("Job %s aborted", status.ID)
	return nil
}


func newJobDeleteCommand(opts *root.Options) *cobra.Command {
	var query bool

	cmd := &cobra.Command{
		Use:   "delete <job-id>",
		Short: "Delete a finished bulk job",
		Long: `Delete a finished bulk job and its results from Salesforce and drop it
from the local ledger.

Examples:
  sfsync bulk job delete 750xx000000001
  sfsync bulk job delete 750xx000000002 --query`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobDelete(cmd.Context(), opts, args[0], query)
		},
	}

	cmd.Flags().BoolVar(&query, "query", false, "The job is a query job")

	return cmd
}

func runJobDelete(ctx context.Context, opts *root.Options, jobID string, query bool) error {
	co, err := opts.Coordinator(ctx)
	if err != nil {
		return fmt.Errorf("failed to create bulk client: %w", err)
	}

	if err := co.Delete(ctx, jobID, query); err != nil {
		return err
	}

	if ledger, err := opts.Ledger(); err == nil {
		if err := ledger.DeleteJob(ctx, jobID); err != nil && !errors.Is(err, store.ErrNotFound) {
			opts.Logger().Debug("failed to drop job from ledger", "job_id", jobID, "error", err)
		}
		_ = ledger.Close()
	}

	opts.View().Success("Job %s deleted", jobID)
	return nil
}
