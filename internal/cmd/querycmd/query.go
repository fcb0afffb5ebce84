// Package querycmd provides the query command for small REST exports.
package querycmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/open-cli-collective/salesforce-sync/api"
	"github.com/open-cli-collective/salesforce-sync/api/record"
	"github.com/open-cli-collective/salesforce-sync/internal/cmd/root"
)

// Register registers the query command with the root command.
func Register(parent *cobra.Command, opts *root.Options) {
	parent.AddCommand(NewCommand(opts))
}

// NewCommand creates the query command.
func NewCommand(opts *root.Options) *cobra.Command {
	var (
		all        bool
		noLimit    bool
		outputFile string
	)

	cmd := &cobra.Command{
		Use:   "query <soql>",
		Short: "Run a SOQL query over the REST API",
		Long: `Run a SOQL query through the REST API and print or save the records.
Columns keep the order Salesforce returns them in. For large result sets
use 'sfsync bulk export' instead.

Examples:
  sfsync query "SELECT Id, Name FROM Account LIMIT 10"
  sfsync query "SELECT Id, Name FROM Account" --all
  sfsync query "SELECT Id, Name FROM Contact" --no-limit --output-file contacts.csv`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if outputFile != "" {
				if _, err := record.FormatFromPath(outputFile); err != nil {
					return err
				}
			}
			return runQuery(cmd.Context(), opts, args[0], all, noLimit, outputFile)
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Include deleted and archived records (queryAll)")
	cmd.Flags().BoolVar(&noLimit, "no-limit", false, "Fetch all pages of results")
	cmd.Flags().StringVar(&outputFile, "output-file", "", "Write records to a .csv, .json or .xml file")

	return cmd
}

func runQuery(ctx context.Context, opts *root.Options, soql string, all, noLimit bool, outputFile string) error {
	client, err := opts.APIClient(ctx)
	if err != nil {
		return fmt.Errorf("failed to create API client: %w", err)
	}

	var result *api.QueryResult
	switch {
	case all:
		result, err = client.QueryIncludingDeleted(ctx, soql)
	case noLimit:
		result, err = client.QueryAll(ctx, soql)
	default:
		result, err = client.Query(ctx, soql)
	}
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	if outputFile != "" {
		if err := record.WriteFile(outputFile, result.Records, nil); err != nil {
			return err
		}
		opts.View().Success("Wrote %d record(s) to %s", len(result.Records), outputFile)
		return nil
	}

	return renderQueryResult(opts, result)
}

func renderQueryResult(opts *root.Options, result *api.QueryResult) error {
	v := opts.View()

	if len(result.Records) == 0 {
		v.Info("No records found (totalSize: %d)", result.TotalSize)
		return nil
	}

	if opts.Output == "json" {
		return v.JSON(result)
	}

	if err := v.Records(result.Records); err != nil {
		return err
	}

	if !result.Done {
		v.Info("\nShowing %d of %d records (use --no-limit to fetch all)", len(result.Records), result.TotalSize)
	} else {
		v.Info("\n%d record(s)", result.TotalSize)
	}
	return nil
}
