package recordcmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/open-cli-collective/salesforce-sync/api/record"
	"github.com/open-cli-collective/salesforce-sync/internal/cmd/root"
)

func newUpsertCommand(opts *root.Options) *cobra.Command {
	var setFlags []string

	cmd := &cobra.Command{
		Use:   "upsert <object> <external-id-field> <value>",
		Short: "Create or update a record by external ID",
		Long: `Create or update a Salesforce record matched on an external ID field.

The external ID field itself is taken from the arguments and dropped from
the --set values.

Examples:
  sfsync record upsert Account External_Id__c ACME-1 --set Name="Acme Corp"
  sfsync record upsert Contact Email jane@example.com --set LastName=Doe -o json`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := requireFields(setFlags)
			if err != nil {
				return err
			}
			return runUpsert(cmd.Context(), opts, args[0], args[1], args[2], rec)
		},
	}

	cmd.Flags().StringArrayVar(&setFlags, "set", nil, "Set field value (format: Field=Value)")

	return cmd
}

func runUpsert(ctx context.Context, opts *root.Options, objectName, field, value string, rec record.Record) error {
	svc, err := opts.RecordService(ctx)
	if err != nil {
		return err
	}

	result, attempts, err := svc.UpsertByExternalID(ctx, objectName, field, value, rec)
	if err != nil {
		return err
	}

	v := opts.View()

	if opts.Output == "json" {
		created := result.Created
		return v.JSON(writeResult{Object: objectName, ID: result.ID, Success: true, Created: &created, Attempts: attempts})
	}

	if result.Created {
		v.Success("Created %s record: %s%s", objectName, result.ID, retriedNote(attempts))
	} else {
		v.Success("Updated %s record %s=%s%s", objectName, field, value, retriedNote(attempts))
	}
	return nil
}
