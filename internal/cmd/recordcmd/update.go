package recordcmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/open-cli-collective/salesforce-sync/api/record"
	"github.com/open-cli-collective/salesforce-sync/internal/cmd/root"
)

func newUpdateCommand(opts *root.Options) *cobra.Command {
	var setFlags []string

	cmd := &cobra.Command{
		Use:   "update <object> <id>",
		Short: "Update an existing record",
		Long: `Update an existing Salesforce record.

Examples:
  sfsync record update Account 001xx000003DGbYAAW --set Name="New Name"
  sfsync record update Contact 003xx000001abcd --set Phone="555-1234" --set Email=new@example.com`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := requireFields(setFlags)
			if err != nil {
				return err
			}
			return runUpdate(cmd.Context(), opts, args[0], args[1], rec)
		},
	}

	cmd.Flags().StringArrayVar(&setFlags, "set", nil, "Set field value (format: Field=Value)")

	return cmd
}

func runUpdate(ctx context.Context, opts *root.Options, objectName, recordID string, rec record.Record) error {
	svc, err := opts.RecordService(ctx)
	if err != nil {
		return err
	}

	attempts, err := svc.UpdateByID(ctx, objectName, recordID, rec)
	if err != nil {
		return err
	}

	v := opts.View()

	if opts.Output == "json" {
		return v.JSON(writeResult{Object: objectName, ID: recordID, Success: true, Attempts: attempts})
	}

	v.Success("Updated %s record: %s%s", objectName, recordID, retriedNote(attempts))
	return nil
}
