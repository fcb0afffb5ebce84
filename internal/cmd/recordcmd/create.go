package recordcmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/open-cli-collective/salesforce-sync/api/record"
	"github.com/open-cli-collective/salesforce-sync/internal/cmd/root"
)

func newCreateCommand(opts *root.Options) *cobra.Command {
	var setFlags []string

	cmd := &cobra.Command{
		Use:   "create <object>",
		Short: "Create a new record",
		Long: `Create a new Salesforce record.

Examples:
  sfsync record create Account --set Name="Acme Corp"
  sfsync record create Contact --set FirstName=John --set LastName=Doe --set Email=john@example.com
  sfsync record create Account --set Name="Test" -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := requireFields(setFlags)
			if err != nil {
				return err
			}
			return runCreate(cmd.Context(), opts, args[0], rec)
		},
	}

	cmd.Flags().StringArrayVar(&setFlags, "set", nil, "Set field value (format: Field=Value)")

	return cmd
}

func runCreate(ctx context.Context, opts *root.Options, objectName string, rec record.Record) error {
	svc, err := opts.RecordService(ctx)
	if err != nil {
		return err
	}

	result, attempts, err := svc.InsertWithRetry(ctx, objectName, rec)
	if err != nil {
		return err
	}

	v := opts.View()

	if opts.Output == "json" {
		return v.JSON(writeResult{Object: objectName, ID: result.ID, Success: true, Attempts: attempts})
	}

	v.Success("Created %s record: %s%s", objectName, result.ID, retriedNote(attempts))
	return nil
}
