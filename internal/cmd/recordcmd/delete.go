package recordcmd

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/open-cli-collective/salesforce-sync/internal/cmd/root"
)

func newDeleteCommand(opts *root.Options) *cobra.Command {
	var confirm bool

	cmd := &cobra.Command{
		Use:   "delete <object> <id>",
		Short: "Delete a record",
		Long: `Delete a Salesforce record.

Examples:
  sfsync record delete Account 001xx000003DGbYAAW --confirm
  sfsync record delete Contact 003xx000001abcd`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDelete(cmd.Context(), opts, args[0], args[1], confirm)
		},
	}

	cmd.Flags().BoolVar(&confirm, "confirm", false, "Skip confirmation prompt")

	return cmd
}

func runDelete(ctx context.Context, opts *root.Options, objectName, recordID string, confirm bool) error {
	v := opts.View()

	if !confirm {
		v.Print("Delete %s record %s? [y/N]: ", objectName, recordID)
		response, err := bufio.NewReader(opts.Stdin).ReadString('\n')
		if err != nil && response == "" {
			return fmt.Errorf("failed to read input: %w", err)
		}
		response = strings.TrimSpace(strings.ToLower(response))
		if response != "y" && response != "yes" {
			v.Info("Cancelled")
			return nil
		}
	}

	svc, err := opts.RecordService(ctx)
	if err != nil {
		return err
	}

	attempts, err := svc.DeleteByID(ctx, objectName, recordID)
	if err != nil {
		return err
	}

	if opts.Output == "json" {
		return v.JSON(writeResult{Object: objectName, ID: recordID, Success: true, Deleted: true, Attempts: attempts})
	}

	v.Success("Deleted %s record: %s%s", objectName, recordID, retriedNote(attempts))
	return nil
}
