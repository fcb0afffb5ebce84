package recordcmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/open-cli-collective/salesforce-sync/api/record"
	"github.com/open-cli-collective/salesforce-sync/internal/cmd/root"
)

func newGetCommand(opts *root.Options) *cobra.Command {
	var fields string

	cmd := &cobra.Command{
		Use:   "get <object> <id>",
		Short: "Get a record by ID",
		Long: `Retrieve a Salesforce record by its ID. Fields print in the order
Salesforce returns them.

Examples:
  sfsync record get Account 001xx000003DGbYAAW
  sfsync record get Contact 003xx000001abcd --fields Name,Email,Phone
  sfsync record get Account 001xx000003DGbYAAW -o json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var fieldList []string
			if fields != "" {
				fieldList = strings.Split(fields, ",")
				for i := range fieldList {
					fieldList[i] = strings.TrimSpace(fieldList[i])
				}
			}
			return runGet(cmd.Context(), opts, args[0], args[1], fieldList)
		},
	}

	cmd.Flags().StringVar(&fields, "fields", "", "Comma-separated list of fields to retrieve")

	return cmd
}

func runGet(ctx context.Context, opts *root.Options, objectName, recordID string, fields []string) error {
	client, err := opts.APIClient(ctx)
	if err != nil {
		return fmt.Errorf("failed to create API client: %w", err)
	}

	rec, err := client.GetRecord(ctx, objectName, recordID, fields)
	if err != nil {
		return fmt.Errorf("failed to get record: %w", err)
	}

	v := opts.View()

	if opts.Output == "json" {
		return v.JSON(rec)
	}

	v.Info("Object: %s", objectName)
	v.Info("ID: %s", recordID)
	v.Info("")

	for _, f := range rec.Fields() {
		if f.Name == "Id" {
			continue
		}
		v.Info("%s: %s", f.Name, formatFieldValue(f.Value))
	}

	v.Info("")
	v.Info("URL: %s", client.RecordURL(recordID))

	return nil
}

// formatFieldValue converts a field value to a string for display
func formatFieldValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "(null)"
	case record.Record:
		if name := val.String("Name"); name != "" {
			return name
		}
		return "[object]"
	default:
		return record.FormatValue(val)
	}
}
