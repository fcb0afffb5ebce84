// Package recordcmd provides commands for writing single Salesforce records
// with retry.
package recordcmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/open-cli-collective/salesforce-sync/api/record"
	"github.com/open-cli-collective/salesforce-sync/internal/cmd/root"
)

// Register registers the record command with the root command.
func Register(parent *cobra.Command, opts *root.Options) {
	parent.AddCommand(NewCommand(opts))
}

// NewCommand creates the record command with subcommands.
func NewCommand(opts *root.Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Work with Salesforce records",
		Long: `Get, create, update, upsert and delete Salesforce records.

Writes are retried on network errors, 5xx responses and throttling, up to
retry_attempts times with a linearly growing delay.`,
	}

	cmd.AddCommand(newGetCommand(opts))
	cmd.AddCommand(newCreateCommand(opts))
	cmd.AddCommand(newUpdateCommand(opts))
	cmd.AddCommand(newUpsertCommand(opts))
	cmd.AddCommand(newDeleteCommand(opts))
	cmd.AddCommand(newImportCommand(opts))
	cmd.AddCommand(newStorageCommand(opts))

	return cmd
}

// writeResult is the JSON shape of a single write.
type writeResult struct {
	Object   string `json:"object"`
	ID       string `json:"id,omitempty"`
	Success  bool   `json:"success"`
	Created  *bool  `json:"created,omitempty"`
	Deleted  bool   `json:"deleted,omitempty"`
	Attempts int    `json:"attempts"`
}

// parseSetFlags parses --set flags into a record, keeping flag order.
func parseSetFlags(flags []string) (record.Record, error) {
	var rec record.Record

	for _, flag := range flags {
		parts := strings.SplitN(flag, "=", 2)
		if len(parts) != 2 {
			return record.Record{}, fmt.Errorf("invalid --set format: %q (expected Field=Value)", flag)
		}

		fieldName := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Remove surrounding quotes if present
		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}

		switch strings.ToLower(value) {
		case "true":
			rec.Set(fieldName, true)
		case "false":
			rec.Set(fieldName, false)
		case "null", "":
			rec.Set(fieldName, nil)
		default:
			rec.Set(fieldName, value)
		}
	}

	return rec, nil
}

func requireFields(flags []string) (record.Record, error) {
	rec, err := parseSetFlags(flags)
	if err != nil {
		return record.Record{}, err
	}
	if rec.Len() == 0 {
		return record.Record{}, fmt.Errorf("at least one --set flag is required")
	}
	return rec, nil
}

func retriedNote(attempts int) string {
	if attempts > 1 {
		return fmt.Sprintf(" (after %d attempts)", attempts)
	}
	return ""
}
