package recordcmd

import (
	"github.com/spf13/cobra"

	"github.com/open-cli-collective/salesforce-sync/internal/cmd/root"
)

func newStorageCommand(opts *root.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "storage",
		Short: "Check that the org can store new records",
		Long: `Create and delete a throwaway probe record to check for data storage
headroom. Record imports run the same probe before writing anything.

Examples:
  sfsync record storage
  sfsync record storage -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := opts.RecordService(cmd.Context())
			if err != nil {
				return err
			}

			available := svc.CheckStorageHeadroom(cmd.Context())

			v := opts.View()
			if opts.Output == "json" {
				return v.JSON(map[string]bool{"available": available})
			}
			if available {
				v.Success("Storage available")
			} else {
				v.Warning("Storage probe failed; the org may be out of data storage")
			}
			return nil
		},
	}
}
