// Package limitscmd provides the limits command, which reports the org
// quotas that bulk jobs and record writes draw on.
package limitscmd

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"github.com/spf13/cobra"

	"github.com/open-cli-collective/salesforce-sync/api"
	"github.com/open-cli-collective/salesforce-sync/internal/cmd/root"
)

// SyncLimits are shown by default.
var SyncLimits = []string{
	"DataStorageMB",
	"DailyApiRequests",
	"DailyBulkV2QueryJobs",
	"DailyBulkV2QueryFileStorageMB",
	"DailyBulkApiBatches",
}

// lowStorageRatio is the remaining share of DataStorageMB below which a
// warning is printed.
const lowStorageRatio = 0.05

// Register registers the limits command with the root command.
func Register(parent *cobra.Command, opts *root.Options) {
	parent.AddCommand(NewCommand(opts))
}

// NewCommand creates the limits command.
func NewCommand(opts *root.Options) *cobra.Command {
	var (
		show string
		all  bool
	)

	cmd := &cobra.Command{
		Use:   "limits",
		Short: "Show org storage and bulk quotas",
		Long: `Show the org limits that sync work consumes: data storage, daily API
requests and Bulk API 2.0 quotas. Use --all for every limit the org reports.

Examples:
  sfsync limits
  sfsync limits --all -o json
  sfsync limits --show DataStorageMB`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLimits(cmd.Context(), opts, show, all)
		},
	}

	cmd.Flags().StringVar(&show, "show", "", "Show only a specific limit by name")
	cmd.Flags().BoolVar(&all, "all", false, "Show every limit, not just the sync-related ones")

	return cmd
}

func runLimits(ctx context.Context, opts *root.Options, show string, all bool) error {
	client, err := opts.APIClient(ctx)
	if err != nil {
		return fmt.Errorf("failed to create API client: %w", err)
	}

	limits, err := client.GetLimits(ctx)
	if err != nil {
		return fmt.Errorf("failed to get limits: %w", err)
	}

	if show != "" {
		return renderSingleLimit(opts, limits, show)
	}
	if !all {
		limits = selectLimits(limits, SyncLimits)
	}
	return renderLimits(opts, limits)
}

// selectLimits keeps the named limits the org reports.
func selectLimits(limits api.Limits, names []string) api.Limits {
	out := make(api.Limits, len(names))
	for name, l := range limits {
		if slices.Contains(names, name) {
			out[name] = l
		}
	}
	return out
}

func usage(l api.LimitInfo) float64 {
	if l.Max <= 0 {
		return 0
	}
	return float64(l.Used()) / float64(l.Max) * 100
}

func renderSingleLimit(opts *root.Options, limits api.Limits, name string) error {
	v := opts.View()

	limit, ok := limits[name]
	if !ok {
		return fmt.Errorf("limit %q not found", name)
	}

	if opts.Output == "json" {
		return v.JSON(map[string]interface{}{
			"name":      name,
			"max":       limit.Max,
			"remaining": limit.Remaining,
			"used":      limit.Used(),
		})
	}

	v.Info("%s", name)
	v.Info("  Max:       %d", limit.Max)
	v.Info("  Remaining: %d", limit.Remaining)
	v.Info("  Used:      %d (%.1f%%)", limit.Used(), usage(limit))
	return nil
}

func renderLimits(opts *root.Options, limits api.Limits) error {
	v := opts.View()

	if opts.Output == "json" {
		return v.JSON(limits)
	}

	names := make([]string, 0, len(limits))
	for name := range limits {
		names = append(names, name)
	}
	sort.Strings(names)

	headers := []string{"Limit", "Max", "Remaining", "Used", "Usage %"}
	rows := make([][]string, 0, len(names))
	for _, name := range names {
		limit := limits[name]
		rows = append(rows, []string{
			name,
			fmt.Sprintf("%d", limit.Max),
			fmt.Sprintf("%d", limit.Remaining),
			fmt.Sprintf("%d", limit.Used()),
			fmt.Sprintf("%.1f%%", usage(limit)),
		})
	}

	if err := v.Table(headers, rows); err != nil {
		return err
	}

	if ds, ok := limits["DataStorageMB"]; ok && ds.Max > 0 && float64(ds.Remaining) < float64(ds.Max)*lowStorageRatio {
		v.Warning("Data storage is nearly full (%d MB left); inserts may fail with STORAGE_LIMIT_EXCEEDED", ds.Remaining)
	}
	return nil
}
