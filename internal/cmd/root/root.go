// Package root provides the root command and global options.
package root

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/open-cli-collective/salesforce-sync/api"
	"github.com/open-cli-collective/salesforce-sync/api/bulk"
	"github.com/open-cli-collective/salesforce-sync/api/records"
	"github.com/open-cli-collective/salesforce-sync/internal/auth"
	"github.com/open-cli-collective/salesforce-sync/internal/config"
	"github.com/open-cli-collective/salesforce-sync/internal/logging"
	"github.com/open-cli-collective/salesforce-sync/internal/store"
	"github.com/open-cli-collective/salesforce-sync/internal/version"
	"github.com/open-cli-collective/salesforce-sync/internal/view"
)

// Options contains global options for commands
type Options struct {
	Output     string
	NoColor    bool
	Verbose    bool
	APIVersion string
	ConfigPath string
	Stdin      io.Reader
	Stdout     io.Writer
	Stderr     io.Writer

	cfg       *config.Config
	logger    *slog.Logger
	authority *auth.Authority

	// testClient is used for testing; if set, APIClient() returns this instead
	testClient *api.Client
	// testBulkClient is used for testing; if set, BulkClient() returns this instead
	testBulkClient *bulk.Client
}

// View returns a configured View instance
func (o *Options) View() *view.View {
	v := view.NewWithFormat(o.Output, o.NoColor)
	v.Out = o.Stdout
	v.Err = o.Stderr
	return v
}

// Config loads the configuration once, applies --api-version and fills in
// defaults.
func (o *Options) Config() (*config.Config, error) {
	if o.cfg != nil {
		return o.cfg, nil
	}

	cfg, err := config.LoadFrom(o.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if o.APIVersion != "" {
		cfg.APIVersion = o.APIVersion
	}

	o.cfg = cfg.Resolved()
	return o.cfg, nil
}

// Logger returns the command logger. It writes to stderr at the configured
// level, or debug with --verbose.
func (o *Options) Logger() *slog.Logger {
	if o.logger != nil {
		return o.logger
	}

	level, format := config.DefaultLogLevel, config.DefaultLogFormat
	if cfg, err := o.Config(); err == nil {
		level, format = cfg.LogLevel, cfg.LogFormat
	}
	if o.Verbose {
		level = "debug"
	}

	w := o.Stderr
	if w == nil {
		w = os.Stderr
	}
	o.logger = logging.New(w, level, format)
	return o.logger
}

// Authority returns the shared token authority, building it on first use.
func (o *Options) Authority() (*auth.Authority, error) {
	if o.authority != nil {
		return o.authority, nil
	}

	cfg, err := o.Config()
	if err != nil {
		return nil, err
	}

	a, err := auth.NewFromConfig(cfg, o.Logger())
	if err != nil {
		return nil, err
	}
	o.authority = a
	return a, nil
}

// session authenticates and returns the instance URL with an authorizing
// client that uses the given timeout.
func (o *Options) session(ctx context.Context, timeout time.Duration) (string, *http.Client, error) {
	a, err := o.Authority()
	if err != nil {
		return "", nil, err
	}

	_, instanceURL, err := a.AuthDetails(ctx)
	if err != nil {
		return "", nil, err
	}
	return instanceURL, a.Client(timeout), nil
}

// APIClient creates a REST API client for the authenticated instance
func (o *Options) APIClient(ctx context.Context) (*api.Client, error) {
	if o.testClient != nil {
		return o.testClient, nil
	}

	cfg, err := o.Config()
	if err != nil {
		return nil, err
	}

	instanceURL, httpClient, err := o.session(ctx, time.Duration(cfg.HTTPTimeout))
	if err != nil {
		return nil, err
	}

	return api.New(api.ClientConfig{
		InstanceURL: instanceURL,
		HTTPClient:  httpClient,
		APIVersion:  cfg.APIVersion,
		Logger:      o.Logger(),
	})
}

// SetAPIClient sets a test client (for testing only)
func (o *Options) SetAPIClient(client *api.Client) {
	o.testClient = client
}

// BulkClient creates a Bulk API 2.0 client. Uploads and result downloads use
// the longer bulk timeout.
func (o *Options) BulkClient(ctx context.Context) (*bulk.Client, error) {
	if o.testBulkClient != nil {
		return o.testBulkClient, nil
	}

	cfg, err := o.Config()
	if err != nil {
		return nil, err
	}

	instanceURL, httpClient, err := o.session(ctx, time.Duration(cfg.BulkTimeout))
	if err != nil {
		return nil, err
	}

	return bulk.New(bulk.ClientConfig{
		InstanceURL: instanceURL,
		HTTPClient:  httpClient,
		APIVersion:  cfg.APIVersion,
	})
}

// SetBulkClient sets a test bulk client (for testing only)
func (o *Options) SetBulkClient(client *bulk.Client) {
	o.testBulkClient = client
}

// Coordinator returns a bulk job coordinator over BulkClient.
func (o *Options) Coordinator(ctx context.Context) (*bulk.Coordinator, error) {
	client, err := o.BulkClient(ctx)
	if err != nil {
		return nil, err
	}
	return bulk.NewCoordinator(client, o.Logger()), nil
}

// RecordService returns the retrying record service over APIClient, tuned
// from config.
func (o *Options) RecordService(ctx context.Context) (*records.Service, error) {
	cfg, err := o.Config()
	if err != nil {
		return nil, err
	}

	client, err := o.APIClient(ctx)
	if err != nil {
		return nil, err
	}

	return records.New(client, records.Options{
		MaxAttempts: cfg.RetryAttempts,
		BaseDelay:   time.Duration(cfg.RetryDelay),
		ChunkSize:   cfg.BatchSize,
		ChunkPause:  time.Duration(cfg.ChunkPause),
		Logger:      o.Logger(),
	}), nil
}

// Ledger opens the local job ledger. The caller closes it.
func (o *Options) Ledger() (*store.SQLite, error) {
	cfg, err := o.Config()
	if err != nil {
		return nil, err
	}

	ledger, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	return ledger, nil
}

// NewCmd creates the root command and returns the options struct
func NewCmd() (*cobra.Command, *Options) {
	opts := &Options{
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}

	cmd := &cobra.Command{
		Use:   "sfsync",
		Short: "Move data in and out of Salesforce",
		Long: `sfsync moves records between files and Salesforce.

It runs Bulk API 2.0 ingest and query jobs, writes single records with
bounded retry, and can serve the same operations over HTTP.
Run 'sfsync init' to set up authentication.`,
		Version:       version.Info(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return view.ValidateFormat(opts.Output)
		},
	}

	// Global flags - bound to opts struct
	cmd.PersistentFlags().StringVarP(&opts.Output, "output", "o", "table", "Output format: table, json, plain")
	cmd.PersistentFlags().BoolVar(&opts.NoColor, "no-color", false, "Disable colored output")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "Enable verbose output")
	cmd.PersistentFlags().StringVar(&opts.APIVersion, "api-version", "", "Salesforce API version (default: v62.0)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "Path to config file (default: ~/.config/salesforce-sync/config.json)")

	return cmd, opts
}

// RegisterCommands registers subcommands with the root command
func RegisterCommands(root *cobra.Command, opts *Options, registrars ...func(*cobra.Command, *Options)) {
	for _, register := range registrars {
		register(root, opts)
	}
}
