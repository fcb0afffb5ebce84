// Package configcmd provides the config command and subcommands.
package configcmd

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/open-cli-collective/salesforce-sync/internal/auth"
	"github.com/open-cli-collective/salesforce-sync/internal/cmd/root"
	"github.com/open-cli-collective/salesforce-sync/internal/config"
	"github.com/open-cli-collective/salesforce-sync/internal/keychain"
)

// Register registers the config command with the parent command.
func Register(parent *cobra.Command, opts *root.Options) {
	parent.AddCommand(NewCommand(opts))
}

// NewCommand returns the config command with subcommands.
func NewCommand(opts *root.Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long:  "View, test, and manage sfsync configuration and stored credentials.",
	}

	cmd.AddCommand(newShowCommand(opts))
	cmd.AddCommand(newTestCommand(opts))
	cmd.AddCommand(newClearCommand(opts))

	return cmd
}

func newShowCommand(opts *root.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display current configuration",
		Long: `Display the effective configuration after environment overrides and
defaults, and where credentials are stored. Secrets are never printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(opts)
		},
	}
}

func newTestCommand(opts *root.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Verify authentication works",
		Long:  "Request an access token with the configured credentials, then call the REST API with it.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTest(cmd.Context(), opts)
		},
	}
}

func newClearCommand(opts *root.Options) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove stored credentials",
		Long:  "Remove stored secrets and the configuration file. This will require running 'sfsync init' again.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClear(opts, force)
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Skip confirmation prompt")

	return cmd
}

// shownConfig is the JSON shape of 'config show'.
type shownConfig struct {
	LoginURL      string   `json:"login_url"`
	Environment   string   `json:"environment"`
	TokenURL      string   `json:"token_url,omitempty"`
	ClientID      string   `json:"client_id"`
	Username      string   `json:"username"`
	APIVersion    string   `json:"api_version"`
	Secrets       string   `json:"secrets"`
	SecretBackend string   `json:"secret_backend"`
	BatchSize     int      `json:"batch_size"`
	RetryAttempts int      `json:"retry_attempts"`
	RetryDelay    string   `json:"retry_delay"`
	DatabasePath  string   `json:"database_path"`
	ListenAddr    string   `json:"listen_addr"`
	CORSOrigins   []string `json:"cors_origins,omitempty"`
	ConfigFile    string   `json:"config_file"`
}

func runShow(opts *root.Options) error {
	cfg, err := opts.Config()
	if err != nil {
		return err
	}

	configPath := opts.ConfigPath
	if configPath == "" {
		configPath, err = config.GetConfigPath()
		if err != nil {
			configPath = "(unable to determine)"
		}
	}

	secrets := "Not found"
	if keychain.HasStoredSecrets() {
		secrets = "Found"
	}

	shown := shownConfig{
		LoginURL:      cfg.LoginURL,
		Environment:   auth.Environment(cfg.LoginURL),
		TokenURL:      cfg.TokenURL,
		ClientID:      maskClientID(cfg.ClientID),
		Username:      cfg.Username,
		APIVersion:    cfg.APIVersion,
		Secrets:       secrets,
		SecretBackend: string(keychain.GetStorageBackend()),
		BatchSize:     cfg.BatchSize,
		RetryAttempts: cfg.RetryAttempts,
		RetryDelay:    time.Duration(cfg.RetryDelay).String(),
		DatabasePath:  cfg.DatabasePath,
		ListenAddr:    cfg.ListenAddr,
		CORSOrigins:   cfg.CORSOrigins,
		ConfigFile:    configPath,
	}

	v := opts.View()

	if opts.Output == "json" {
		return v.JSON(shown)
	}

	v.Info("sfsync Configuration")
	v.Info("====================")
	v.Info("")
	v.Info("Login URL:       %s (%s)", shown.LoginURL, shown.Environment)
	if shown.TokenURL != "" {
		v.Info("Token URL:       %s", shown.TokenURL)
	}
	v.Info("Client ID:       %s", orNotConfigured(shown.ClientID))
	v.Info("Username:        %s", orNotConfigured(shown.Username))
	v.Info("API Version:     %s", shown.APIVersion)
	v.Info("")
	if secrets == "Found" {
		v.Info("Secrets:         Found (stored in %s)", shown.SecretBackend)
	} else {
		v.Info("Secrets:         Not found")
	}
	v.Info("")
	v.Info("Batch size:      %d", shown.BatchSize)
	v.Info("Retry attempts:  %d (delay %s)", shown.RetryAttempts, shown.RetryDelay)
	v.Info("Ledger:          %s", config.ShortenPath(shown.DatabasePath))
	v.Info("Listen address:  %s", shown.ListenAddr)
	v.Info("Config file:     %s", config.ShortenPath(shown.ConfigFile))

	return nil
}

func runTest(ctx context.Context, opts *root.Options) error {
	v := opts.View()

	v.Info("Testing Salesforce connection...")
	v.Info("")

	a, err := opts.Authority()
	if err != nil {
		v.Info("  Credentials: MISSING")
		return err
	}
	v.Info("  Credentials: Found")

	if err := a.Authenticate(ctx); err != nil {
		v.Info("  OAuth:       FAILED")
		return err
	}
	v.Info("  OAuth:       OK")
	v.Info("  Instance:    %s", a.State().InstanceURL)

	client, err := opts.APIClient(ctx)
	if err != nil {
		v.Info("  API:         FAILED")
		return err
	}

	versions, err := client.GetAPIVersions(ctx)
	if err != nil {
		v.Info("  API:         FAILED")
		return fmt.Errorf("failed to access Salesforce API: %w", err)
	}
	v.Info("  API:         OK (%d versions available)", len(versions))

	v.Info("")
	v.Success("Connection successful!")
	return nil
}

func runClear(opts *root.Options, force bool) error {
	v := opts.View()

	if !force {
		v.Print("This will remove all stored credentials. Continue? [y/N]: ")
		response, _ := bufio.NewReader(opts.Stdin).ReadString('\n')
		response = strings.TrimSpace(strings.ToLower(response))
		if response != "y" && response != "yes" {
			v.Info("Cancelled.")
			return nil
		}
	}

	var hadSecrets, hadConfig bool
	var secretsErr, configErr error

	if keychain.HasStoredSecrets() {
		hadSecrets = true
		secretsErr = keychain.DeleteSecrets()
	}

	if config.IsConfigured() {
		hadConfig = true
		configErr = config.Clear()
	}

	if secretsErr != nil {
		v.Warning("failed to remove secrets: %v", secretsErr)
	} else if hadSecrets {
		v.Info("Secrets removed.")
	}

	if configErr != nil {
		v.Warning("failed to clear config: %v", configErr)
	} else if hadConfig {
		v.Info("Configuration cleared.")
	}

	if !hadSecrets && !hadConfig {
		v.Info("Nothing to clear.")
	} else if secretsErr == nil && configErr == nil {
		v.Info("")
		v.Info("All credentials cleared. Run 'sfsync init' to reconfigure.")
	}

	return nil
}

func orNotConfigured(s string) string {
	if s == "" {
		return "Not configured"
	}
	return s
}

// maskClientID masks a client ID for display, showing only first and last 4 chars.
func maskClientID(clientID string) string {
	if clientID == "" {
		return ""
	}
	if len(clientID) <= 12 {
		return "****"
	}
	return clientID[:4] + "..." + clientID[len(clientID)-4:]
}
