// Package initcmd provides the init command for credential setup.
package initcmd

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/open-cli-collective/salesforce-sync/internal/auth"
	"github.com/open-cli-collective/salesforce-sync/internal/cmd/root"
	"github.com/open-cli-collective/salesforce-sync/internal/config"
	"github.com/open-cli-collective/salesforce-sync/internal/keychain"
)

// storeSecrets persists the client secret and password.
var storeSecrets = keychain.SetSecrets

type initOptions struct {
	loginURL string
	clientID string
	username string
	noVerify bool
}

// answers are the values collected by the setup form.
type answers struct {
	LoginURL     string
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
}

// Register registers the init command with the parent command.
func Register(parent *cobra.Command, opts *root.Options) {
	parent.AddCommand(NewCommand(opts))
}

// NewCommand returns the init command.
func NewCommand(opts *root.Options) *cobra.Command {
	var flags initOptions

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Set up Salesforce authentication",
		Long: `Guided setup for the Salesforce OAuth 2.0 username-password flow.

The login URL, client ID and username are saved to config.json. The client
secret and password (with the security token appended, if your org needs
one) go to the OS keychain, or a 0600 secrets file where none is available.

Prerequisites:
  1. Create a Connected App in Salesforce Setup
  2. Enable OAuth Settings with the "api" scope
  3. Allow the username-password flow for the org
  4. Note the Consumer Key (Client ID) and Consumer Secret`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd.Context(), opts, flags)
		},
	}

	cmd.Flags().StringVar(&flags.loginURL, "login-url", "", "Salesforce login URL (e.g., login.salesforce.com)")
	cmd.Flags().StringVar(&flags.clientID, "client-id", "", "Connected App Consumer Key")
	cmd.Flags().StringVar(&flags.username, "username", "", "Salesforce username")
	cmd.Flags().BoolVar(&flags.noVerify, "no-verify", false, "Skip requesting a token after setup")

	return cmd
}

func runInit(ctx context.Context, opts *root.Options, flags initOptions) error {
	v := opts.View()

	v.Info("Checking existing configuration...")
	cfg, err := config.LoadFrom(opts.ConfigPath)
	if err != nil {
		cfg = &config.Config{}
	}

	if cfg.Username != "" {
		v.Info("Username:     %s", cfg.Username)
	} else {
		v.Info("Username:     Not configured")
	}
	if keychain.HasStoredSecrets() {
		v.Info("Secrets:      Found (stored in %s)", keychain.GetStorageBackend())
	} else {
		v.Info("Secrets:      Not found")
	}
	v.Info("")

	// Priority: CLI flag > existing config value
	a := answers{
		LoginURL: firstNonEmpty(flags.loginURL, cfg.LoginURL),
		ClientID: firstNonEmpty(flags.clientID, cfg.ClientID),
		Username: firstNonEmpty(flags.username, cfg.Username),
	}

	if err := newForm(&a).Run(); err != nil {
		return err
	}

	if err := apply(ctx, opts, cfg, a, !flags.noVerify); err != nil {
		return err
	}

	v.Info("")
	v.Info("Setup complete! Try: sfsync bulk export \"SELECT Id, Name FROM Account\" --wait")
	return nil
}

func newForm(a *answers) *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Login URL").
				Description("Production: login.salesforce.com | Sandbox: test.salesforce.com").
				Placeholder("login.salesforce.com").
				Value(&a.LoginURL),

			huh.NewInput().
				Title("Client ID").
				Description("Connected App Consumer Key from Setup → App Manager").
				Value(&a.ClientID).
				Validate(required("client ID")),

			huh.NewInput().
				Title("Client Secret").
				Description("Connected App Consumer Secret").
				EchoMode(huh.EchoModePassword).
				Value(&a.ClientSecret).
				Validate(required("client secret")),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Username").
				Value(&a.Username).
				Validate(required("username")),

			huh.NewInput().
				Title("Password").
				Description("Append the security token if your org requires one").
				EchoMode(huh.EchoModePassword).
				Value(&a.Password).
				Validate(required("password")),
		),
	)
}

// apply saves the collected answers and, when verify is set, requests a token
// with them.
func apply(ctx context.Context, opts *root.Options, cfg *config.Config, a answers, verify bool) error {
	v := opts.View()

	loginURL := auth.NormalizeInstanceURL(firstNonEmpty(a.LoginURL, config.DefaultLoginURL))
	creds := auth.Credentials{
		ClientID:     strings.TrimSpace(a.ClientID),
		ClientSecret: a.ClientSecret,
		Username:     strings.TrimSpace(a.Username),
		Password:     a.Password,
		TokenURL:     auth.TokenURLFor(loginURL),
	}
	if err := creds.Validate(); err != nil {
		return err
	}

	cfg.LoginURL = loginURL
	cfg.ClientID = creds.ClientID
	cfg.Username = creds.Username
	if err := config.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	if err := storeSecrets(&keychain.Secrets{ClientSecret: creds.ClientSecret, Password: creds.Password}); err != nil {
		return fmt.Errorf("failed to save secrets: %w", err)
	}
	v.Info("Secrets saved to: %s", keychain.GetStorageBackend())

	if !verify {
		return nil
	}

	v.Info("")
	v.Info("Verifying credentials...")

	authority, err := auth.NewAuthority(creds, auth.Options{
		HTTPClient: &http.Client{Timeout: auth.DefaultAuthTimeout},
		Logger:     opts.Logger(),
	})
	if err != nil {
		return err
	}
	if err := authority.Authenticate(ctx); err != nil {
		v.Info("  OAuth token: FAILED")
		return err
	}
	v.Info("  OAuth token: OK")
	v.Info("  Instance:    %s", authority.State().InstanceURL)

	return nil
}

func required(name string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", name)
		}
		return nil
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
