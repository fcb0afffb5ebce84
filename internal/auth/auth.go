// Package auth provides OAuth 2.0 password-grant authentication for Salesforce.
package auth

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/open-cli-collective/salesforce-sync/internal/config"
	"github.com/open-cli-collective/salesforce-sync/internal/keychain"
)

const (
	// ProductionLoginURL is the Salesforce production login endpoint
	ProductionLoginURL = "https://login.salesforce.com"

	// SandboxLoginURL is the Salesforce sandbox login endpoint
	SandboxLoginURL = "https://test.salesforce.com"

	// TokenPath is the OAuth token endpoint path on a login host
	TokenPath = "/services/oauth2/token"
)

// Credentials are the password-grant inputs. They are loaded once and never
// mutated.
type Credentials struct {
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
	TokenURL     string
}

// Validate reports the first missing field as a *ConfigurationError.
func (c Credentials) Validate() error {
	fields := []struct {
		name  string
		value string
	}{
		{"client_id", c.ClientID},
		{"client_secret", c.ClientSecret},
		{"username", c.Username},
		{"password", c.Password},
		{"token_url", c.TokenURL},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			return &ConfigurationError{Field: f.name, Message: "is required"}
		}
	}
	return nil
}

// ConfigurationError reports missing or invalid credentials. It is fatal.
type ConfigurationError struct {
	Field   string
	Message string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s %s", e.Field, e.Message)
}

// AuthenticationError reports a token endpoint failure. StatusCode is zero
// when the endpoint could not be reached.
type AuthenticationError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *AuthenticationError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("authentication failed (HTTP %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("authentication failed: %s", e.Message)
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// HTTPStatus maps the failure to the status surfaced to callers: the upstream
// status when there was one, otherwise 503.
func (e *AuthenticationError) HTTPStatus() int {
	if e.StatusCode > 0 {
		return e.StatusCode
	}
	return http.StatusServiceUnavailable
}

// NormalizeInstanceURL ensures the instance URL has proper format.
func NormalizeInstanceURL(url string) string {
	url = strings.TrimSpace(url)

	// Add https:// if no scheme provided
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "https://" + url
	}

	return strings.TrimSuffix(url, "/")
}

// TokenURLFor returns the token endpoint for a login host.
func TokenURLFor(loginURL string) string {
	return NormalizeInstanceURL(loginURL) + TokenPath
}

// IsProductionURL returns true if the URL is the production login URL.
func IsProductionURL(url string) bool {
	return NormalizeInstanceURL(url) == ProductionLoginURL
}

// IsSandboxURL returns true if the URL is the sandbox login URL.
func IsSandboxURL(url string) bool {
	return NormalizeInstanceURL(url) == SandboxLoginURL
}

// Environment names the kind of org a login URL points at: "production",
// "sandbox" or "custom" for My Domain and other hosts.
func Environment(loginURL string) string {
	switch {
	case IsProductionURL(loginURL):
		return "production"
	case IsSandboxURL(loginURL):
		return "sandbox"
	default:
		return "custom"
	}
}

// LoadCredentials assembles credentials from cfg and the secret store.
// Returns a *ConfigurationError if anything required is missing; callers
// should direct the user to run 'sfsync init'.
func LoadCredentials(cfg *config.Config) (Credentials, error) {
	secrets, err := keychain.Resolve()
	if err != nil {
		return Credentials{}, fmt.Errorf("failed to read stored credentials: %w", err)
	}

	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		loginURL := cfg.LoginURL
		if loginURL == "" {
			loginURL = config.DefaultLoginURL
		}
		tokenURL = TokenURLFor(loginURL)
	}

	creds := Credentials{
		ClientID:     cfg.ClientID,
		ClientSecret: secrets.ClientSecret,
		Username:     cfg.Username,
		Password:     secrets.Password,
		TokenURL:     tokenURL,
	}
	if err := creds.Validate(); err != nil {
		return Credentials{}, err
	}
	return creds, nil
}

// NewFromConfig builds an Authority from the resolved configuration and the
// secret store.
func NewFromConfig(cfg *config.Config, logger *slog.Logger) (*Authority, error) {
	r := cfg.Resolved()

	creds, err := LoadCredentials(r)
	if err != nil {
		return nil, err
	}

	return NewAuthority(creds, Options{
		RefreshBuffer:   time.Duration(r.RefreshBuffer),
		AssumedValidity: time.Duration(r.TokenValidity),
		HTTPClient:      &http.Client{Timeout: time.Duration(r.AuthTimeout)},
		Logger:          logger,
	})
}
