// Package config provides configuration management for sfsync.
// It has no dependencies on other internal packages to avoid circular imports.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	// DirName is the name of the configuration directory
	DirName = "salesforce-sync"
	// ConfigFile is the name of the configuration file
	ConfigFile = "config.json"
	// SecretsFile is the name of the secrets file (fallback storage)
	SecretsFile = "secrets.json"
	// DatabaseFile is the name of the default job ledger database
	DatabaseFile = "sfsync.db"
)

// File and directory permission constants for consistent security settings.
const (
	// DirPerm is the permission for config directories (owner read/write/execute only)
	DirPerm = 0700
	// FilePerm is the permission for config files (owner read/write only)
	FilePerm = 0600
)

// Defaults applied by Resolved when a setting is absent.
const (
	DefaultLoginURL      = "https://login.salesforce.com"
	DefaultAPIVersion    = "v62.0"
	DefaultRefreshBuffer = 300 * time.Second
	DefaultTokenValidity = 2 * time.Hour
	DefaultBatchSize     = 200
	DefaultRetryAttempts = 3
	DefaultRetryDelay    = 5 * time.Second
	DefaultChunkPause    = 2 * time.Second
	DefaultHTTPTimeout   = 60 * time.Second
	DefaultBulkTimeout   = 300 * time.Second
	DefaultAuthTimeout   = 30 * time.Second
	DefaultListenAddr    = ":8080"
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "text"
)

// Duration is a time.Duration that reads and writes JSON as "5m0s". Plain
// numbers are read as seconds.
type Duration time.Duration

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var secs float64
		if err := json.Unmarshal(data, &secs); err != nil {
			return fmt.Errorf("invalid duration %s", data)
		}
		*d = Duration(secs * float64(time.Second))
		return nil
	}

	parsed, err := ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// ParseDuration accepts a Go duration string or a bare number of seconds.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}

// Config represents the sfsync configuration. Secrets (client secret and
// password) are never stored here; see the keychain package.
type Config struct {
	// LoginURL is the Salesforce login host (production, sandbox or My Domain)
	LoginURL string `json:"login_url,omitempty"`
	// TokenURL overrides the token endpoint derived from LoginURL
	TokenURL string `json:"token_url,omitempty"`
	// ClientID is the Connected App Consumer Key
	ClientID string `json:"client_id,omitempty"`
	// Username is the Salesforce user for the password grant
	Username string `json:"username,omitempty"`
	// APIVersion is the REST API version (e.g. v62.0)
	APIVersion string `json:"api_version,omitempty"`

	// RefreshBuffer is how long before assumed expiry a token is refreshed
	RefreshBuffer Duration `json:"refresh_buffer,omitempty"`
	// TokenValidity is the assumed lifetime of an access token
	TokenValidity Duration `json:"token_validity,omitempty"`

	BatchSize     int      `json:"batch_size,omitempty"`
	RetryAttempts int      `json:"retry_attempts,omitempty"`
	RetryDelay    Duration `json:"retry_delay,omitempty"`
	ChunkPause    Duration `json:"chunk_pause,omitempty"`

	HTTPTimeout Duration `json:"http_timeout,omitempty"`
	BulkTimeout Duration `json:"bulk_timeout,omitempty"`
	AuthTimeout Duration `json:"auth_timeout,omitempty"`

	LogLevel  string `json:"log_level,omitempty"`
	LogFormat string `json:"log_format,omitempty"`

	// DatabasePath is the sqlite job ledger location
	DatabasePath string `json:"database_path,omitempty"`

	ListenAddr  string   `json:"listen_addr,omitempty"`
	CORSOrigins []string `json:"cors_origins,omitempty"`
}

// GetConfigDir returns the configuration directory path, creating it if needed.
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config/salesforce-sync
func GetConfigDir() (string, error) {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configHome = filepath.Join(home, ".config")
	}
	configDir := filepath.Join(configHome, DirName)

	if err := os.MkdirAll(configDir, DirPerm); err != nil {
		return "", err
	}

	return configDir, nil
}

// GetConfigPath returns the full path to config.json
func GetConfigPath() (string, error) {
	return pathInConfigDir(ConfigFile)
}

// GetSecretsPath returns the full path to secrets.json (fallback storage)
func GetSecretsPath() (string, error) {
	return pathInConfigDir(SecretsFile)
}

// GetDatabasePath returns the default job ledger path
func GetDatabasePath() (string, error) {
	return pathInConfigDir(DatabaseFile)
}

func pathInConfigDir(name string) (string, error) {
	dir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// ShortenPath replaces the home directory prefix with ~ for display purposes.
// This prevents exposing full paths including usernames in error messages.
func ShortenPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if len(path) >= len(home) && path[:len(home)] == home {
		return "~" + path[len(home):]
	}
	return path
}

// LoadDotEnv loads KEY=VALUE pairs from .env in the working directory into
// the environment. Variables that are already set win. A missing file is not
// an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// Load loads the configuration from config.json with environment variable overrides.
// Environment variable precedence: SFDC_* → SALESFORCE_* → .env → config file
func Load() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom is Load with an explicit config file. An empty path means the
// default location.
func LoadFrom(path string) (*Config, error) {
	if err := LoadDotEnv(); err != nil {
		return nil, err
	}

	cfg := &Config{}

	if path == "" {
		p, err := GetConfigPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		// File doesn't exist, continue with empty config
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", ShortenPath(path), err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	strs := []struct {
		name string
		dst  *string
	}{
		{"LOGIN_URL", &c.LoginURL},
		{"TOKEN_URL", &c.TokenURL},
		{"CLIENT_ID", &c.ClientID},
		{"USERNAME", &c.Username},
		{"API_VERSION", &c.APIVersion},
		{"LOG_LEVEL", &c.LogLevel},
		{"LOG_FORMAT", &c.LogFormat},
		{"DATABASE_PATH", &c.DatabasePath},
		{"LISTEN_ADDR", &c.ListenAddr},
	}
	for _, s := range strs {
		if v := getEnv(s.name); v != "" {
			*s.dst = v
		}
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"BATCH_SIZE", &c.BatchSize},
		{"RETRY_ATTEMPTS", &c.RetryAttempts},
	}
	for _, i := range ints {
		if v := getEnv(i.name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid SFDC_%s: %w", i.name, err)
			}
			*i.dst = n
		}
	}

	durations := []struct {
		name string
		dst  *Duration
	}{
		{"TOKEN_REFRESH_BUFFER", &c.RefreshBuffer},
		{"TOKEN_VALIDITY", &c.TokenValidity},
		{"RETRY_DELAY", &c.RetryDelay},
		{"CHUNK_PAUSE", &c.ChunkPause},
		{"HTTP_TIMEOUT", &c.HTTPTimeout},
		{"BULK_TIMEOUT", &c.BulkTimeout},
		{"AUTH_TIMEOUT", &c.AuthTimeout},
	}
	for _, d := range durations {
		if v := getEnv(d.name); v != "" {
			parsed, err := ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid SFDC_%s: %w", d.name, err)
			}
			*d.dst = Duration(parsed)
		}
	}

	if v := getEnv("CORS_ORIGINS"); v != "" {
		c.CORSOrigins = splitList(v)
	}

	return nil
}

// Resolved returns a copy of c with defaults filled in for unset values.
func (c *Config) Resolved() *Config {
	r := *c
	r.CORSOrigins = append([]string(nil), c.CORSOrigins...)

	setString(&r.LoginURL, DefaultLoginURL)
	setString(&r.APIVersion, DefaultAPIVersion)
	setString(&r.LogLevel, DefaultLogLevel)
	setString(&r.LogFormat, DefaultLogFormat)
	setString(&r.ListenAddr, DefaultListenAddr)

	setInt(&r.BatchSize, DefaultBatchSize)
	setInt(&r.RetryAttempts, DefaultRetryAttempts)

	setDuration(&r.RefreshBuffer, DefaultRefreshBuffer)
	setDuration(&r.TokenValidity, DefaultTokenValidity)
	setDuration(&r.RetryDelay, DefaultRetryDelay)
	setDuration(&r.ChunkPause, DefaultChunkPause)
	setDuration(&r.HTTPTimeout, DefaultHTTPTimeout)
	setDuration(&r.BulkTimeout, DefaultBulkTimeout)
	setDuration(&r.AuthTimeout, DefaultAuthTimeout)

	if r.DatabasePath == "" {
		if p, err := GetDatabasePath(); err == nil {
			r.DatabasePath = p
		}
	}
	return &r
}

func setString(dst *string, def string) {
	if *dst == "" {
		*dst = def
	}
}

func setInt(dst *int, def int) {
	if *dst <= 0 {
		*dst = def
	}
}

func setDuration(dst *Duration, def time.Duration) {
	if *dst <= 0 {
		*dst = Duration(def)
	}
}

// Save saves the configuration to config.json
func Save(cfg *Config) error {
	path, err := GetConfigPath()
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, FilePerm)
}

// Clear removes the configuration file
func Clear() error {
	path, err := GetConfigPath()
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// IsConfigured returns true if the minimum required configuration is set.
func IsConfigured() bool {
	cfg, err := Load()
	if err != nil {
		return false
	}
	return cfg.ClientID != "" && cfg.Username != ""
}

// SecretsFromEnv returns the client secret and password from the environment.
func SecretsFromEnv() (clientSecret, password string) {
	return getEnv("CLIENT_SECRET"), getEnv("PASSWORD")
}

// getEnv returns SFDC_<name>, falling back to SALESFORCE_<name>.
func getEnv(name string) string {
	return getEnvWithFallback("SFDC_"+name, "SALESFORCE_"+name)
}

// getEnvWithFallback returns the value of the primary environment variable,
// or the fallback if the primary is not set.
func getEnvWithFallback(primary, fallback string) string {
	if v := os.Getenv(primary); v != "" {
		return v
	}
	return os.Getenv(fallback)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
