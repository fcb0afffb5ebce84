// Package keychain provides secure storage for Salesforce credentials using
// platform-native secure storage mechanisms (macOS Keychain, Linux secret-tool)
// with file fallback.
package keychain

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/open-cli-collective/salesforce-sync/internal/config"
)

const (
	serviceName = config.DirName
	secretsKey  = "credentials"
)

// StorageBackend represents where secrets are stored
type StorageBackend string

const (
	BackendKeychain   StorageBackend = "Keychain"    // macOS Keychain
	BackendSecretTool StorageBackend = "secret-tool" // Linux libsecret
	BackendFile       StorageBackend = "config file" // File fallback
)

var (
	// ErrSecretsNotFound indicates no secrets exist in storage
	ErrSecretsNotFound = errors.New("no credentials found in secure storage")
)

// Secrets holds the password-grant values that must not live in config.json.
type Secrets struct {
	ClientSecret string `json:"client_secret"`
	Password     string `json:"password"`
}

// secretsFilePath returns the full path to the secrets file
func secretsFilePath() (string, error) {
	return config.GetSecretsPath()
}

// GetSecrets retrieves the credentials from secure storage
func GetSecrets() (*Secrets, error) {
	return getSecrets()
}

// SetSecrets stores the credentials in secure storage
func SetSecrets(s *Secrets) error {
	return setSecrets(s)
}

// DeleteSecrets removes the credentials from secure storage
func DeleteSecrets() error {
	return deleteSecrets()
}

// HasStoredSecrets returns true if credentials exist in secure storage
func HasStoredSecrets() bool {
	_, err := GetSecrets()
	return err == nil
}

// GetStorageBackend returns the current storage backend being used
func GetStorageBackend() StorageBackend {
	return getStorageBackend()
}

// IsSecureStorage returns true if using secure storage (keychain/secret-tool)
func IsSecureStorage() bool {
	backend := GetStorageBackend()
	return backend == BackendKeychain || backend == BackendSecretTool
}

// Resolve merges env-provided secrets over stored ones. Env values win.
// A missing store is not an error; the caller validates completeness.
func Resolve() (*Secrets, error) {
	s := &Secrets{}
	stored, err := GetSecrets()
	switch {
	case err == nil:
		*s = *stored
	case !errors.Is(err, ErrSecretsNotFound):
		return nil, err
	}

	clientSecret, password := config.SecretsFromEnv()
	if clientSecret != "" {
		s.ClientSecret = clientSecret
	}
	if password != "" {
		s.Password = password
	}
	return s, nil
}

func decodeSecrets(data []byte) (*Secrets, error) {
	var s Secrets
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse stored credentials: %w", err)
	}
	return &s, nil
}

// secureDelete overwrites a file with zeros before deleting it to prevent
// forensic recovery of sensitive data.
func secureDelete(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		// If we can't open for writing, try to delete anyway
		return os.Remove(path)
	}

	zeros := make([]byte, info.Size())
	_, _ = f.Write(zeros)
	_ = f.Sync()
	_ = f.Close()

	return os.Remove(path)
}

// File-based storage implementation (fallback)

func getFromConfigFile() (*Secrets, error) {
	path, err := secretsFilePath()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrSecretsNotFound
		}
		return nil, fmt.Errorf("failed to read secrets file: %w", err)
	}

	return decodeSecrets(data)
}

func setInConfigFile(s *Secrets) error {
	path, err := secretsFilePath()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, config.DirPerm); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, config.FilePerm)
	if err != nil {
		return fmt.Errorf("failed to create secrets file: %w", err)
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(s); err != nil {
		return fmt.Errorf("failed to write secrets: %w", err)
	}

	return nil
}

func deleteFromConfigFile() error {
	path, err := secretsFilePath()
	if err != nil {
		return err
	}

	if err := secureDelete(path); err != nil {
		return fmt.Errorf("failed to delete secrets file: %w", err)
	}

	return nil
}
