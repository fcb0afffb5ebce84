//go:build darwin

package keychain

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// getSecrets retrieves the credentials from macOS Keychain
func getSecrets() (*Secrets, error) {
	s, err := getFromKeychain()
	if err == nil {
		return s, nil
	}

	// Fall back to config file
	return getFromConfigFile()
}

// setSecrets stores the credentials in macOS Keychain
func setSecrets(s *Secrets) error {
	err := setInKeychain(s)
	if err == nil {
		return nil
	}

	fmt.Fprintf(os.Stderr, "Warning: keychain storage failed, using config file: %v\n", err)
	return setInConfigFile(s)
}

// deleteSecrets removes the credentials from storage
func deleteSecrets() error {
	keychainErr := deleteFromKeychain()
	fileErr := deleteFromConfigFile()

	// Return keychain error if both fail, otherwise nil
	if keychainErr != nil && fileErr != nil {
		return keychainErr
	}
	return nil
}

// getStorageBackend returns the current storage backend
func getStorageBackend() StorageBackend {
	if _, err := getFromKeychain(); err == nil {
		return BackendKeychain
	}
	if _, err := getFromConfigFile(); err == nil {
		return BackendFile
	}
	return BackendKeychain
}

// macOS Keychain implementation using security CLI

func getFromKeychain() (*Secrets, error) {
	cmd := exec.Command("security", "find-generic-password",
		"-s", serviceName,
		"-a", secretsKey,
		"-w")

	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("failed to read from keychain: %w", err)
	}

	return decodeSecrets([]byte(strings.TrimSpace(string(output))))
}

func setInKeychain(s *Secrets) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to serialize credentials: %w", err)
	}

	_ = deleteFromKeychain()

	// security -i reads the command from stdin, keeping the password out of ps output.
	cmd := exec.Command("security", "-i")
	stdinCmd := fmt.Sprintf("add-generic-password -s %q -a %q -w %q -U\n",
		serviceName, secretsKey, string(data))
	cmd.Stdin = strings.NewReader(stdinCmd)

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to store in keychain: %w", err)
	}

	return nil
}

func deleteFromKeychain() error {
	cmd := exec.Command("security", "delete-generic-password",
		"-s", serviceName,
		"-a", secretsKey)

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to delete from keychain: %w", err)
	}

	return nil
}
