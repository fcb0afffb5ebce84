//go:build !darwin

package keychain

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// lookPath is swapped in tests to force the file backend.
var lookPath = exec.LookPath

func hasSecretTool() bool {
	_, err := lookPath("secret-tool")
	return err == nil
}

// getSecrets retrieves the credentials from libsecret, falling back to the config file
func getSecrets() (*Secrets, error) {
	if hasSecretTool() {
		if s, err := getFromSecretTool(); err == nil {
			return s, nil
		}
	}
	return getFromConfigFile()
}

// setSecrets stores the credentials in libsecret when available
func setSecrets(s *Secrets) error {
	if hasSecretTool() {
		err := setInSecretTool(s)
		if err == nil {
			return nil
		}
		fmt.Fprintf(os.Stderr, "Warning: secret-tool storage failed, using config file: %v\n", err)
	}
	return setInConfigFile(s)
}

// deleteSecrets removes the credentials from storage
func deleteSecrets() error {
	var toolErr error
	if hasSecretTool() {
		toolErr = deleteFromSecretTool()
	}
	fileErr := deleteFromConfigFile()

	if fileErr != nil && (toolErr != nil || !hasSecretTool()) {
		return fileErr
	}
	return nil
}

// getStorageBackend returns the current storage backend
func getStorageBackend() StorageBackend {
	if hasSecretTool() {
		if _, err := getFromSecretTool(); err == nil {
			return BackendSecretTool
		}
	}
	if _, err := getFromConfigFile(); err == nil {
		return BackendFile
	}
	if hasSecretTool() {
		return BackendSecretTool
	}
	return BackendFile
}

// libsecret implementation using the secret-tool CLI

func getFromSecretTool() (*Secrets, error) {
	cmd := exec.Command("secret-tool", "lookup",
		"service", serviceName,
		"account", secretsKey)

	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("failed to read from secret-tool: %w", err)
	}

	return decodeSecrets([]byte(strings.TrimSpace(string(output))))
}

func setInSecretTool(s *Secrets) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to serialize credentials: %w", err)
	}

	// secret-tool reads the secret from stdin.
	cmd := exec.Command("secret-tool", "store",
		"--label", serviceName+" credentials",
		"service", serviceName,
		"account", secretsKey)
	cmd.Stdin = strings.NewReader(string(data))

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to store in secret-tool: %w", err)
	}

	return nil
}

func deleteFromSecretTool() error {
	cmd := exec.Command("secret-tool", "clear",
		"service", serviceName,
		"account", secretsKey)

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to delete from secret-tool: %w", err)
	}

	return nil
}
