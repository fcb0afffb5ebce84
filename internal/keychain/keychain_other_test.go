//go:build !darwin

package keychain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// withoutSecretTool forces the file backend for the duration of the test.
func withoutSecretTool(t *testing.T) {
	t.Helper()
	orig := lookPath
	lookPath = func(string) (string, error) { return "", errors.New("not found") }
	t.Cleanup(func() { lookPath = orig })

	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	for _, name := range []string{"SFDC_CLIENT_SECRET", "SALESFORCE_CLIENT_SECRET", "SFDC_PASSWORD", "SALESFORCE_PASSWORD"} {
		t.Setenv(name, "")
	}
}

func TestSecrets_FileBackend(t *testing.T) {
	withoutSecretTool(t)

	assert.False(t, HasStoredSecrets())
	assert.Equal(t, BackendFile, GetStorageBackend())
	assert.False(t, IsSecureStorage())

	require.NoError(t, SetSecrets(&Secrets{ClientSecret: "cs", Password: "pw"}))
	assert.True(t, HasStoredSecrets())

	got, err := GetSecrets()
	require.NoError(t, err)
	assert.Equal(t, "cs", got.ClientSecret)

	require.NoError(t, DeleteSecrets())
	assert.False(t, HasStoredSecrets())
}

func TestResolve(t *testing.T) {
	withoutSecretTool(t)

	t.Run("nothing stored", func(t *testing.T) {
		s, err := Resolve()
		require.NoError(t, err)
		assert.Equal(t, &Secrets{}, s)
	})

	t.Run("env wins over stored", func(t *testing.T) {
		require.NoError(t, SetSecrets(&Secrets{ClientSecret: "stored-secret", Password: "stored-pw"}))
		t.Setenv("SALESFORCE_PASSWORD", "env-pw")

		s, err := Resolve()
		require.NoError(t, err)
		assert.Equal(t, "stored-secret", s.ClientSecret)
		assert.Equal(t, "env-pw", s.Password)
	})
}
