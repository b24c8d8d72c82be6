package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveCredentials_FromConfig(t *testing.T) {
	t.Setenv(EnvServerURL, "http://env-host:1234")
	t.Setenv(EnvPassword, "env-secret")

	creds, err := ResolveCredentials(BlueBubblesConfig{
		ServerURL: "http://config-host:1234/",
		Password:  "config-secret",
	})
	require.NoError(t, err)
	assert.Equal(t, "http://config-host:1234", creds.ServerURL, "config value should win and lose its trailing slash")
	assert.Equal(t, "config-secret", creds.Password)
}

func TestResolveCredentials_EnvFallback(t *testing.T) {
	t.Setenv(EnvServerURL, "http://env-host:1234")
	t.Setenv(EnvPassword, "env-secret")

	creds, err := ResolveCredentials(BlueBubblesConfig{ServerURL: "   "})
	require.NoError(t, err)
	assert.Equal(t, "http://env-host:1234", creds.ServerURL)
	assert.Equal(t, "env-secret", creds.Password)
}

func TestResolveCredentials_MissingAddressReportedFirst(t *testing.T) {
	t.Setenv(EnvServerURL, "")
	t.Setenv(EnvPassword, "")

	_, err := ResolveCredentials(BlueBubblesConfig{})
	require.ErrorIs(t, err, ErrMissingCredentials)
	assert.Contains(t, err.Error(), "server URL", "address should be reported first")
}

func TestResolveCredentials_MissingPassword(t *testing.T) {
	t.Setenv(EnvServerURL, "")
	t.Setenv(EnvPassword, "")

	_, err := ResolveCredentials(BlueBubblesConfig{ServerURL: "http://mac.local:1234"})
	require.ErrorIs(t, err, ErrMissingCredentials)
	assert.Contains(t, err.Error(), "password")
	assert.Contains(t, err.Error(), EnvPassword)
}

func TestResolveCredentials_RereadsEnvironment(t *testing.T) {
	t.Setenv(EnvServerURL, "http://first:1234")
	t.Setenv(EnvPassword, "pw")

	first, err := ResolveCredentials(BlueBubblesConfig{})
	require.NoError(t, err)

	t.Setenv(EnvServerURL, "http://second:1234")
	second, err := ResolveCredentials(BlueBubblesConfig{})
	require.NoError(t, err)
	assert.NotEqual(t, first.ServerURL, second.ServerURL, "credentials must not be cached between calls")
}
