package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearConfigEnv unsets all config env vars so tests start clean.
func clearConfigEnv(t *testing.T) {
	t.Helper()

	for _, key := range []string{
		"PULSECHAT_SERVER_URL",
		"PULSECHAT_WS_URL",
		"PULSECHAT_TRANSPORT",
		"PULSECHAT_STATE_DIR",
		"PULSECHAT_CREDENTIALS_KEY",
		"DEVICE_NAME",
		"ENVIRONMENT",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("PULSECHAT_STATE_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://api.pulsechat.dev", cfg.ServerURL)
	assert.Equal(t, "wss://api.pulsechat.dev/ws", cfg.WSURL)
	assert.Equal(t, TransportWebSocket, cfg.Transport)
	assert.Equal(t, "development", cfg.Environment)
	assert.NotEmpty(t, cfg.DeviceName, "device name should default to hostname")
	assert.False(t, cfg.IsProduction())
}

func TestLoad_DerivesWSURLFromHTTP(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("PULSECHAT_SERVER_URL", "http://localhost:8080/")
	t.Setenv("PULSECHAT_STATE_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "ws://localhost:8080/ws", cfg.WSURL)
}

func TestLoad_ExplicitWSURLWins(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("PULSECHAT_WS_URL", "wss://realtime.example.com/socket")
	t.Setenv("PULSECHAT_STATE_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "wss://realtime.example.com/socket", cfg.WSURL)
}

func TestLoad_RejectsBadServerURL(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("PULSECHAT_SERVER_URL", "ftp://example.com")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PULSECHAT_SERVER_URL")
}

func TestLoad_RejectsBadWSURL(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("PULSECHAT_WS_URL", "https://example.com/ws")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PULSECHAT_WS_URL")
}

func TestLoad_RejectsUnknownTransport(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("PULSECHAT_TRANSPORT", "carrier-pigeon")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PULSECHAT_TRANSPORT")
}

func TestLoad_BridgeTransportAccepted(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("PULSECHAT_TRANSPORT", "bridge")
	t.Setenv("PULSECHAT_STATE_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, TransportBridge, cfg.Transport)
}

func TestCredentialsPath_UnderStateDir(t *testing.T) {
	clearConfigEnv(t)
	dir := t.TempDir()
	t.Setenv("PULSECHAT_STATE_DIR", dir)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.StateDir)
	assert.Contains(t, cfg.CredentialsPath(), dir)
	assert.Contains(t, cfg.CredentialsPath(), "credentials.db")
}

func TestLoad_DeviceNameOverride(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("DEVICE_NAME", "laptop-01")
	t.Setenv("PULSECHAT_STATE_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "laptop-01", cfg.DeviceName)
}
