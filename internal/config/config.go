package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Transport backends. Selected once at startup; the session never
// switches backends mid-flight.
const (
	TransportWebSocket = "websocket"
	TransportBridge    = "bridge"
)

// Config holds all environment-based configuration for pulsechat.
type Config struct {
	// Base URL of the chat REST API.
	ServerURL string `env:"PULSECHAT_SERVER_URL" envDefault:"https://api.pulsechat.dev"`

	// WebSocket endpoint. If empty, derived from ServerURL by swapping
	// the scheme and appending /ws.
	WSURL string `env:"PULSECHAT_WS_URL"`

	// Transport backend: "websocket" dials the server directly,
	// "bridge" routes frames through a privileged host process.
	Transport string `env:"PULSECHAT_TRANSPORT" envDefault:"websocket"`

	// Directory for the credential store. Defaults to ~/.pulsechat.
	StateDir string `env:"PULSECHAT_STATE_DIR"`

	// Optional passphrase for encrypting stored tokens at rest.
	// When empty, tokens are stored unencrypted.
	CredentialsKey string `env:"PULSECHAT_CREDENTIALS_KEY"`

	// Device name this client identifies as. Defaults to system hostname.
	DeviceName string `env:"DEVICE_NAME"`

	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing credentials to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.DeviceName == "" {
		hostname, err := os.Hostname()
		if err != nil || hostname == "" {
			hostname = "pulsechat"
		}

		cfg.DeviceName = hostname
	}

	if cfg.StateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("determining home directory: %w", err)
		}

		cfg.StateDir = filepath.Join(home, ".pulsechat")
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if cfg.WSURL == "" {
		cfg.WSURL = deriveWSURL(cfg.ServerURL)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("PULSECHAT_SERVER_URL is required")
	}

	if !strings.HasPrefix(c.ServerURL, "http://") && !strings.HasPrefix(c.ServerURL, "https://") {
		return fmt.Errorf("PULSECHAT_SERVER_URL must start with http:// or https://")
	}

	if c.WSURL != "" && !strings.HasPrefix(c.WSURL, "ws://") && !strings.HasPrefix(c.WSURL, "wss://") {
		return fmt.Errorf("PULSECHAT_WS_URL must start with ws:// or wss://")
	}

	if c.Transport != TransportWebSocket && c.Transport != TransportBridge {
		return fmt.Errorf("PULSECHAT_TRANSPORT must be %q or %q", TransportWebSocket, TransportBridge)
	}

	return nil
}

// deriveWSURL maps an http(s) API base URL to its ws(s) endpoint.
func deriveWSURL(serverURL string) string {
	wsURL := strings.TrimSuffix(serverURL, "/")
	switch {
	case strings.HasPrefix(wsURL, "https://"):
		wsURL = "wss://" + strings.TrimPrefix(wsURL, "https://")
	case strings.HasPrefix(wsURL, "http://"):
		wsURL = "ws://" + strings.TrimPrefix(wsURL, "http://")
	}

	return wsURL + "/ws"
}

// CredentialsPath returns the path of the bbolt credential store file.
func (c *Config) CredentialsPath() string {
	return filepath.Join(c.StateDir, "credentials.db")
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
