package config

import (
	"os"
	"strconv"
)

// Config holds all configuration for the relay server.
type Config struct {
	Port      int
	Version   string
	Upstream  UpstreamConfig
	Database  DatabaseConfig
	Vault     VaultConfig
	Telemetry TelemetryConfig
}

type UpstreamConfig struct {
	// BaseURL is the upstream session API root, no trailing slash.
	BaseURL string
}

type DatabaseConfig struct {
	// URL selects the Postgres store when set; otherwise SQLitePath is used.
	URL        string
	SQLitePath string
}

type VaultConfig struct {
	// MasterSecret is the input to HKDF for the vault key. Required in
	// any deployment storing byok/debug credentials.
	MasterSecret string
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:    envInt("RELAY_PORT", 8080),
		Version: envStr("RELAY_VERSION", "0.2.0"),
		Upstream: UpstreamConfig{
			BaseURL: envStr("RELAY_UPSTREAM_URL", "https://api.upstream.example.com"),
		},
		Database: DatabaseConfig{
			URL:        envStr("DATABASE_URL", ""),
			SQLitePath: envStr("RELAY_SQLITE_PATH", "relay.db"),
		},
		Vault: VaultConfig{
			MasterSecret: envStr("RELAY_VAULT_SECRET", ""),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "sessionrelay"),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
