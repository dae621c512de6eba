// Package config handles application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jmylchreest/sitewatch/internal/apperrors"
)

// Config holds all application configuration, loaded once per process and
// passed explicitly to every component — no ambient global reads inside
// adapters, so tests stay deterministic.
type Config struct {
	// Server
	Port    int
	BaseURL string

	// Persistence (Turso/libsql)
	DatabaseURL    string
	TursoURL       string
	TursoAuthToken string

	// Trigger auth
	TriggerSharedSecret string

	// Site under surveillance
	BaseSiteOrigin string

	// OAuth credential (C1 Token Broker) — refreshes the analytics/search
	// access token against the token endpoint.
	OAuthClientID       string
	OAuthClientSecret   string
	OAuthRedirectURI    string
	OAuthTokenURL       string
	EncryptionKeySource string // seed material the encryption key is derived from

	// Data source adapters (C2)
	AnalyticsPropertyID string
	SearchIndexSiteURL  string
	PerfAPIKey          string
	CMSAPIToken         string
	CMSBaseURL          string

	// Language model (C9 agent loop, C11 digest)
	AnthropicAPIKey string
	AnthropicModel  string

	// Object storage (Tigris/S3-compatible) — optional artifact archive
	StorageEnabled   bool
	StorageEndpoint  string
	StorageAccessKey string
	StorageSecretKey string
	StorageBucket    string
	StorageRegion    string

	// CORS
	CORSOrigins []string

	// Scheduler
	SchedulerEnabled bool

	// Shutdown
	ShutdownGracePeriod time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:    getEnvInt("PORT", 8080),
		BaseURL: getEnv("BASE_URL", "http://localhost:8080"),

		DatabaseURL:    getEnv("DATABASE_URL", "file:thyme.db?_journal=WAL&_timeout=5000"),
		TursoURL:       getEnv("TURSO_URL", ""),
		TursoAuthToken: getEnv("TURSO_AUTH_TOKEN", ""),

		TriggerSharedSecret: getEnv("TRIGGER_SHARED_SECRET", ""),

		BaseSiteOrigin: getEnv("BASE_SITE_ORIGIN", ""),

		OAuthClientID:       getEnv("OAUTH_CLIENT_ID", ""),
		OAuthClientSecret:   getEnv("OAUTH_CLIENT_SECRET", ""),
		OAuthRedirectURI:    getEnv("OAUTH_REDIRECT_URI", ""),
		OAuthTokenURL:       getEnv("OAUTH_TOKEN_URL", "https://oauth2.googleapis.com/token"),
		EncryptionKeySource: getEnv("ENCRYPTION_KEY_SOURCE", ""),

		AnalyticsPropertyID: getEnv("ANALYTICS_PROPERTY_ID", ""),
		SearchIndexSiteURL:  getEnv("SEARCH_INDEX_SITE_URL", ""),
		PerfAPIKey:          getEnv("PERF_API_KEY", ""),
		CMSAPIToken:         getEnv("CMS_API_TOKEN", ""),
		CMSBaseURL:          getEnv("CMS_BASE_URL", ""),

		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		AnthropicModel:  getEnv("ANTHROPIC_MODEL", "claude-sonnet-4-5"),

		StorageEndpoint:  getEnv("AWS_ENDPOINT_URL_S3", ""),
		StorageAccessKey: getEnv("AWS_ACCESS_KEY_ID", ""),
		StorageSecretKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
		StorageBucket:    getEnv("STORAGE_BUCKET", ""),
		StorageRegion:    getEnv("AWS_REGION", "auto"),

		CORSOrigins: getEnvSlice("CORS_ORIGINS", []string{"http://localhost:3000"}),

		SchedulerEnabled: getEnvBool("SCHEDULER_ENABLED", true),

		ShutdownGracePeriod: getEnvDuration("SHUTDOWN_GRACE_PERIOD", 2*time.Minute),
	}

	cfg.StorageEnabled = cfg.StorageBucket != "" && cfg.StorageEndpoint != ""

	if cfg.TriggerSharedSecret == "" {
		return nil, apperrors.NewConfigError("TRIGGER_SHARED_SECRET")
	}
	if cfg.DatabaseURL == "" {
		return nil, apperrors.NewConfigError("DATABASE_URL")
	}
	if cfg.EncryptionKeySource == "" {
		// Derive from the trigger secret rather than fail hard — mirrors the
		// teacher's JWT-secret-derived encryption key fallback.
		cfg.EncryptionKeySource = cfg.TriggerSharedSecret
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "true" || lower == "1" || lower == "yes"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

// AppliesTursoReplica reports whether the embedded-replica libsql mode
// should be used (local file synced with a remote Turso database) rather
// than a bare local/http DSN.
func (c *Config) AppliesTursoReplica() bool {
	return c.TursoURL != "" && c.TursoAuthToken != ""
}

// ValidationError wraps a config field validation failure with context.
// Kept distinct from apperrors.ConfigError's "missing field" case; used by
// callers that need to report malformed (not just absent) values.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}
