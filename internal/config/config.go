package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"spendwise/internal/log"
)

// Backend names accepted in BAAS_BACKEND.
const (
	BackendLocal  = "local"
	BackendHosted = "hosted"
)

const minJWTSecretLen = 32

type Config struct {
	// HTTP Server
	Port           string
	CookieSecure   bool
	TrustedProxies []string

	// Backend selection
	Backend string

	// Local backend
	SQLiteDBPath string
	JWTSecret    string
	SessionTTL   time.Duration
	AdminEmail   string

	// Hosted backend
	BaaSURL     string
	BaaSAnonKey string

	// AMQP change relay
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Google Sheets export
	GoogleSpreadsheetID      string
	GoogleSheetName          string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string

	// Views
	SeedSampleData     bool
	PasswordResetURL   string
	WorkspaceTTL       time.Duration
	RoleCacheTTL       time.Duration
	RateLimitPerMinute int

	// Logging
	LogLevel  string
	LogFormat string
}

func Load() *Config {
	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		CookieSecure:   getEnvBool("COOKIE_SECURE", false),
		TrustedProxies: getEnvList("TRUSTED_PROXIES"),

		Backend: getEnv("BAAS_BACKEND", BackendLocal),

		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/spendwise.db"),
		JWTSecret:    getEnv("JWT_SECRET", ""),
		SessionTTL:   getEnvDuration("SESSION_TTL", 24*time.Hour),
		AdminEmail:   getEnv("ADMIN_EMAIL", ""),

		BaaSURL:     getEnv("BAAS_URL", ""),
		BaaSAnonKey: getEnv("BAAS_ANON_KEY", ""),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "spendwise.changes"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "spendwise.export"),

		GoogleSpreadsheetID:      getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleSheetName:          getEnv("GOOGLE_SHEET_NAME", ""),
		GoogleServiceAccountJSON: getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),
		GoogleServiceAccountFile: getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", ""),

		SeedSampleData:     getEnvBool("SEED_SAMPLE_DATA", false),
		PasswordResetURL:   getEnv("PASSWORD_RESET_URL", "http://localhost:8080/settings"),
		WorkspaceTTL:       getEnvDuration("WORKSPACE_TTL", 30*time.Minute),
		RoleCacheTTL:       getEnvDuration("ROLE_CACHE_TTL", 5*time.Minute),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 60),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}

	return cfg
}

// Validate checks the settings the web app needs and returns every problem
// at once.
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	errors = append(errors, c.backendErrors()...)
	errors = append(errors, c.amqpErrors(false)...)
	errors = append(errors, c.loggingErrors()...)

	if u, err := url.Parse(c.PasswordResetURL); err != nil || u.Scheme == "" || u.Host == "" {
		errors = append(errors, fmt.Sprintf("invalid password reset URL '%s': must be absolute", c.PasswordResetURL))
	}

	for _, cidr := range c.TrustedProxies {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			errors = append(errors, fmt.Sprintf("invalid trusted proxy '%s': must be a CIDR", cidr))
		}
	}

	if c.WorkspaceTTL < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid workspace TTL %v: must be at least 1 minute", c.WorkspaceTTL))
	}
	if c.RoleCacheTTL < time.Second {
		errors = append(errors, fmt.Sprintf("invalid role cache TTL %v: must be at least 1 second", c.RoleCacheTTL))
	} else if c.RoleCacheTTL > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid role cache TTL %v: must be at most 24 hours", c.RoleCacheTTL))
	}
	if c.RateLimitPerMinute < 1 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must be at least 1 per minute", c.RateLimitPerMinute))
	}

	return joinErrors(errors)
}

// ValidateExporter checks the settings the Sheets exporter needs.
func (c *Config) ValidateExporter() error {
	var errors []string

	if c.AMQPURL == "" {
		errors = append(errors, "AMQP_URL is required for the exporter")
	}
	errors = append(errors, c.amqpErrors(true)...)
	errors = append(errors, c.loggingErrors()...)

	if c.GoogleSpreadsheetID == "" {
		errors = append(errors, "Google Spreadsheet ID is required for the exporter")
	}
	if c.GoogleSheetName == "" {
		errors = append(errors, "Google Sheet name is required for the exporter")
	}

	hasFile := c.GoogleServiceAccountFile != ""
	hasJSON := c.GoogleServiceAccountJSON != ""
	if !hasFile && !hasJSON {
		errors = append(errors, "either GOOGLE_SERVICE_ACCOUNT_FILE or GOOGLE_SERVICE_ACCOUNT_JSON must be provided for the exporter")
	}
	if hasFile {
		if _, err := os.Stat(c.GoogleServiceAccountFile); os.IsNotExist(err) {
			errors = append(errors, fmt.Sprintf("Google service account file does not exist: %s", c.GoogleServiceAccountFile))
		}
	}

	return joinErrors(errors)
}

// ValidateLocal checks only what opening the local backend needs, for the
// admin CLI.
func (c *Config) ValidateLocal() error {
	var errors []string
	if c.SQLiteDBPath == "" {
		errors = append(errors, "SQLite database path cannot be empty when using local backend")
	}
	if len(c.JWTSecret) < minJWTSecretLen {
		errors = append(errors, fmt.Sprintf("JWT_SECRET must be at least %d bytes when using local backend", minJWTSecretLen))
	}
	return joinErrors(errors)
}

func (c *Config) backendErrors() []string {
	var errors []string
	switch c.Backend {
	case BackendLocal:
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using local backend")
		}
		if len(c.JWTSecret) < minJWTSecretLen {
			errors = append(errors, fmt.Sprintf("JWT_SECRET must be at least %d bytes when using local backend", minJWTSecretLen))
		}
		if c.SessionTTL < time.Minute {
			errors = append(errors, fmt.Sprintf("invalid session TTL %v: must be at least 1 minute", c.SessionTTL))
		}
		if c.AdminEmail != "" && !strings.Contains(c.AdminEmail, "@") {
			errors = append(errors, fmt.Sprintf("invalid admin email '%s'", c.AdminEmail))
		}
	case BackendHosted:
		if c.BaaSURL == "" {
			errors = append(errors, "BAAS_URL is required when using hosted backend")
		} else if u, err := url.Parse(c.BaaSURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid BaaS URL '%s': %v", c.BaaSURL, err))
		} else if u.Scheme != "http" && u.Scheme != "https" {
			errors = append(errors, fmt.Sprintf("invalid BaaS URL scheme '%s': must be 'http' or 'https'", u.Scheme))
		}
		if c.BaaSAnonKey == "" {
			errors = append(errors, "BAAS_ANON_KEY is required when using hosted backend")
		}
	default:
		errors = append(errors, fmt.Sprintf("invalid backend '%s': must be one of [%s %s]", c.Backend, BackendLocal, BackendHosted))
	}
	return errors
}

func (c *Config) amqpErrors(needQueue bool) []string {
	if c.AMQPURL == "" {
		return nil
	}
	var errors []string
	if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
		errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
	} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
		errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
	}
	if c.AMQPExchange == "" {
		errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
	}
	if needQueue && c.AMQPQueue == "" {
		errors = append(errors, "AMQP queue name cannot be empty for the exporter")
	}
	return errors
}

func (c *Config) loggingErrors() []string {
	var errors []string
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of [debug info warn error]", c.LogLevel))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be 'text' or 'json'", c.LogFormat))
	}
	return errors
}

func joinErrors(errors []string) error {
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated variable, dropping empty entries.
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
