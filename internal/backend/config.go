package backend

import (
	"fmt"

	"spendwise/internal/config"
)

// FromAppConfig converts the application config to backend config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	backendType := BackendType(appConfig.Backend)
	if !backendType.IsValid() {
		return Config{}, fmt.Errorf("invalid backend type in config: %s", appConfig.Backend)
	}

	return Config{
		Type: backendType,

		SQLiteDBPath: appConfig.SQLiteDBPath,
		JWTSecret:    appConfig.JWTSecret,
		SessionTTL:   appConfig.SessionTTL,

		BaaSURL:     appConfig.BaaSURL,
		BaaSAnonKey: appConfig.BaaSAnonKey,

		AMQPURL:      appConfig.AMQPURL,
		AMQPExchange: appConfig.AMQPExchange,
		AMQPQueue:    appConfig.AMQPQueue,
	}, nil
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid backend type: %s", c.Type)
	}

	switch c.Type {
	case LocalBackend:
		if c.SQLiteDBPath == "" {
			return fmt.Errorf("SQLite database path is required for local backend")
		}
		if c.JWTSecret == "" {
			return fmt.Errorf("JWT secret is required for local backend")
		}
	case HostedBackend:
		if c.BaaSURL == "" {
			return fmt.Errorf("BaaS URL is required for hosted backend")
		}
		if c.BaaSAnonKey == "" {
			return fmt.Errorf("BaaS anon key is required for hosted backend")
		}
	}

	if c.AMQPURL != "" && c.AMQPExchange == "" {
		return fmt.Errorf("AMQP exchange is required when AMQP URL is set")
	}
	return nil
}

// GetBackendTypeStrings returns all valid backend type strings
func GetBackendTypeStrings() []string {
	return []string{LocalBackend.String(), HostedBackend.String()}
}
