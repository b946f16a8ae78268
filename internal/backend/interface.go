package backend

import (
	"context"
	"time"

	"spendwise/internal/amqp"
	"spendwise/internal/baas"
	"spendwise/internal/baas/local"
)

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult contains the backend client and what was wired around it.
type BackendResult struct {
	Client baas.Client
	// Local is set for the embedded backend, for bootstrap operations the
	// port does not expose.
	Local *local.Backend
	// Relay is the AMQP client when a broker was reachable.
	Relay   *amqp.Client
	Cleanup CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	// Local specific
	SQLiteDBPath string
	JWTSecret    string
	SessionTTL   time.Duration
	// OnRecovery receives password recovery links from the local backend.
	OnRecovery func(email, link string)

	// Hosted specific
	BaaSURL     string
	BaaSAnonKey string

	// Change relay, optional for both
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string
}

// BackendType represents the type of backend
type BackendType string

const (
	LocalBackend  BackendType = "local"
	HostedBackend BackendType = "hosted"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case LocalBackend, HostedBackend:
		return true
	default:
		return false
	}
}
