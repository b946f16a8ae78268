package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"spendwise/internal/amqp"
	"spendwise/internal/baas"
	"spendwise/internal/baas/local"
	"spendwise/internal/baas/rest"
	"spendwise/internal/metrics"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewFactory creates a new backend factory. m may be nil.
func NewFactory(logger *slog.Logger, m *metrics.Metrics) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{
		logger:  logger,
		metrics: m,
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case LocalBackend:
		return f.createLocalBackend(ctx, config)
	case HostedBackend:
		return f.createHostedBackend(ctx, config)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

// connectRelay dials the broker. A broker that is down is logged and the
// backend runs without a relay.
func (f *DefaultFactory) connectRelay(config Config) *amqp.Client {
	if config.AMQPURL == "" {
		return nil
	}
	client, err := amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPQueue)
	if err != nil {
		f.logger.Warn("Failed to initialize AMQP client, continuing without change relay", "error", err)
		return nil
	}
	f.logger.Info("Initialized AMQP client",
		"exchange", config.AMQPExchange,
		"queue", config.AMQPQueue)
	return client.WithMetrics(f.metrics)
}

func (f *DefaultFactory) createLocalBackend(ctx context.Context, config Config) (*BackendResult, error) {
	relay := f.connectRelay(config)

	opts := local.Options{
		DBPath:     config.SQLiteDBPath,
		JWTSecret:  config.JWTSecret,
		SessionTTL: config.SessionTTL,
		Logger:     f.logger,
		OnRecovery: config.OnRecovery,
	}
	if relay != nil {
		opts.Relay = relay
	}

	b, err := local.Open(opts)
	if err != nil {
		if relay != nil {
			relay.Close()
		}
		return nil, fmt.Errorf("failed to open local backend: %w", err)
	}
	if err := b.Ping(ctx); err != nil {
		b.Close()
		return nil, fmt.Errorf("local backend not reachable: %w", err)
	}

	f.logger.Info("Initialized local backend",
		"db_path", config.SQLiteDBPath,
		"relay_enabled", relay != nil)

	return &BackendResult{
		Client:  b,
		Local:   b,
		Relay:   relay,
		Cleanup: closeAll(b, relay),
	}, nil
}

func (f *DefaultFactory) createHostedBackend(_ context.Context, config Config) (*BackendResult, error) {
	relay := f.connectRelay(config)

	cfg := rest.Config{
		BaseURL: config.BaaSURL,
		AnonKey: config.BaaSAnonKey,
		Logger:  f.logger,
	}
	if relay != nil {
		cfg.Realtime = amqp.NewFeed(relay, f.logger)
	}

	client, err := rest.New(cfg)
	if err != nil {
		if relay != nil {
			relay.Close()
		}
		return nil, fmt.Errorf("failed to initialize hosted backend client: %w", err)
	}

	f.logger.Info("Initialized hosted backend",
		"url", config.BaaSURL,
		"realtime_enabled", relay != nil)

	return &BackendResult{
		Client:  client,
		Relay:   relay,
		Cleanup: closeAll(client, relay),
	}, nil
}

func closeAll(client baas.Client, relay *amqp.Client) CleanupFunc {
	return func() error {
		err := client.Close()
		if relay != nil {
			err = errors.Join(err, relay.Close())
		}
		return err
	}
}
