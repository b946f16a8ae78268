// Package local is an embedded implementation of the backend port on SQLite.
// It enforces the same row-level rules, auth flows, change notifications and
// procedures the hosted service provides, so the application can run with no
// external dependencies.
package local

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/bcrypt"

	"spendwise/internal/baas"

	_ "modernc.org/sqlite"
)

// timeLayout sorts lexically in the same order as the instants it encodes.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// ChangePublisher receives every committed change, for relaying to a broker.
type ChangePublisher interface {
	PublishChange(ctx context.Context, ev baas.ChangeEvent) error
}

// Options configures Open.
type Options struct {
	DBPath     string
	JWTSecret  string
	SessionTTL time.Duration
	// BcryptCost defaults to 12.
	BcryptCost int
	Logger     *slog.Logger
	Relay      ChangePublisher
	Now        func() time.Time
	// OnRecovery receives password recovery links. When nil they are logged.
	OnRecovery func(email, link string)
}

// Backend implements baas.Client.
type Backend struct {
	db     *sql.DB
	auth   *authService
	broker *broker
	log    *slog.Logger
	relay  ChangePublisher
	clock  func() time.Time
}

var _ baas.Client = (*Backend)(nil)

// Open creates the database directory, applies migrations and returns a
// ready backend.
func Open(opts Options) (*Backend, error) {
	if len(opts.JWTSecret) < 32 {
		return nil, fmt.Errorf("jwt secret must be at least 32 bytes")
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 24 * time.Hour
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = 12
	}
	if opts.BcryptCost < bcrypt.MinCost || opts.BcryptCost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d out of range", opts.BcryptCost)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	if err := os.MkdirAll(filepath.Dir(opts.DBPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	if err := RunMigrations(opts.DBPath); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	dsn := opts.DBPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One writer keeps SQLite from returning SQLITE_BUSY under load.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	b := &Backend{
		db:    db,
		log:   opts.Logger.With("component", "backend"),
		relay: opts.Relay,
		clock: opts.Now,
	}
	b.auth = newAuthService(b, opts)
	b.broker = newBroker(b)

	b.log.Info("Local backend ready", "db_path", opts.DBPath)
	return b, nil
}

func (b *Backend) now() time.Time { return b.clock().UTC() }

func (b *Backend) Auth() baas.Auth { return b.auth }

func (b *Backend) Realtime() baas.Realtime { return b.broker }

func (b *Backend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

// Close stops every subscription and closes the database.
func (b *Backend) Close() error {
	b.broker.close()
	return b.db.Close()
}

func (b *Backend) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// publish delivers committed changes to subscribers and the relay.
func (b *Backend) publish(ctx context.Context, events []baas.ChangeEvent) {
	for _, ev := range events {
		b.broker.dispatch(ev)
		if b.relay == nil {
			continue
		}
		if err := b.relay.PublishChange(ctx, ev); err != nil {
			// The write already committed; the relay is best effort.
			b.log.WarnContext(ctx, "Failed to relay change",
				"table", ev.Table, "type", string(ev.Type), "error", err)
		}
	}
}
