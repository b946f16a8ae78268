package backend

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"spendwise/internal/baas"
	"spendwise/internal/config"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestFromAppConfig(t *testing.T) {
	if _, err := FromAppConfig(nil); err == nil {
		t.Error("nil config should fail")
	}

	cfg := &config.Config{Backend: "memory"}
	if _, err := FromAppConfig(cfg); err == nil {
		t.Error("unknown backend should fail")
	}

	cfg = &config.Config{
		Backend:      "local",
		SQLiteDBPath: "./x.db",
		JWTSecret:    testSecret,
		SessionTTL:   time.Hour,
		AMQPURL:      "amqp://localhost/",
		AMQPExchange: "ex",
		AMQPQueue:    "q",
	}
	got, err := FromAppConfig(cfg)
	if err != nil {
		t.Fatalf("FromAppConfig() error = %v", err)
	}
	if got.Type != LocalBackend || got.SQLiteDBPath != "./x.db" || got.SessionTTL != time.Hour || got.AMQPQueue != "q" {
		t.Errorf("FromAppConfig() = %+v", got)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{"valid local", Config{Type: LocalBackend, SQLiteDBPath: "x.db", JWTSecret: testSecret}, ""},
		{"valid hosted", Config{Type: HostedBackend, BaaSURL: "https://x.example", BaaSAnonKey: "k"}, ""},
		{"bad type", Config{Type: "sheets"}, "invalid backend type"},
		{"local without path", Config{Type: LocalBackend, JWTSecret: testSecret}, "SQLite database path"},
		{"local without secret", Config{Type: LocalBackend, SQLiteDBPath: "x.db"}, "JWT secret"},
		{"hosted without key", Config{Type: HostedBackend, BaaSURL: "https://x.example"}, "anon key"},
		{"relay without exchange", Config{Type: HostedBackend, BaaSURL: "https://x.example", BaaSAnonKey: "k", AMQPURL: "amqp://x/"}, "AMQP exchange"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestCreateLocalBackend(t *testing.T) {
	f := NewFactory(nil, nil)
	res, err := f.CreateBackend(context.Background(), Config{
		Type:         LocalBackend,
		SQLiteDBPath: filepath.Join(t.TempDir(), "data", "spendwise.db"),
		JWTSecret:    testSecret,
	})
	if err != nil {
		t.Fatalf("CreateBackend() error = %v", err)
	}
	defer res.Cleanup()

	if res.Local == nil || res.Relay != nil {
		t.Errorf("local result = %+v", res)
	}
	if err := res.Client.Ping(context.Background()); err != nil {
		t.Errorf("Ping() = %v", err)
	}
}

func TestCreateHostedBackendWithoutRelay(t *testing.T) {
	f := NewFactory(nil, nil)
	res, err := f.CreateBackend(context.Background(), Config{
		Type:        HostedBackend,
		BaaSURL:     "https://project.example.co",
		BaaSAnonKey: "anon",
	})
	if err != nil {
		t.Fatalf("CreateBackend() error = %v", err)
	}
	defer res.Cleanup()

	if res.Local != nil {
		t.Error("hosted result should not expose a local backend")
	}
	_, err = res.Client.Realtime().Subscribe(context.Background(), "transactions", nil, func(baas.ChangeEvent) {})
	if !errors.Is(err, baas.ErrRealtimeDisabled) {
		t.Errorf("Subscribe() error = %v, want ErrRealtimeDisabled", err)
	}
}

func TestCreateBackendRejectsInvalidConfig(t *testing.T) {
	f := NewFactory(nil, nil)
	if _, err := f.CreateBackend(context.Background(), Config{Type: "memory"}); err == nil {
		t.Error("CreateBackend() should reject an unknown type")
	}
}
