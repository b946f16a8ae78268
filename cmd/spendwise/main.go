package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"spendwise/internal/cache"
	"spendwise/internal/cli"
	"spendwise/internal/config"
	"spendwise/internal/core"
	apphttp "spendwise/internal/http"
	applog "spendwise/internal/log"
	"spendwise/internal/metrics"
	"spendwise/internal/services"
	"spendwise/internal/session"
	"spendwise/internal/view"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(applog.ComponentApp)
	cfg := cli.LoadAndValidateConfig(logger, (*config.Config).Validate)

	m := metrics.New()

	// Without a mailer the local backend logs recovery links.
	res := cli.InitBackend(context.Background(), logger, cfg, m, nil)

	if res.Local != nil && cfg.AdminEmail != "" {
		if err := res.Local.EnsureRole(context.Background(), cfg.AdminEmail, core.RoleSuperuser); err != nil {
			logger.Warn("Could not promote admin account, register it and restart", "email", cfg.AdminEmail, "error", err)
		} else {
			logger.Info("Admin account promoted", "email", cfg.AdminEmail, "role", core.RoleSuperuser)
		}
	}

	sessions := session.New(res.Client, session.Options{
		RoleTTL:         cfg.RoleCacheTTL,
		ResetRedirectTo: cfg.PasswordResetURL,
		Logger:          logger,
	})
	workspaces := view.NewRegistry(res.Client, cfg.WorkspaceTTL, view.WorkspaceOptions{
		Seed:    cfg.SeedSampleData,
		Metrics: m,
		Logger:  logger,
	})

	caches := cache.NewManager()
	sessions.Register(caches)
	workspaces.Register(caches)
	caches.StartCleanup(time.Minute)

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Deps{
		Client:     res.Client,
		Sessions:   sessions,
		Workspaces: workspaces,
		Admin:      services.NewAdminService(res.Client, sessions, logger),
		Support:    services.NewSupportService(res.Client, logger),
		Metrics:    m,
		Logger:     logger,
	}, apphttp.Options{
		CookieSecure:       cfg.CookieSecure,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		TrustedProxies:     cfg.TrustedProxies,
	})

	ctx, done := cli.GracefulShutdown(logger.Slog(), 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		workspaces.CloseAll()
		sessions.Close()
		caches.Stop()
		if err := res.Cleanup(); err != nil {
			logger.Error("Backend cleanup error", "error", err)
		}
	})

	logger.Info("Starting spendwise server",
		"port", cfg.Port,
		"backend", cfg.Backend,
		"relay_enabled", res.Relay != nil)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
