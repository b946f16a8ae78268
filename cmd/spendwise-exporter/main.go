package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"spendwise/internal/amqp"
	"spendwise/internal/cache"
	"spendwise/internal/cli"
	"spendwise/internal/config"
	applog "spendwise/internal/log"
	"spendwise/internal/metrics"
	"spendwise/internal/services"
	"spendwise/internal/sheets/google"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code.
func run() int {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(applog.ComponentExport)
	logger.Info("Starting spendwise-exporter")

	cfg := cli.LoadAndValidateConfig(logger, (*config.Config).ValidateExporter)
	m := metrics.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	writer, err := google.New(ctx, google.Config{
		SpreadsheetID:   cfg.GoogleSpreadsheetID,
		SheetName:       cfg.GoogleSheetName,
		CredentialsJSON: cfg.GoogleServiceAccountJSON,
		CredentialsFile: cfg.GoogleServiceAccountFile,
	})
	if err != nil {
		logger.Error("Failed to initialize Google Sheets client", "error", err)
		return 1
	}
	if err := writer.EnsureHeader(ctx); err != nil {
		logger.Error("Failed to prepare export sheet", "error", err, "sheet", cfg.GoogleSheetName)
		return 1
	}

	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		return 1
	}
	defer client.Close()
	client.WithMetrics(m)

	processor := services.NewExportProcessor(client, writer, services.DefaultExportProcessorConfig(), m, logger)

	caches := cache.NewManager()
	processor.Register(caches)
	caches.StartCleanup(10 * time.Minute)
	defer caches.Stop()

	if err := processor.Start(ctx); err != nil {
		logger.Error("Failed to start export processor", "error", err)
		return 1
	}

	logger.Info("Exporter running",
		"exchange", cfg.AMQPExchange,
		"queue", cfg.AMQPQueue,
		"spreadsheet_id", cfg.GoogleSpreadsheetID)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", "signal", sig.String())
	case <-processor.Done():
		if err := processor.Err(); err != nil {
			logger.Error("Export processor stopped", "error", err)
			exitCode = 1
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := processor.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping export processor", "error", err)
	}

	logger.Info("spendwise-exporter stopped")
	return exitCode
}
