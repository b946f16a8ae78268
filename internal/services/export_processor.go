package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"spendwise/internal/amqp"
	"spendwise/internal/baas"
	"spendwise/internal/cache"
	"spendwise/internal/core"
	applog "spendwise/internal/log"
	"spendwise/internal/metrics"
	"spendwise/internal/sheets"
)

// ChangeConsumer delivers change messages until ctx is done.
type ChangeConsumer interface {
	ConsumeChanges(ctx context.Context, handler func(context.Context, *amqp.ChangeMessage) error) error
}

// ExportProcessorConfig holds configuration for the export processor
type ExportProcessorConfig struct {
	// DedupeSize is how many recent message ids are remembered so a
	// redelivered message is not appended twice (default: 10000)
	DedupeSize int

	// DedupeTTL bounds how long an id is remembered (default: 24h)
	DedupeTTL time.Duration
}

// DefaultExportProcessorConfig returns sensible defaults
func DefaultExportProcessorConfig() ExportProcessorConfig {
	return ExportProcessorConfig{
		DedupeSize: 10000,
		DedupeTTL:  24 * time.Hour,
	}
}

// ExportProcessor appends every transaction change from the relay queue to
// a spreadsheet.
type ExportProcessor struct {
	consumer ChangeConsumer
	writer   sheets.ChangeWriter
	seen     *cache.LRUCache[struct{}]
	metrics  *metrics.Metrics
	log      *applog.Logger

	// Lifecycle management
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	doneCh  chan struct{}
	err     error
}

func NewExportProcessor(consumer ChangeConsumer, writer sheets.ChangeWriter, config ExportProcessorConfig, m *metrics.Metrics, logger *applog.Logger) *ExportProcessor {
	def := DefaultExportProcessorConfig()
	if config.DedupeSize <= 0 {
		config.DedupeSize = def.DedupeSize
	}
	if config.DedupeTTL <= 0 {
		config.DedupeTTL = def.DedupeTTL
	}
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	return &ExportProcessor{
		consumer: consumer,
		writer:   writer,
		seen:     cache.NewLRUCache[struct{}](config.DedupeSize, config.DedupeTTL),
		metrics:  m,
		log:      logger.WithComponent(applog.ComponentExport),
	}
}

// Register hands the dedupe cache to the cleanup manager.
func (p *ExportProcessor) Register(m *cache.Manager) {
	m.Register(p.seen)
}

// Start begins consuming. Returns an error if already running.
func (p *ExportProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return fmt.Errorf("export processor is already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	p.running = true
	p.cancel = cancel
	p.doneCh = make(chan struct{})
	p.err = nil

	go p.run(ctx)

	p.log.InfoContext(ctx, "Export processor started")
	return nil
}

func (p *ExportProcessor) run(ctx context.Context) {
	err := p.consumer.ConsumeChanges(ctx, p.Handle)

	p.mu.Lock()
	if err != nil && !errors.Is(err, context.Canceled) {
		p.err = err
		p.log.Error("Change consumption failed", applog.FieldError, err)
	}
	p.running = false
	done := p.doneCh
	p.mu.Unlock()
	close(done)
}

// Stop cancels consumption and waits for the current message to finish.
func (p *ExportProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	cancel, done := p.cancel, p.doneCh
	p.mu.Unlock()

	cancel()

	select {
	case <-done:
		p.log.InfoContext(ctx, "Export processor stopped gracefully")
		return nil
	case <-ctx.Done():
		p.log.WarnContext(ctx, "Export processor stop timed out")
		return ctx.Err()
	}
}

// Done is closed when consumption ends, on Stop or on a fatal error.
func (p *ExportProcessor) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.doneCh
}

// Err reports why consumption ended, nil after a clean Stop.
func (p *ExportProcessor) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// IsRunning returns whether the processor is currently running
func (p *ExportProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Handle appends one change. Returning an error requeues the message.
func (p *ExportProcessor) Handle(ctx context.Context, msg *amqp.ChangeMessage) error {
	if msg.Table != core.TableTransactions {
		p.metrics.Exported("skipped")
		return nil
	}
	if _, dup := p.seen.Get(msg.ID); dup {
		p.log.DebugContext(ctx, "Skipping redelivered change", "message_id", msg.ID)
		p.metrics.Exported("skipped")
		return nil
	}

	row, err := ChangeRowFrom(msg)
	if err != nil {
		// Not retryable; ack and move on.
		p.log.ErrorContext(ctx, "Dropping undecodable change", "message_id", msg.ID, applog.FieldError, err)
		p.metrics.Exported("skipped")
		return nil
	}

	ref, err := p.writer.AppendChange(ctx, row)
	if err != nil {
		p.metrics.Exported("error")
		return fmt.Errorf("append change %s: %w", msg.ID, err)
	}
	p.seen.Set(msg.ID, struct{}{})
	p.metrics.Exported("ok")
	p.log.InfoContext(ctx, "Exported transaction change",
		"message_id", msg.ID,
		applog.FieldEventType, string(msg.Type),
		applog.FieldRowID, row.TransactionID,
		"range", ref)
	return nil
}

// ChangeRowFrom flattens a transaction change message into a sheet row.
// Deletes carry the old row.
func ChangeRowFrom(msg *amqp.ChangeMessage) (sheets.ChangeRow, error) {
	var tx core.Transaction
	if err := msg.Event().Decode(&tx); err != nil {
		return sheets.ChangeRow{}, fmt.Errorf("decode transaction: %w", err)
	}
	if tx.ID == "" {
		return sheets.ChangeRow{}, fmt.Errorf("%s change without transaction id: %w", msg.Type, baas.ErrInvalidRequest)
	}
	return sheets.ChangeRow{
		EventID:       msg.ID,
		Event:         string(msg.Type),
		CommittedAt:   msg.CommittedAt,
		TransactionID: tx.ID,
		UserID:        tx.UserID,
		Type:          string(tx.Type),
		Category:      tx.Category,
		Description:   tx.Description,
		Amount:        tx.Amount,
		CreatedAt:     tx.CreatedAt,
	}, nil
}
