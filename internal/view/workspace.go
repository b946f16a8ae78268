package view

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"spendwise/internal/baas"
	"spendwise/internal/core"
	applog "spendwise/internal/log"
	"spendwise/internal/metrics"
	"spendwise/internal/placeholder"
)

// ErrSampleRow rejects edits of placeholder rows, which exist only locally.
var ErrSampleRow = errors.New("sample rows cannot be changed")

// Workspace is one user's wallet state: transactions, limits and
// subscriptions, plus the realtime subscription keeping transactions
// current for limit progress.
type Workspace struct {
	userID string
	client baas.Client

	Transactions  *Collection[core.Transaction]
	Limits        *Collection[core.Limit]
	Subscriptions *Collection[core.Subscription]

	samples *placeholder.Provider
	metrics *metrics.Metrics
	log     *applog.Logger
	slog    *applog.StructuredLogger
	now     func() time.Time

	mu     sync.Mutex
	sub    baas.Subscription
	closed bool
}

// WorkspaceOptions configures a workspace.
type WorkspaceOptions struct {
	Samples *placeholder.Provider
	// Seed writes the sample rows into a first-time user's empty tables.
	Seed    bool
	Metrics *metrics.Metrics
	Logger  *applog.Logger
	Now     func() time.Time
}

func ownedQuery(userID string) baas.Query {
	return baas.From().Where(baas.Eq("user_id", userID)).Newest()
}

func newWorkspace(client baas.Client, userID string, opts WorkspaceOptions) *Workspace {
	if opts.Samples == nil {
		opts.Samples = placeholder.New()
	}
	if opts.Logger == nil {
		opts.Logger = applog.New(applog.DefaultConfig())
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	q := ownedQuery(userID)
	logger := opts.Logger.WithComponent(applog.ComponentView).With(applog.FieldUserID, userID)
	return &Workspace{
		userID:        userID,
		client:        client,
		Transactions:  NewCollection(core.TableTransactions, q, func(t core.Transaction) string { return t.ID }),
		Limits:        NewCollection(core.TableLimits, q, func(l core.Limit) string { return l.ID }),
		Subscriptions: NewCollection(core.TableSubscriptions, q, func(s core.Subscription) string { return s.ID }),
		samples:       opts.Samples,
		metrics:       opts.Metrics,
		log:           logger,
		slog:          applog.NewStructuredLogger(logger),
		now:           opts.Now,
	}
}

// open loads all three tables concurrently and subscribes to transaction
// changes. Read failures fall back to placeholders and are logged, never
// returned.
func (w *Workspace) open(ctx context.Context, seed bool) {
	var (
		txs                   []core.Transaction
		lims                  []core.Limit
		subs                  []core.Subscription
		txErr, limErr, subErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { txs, txErr = w.Transactions.Fetch(gctx, w.client); return nil })
	g.Go(func() error { lims, limErr = w.Limits.Fetch(gctx, w.client); return nil })
	g.Go(func() error { subs, subErr = w.Subscriptions.Fetch(gctx, w.client); return nil })
	_ = g.Wait()

	firstTime := txErr == nil && limErr == nil && subErr == nil &&
		len(txs) == 0 && len(lims) == 0 && len(subs) == 0
	if seed && firstTime {
		if err := w.seed(ctx); err != nil {
			w.log.WarnContext(ctx, "Seeding sample data failed", applog.FieldError, err)
		} else {
			return
		}
	}

	settle(w, w.Transactions, txs, txErr, w.samples.Transactions)
	settle(w, w.Limits, lims, limErr, w.samples.Limits)
	settle(w, w.Subscriptions, subs, subErr, w.samples.Subscriptions)

	w.subscribe(ctx)
}

func settle[T any](w *Workspace, c *Collection[T], rows []T, err error, samples func() []T) {
	switch {
	case err != nil:
		w.log.Error("Read failed, showing sample data", applog.FieldTable, c.Table(), applog.FieldError, err)
		c.Replace(samples(), true)
	case len(rows) == 0:
		c.Replace(samples(), true)
	default:
		c.Replace(rows, false)
	}
}

// seed inserts the starter rows for every resource and loads them back.
func (w *Workspace) seed(ctx context.Context) error {
	s := w.samples.Seed(w.userID)
	steps := []struct {
		table string
		rows  any
	}{
		{core.TableTransactions, s.Transactions},
		{core.TableLimits, s.Limits},
		{core.TableSubscriptions, s.Subscriptions},
	}
	var seeded []string
	for _, step := range steps {
		if err := w.client.Insert(ctx, step.table, step.rows); err != nil {
			// Rows already written stay; the next load sees a non-empty
			// table and does not seed again.
			if len(seeded) > 0 {
				w.log.WarnContext(ctx, "Sample data partially seeded",
					"seeded", strings.Join(seeded, ","), applog.FieldTable, step.table)
			}
			return fmt.Errorf("seed %s: %w", step.table, err)
		}
		seeded = append(seeded, step.table)
	}
	w.log.InfoContext(ctx, "Seeded sample data for first-time user", "seeded", strings.Join(seeded, ","))

	w.Transactions.Replace(s.Transactions, false)
	w.Limits.Replace(s.Limits, false)
	w.Subscriptions.Replace(s.Subscriptions, false)
	w.subscribe(ctx)
	return nil
}

func (w *Workspace) subscribe(ctx context.Context) {
	filter := baas.Eq("user_id", w.userID)
	sub, err := w.client.Realtime().Subscribe(ctx, core.TableTransactions, &filter, w.onChange)
	if err != nil {
		if errors.Is(err, baas.ErrRealtimeDisabled) {
			w.log.DebugContext(ctx, "Realtime disabled, limits refresh on reload")
		} else {
			w.log.WarnContext(ctx, "Realtime subscribe failed", applog.FieldError, err)
		}
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		sub.Unsubscribe()
		return
	}
	w.sub = sub
}

func (w *Workspace) onChange(ev baas.ChangeEvent) {
	if err := w.Transactions.Apply(ev); err != nil {
		w.log.Warn("Dropping change event", applog.FieldEventType, string(ev.Type), applog.FieldError, err)
		return
	}
	w.metrics.RealtimeEvent(ev.Table, string(ev.Type))
}

// Close releases the realtime subscription. It is idempotent.
func (w *Workspace) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if w.sub != nil {
		return w.sub.Unsubscribe()
	}
	return nil
}

func (w *Workspace) UserID() string { return w.userID }

// Reload re-reads every table.
func (w *Workspace) Reload(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rows, err := w.Transactions.Fetch(gctx, w.client)
		settle(w, w.Transactions, rows, err, w.samples.Transactions)
		return nil
	})
	g.Go(func() error {
		rows, err := w.Limits.Fetch(gctx, w.client)
		settle(w, w.Limits, rows, err, w.samples.Limits)
		return nil
	})
	g.Go(func() error {
		rows, err := w.Subscriptions.Fetch(gctx, w.client)
		settle(w, w.Subscriptions, rows, err, w.samples.Subscriptions)
		return nil
	})
	_ = g.Wait()
}

// LimitSummaries derives this month's progress for every limit from the
// locally held transactions. Stored limits never count sample spend.
func (w *Workspace) LimitSummaries() []core.LimitSummary {
	var txs []core.Transaction
	if !w.Transactions.Sample() || w.Limits.Sample() {
		txs = w.Transactions.Items()
	}
	return core.SummarizeAll(w.Limits.Items(), txs, w.now())
}

// Totals aggregates the held transactions for the dashboard.
func (w *Workspace) Totals() core.Totals {
	return core.ComputeTotals(w.Transactions.Items())
}

// Latest returns up to n newest transactions.
func (w *Workspace) Latest(n int) []core.Transaction {
	items := w.Transactions.Items()
	if len(items) > n {
		items = items[:n]
	}
	return items
}

// SubscriptionTotal sums monthly subscription cost per currency.
func (w *Workspace) SubscriptionTotal() map[string]decimal.Decimal {
	out := map[string]decimal.Decimal{}
	for _, s := range w.Subscriptions.Items() {
		out[s.Currency] = out[s.Currency].Add(s.Amount)
	}
	return out
}

func (w *Workspace) failed(ctx context.Context, resource, op, rowID string, err error) error {
	w.metrics.WriteFailed(resource)
	w.slog.LogWriteFailed(ctx, resource, op, w.userID, rowID, err)
	return err
}

// AddTransaction validates and stores a new transaction.
func (w *Workspace) AddTransaction(ctx context.Context, amount decimal.Decimal, typ core.TransactionType, description, category string) (core.Transaction, error) {
	tx := core.NewTransaction(w.userID, amount, typ, description, category, w.now())
	if err := tx.Validate(); err != nil {
		return core.Transaction{}, err
	}
	if err := w.Transactions.Add(ctx, w.client, tx); err != nil {
		return core.Transaction{}, w.failed(ctx, core.TableTransactions, applog.OpCreate, tx.ID, err)
	}
	return tx, nil
}

func (w *Workspace) AddLimit(ctx context.Context, category string, amount decimal.Decimal) (core.Limit, error) {
	l := core.NewLimit(w.userID, category, amount, w.now())
	if err := l.Validate(); err != nil {
		return core.Limit{}, err
	}
	if err := w.Limits.Add(ctx, w.client, l); err != nil {
		return core.Limit{}, w.failed(ctx, core.TableLimits, applog.OpCreate, l.ID, err)
	}
	return l, nil
}

// EditLimit changes a limit's category and ceiling.
func (w *Workspace) EditLimit(ctx context.Context, id, category string, amount decimal.Decimal) error {
	if placeholder.IsSample(id) {
		return ErrSampleRow
	}
	next := core.NewLimit(w.userID, category, amount, w.now())
	if err := next.Validate(); err != nil {
		return err
	}
	values := map[string]any{
		"category":     next.Category,
		"category_key": next.CategoryKey,
		"amount":       next.Amount,
	}
	err := w.Limits.Edit(ctx, w.client, id, values, func(l *core.Limit) {
		l.Category, l.CategoryKey, l.Amount = next.Category, next.CategoryKey, next.Amount
	})
	if err != nil {
		return w.failed(ctx, core.TableLimits, applog.OpUpdate, id, err)
	}
	return nil
}

func (w *Workspace) DeleteLimit(ctx context.Context, id string) error {
	if placeholder.IsSample(id) {
		return ErrSampleRow
	}
	if err := w.Limits.Remove(ctx, w.client, id); err != nil {
		return w.failed(ctx, core.TableLimits, applog.OpDelete, id, err)
	}
	return nil
}

func (w *Workspace) AddSubscription(ctx context.Context, name string, amount decimal.Decimal, currency string) (core.Subscription, error) {
	s := core.NewSubscription(w.userID, name, amount, currency, w.now())
	if err := s.Validate(); err != nil {
		return core.Subscription{}, err
	}
	if err := w.Subscriptions.Add(ctx, w.client, s); err != nil {
		return core.Subscription{}, w.failed(ctx, core.TableSubscriptions, applog.OpCreate, s.ID, err)
	}
	return s, nil
}

func (w *Workspace) DeleteSubscription(ctx context.Context, id string) error {
	if placeholder.IsSample(id) {
		return ErrSampleRow
	}
	if err := w.Subscriptions.Remove(ctx, w.client, id); err != nil {
		return w.failed(ctx, core.TableSubscriptions, applog.OpDelete, id, err)
	}
	return nil
}
