// Package service provides the business logic layer (use cases).
// Ledger is the single writer of the household aggregate: the pending-task
// workflow, point movements, the catalogs and bulk data operations all go
// through it.
package service

import (
	"context"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/boddenberg/habit-hero-go/internal/domain"
	"github.com/boddenberg/habit-hero-go/internal/infra/cache"
	"github.com/boddenberg/habit-hero-go/internal/infra/observability"
	"github.com/boddenberg/habit-hero-go/internal/infra/resilience"
	"github.com/boddenberg/habit-hero-go/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var ledgerTracer = otel.Tracer("service/ledger")

// Ledger owns the in-memory aggregate and keeps it consistent with the store.
//
// The aggregate is copy-on-write: a mutation builds a new *domain.AppData whose
// changed slices are freshly allocated, then swaps it in under mu. Readers holding
// the previous pointer keep a consistent view.
type Ledger struct {
	store     port.LedgerStore
	ids       port.IDGenerator
	completed port.Cache[[]string]
	admin     *AdminGuard
	metrics   *observability.Metrics
	logger    *zap.Logger

	now   func() time.Time
	loc   *time.Location
	retry resilience.Config
	rng   *rand.Rand

	mu      sync.RWMutex
	data    *domain.AppData
	version uint64

	writer *settingsWriter
	reload singleflight.Group
}

// LedgerOption configures a Ledger.
type LedgerOption func(*ledgerOptions)

type ledgerOptions struct {
	now          func() time.Time
	loc          *time.Location
	retry        resilience.Config
	cache        port.Cache[[]string]
	admin        *AdminGuard
	rng          *rand.Rand
	writeTimeout time.Duration
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) LedgerOption {
	return func(o *ledgerOptions) { o.now = now }
}

// WithLocation sets the location whose calendar day "today" refers to.
func WithLocation(loc *time.Location) LedgerOption {
	return func(o *ledgerOptions) { o.loc = loc }
}

// WithRetry sets the retry policy for durable writes.
func WithRetry(cfg resilience.Config) LedgerOption {
	return func(o *ledgerOptions) { o.retry = cfg }
}

// WithCompletedCache sets the memo for completed-today results.
func WithCompletedCache(c port.Cache[[]string]) LedgerOption {
	return func(o *ledgerOptions) { o.cache = c }
}

// WithAdminGuard sets the guard consulted by ResetAll.
func WithAdminGuard(g *AdminGuard) LedgerOption {
	return func(o *ledgerOptions) { o.admin = g }
}

// WithRand sets the random source used for synthetic data.
func WithRand(r *rand.Rand) LedgerOption {
	return func(o *ledgerOptions) { o.rng = r }
}

// WithSettingsWriteTimeout bounds each asynchronous settings write.
func WithSettingsWriteTimeout(d time.Duration) LedgerOption {
	return func(o *ledgerOptions) { o.writeTimeout = d }
}

// NewLedger creates a ledger over store. It starts the settings writer; call Load
// before serving and Close on shutdown.
func NewLedger(store port.LedgerStore, ids port.IDGenerator, metrics *observability.Metrics, logger *zap.Logger, opts ...LedgerOption) *Ledger {
	o := ledgerOptions{
		now:          time.Now,
		loc:          time.Local,
		retry:        resilience.Config{MaxRetries: 3, InitialBackoff: 50 * time.Millisecond},
		admin:        NewAdminGuard("", ""),
		writeTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.cache == nil {
		o.cache = cache.New[[]string](5 * time.Minute)
	}
	if o.rng == nil {
		o.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	l := &Ledger{
		store:     store,
		ids:       ids,
		completed: o.cache,
		admin:     o.admin,
		metrics:   metrics,
		logger:    logger,
		now:       o.now,
		loc:       o.loc,
		retry:     o.retry,
		rng:       o.rng,
		data:      domain.DefaultAppData(),
	}
	l.writer = newSettingsWriter(store, o.retry, o.writeTimeout, metrics, logger)
	l.writer.start()
	return l
}

// Load replaces the in-memory aggregate with the store's contents.
func (l *Ledger) Load(ctx context.Context) error {
	return l.Reload(ctx)
}

// Reload re-reads the store. Pending settings are flushed first so the store
// reflects every acknowledged change. Concurrent calls share one load.
func (l *Ledger) Reload(ctx context.Context) error {
	_, err, shared := l.reload.Do("reload", func() (any, error) {
		return nil, l.reloadLocked(ctx)
	})
	if shared {
		l.logger.Debug("ledger: reload shared with concurrent caller")
	}
	return err
}

func (l *Ledger) reloadLocked(ctx context.Context) error {
	ctx, span := ledgerTracer.Start(ctx, "Ledger.Reload")
	defer span.End()
	start := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.writer.Flush(ctx); err != nil {
		l.logger.Warn("ledger: settings flush before reload failed", zap.Error(err))
	}

	var data *domain.AppData
	err := resilience.RetryWithBackoff(ctx, l.retry, func() error {
		var loadErr error
		data, loadErr = l.store.LoadAll(ctx)
		return loadErr
	})
	if err != nil {
		l.metrics.IncrPersistenceFailure(observability.OpReload)
		l.metrics.RecordOperation(observability.OpReload, observability.OutcomePersistence, time.Since(start))
		return &domain.ErrPersistence{Op: observability.OpReload, Err: err}
	}
	data.Normalize()
	l.swap(data)

	span.SetAttributes(attribute.Int("ledger.transactions", len(data.Transactions)))
	l.metrics.RecordOperation(observability.OpReload, observability.OutcomeOK, time.Since(start))
	l.logger.Info("ledger loaded",
		zap.Int("total_points", data.TotalPoints),
		zap.Int("pending_tasks", len(data.PendingTasks)),
		zap.Int("transactions", len(data.Transactions)),
	)
	return nil
}

// Close stops the settings writer after a final flush.
func (l *Ledger) Close(ctx context.Context) error {
	if c, ok := l.completed.(interface{ Close() }); ok {
		c.Close()
	}
	return l.writer.Close(ctx)
}

// Flush blocks until the latest settings snapshot has been written. It returns
// the write error, if any.
func (l *Ledger) Flush(ctx context.Context) error {
	return l.writer.Flush(ctx)
}

// Ping checks the backing store.
func (l *Ledger) Ping(ctx context.Context) error {
	return l.store.Ping(ctx)
}

// ============================================================
// Reads
// ============================================================

// Snapshot returns a deep copy of the aggregate.
func (l *Ledger) Snapshot() *domain.AppData {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.data.Clone()
}

// PublicState returns the child-facing view: no PIN, no history.
func (l *Ledger) PublicState() *domain.PublicState {
	l.mu.RLock()
	d := l.data
	l.mu.RUnlock()

	return &domain.PublicState{
		ChildName:    d.ChildName,
		TotalPoints:  d.TotalPoints,
		Avatar:       d.Avatar,
		Habits:       slices.Clone(d.Habits),
		Rewards:      slices.Clone(d.Rewards),
		Deductions:   slices.Clone(d.Deductions),
		PendingTasks: slices.Clone(d.PendingTasks),
	}
}

// TotalPoints returns the current balance.
func (l *Ledger) TotalPoints() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.data.TotalPoints
}

// Transactions returns one page of the newest-first history and the total count.
// page is 1-based.
func (l *Ledger) Transactions(page, pageSize int) ([]domain.Transaction, int) {
	l.mu.RLock()
	txs := l.data.Transactions
	l.mu.RUnlock()

	total := len(txs)
	from := (page - 1) * pageSize
	if page < 1 || pageSize < 1 || from >= total {
		return []domain.Transaction{}, total
	}
	to := min(from+pageSize, total)
	return slices.Clone(txs[from:to]), total
}

// CompletedToday returns the sorted IDs of habits claimed or credited today.
// Results are memoised per aggregate version and calendar day.
func (l *Ledger) CompletedToday(ctx context.Context) []string {
	_, span := ledgerTracer.Start(ctx, "Ledger.CompletedToday")
	defer span.End()

	l.mu.RLock()
	d, version := l.data, l.version
	l.mu.RUnlock()

	now := l.now().In(l.loc)
	key := fmt.Sprintf("%d|%s", version, now.Format(time.DateOnly))
	if ids, ok := l.completed.Get(key); ok {
		l.metrics.IncrCacheHit(observability.CacheCompleted)
		return slices.Clone(ids)
	}
	l.metrics.IncrCacheMiss(observability.CacheCompleted)

	done := domain.CompletedToday(domain.CompletionInput{
		Habits:             d.Habits,
		PendingTasks:       d.PendingTasks,
		Transactions:       d.Transactions,
		Now:                now,
		TransactionsSorted: true,
	})
	ids := make([]string, 0, len(done))
	for id := range done {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	l.completed.Set(key, ids)
	span.SetAttributes(attribute.Int("habits.completed", len(ids)))
	return slices.Clone(ids)
}

// HabitsToday lists the habit catalog with each habit's completed flag.
func (l *Ledger) HabitsToday(ctx context.Context) []domain.HabitStatus {
	done := l.CompletedToday(ctx)

	l.mu.RLock()
	habits := l.data.Habits
	l.mu.RUnlock()

	out := make([]domain.HabitStatus, 0, len(habits))
	for _, h := range habits {
		_, completed := slices.BinarySearch(done, h.ID)
		out = append(out, domain.HabitStatus{Habit: h, Completed: completed})
	}
	return out
}

// ============================================================
// Internal helpers (callers hold mu)
// ============================================================

// next returns a shallow copy of the aggregate for a mutation to edit. Slices
// must be replaced, never written through.
func (l *Ledger) next() *domain.AppData {
	n := *l.data
	return &n
}

// commit installs next and queues its settings for the writer.
func (l *Ledger) commit(next *domain.AppData) {
	l.swap(next)
	l.writer.Submit(next.Settings())
}

// swap installs next without queueing a settings write.
func (l *Ledger) swap(next *domain.AppData) {
	l.data = next
	l.version++
	l.metrics.SetLedgerGauges(next.TotalPoints, len(next.PendingTasks))
}

// appendDurably writes tx to the store with retries. Nothing in memory changes here.
func (l *Ledger) appendDurably(ctx context.Context, op string, tx domain.Transaction) error {
	err := resilience.RetryWithBackoff(ctx, l.retry, func() error {
		return l.store.AppendTransaction(ctx, tx)
	})
	if err != nil {
		l.metrics.IncrPersistenceFailure(op)
		l.logger.Error("ledger: transaction not persisted",
			zap.String("op", op),
			zap.String("transaction_id", tx.ID),
			zap.Int("amount", tx.Amount),
			zap.Error(err),
		)
		return &domain.ErrPersistence{Op: op, Err: err}
	}
	l.metrics.IncrTransactions(string(tx.Type), 1)
	return nil
}

// timestamp returns the current instant at the persisted precision.
func (l *Ledger) timestamp() time.Time {
	return l.now().Truncate(time.Millisecond)
}

func (l *Ledger) checkPin(pin string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return constantTimeEqual(pin, l.data.ParentPin)
}

// outcomeOf classifies err for the operations counter.
func outcomeOf(err error) string {
	switch {
	case err == nil:
		return observability.OutcomeOK
	case isErr[*domain.ErrInsufficientPoints](err):
		return observability.OutcomeInsufficient
	case isErr[*domain.ErrNotFound](err):
		return observability.OutcomeNotFound
	case isErr[*domain.ErrValidation](err):
		return observability.OutcomeInvalid
	default:
		return observability.OutcomePersistence
	}
}

func withoutIndex[T any](s []T, i int) []T {
	out := make([]T, 0, len(s)-1)
	out = append(out, s[:i]...)
	return append(out, s[i+1:]...)
}

func appendCopy[T any](s []T, v T) []T {
	return append(slices.Clip(s), v)
}
