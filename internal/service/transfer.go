package service

import (
	"context"
	"fmt"
	"time"

	"github.com/boddenberg/habit-hero-go/internal/domain"
	"github.com/boddenberg/habit-hero-go/internal/infra/observability"
	"github.com/boddenberg/habit-hero-go/internal/infra/resilience"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	// DefaultSyntheticCount is the size of a synthetic load-test batch.
	DefaultSyntheticCount = 10_000
	// MaxBulkTransactions caps one bulk insert or synthetic batch.
	MaxBulkTransactions = 100_000

	syntheticEarnRatio = 0.6
	syntheticMinAmount = 5
	syntheticSpan      = 365 * 24 * time.Hour
)

// ============================================================
// Export / import
// ============================================================

// ExportSnapshot returns the full aggregate, history and PIN included.
func (l *Ledger) ExportSnapshot(ctx context.Context) *domain.AppData {
	_, span := ledgerTracer.Start(ctx, "Ledger.ExportSnapshot")
	defer span.End()
	return l.Snapshot()
}

// ImportJSON decodes an exported snapshot and imports it.
func (l *Ledger) ImportJSON(ctx context.Context, raw []byte) error {
	data, err := domain.DecodeSnapshot(raw)
	if err != nil {
		return err
	}
	return l.ImportSnapshot(ctx, data)
}

// ImportSnapshot replaces everything, history included. The store is replaced
// atomically first; memory follows only on success.
func (l *Ledger) ImportSnapshot(ctx context.Context, data *domain.AppData) error {
	ctx, span := ledgerTracer.Start(ctx, "Ledger.ImportSnapshot")
	defer span.End()
	start := time.Now()

	if data == nil {
		return &domain.ErrValidation{Field: "body", Message: "snapshot is required"}
	}
	next := data.Clone()
	for i := range next.Transactions {
		next.Transactions[i].Date = next.Transactions[i].Date.Truncate(time.Millisecond)
	}
	for i := range next.PendingTasks {
		next.PendingTasks[i].Timestamp = next.PendingTasks[i].Timestamp.Truncate(time.Millisecond)
	}
	next.Normalize()
	span.SetAttributes(attribute.Int("import.transactions", len(next.Transactions)))
	if err := next.Validate(); err != nil {
		l.metrics.RecordOperation(observability.OpImport, observability.OutcomeInvalid, time.Since(start))
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// A stale snapshot written after ImportAll would undo the import.
	l.writer.Discard()

	if err := l.replaceStore(ctx, observability.OpImport, func(ctx context.Context) error {
		return l.store.ImportAll(ctx, next)
	}); err != nil {
		l.metrics.RecordOperation(observability.OpImport, observability.OutcomePersistence, time.Since(start))
		return err
	}

	l.swap(next)
	l.completed.Purge()

	l.metrics.RecordOperation(observability.OpImport, observability.OutcomeOK, time.Since(start))
	l.logger.Info("snapshot imported",
		zap.Int("total_points", next.TotalPoints),
		zap.Int("transactions", len(next.Transactions)),
		zap.Int("pending_tasks", len(next.PendingTasks)),
	)
	return nil
}

// ============================================================
// Bulk insert
// ============================================================

// BulkInsertTransactions appends txs in one atomic batch. The balance is NOT
// adjusted; the result carries the batch's signed total for reconciliation.
// Entries without an ID or date get a fresh ID or the current time.
func (l *Ledger) BulkInsertTransactions(ctx context.Context, txs []domain.Transaction) (*domain.BulkInsertResult, error) {
	ctx, span := ledgerTracer.Start(ctx, "Ledger.BulkInsertTransactions")
	defer span.End()
	span.SetAttributes(attribute.Int("bulk.count", len(txs)))
	start := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	res, err := l.bulkInsertLocked(ctx, txs)
	l.metrics.RecordOperation(observability.OpBulkInsert, outcomeOf(err), time.Since(start))
	return res, err
}

func (l *Ledger) bulkInsertLocked(ctx context.Context, txs []domain.Transaction) (*domain.BulkInsertResult, error) {
	if len(txs) > MaxBulkTransactions {
		return nil, &domain.ErrValidation{Field: "transactions", Message: fmt.Sprintf("at most %d per batch", MaxBulkTransactions)}
	}
	if len(txs) == 0 {
		return &domain.BulkInsertResult{TotalPoints: l.data.TotalPoints, Transactions: len(l.data.Transactions)}, nil
	}

	seen := make(map[string]struct{}, len(l.data.Transactions)+len(txs))
	for _, tx := range l.data.Transactions {
		seen[tx.ID] = struct{}{}
	}

	batch := make([]domain.Transaction, len(txs))
	now := l.timestamp()
	for i, tx := range txs {
		if !tx.Type.Valid() {
			return nil, &domain.ErrValidation{Field: fmt.Sprintf("transactions[%d].type", i), Message: "must be earn, spend or adjust"}
		}
		if tx.Amount <= 0 {
			return nil, &domain.ErrValidation{Field: fmt.Sprintf("transactions[%d].amount", i), Message: "must be a positive integer"}
		}
		if tx.ID == "" {
			tx.ID = l.ids.NewID()
		}
		if _, dup := seen[tx.ID]; dup {
			return nil, &domain.ErrValidation{Field: fmt.Sprintf("transactions[%d].id", i), Message: "duplicate id " + tx.ID}
		}
		seen[tx.ID] = struct{}{}
		if tx.Date.IsZero() {
			tx.Date = now
		}
		tx.Date = tx.Date.Truncate(time.Millisecond)
		batch[i] = tx
	}

	err := resilience.RetryWithBackoff(ctx, l.retry, func() error {
		return l.store.AppendTransactionsBulk(ctx, batch)
	})
	if err != nil {
		l.metrics.IncrPersistenceFailure(observability.OpBulkInsert)
		l.logger.Error("ledger: bulk insert not persisted", zap.Int("count", len(batch)), zap.Error(err))
		return nil, &domain.ErrPersistence{Op: observability.OpBulkInsert, Err: err}
	}
	for _, tx := range batch {
		l.metrics.IncrTransactions(string(tx.Type), 1)
	}

	merged := make([]domain.Transaction, 0, len(l.data.Transactions)+len(batch))
	merged = append(merged, batch...)
	merged = append(merged, l.data.Transactions...)
	domain.SortNewestFirst(merged)

	next := l.next()
	next.Transactions = merged
	l.swap(next)

	delta := domain.BalanceDelta(batch)
	l.logger.Info("bulk transactions inserted",
		zap.Int("count", len(batch)),
		zap.Int("balance_delta", delta),
		zap.Int("total_points", next.TotalPoints),
	)
	return &domain.BulkInsertResult{
		Inserted:     len(batch),
		BalanceDelta: delta,
		TotalPoints:  next.TotalPoints,
		Transactions: len(merged),
	}, nil
}

// GenerateSyntheticTransactions bulk-inserts count random transactions spread
// over the past year (60% earn) and then reloads from the store. Zero means the
// default batch size.
func (l *Ledger) GenerateSyntheticTransactions(ctx context.Context, count int) (*domain.BulkInsertResult, error) {
	ctx, span := ledgerTracer.Start(ctx, "Ledger.GenerateSyntheticTransactions")
	defer span.End()
	start := time.Now()

	if count == 0 {
		count = DefaultSyntheticCount
	}
	if count < 0 || count > MaxBulkTransactions {
		err := &domain.ErrValidation{Field: "count", Message: fmt.Sprintf("must be between 1 and %d", MaxBulkTransactions)}
		l.metrics.RecordOperation(observability.OpSynthetic, observability.OutcomeInvalid, time.Since(start))
		return nil, err
	}
	span.SetAttributes(attribute.Int("synthetic.count", count))

	res, err := l.BulkInsertTransactions(ctx, l.syntheticBatch(count))
	if err != nil {
		l.metrics.RecordOperation(observability.OpSynthetic, outcomeOf(err), time.Since(start))
		return nil, err
	}
	if err := l.Reload(ctx); err != nil {
		l.metrics.RecordOperation(observability.OpSynthetic, observability.OutcomePersistence, time.Since(start))
		return nil, err
	}

	l.mu.RLock()
	res.TotalPoints, res.Transactions = l.data.TotalPoints, len(l.data.Transactions)
	l.mu.RUnlock()

	l.metrics.RecordOperation(observability.OpSynthetic, observability.OutcomeOK, time.Since(start))
	return res, nil
}

func (l *Ledger) syntheticBatch(count int) []domain.Transaction {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	txs := make([]domain.Transaction, count)
	for i := range txs {
		earn := l.rng.Float64() < syntheticEarnRatio
		tx := domain.Transaction{
			ID:     l.ids.NewID(),
			Type:   domain.TxSpend,
			Amount: l.rng.IntN(50) + syntheticMinAmount,
			Date:   now.Add(-time.Duration(l.rng.Int64N(int64(syntheticSpan)))).Truncate(time.Millisecond),
		}
		if earn {
			tx.Type = domain.TxEarn
			tx.Description = fmt.Sprintf("模拟任务 %d", i)
		} else {
			tx.Description = fmt.Sprintf("模拟消费 %d", i)
		}
		txs[i] = tx
	}
	return txs
}

// ============================================================
// Reset
// ============================================================

// ResetAll wipes everything and restores the seed data. password must match the
// configured admin secret.
func (l *Ledger) ResetAll(ctx context.Context, password string) error {
	ctx, span := ledgerTracer.Start(ctx, "Ledger.ResetAll")
	defer span.End()
	start := time.Now()

	if err := l.admin.Verify(password); err != nil {
		l.logger.Warn("reset refused", zap.Error(err))
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.writer.Discard()

	if err := l.replaceStore(ctx, observability.OpReset, l.store.ResetAll); err != nil {
		l.metrics.RecordOperation(observability.OpReset, observability.OutcomePersistence, time.Since(start))
		return err
	}

	l.swap(domain.DefaultAppData())
	l.completed.Purge()

	l.metrics.RecordOperation(observability.OpReset, observability.OutcomeOK, time.Since(start))
	l.logger.Warn("ledger reset to defaults")
	return nil
}

func (l *Ledger) replaceStore(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	err := resilience.RetryWithBackoff(ctx, l.retry, func() error { return fn(ctx) })
	if err != nil {
		l.metrics.IncrPersistenceFailure(op)
		l.logger.Error("ledger: store replacement failed", zap.String("op", op), zap.Error(err))
		return &domain.ErrPersistence{Op: op, Err: err}
	}
	return nil
}
