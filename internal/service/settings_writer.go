package service

import (
	"context"
	"sync"
	"time"

	"github.com/boddenberg/habit-hero-go/internal/domain"
	"github.com/boddenberg/habit-hero-go/internal/infra/observability"
	"github.com/boddenberg/habit-hero-go/internal/infra/resilience"
	"github.com/boddenberg/habit-hero-go/internal/port"

	"go.uber.org/zap"
)

// settingsWriter persists settings snapshots in the background. Only the most
// recent snapshot is kept: a burst of edits produces one write of the final state.
//
// writeMu is held across taking a snapshot and writing it, so writes happen in
// submission order and an older snapshot is never written after a newer one.
type settingsWriter struct {
	store   port.LedgerStore
	retry   resilience.Config
	timeout time.Duration
	metrics *observability.Metrics
	logger  *zap.Logger

	mu      sync.Mutex
	pending *domain.Settings

	writeMu sync.Mutex

	kick      chan struct{}
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

func newSettingsWriter(store port.LedgerStore, retry resilience.Config, timeout time.Duration, metrics *observability.Metrics, logger *zap.Logger) *settingsWriter {
	return &settingsWriter{
		store:   store,
		retry:   retry,
		timeout: timeout,
		metrics: metrics,
		logger:  logger,
		kick:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

func (w *settingsWriter) start() {
	go w.loop()
}

// Submit replaces the pending snapshot and wakes the writer. It never blocks.
func (w *settingsWriter) Submit(s domain.Settings) {
	w.mu.Lock()
	w.pending = &s
	w.mu.Unlock()

	select {
	case w.kick <- struct{}{}:
	default:
	}
}

// Flush writes the pending snapshot, if any, on the caller's goroutine.
func (w *settingsWriter) Flush(ctx context.Context) error {
	return w.writeLatest(ctx)
}

// Discard drops the pending snapshot and waits out any write in flight. Used
// before the store is replaced wholesale.
func (w *settingsWriter) Discard() {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	w.mu.Lock()
	w.pending = nil
	w.mu.Unlock()
}

// Close stops the background loop and performs a final flush.
func (w *settingsWriter) Close(ctx context.Context) error {
	w.closeOnce.Do(func() { close(w.done) })
	<-w.stopped
	return w.Flush(ctx)
}

func (w *settingsWriter) loop() {
	defer close(w.stopped)
	for {
		select {
		case <-w.done:
			return
		case <-w.kick:
			_ = w.writeLatest(context.Background())
		}
	}
}

func (w *settingsWriter) writeLatest(ctx context.Context) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	w.mu.Lock()
	s := w.pending
	w.pending = nil
	w.mu.Unlock()

	if s == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	err := resilience.RetryWithBackoff(ctx, w.retry, func() error {
		return w.store.SaveSettings(ctx, *s)
	})
	if err != nil {
		w.metrics.IncrSettingsWrite("error")
		w.logger.Error("settings write failed; in-memory state is ahead of the store",
			zap.Int("total_points", s.TotalPoints),
			zap.Int("pending_tasks", len(s.PendingTasks)),
			zap.Error(err),
		)
		// Keep it for the next flush unless something newer arrived meanwhile.
		w.mu.Lock()
		if w.pending == nil {
			w.pending = s
		}
		w.mu.Unlock()
		return &domain.ErrPersistence{Op: "save_settings", Err: err}
	}

	w.metrics.IncrSettingsWrite("ok")
	return nil
}
