package service_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/boddenberg/habit-hero-go/internal/domain"
	"github.com/boddenberg/habit-hero-go/internal/infra/idgen"
	"github.com/boddenberg/habit-hero-go/internal/infra/observability"
	"github.com/boddenberg/habit-hero-go/internal/infra/resilience"
	"github.com/boddenberg/habit-hero-go/internal/port"
	"github.com/boddenberg/habit-hero-go/internal/service"

	"go.uber.org/zap"
)

// --- Mocks ---

type mockStore struct {
	mu   sync.Mutex
	data *domain.AppData

	saves       []domain.Settings
	appendCalls int
	loadCalls   int

	appendErr error
	bulkErr   error
	importErr error
	resetErr  error
	saveErr   error

	// saveGate, when set, blocks SaveSettings until closed.
	saveGate chan struct{}
}

func newMockStore() *mockStore {
	return &mockStore{data: domain.DefaultAppData()}
}

func (m *mockStore) LoadAll(_ context.Context) (*domain.AppData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadCalls++
	c := m.data.Clone()
	domain.SortNewestFirst(c.Transactions)
	return c, nil
}

func (m *mockStore) SaveSettings(ctx context.Context, s domain.Settings) error {
	if m.saveGate != nil {
		select {
		case <-m.saveGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves = append(m.saves, s)
	m.data.ChildName = s.ChildName
	m.data.ParentPin = s.ParentPin
	m.data.TotalPoints = s.TotalPoints
	m.data.Avatar = s.Avatar
	m.data.Habits = slices.Clone(s.Habits)
	m.data.Rewards = slices.Clone(s.Rewards)
	m.data.Deductions = slices.Clone(s.Deductions)
	m.data.PendingTasks = slices.Clone(s.PendingTasks)
	return nil
}

func (m *mockStore) AppendTransaction(_ context.Context, tx domain.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendCalls++
	if m.appendErr != nil {
		return m.appendErr
	}
	m.data.Transactions = domain.InsertNewestFirst(m.data.Transactions, tx)
	return nil
}

func (m *mockStore) AppendTransactionsBulk(_ context.Context, txs []domain.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.bulkErr != nil {
		return m.bulkErr
	}
	m.data.Transactions = append(m.data.Transactions, txs...)
	return nil
}

func (m *mockStore) ImportAll(_ context.Context, data *domain.AppData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.importErr != nil {
		return m.importErr
	}
	m.data = data.Clone()
	return nil
}

func (m *mockStore) ResetAll(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.resetErr != nil {
		return m.resetErr
	}
	m.data = domain.DefaultAppData()
	return nil
}

func (m *mockStore) Ping(_ context.Context) error { return nil }

func (m *mockStore) stored() *domain.AppData {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data.Clone()
}

func (m *mockStore) savedSettings() []domain.Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.saves)
}

// flakyAppend fails the first `failures` appends, then delegates.
type flakyAppend struct {
	*mockStore
	failures int
	calls    int
}

func (f *flakyAppend) AppendTransaction(ctx context.Context, tx domain.Transaction) error {
	f.mockStore.mu.Lock()
	f.calls++
	fail := f.calls <= f.failures
	f.mockStore.mu.Unlock()
	if fail {
		return errors.New("database is locked")
	}
	return f.mockStore.AppendTransaction(ctx, tx)
}

func (f *flakyAppend) attempts() int {
	f.mockStore.mu.Lock()
	defer f.mockStore.mu.Unlock()
	return f.calls
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// --- Helpers ---

var testNow = time.Date(2024, 3, 10, 15, 0, 0, 0, time.UTC)

func newTestLedger(t *testing.T, store port.LedgerStore, opts ...service.LedgerOption) (*service.Ledger, *fakeClock, *observability.Metrics) {
	t.Helper()

	clock := &fakeClock{now: testNow}
	metrics := observability.NewMetrics()
	base := []service.LedgerOption{
		service.WithClock(clock.Now),
		service.WithLocation(time.UTC),
		service.WithRetry(resilience.Config{MaxRetries: 0}),
		service.WithSettingsWriteTimeout(time.Second),
	}
	l := service.NewLedger(store, idgen.New(), metrics, zap.NewNop(), append(base, opts...)...)
	if err := l.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	t.Cleanup(func() { _ = l.Close(context.Background()) })
	return l, clock, metrics
}

func retryCfg(n int) resilience.Config {
	return resilience.Config{MaxRetries: n, InitialBackoff: time.Millisecond}
}

func mustFlush(t *testing.T, l *service.Ledger) {
	t.Helper()
	if err := l.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
}

func assertBalanceInvariant(t *testing.T, l *service.Ledger) {
	t.Helper()
	snap := l.Snapshot()
	if got := domain.BalanceDelta(snap.Transactions); got != snap.TotalPoints {
		t.Fatalf("balance invariant broken: totalPoints=%d, signed sum=%d", snap.TotalPoints, got)
	}
	if !domain.IsNewestFirst(snap.Transactions) {
		t.Fatal("transactions not newest-first")
	}
}
