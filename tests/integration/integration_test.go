package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/boddenberg/habit-hero-go/internal/domain"
	"github.com/boddenberg/habit-hero-go/internal/handler"
	"github.com/boddenberg/habit-hero-go/internal/infra/client"
	"github.com/boddenberg/habit-hero-go/internal/infra/idgen"
	"github.com/boddenberg/habit-hero-go/internal/infra/observability"
	"github.com/boddenberg/habit-hero-go/internal/infra/resilience"
	"github.com/boddenberg/habit-hero-go/internal/infra/sqlite"
	"github.com/boddenberg/habit-hero-go/internal/service"

	"go.uber.org/zap"
)

type instance struct {
	srv    *httptest.Server
	ledger *service.Ledger
	store  *sqlite.Store
}

func start(t *testing.T, dbPath string) *instance {
	t.Helper()
	ctx := context.Background()

	store, err := sqlite.Open(ctx, dbPath, zap.NewNop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	metrics := observability.NewMetrics()
	ledger := service.NewLedger(store, idgen.New(), metrics, zap.NewNop(),
		service.WithLocation(time.UTC),
		service.WithAdminGuard(service.NewAdminGuard("integration-secret", "")),
	)
	if err := ledger.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	auth := service.NewParentAuth(ledger, "integration-jwt", time.Minute, zap.NewNop())
	return &instance{
		srv:    httptest.NewServer(handler.NewRouter(ledger, auth, metrics, zap.NewNop())),
		ledger: ledger,
		store:  store,
	}
}

func (in *instance) stop(t *testing.T) {
	t.Helper()
	in.srv.Close()
	if err := in.ledger.Close(context.Background()); err != nil {
		t.Fatalf("close ledger: %v", err)
	}
	if err := in.store.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}
}

func post(t *testing.T, url, token string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(http.MethodPost, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

// TestIntegration_FullFlow drives the HTTP API end to end on a file-backed store,
// then restarts on the same file and checks nothing acknowledged was lost.
func TestIntegration_FullFlow(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "habit-hero.db")
	in := start(t, dbPath)
	base := in.srv.URL + "/v1"

	var session domain.ParentSession
	if code := post(t, base+"/parent/login", "", domain.ParentLoginRequest{Pin: domain.DefaultParentPin}, &session); code != http.StatusOK {
		t.Fatalf("login: %d", code)
	}
	token := session.AccessToken

	// --- Concurrent claims and approvals ---
	const claims = 40
	var wg sync.WaitGroup
	for i := 0; i < claims; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			habitID := fmt.Sprint(i%3 + 1)
			var task domain.PendingTask
			if code := post(t, base+"/tasks", "", domain.RequestTaskRequest{HabitID: habitID}, &task); code != http.StatusCreated {
				t.Errorf("claim: %d", code)
				return
			}
			// Every task is approved twice; only one approval may credit.
			for j := 0; j < 2; j++ {
				if code := post(t, base+"/tasks/"+task.ID+"/approve", token, nil, nil); code != http.StatusOK {
					t.Errorf("approve: %d", code)
				}
			}
		}(i)
	}
	wg.Wait()

	// 14 claims of habit 1 (10 pts), 13 each of habits 2 and 3 (5 pts).
	want := 14*10 + 13*5 + 13*5
	if got := in.ledger.TotalPoints(); got != want {
		t.Fatalf("expected balance %d, got %d", want, got)
	}

	// --- Spend, deduct, adjust ---
	var res domain.PointsResult
	if code := post(t, base+"/rewards/1/redeem", "", nil, &res); code != http.StatusOK {
		t.Fatalf("redeem: %d", code)
	}
	if code := post(t, base+"/points/adjust", token, domain.ManualAdjustRequest{Amount: 7, Direction: domain.DirectionDebit, Reason: "打翻牛奶"}, &res); code != http.StatusOK {
		t.Fatalf("adjust: %d", code)
	}
	if res.TotalPoints != want-50-7 {
		t.Errorf("expected %d after spend and debit, got %d", want-50-7, res.TotalPoints)
	}
	if code := post(t, base+"/rewards/2/redeem", "", nil, nil); code != http.StatusUnprocessableEntity {
		t.Errorf("expected unaffordable reward refused, got %d", code)
	}

	// --- Remote export through the client ---
	c := client.NewHabitHeroClient(in.srv.Client(), in.srv.URL, resilience.NewCircuitBreaker("integration", zap.NewNop()),
		resilience.Config{MaxRetries: 1, InitialBackoff: 10 * time.Millisecond, MaxConcurrency: 4}, nil)
	ctx := context.Background()
	if err := c.Login(ctx, domain.DefaultParentPin); err != nil {
		t.Fatalf("client login: %v", err)
	}
	before, err := c.Export(ctx)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(before.Transactions) != claims+2 || len(before.PendingTasks) != 0 {
		t.Fatalf("expected %d transactions and no pending, got %d/%d", claims+2, len(before.Transactions), len(before.PendingTasks))
	}
	if domain.BalanceDelta(before.Transactions) != before.TotalPoints {
		t.Fatal("balance does not match history")
	}

	// --- Restart on the same file ---
	in.stop(t)
	in = start(t, dbPath)
	defer in.stop(t)

	after := in.ledger.Snapshot()
	if after.TotalPoints != before.TotalPoints || len(after.Transactions) != len(before.Transactions) {
		t.Fatalf("restart lost data: %d/%d vs %d/%d",
			after.TotalPoints, len(after.Transactions), before.TotalPoints, len(before.Transactions))
	}
	for i := range after.Transactions {
		if after.Transactions[i].ID != before.Transactions[i].ID {
			t.Fatalf("history order changed at %d: %s vs %s", i, after.Transactions[i].ID, before.Transactions[i].ID)
		}
	}
}

// TestIntegration_ImportThenBulk replaces the ledger over HTTP and appends a large
// batch, checking the store directly afterwards.
func TestIntegration_ImportThenBulk(t *testing.T) {
	in := start(t, filepath.Join(t.TempDir(), "habit-hero.db"))
	defer in.stop(t)
	ctx := context.Background()

	c := client.NewHabitHeroClient(in.srv.Client(), in.srv.URL, resilience.NewCircuitBreaker("integration-import", zap.NewNop()),
		resilience.Config{MaxRetries: 1, InitialBackoff: 10 * time.Millisecond, MaxConcurrency: 4}, nil)
	if err := c.Login(ctx, domain.DefaultParentPin); err != nil {
		t.Fatal(err)
	}

	snapshot := domain.AppData{ChildName: "导入", ParentPin: "1357", TotalPoints: 250}
	now := time.Now().UTC().Truncate(time.Millisecond)
	for i := 0; i < 250; i++ {
		snapshot.Transactions = append(snapshot.Transactions, domain.Transaction{
			ID: fmt.Sprintf("imp-%d", i), Type: domain.TxEarn, Amount: 1, Description: "imported",
			Date: now.Add(-time.Duration(i) * time.Minute),
		})
	}
	raw, _ := json.Marshal(snapshot)
	if err := c.Import(ctx, raw); err != nil {
		t.Fatalf("import: %v", err)
	}

	loaded, err := in.store.LoadAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded.Transactions) != 250 || len(loaded.PendingTasks) != 0 || loaded.ParentPin != "1357" {
		t.Fatalf("unexpected stored state: %d txs, %d pending, pin %s", len(loaded.Transactions), len(loaded.PendingTasks), loaded.ParentPin)
	}

	// The PIN changed with the import; the old session token is still valid.
	batch := make([]domain.Transaction, 1000)
	for i := range batch {
		batch[i] = domain.Transaction{Type: domain.TxSpend, Amount: 1, Description: "bulk", Date: now.Add(-time.Duration(i) * time.Second)}
	}
	res, err := c.BulkInsert(ctx, batch)
	if err != nil {
		t.Fatalf("bulk: %v", err)
	}
	if res.TotalPoints != 250 || res.Transactions != 1250 || res.BalanceDelta != -1000 {
		t.Errorf("unexpected bulk result %+v", res)
	}

	loaded, _ = in.store.LoadAll(ctx)
	if len(loaded.Transactions) != 1250 || !domain.IsNewestFirst(loaded.Transactions) {
		t.Errorf("expected 1250 stored newest-first, got %d", len(loaded.Transactions))
	}
}
