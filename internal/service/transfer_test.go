package service_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"github.com/boddenberg/habit-hero-go/internal/domain"
	"github.com/boddenberg/habit-hero-go/internal/service"
	"golang.org/x/crypto/bcrypt"
)

func TestImportSnapshot_ReplacesWholesale(t *testing.T) {
	store := newMockStore()
	l, _, _ := newTestLedger(t, store)
	ctx := context.Background()

	_, _ = l.RequestTask(ctx, "1")
	_, _ = l.ManualAdjust(ctx, domain.ManualAdjustRequest{Amount: 7, Direction: domain.DirectionCredit})

	snapshot := &domain.AppData{ChildName: "Imported", ParentPin: "4321", TotalPoints: 250}
	for i := 0; i < 250; i++ {
		snapshot.Transactions = append(snapshot.Transactions, domain.Transaction{
			ID:          fmt.Sprintf("imp-%03d", i),
			Type:        domain.TxEarn,
			Amount:      1,
			Description: "imported",
			// Oldest first on purpose: import must re-sort.
			Date: testNow.Add(time.Duration(i-300) * time.Hour),
		})
	}

	if err := l.ImportSnapshot(ctx, snapshot); err != nil {
		t.Fatalf("import: %v", err)
	}

	loaded, err := store.LoadAll(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded.Transactions) != 250 {
		t.Errorf("expected 250 stored transactions, got %d", len(loaded.Transactions))
	}
	if len(loaded.PendingTasks) != 0 {
		t.Errorf("expected no stored pending tasks, got %d", len(loaded.PendingTasks))
	}

	snap := l.Snapshot()
	if snap.ChildName != "Imported" || snap.TotalPoints != 250 || len(snap.Transactions) != 250 {
		t.Errorf("expected imported aggregate in memory, got %s/%d/%d", snap.ChildName, snap.TotalPoints, len(snap.Transactions))
	}
	if snap.Transactions[0].ID != "imp-249" {
		t.Errorf("expected newest first after import, got %s", snap.Transactions[0].ID)
	}
	if snap.Habits == nil || len(snap.Habits) != 0 {
		t.Errorf("expected empty non-nil habits, got %v", snap.Habits)
	}

	// A later flush must not resurrect the pre-import pending task.
	mustFlush(t, l)
	if got := len(store.stored().PendingTasks); got != 0 {
		t.Errorf("expected import to survive flush, got %d pending", got)
	}
}

func TestImportJSON_RequiresNumericTotal(t *testing.T) {
	store := newMockStore()
	l, _, _ := newTestLedger(t, store)

	bodies := []string{
		`{"childName":"x"}`,
		`{"totalPoints":"12"}`,
		`{"totalPoints":null}`,
		`{"totalPoints":1.5}`,
		`not json`,
	}
	for _, body := range bodies {
		var ve *domain.ErrValidation
		if err := l.ImportJSON(context.Background(), []byte(body)); !errors.As(err, &ve) {
			t.Errorf("body %s: expected validation error, got %v", body, err)
		}
	}
	if store.stored().ChildName != domain.DefaultChildName {
		t.Error("expected store untouched by rejected imports")
	}
}

func TestImportJSON_DefaultsMissingFields(t *testing.T) {
	l, _, _ := newTestLedger(t, newMockStore())

	body := `{"totalPoints": 5, "transactions": [
		{"id":"a","type":"earn","amount":5,"description":"x","date":"2024-03-09T10:00:00.000Z"}
	]}`
	if err := l.ImportJSON(context.Background(), []byte(body)); err != nil {
		t.Fatalf("import: %v", err)
	}
	snap := l.Snapshot()
	if snap.ChildName != domain.DefaultChildName || snap.ParentPin != domain.DefaultParentPin {
		t.Errorf("expected default name and pin, got %q/%q", snap.ChildName, snap.ParentPin)
	}
	if len(snap.Rewards) != 0 || len(snap.PendingTasks) != 0 {
		t.Error("expected missing collections to become empty")
	}
	assertBalanceInvariant(t, l)
}

func TestImportJSON_RejectsInvalidRows(t *testing.T) {
	store := newMockStore()
	l, _, metrics := newTestLedger(t, store)

	bodies := map[string]string{
		"zero amount": `{"childName":"x","totalPoints":10,"transactions":[
			{"id":"a","type":"earn","amount":0,"description":"x","date":"2024-03-09T10:00:00.000Z"}]}`,
		"duplicate pending": `{"childName":"x","totalPoints":0,"pendingTasks":[
			{"id":"p","habitId":"1","habitName":"a","points":5,"timestamp":"2024-03-09T10:00:00.000Z"},
			{"id":"p","habitId":"2","habitName":"b","points":5,"timestamp":"2024-03-09T11:00:00.000Z"}]}`,
		"duplicate habit": `{"childName":"x","totalPoints":0,"habits":[
			{"id":"h","name":"a","points":1},{"id":"h","name":"b","points":2}]}`,
		"zero reward cost": `{"childName":"x","totalPoints":0,"rewards":[{"id":"r","name":"a","cost":0}]}`,
	}
	for name, body := range bodies {
		var ve *domain.ErrValidation
		if err := l.ImportJSON(context.Background(), []byte(body)); !errors.As(err, &ve) {
			t.Errorf("%s: expected validation error, got %v", name, err)
		}
	}
	if store.stored().ChildName != domain.DefaultChildName || l.Snapshot().ChildName != domain.DefaultChildName {
		t.Error("expected store and memory untouched by rejected imports")
	}
	if got := metrics.GetLedgerSnapshot().PersistenceFailures; got != 0 {
		t.Errorf("expected no persistence failures, got %d", got)
	}
}

func TestImportSnapshot_RejectsUnknownTransactionType(t *testing.T) {
	l, _, _ := newTestLedger(t, newMockStore())
	err := l.ImportSnapshot(context.Background(), &domain.AppData{
		TotalPoints:  1,
		Transactions: []domain.Transaction{{ID: "a", Type: "bonus", Amount: 1, Date: testNow}},
	})
	var ve *domain.ErrValidation
	if !errors.As(err, &ve) || ve.Field != "transactions[0].type" {
		t.Fatalf("expected type validation error, got %v", err)
	}
}

func TestImportSnapshot_StoreFailureKeepsMemory(t *testing.T) {
	store := newMockStore()
	l, _, _ := newTestLedger(t, store)
	store.importErr = errors.New("constraint failed")

	err := l.ImportSnapshot(context.Background(), &domain.AppData{ChildName: "New", TotalPoints: 1})
	var pe *domain.ErrPersistence
	if !errors.As(err, &pe) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if l.Snapshot().ChildName != domain.DefaultChildName {
		t.Error("expected in-memory aggregate unchanged")
	}
}

func TestBulkInsert_LeavesBalanceUnchanged(t *testing.T) {
	store := newMockStore()
	l, _, _ := newTestLedger(t, store)
	ctx := context.Background()

	_, _ = l.ManualAdjust(ctx, domain.ManualAdjustRequest{Amount: 40, Direction: domain.DirectionCredit})
	before := l.Snapshot()

	batch := make([]domain.Transaction, 1000)
	for i := range batch {
		typ := domain.TxEarn
		if i%3 == 0 {
			typ = domain.TxSpend
		}
		batch[i] = domain.Transaction{
			Type:        typ,
			Amount:      i%50 + 1,
			Description: fmt.Sprintf("bulk %d", i),
			Date:        testNow.Add(-time.Duration(i*7) * time.Minute),
		}
	}

	res, err := l.BulkInsertTransactions(ctx, batch)
	if err != nil {
		t.Fatalf("bulk: %v", err)
	}
	if res.Inserted != 1000 || res.Transactions != len(before.Transactions)+1000 {
		t.Errorf("unexpected result %+v", res)
	}
	if want := domain.BalanceDelta(batch); res.BalanceDelta != want {
		t.Errorf("expected balance delta %d, got %d", want, res.BalanceDelta)
	}

	after := l.Snapshot()
	if after.TotalPoints != before.TotalPoints {
		t.Errorf("expected balance %d unchanged, got %d", before.TotalPoints, after.TotalPoints)
	}
	if len(after.Transactions) != len(before.Transactions)+1000 {
		t.Errorf("expected history to grow by 1000, got %d", len(after.Transactions))
	}
	if !domain.IsNewestFirst(after.Transactions) {
		t.Error("expected merged history newest-first")
	}
	for _, tx := range after.Transactions {
		if tx.ID == "" {
			t.Fatal("expected IDs assigned to bulk entries")
		}
	}
}

func TestBulkInsert_Validation(t *testing.T) {
	store := newMockStore()
	l, _, _ := newTestLedger(t, store)
	ctx := context.Background()

	bad := [][]domain.Transaction{
		{{Type: "bonus", Amount: 1}},
		{{Type: domain.TxEarn, Amount: 0}},
		{{ID: "dup", Type: domain.TxEarn, Amount: 1}, {ID: "dup", Type: domain.TxEarn, Amount: 1}},
	}
	for _, b := range bad {
		var ve *domain.ErrValidation
		if _, err := l.BulkInsertTransactions(ctx, b); !errors.As(err, &ve) {
			t.Errorf("expected validation error for %+v, got %v", b, err)
		}
	}
	if n := len(store.stored().Transactions); n != 0 {
		t.Errorf("expected nothing stored, got %d", n)
	}

	res, err := l.BulkInsertTransactions(ctx, nil)
	if err != nil || res.Inserted != 0 {
		t.Errorf("expected empty batch to be a no-op, got %+v / %v", res, err)
	}
}

func TestBulkInsert_StoreFailureIsAllOrNothing(t *testing.T) {
	store := newMockStore()
	l, _, _ := newTestLedger(t, store)
	store.bulkErr = errors.New("rolled back")

	_, err := l.BulkInsertTransactions(context.Background(), []domain.Transaction{
		{Type: domain.TxEarn, Amount: 1, Description: "a"},
		{Type: domain.TxEarn, Amount: 2, Description: "b"},
	})
	var pe *domain.ErrPersistence
	if !errors.As(err, &pe) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if n := len(l.Snapshot().Transactions); n != 0 {
		t.Errorf("expected memory unchanged, got %d transactions", n)
	}
}

func TestGenerateSyntheticTransactions(t *testing.T) {
	store := newMockStore()
	l, _, _ := newTestLedger(t, store, service.WithRand(rand.New(rand.NewPCG(1, 2))))
	ctx := context.Background()

	loadsBefore := store.loadCalls
	res, err := l.GenerateSyntheticTransactions(ctx, 2000)
	if err != nil {
		t.Fatalf("synthetic: %v", err)
	}
	if res.Inserted != 2000 || res.Transactions != 2000 {
		t.Errorf("unexpected result %+v", res)
	}
	if store.loadCalls != loadsBefore+1 {
		t.Errorf("expected a reload after generation, got %d loads", store.loadCalls-loadsBefore)
	}

	earn := 0
	oldest := testNow.Add(-366 * 24 * time.Hour)
	for _, tx := range l.Snapshot().Transactions {
		if tx.Amount < 5 || tx.Amount > 54 {
			t.Fatalf("amount %d out of range", tx.Amount)
		}
		if tx.Date.After(testNow) || tx.Date.Before(oldest) {
			t.Fatalf("date %v outside the past year", tx.Date)
		}
		switch tx.Type {
		case domain.TxEarn:
			earn++
			if !strings.HasPrefix(tx.Description, "模拟任务 ") {
				t.Fatalf("unexpected earn description %q", tx.Description)
			}
		case domain.TxSpend:
			if !strings.HasPrefix(tx.Description, "模拟消费 ") {
				t.Fatalf("unexpected spend description %q", tx.Description)
			}
		}
	}
	if earn < 1000 || earn > 1400 {
		t.Errorf("expected roughly 60%% earn, got %d of 2000", earn)
	}
	if l.TotalPoints() != 0 {
		t.Errorf("expected balance untouched, got %d", l.TotalPoints())
	}

	var ve *domain.ErrValidation
	if _, err := l.GenerateSyntheticTransactions(ctx, service.MaxBulkTransactions+1); !errors.As(err, &ve) {
		t.Errorf("expected validation error above the cap, got %v", err)
	}
}

func TestResetAll_RequiresConfiguredSecret(t *testing.T) {
	store := newMockStore()
	l, _, _ := newTestLedger(t, store)

	var fe *domain.ErrForbidden
	if err := l.ResetAll(context.Background(), "admin"); !errors.As(err, &fe) {
		t.Fatalf("expected reset disabled without a secret, got %v", err)
	}
}

func TestResetAll_PlainSecret(t *testing.T) {
	store := newMockStore()
	l, _, _ := newTestLedger(t, store, service.WithAdminGuard(service.NewAdminGuard("s3cret", "")))
	ctx := context.Background()

	_, _ = l.ManualAdjust(ctx, domain.ManualAdjustRequest{Amount: 30, Direction: domain.DirectionCredit})
	_, _ = l.RequestTask(ctx, "1")

	var fe *domain.ErrForbidden
	if err := l.ResetAll(ctx, "admin"); !errors.As(err, &fe) {
		t.Fatalf("expected wrong password to be refused, got %v", err)
	}
	if l.TotalPoints() != 30 {
		t.Fatal("expected refused reset to change nothing")
	}

	if err := l.ResetAll(ctx, "s3cret"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	snap := l.Snapshot()
	if snap.TotalPoints != 0 || len(snap.Transactions) != 0 || len(snap.PendingTasks) != 0 {
		t.Errorf("expected empty ledger, got %d/%d/%d", snap.TotalPoints, len(snap.Transactions), len(snap.PendingTasks))
	}
	if len(snap.Habits) != 3 || len(snap.Rewards) != 2 {
		t.Errorf("expected seed catalogs, got %d habits / %d rewards", len(snap.Habits), len(snap.Rewards))
	}

	mustFlush(t, l)
	if stored := store.stored(); stored.TotalPoints != 0 || len(stored.PendingTasks) != 0 {
		t.Error("expected stale settings not to overwrite the reset")
	}
}

func TestResetAll_BcryptHash(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("parent-only"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	l, _, _ := newTestLedger(t, newMockStore(), service.WithAdminGuard(service.NewAdminGuard("ignored", string(hash))))

	var fe *domain.ErrForbidden
	if err := l.ResetAll(context.Background(), "ignored"); !errors.As(err, &fe) {
		t.Fatalf("expected hash to take precedence, got %v", err)
	}
	if err := l.ResetAll(context.Background(), "parent-only"); err != nil {
		t.Fatalf("expected hash match to reset, got %v", err)
	}
}
