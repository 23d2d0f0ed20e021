package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/boddenberg/habit-hero-go/internal/domain"
	"github.com/boddenberg/habit-hero-go/internal/infra/observability"

	"github.com/prometheus/client_golang/prometheus"
)

func ptr[T any](v T) *T { return &v }

func TestCatalog_HabitLifecycle(t *testing.T) {
	store := newMockStore()
	l, _, _ := newTestLedger(t, store)
	ctx := context.Background()

	h, err := l.AddHabit(ctx, domain.Habit{Name: "  读书  ", Points: 8, Emoji: "📚"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if h.ID == "" || h.Name != "读书" {
		t.Fatalf("expected trimmed habit with id, got %+v", h)
	}

	updated, err := l.UpdateHabit(ctx, h.ID, domain.HabitPatch{Points: ptr(12)})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Points != 12 || updated.Name != "读书" || updated.Emoji != "📚" {
		t.Errorf("expected only points patched, got %+v", updated)
	}

	habits := l.Snapshot().Habits
	if len(habits) != 4 || habits[3].ID != h.ID {
		t.Fatalf("expected new habit appended last, got %+v", habits)
	}

	if err := l.RemoveHabit(ctx, h.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if got := len(l.Snapshot().Habits); got != 3 {
		t.Errorf("expected 3 habits after removal, got %d", got)
	}
	// Removing an absent id is not an error.
	if err := l.RemoveHabit(ctx, h.ID); err != nil {
		t.Errorf("expected idempotent removal, got %v", err)
	}

	mustFlush(t, l)
	if got := len(store.stored().Habits); got != 3 {
		t.Errorf("expected catalog persisted, got %d habits", got)
	}
}

func TestCatalog_Validation(t *testing.T) {
	l, _, _ := newTestLedger(t, newMockStore())
	ctx := context.Background()

	var ve *domain.ErrValidation
	if _, err := l.AddHabit(ctx, domain.Habit{Name: " ", Points: 5}); !errors.As(err, &ve) {
		t.Errorf("expected blank name rejected, got %v", err)
	}
	if _, err := l.AddReward(ctx, domain.Reward{Name: "x", Cost: 0}); !errors.As(err, &ve) {
		t.Errorf("expected zero cost rejected, got %v", err)
	}
	if _, err := l.AddDeduction(ctx, domain.Deduction{Name: "x", Points: -1}); !errors.As(err, &ve) {
		t.Errorf("expected negative points rejected, got %v", err)
	}
	if _, err := l.UpdateHabit(ctx, "1", domain.HabitPatch{Name: ptr("")}); !errors.As(err, &ve) {
		t.Errorf("expected patch to empty name rejected, got %v", err)
	}
	if got := l.Snapshot().Habits[0].Name; got != "打扫房间" {
		t.Errorf("expected rejected patch to change nothing, got %q", got)
	}

	var nf *domain.ErrNotFound
	if _, err := l.UpdateReward(ctx, "missing", domain.RewardPatch{Cost: ptr(3)}); !errors.As(err, &nf) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := l.UpdateDeduction(ctx, "missing", domain.DeductionPatch{}); !errors.As(err, &nf) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCatalog_RewardAndDeduction(t *testing.T) {
	l, _, _ := newTestLedger(t, newMockStore())
	ctx := context.Background()

	r, err := l.UpdateReward(ctx, "1", domain.RewardPatch{Image: ptr("data:image/png;base64,AAAA")})
	if err != nil {
		t.Fatalf("update reward: %v", err)
	}
	if r.Image == "" || r.Cost != 50 {
		t.Errorf("expected image set and cost kept, got %+v", r)
	}

	d, err := l.AddDeduction(ctx, domain.Deduction{Name: "说脏话", Points: 3, Emoji: "🤐"})
	if err != nil {
		t.Fatalf("add deduction: %v", err)
	}
	if err := l.RemoveReward(ctx, "2"); err != nil {
		t.Fatalf("remove reward: %v", err)
	}

	snap := l.Snapshot()
	if len(snap.Rewards) != 1 || len(snap.Deductions) != 1 || snap.Deductions[0].ID != d.ID {
		t.Errorf("unexpected catalog %+v / %+v", snap.Rewards, snap.Deductions)
	}
}

func TestCatalog_RemovingHabitKeepsPendingTask(t *testing.T) {
	l, _, _ := newTestLedger(t, newMockStore())
	ctx := context.Background()

	task, _ := l.RequestTask(ctx, "1")
	if _, err := l.UpdateHabit(ctx, "1", domain.HabitPatch{Points: ptr(99)}); err != nil {
		t.Fatal(err)
	}
	if err := l.RemoveHabit(ctx, "1"); err != nil {
		t.Fatal(err)
	}

	d, err := l.ApproveTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("approve orphaned task: %v", err)
	}
	if d.Transaction.Amount != 10 || d.TotalPoints != 10 {
		t.Errorf("expected claimed points 10, got %+v", d)
	}
}

func TestUpdateProfile(t *testing.T) {
	store := newMockStore()
	l, _, _ := newTestLedger(t, store)
	ctx := context.Background()

	var ve *domain.ErrValidation
	for _, pin := range []string{"123", "12345", "12a4", ""} {
		if _, err := l.UpdateProfile(ctx, domain.ProfileUpdate{ChildName: "小明", ParentPin: pin}); !errors.As(err, &ve) {
			t.Errorf("pin %q: expected validation error, got %v", pin, err)
		}
	}
	if _, err := l.UpdateProfile(ctx, domain.ProfileUpdate{ChildName: "  ", ParentPin: "1234"}); !errors.As(err, &ve) {
		t.Errorf("expected blank name rejected, got %v", err)
	}

	p, err := l.UpdateProfile(ctx, domain.ProfileUpdate{ChildName: "小明", ParentPin: "1234", Avatar: ptr("🐼")})
	if err != nil {
		t.Fatalf("update profile: %v", err)
	}
	if p.ParentPin != "" {
		t.Error("expected PIN blanked in the response")
	}
	if p.ChildName != "小明" || p.Avatar == nil || *p.Avatar != "🐼" {
		t.Errorf("unexpected profile %+v", p)
	}

	snap := l.Snapshot()
	if snap.ParentPin != "1234" {
		t.Errorf("expected PIN stored, got %q", snap.ParentPin)
	}

	if _, err := l.UpdateProfile(ctx, domain.ProfileUpdate{ChildName: "小明", ParentPin: "1234"}); err != nil {
		t.Fatal(err)
	}
	if l.Snapshot().Avatar != nil {
		t.Error("expected nil avatar to clear it")
	}

	mustFlush(t, l)
	if got := store.stored().ParentPin; got != "1234" {
		t.Errorf("expected PIN persisted, got %q", got)
	}
}

func TestCatalogAndProfileRecordedUnderOwnOps(t *testing.T) {
	l, _, metrics := newTestLedger(t, newMockStore())
	ctx := context.Background()

	if _, err := l.AddHabit(ctx, domain.Habit{Name: "叠被子", Points: 3}); err != nil {
		t.Fatal(err)
	}
	if _, err := l.UpdateReward(ctx, "1", domain.RewardPatch{Cost: ptr(60)}); err != nil {
		t.Fatal(err)
	}
	if _, err := l.UpdateProfile(ctx, domain.ProfileUpdate{ChildName: "小明", ParentPin: "1234"}); err != nil {
		t.Fatal(err)
	}

	if got := opCount(t, metrics.Registry, observability.OpCatalog, observability.OutcomeOK); got != 2 {
		t.Errorf("expected 2 catalog operations, got %v", got)
	}
	if got := opCount(t, metrics.Registry, observability.OpProfile, observability.OutcomeOK); got != 1 {
		t.Errorf("expected 1 profile operation, got %v", got)
	}
}

func opCount(t *testing.T, reg *prometheus.Registry, op, outcome string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, mf := range families {
		if mf.GetName() != "habithero_ledger_operations_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["op"] == op && labels["outcome"] == outcome {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}
