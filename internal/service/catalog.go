package service

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/boddenberg/habit-hero-go/internal/domain"
	"github.com/boddenberg/habit-hero-go/internal/infra/observability"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Catalog manager
// ============================================================
//
// Catalog edits never touch pending tasks or history: a task keeps the name and
// points it was claimed with.

// AddHabit appends a habit with a fresh ID.
func (l *Ledger) AddHabit(ctx context.Context, h domain.Habit) (*domain.Habit, error) {
	h.Name = strings.TrimSpace(h.Name)
	if err := validateEntry(h.Name, "points", h.Points); err != nil {
		return nil, err
	}
	err := l.editCatalog(ctx, "Ledger.AddHabit", observability.OpCatalog, func(next *domain.AppData) error {
		h.ID = l.ids.NewID()
		next.Habits = appendCopy(next.Habits, h)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// RemoveHabit deletes the habit with id, if present.
func (l *Ledger) RemoveHabit(ctx context.Context, id string) error {
	return l.editCatalog(ctx, "Ledger.RemoveHabit", observability.OpCatalog, func(next *domain.AppData) error {
		next.Habits = removeByID(next.Habits, id, func(h domain.Habit) string { return h.ID })
		return nil
	})
}

// UpdateHabit merges patch into the habit with id.
func (l *Ledger) UpdateHabit(ctx context.Context, id string, patch domain.HabitPatch) (*domain.Habit, error) {
	var updated domain.Habit
	err := l.editCatalog(ctx, "Ledger.UpdateHabit", observability.OpCatalog, func(next *domain.AppData) error {
		idx := slices.IndexFunc(next.Habits, func(h domain.Habit) bool { return h.ID == id })
		if idx < 0 {
			return &domain.ErrNotFound{Resource: "habit", ID: id}
		}
		updated = next.Habits[idx]
		applyString(&updated.Name, patch.Name)
		applyString(&updated.Emoji, patch.Emoji)
		applyInt(&updated.Points, patch.Points)
		if err := validateEntry(updated.Name, "points", updated.Points); err != nil {
			return err
		}
		next.Habits = replaceAt(next.Habits, idx, updated)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// AddReward appends a reward with a fresh ID.
func (l *Ledger) AddReward(ctx context.Context, r domain.Reward) (*domain.Reward, error) {
	r.Name = strings.TrimSpace(r.Name)
	if err := validateEntry(r.Name, "cost", r.Cost); err != nil {
		return nil, err
	}
	err := l.editCatalog(ctx, "Ledger.AddReward", observability.OpCatalog, func(next *domain.AppData) error {
		r.ID = l.ids.NewID()
		next.Rewards = appendCopy(next.Rewards, r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// RemoveReward deletes the reward with id, if present.
func (l *Ledger) RemoveReward(ctx context.Context, id string) error {
	return l.editCatalog(ctx, "Ledger.RemoveReward", observability.OpCatalog, func(next *domain.AppData) error {
		next.Rewards = removeByID(next.Rewards, id, func(r domain.Reward) string { return r.ID })
		return nil
	})
}

// UpdateReward merges patch into the reward with id.
func (l *Ledger) UpdateReward(ctx context.Context, id string, patch domain.RewardPatch) (*domain.Reward, error) {
	var updated domain.Reward
	err := l.editCatalog(ctx, "Ledger.UpdateReward", observability.OpCatalog, func(next *domain.AppData) error {
		idx := slices.IndexFunc(next.Rewards, func(r domain.Reward) bool { return r.ID == id })
		if idx < 0 {
			return &domain.ErrNotFound{Resource: "reward", ID: id}
		}
		updated = next.Rewards[idx]
		applyString(&updated.Name, patch.Name)
		applyString(&updated.Emoji, patch.Emoji)
		applyString(&updated.Image, patch.Image)
		applyInt(&updated.Cost, patch.Cost)
		if err := validateEntry(updated.Name, "cost", updated.Cost); err != nil {
			return err
		}
		next.Rewards = replaceAt(next.Rewards, idx, updated)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// AddDeduction appends a deduction with a fresh ID.
func (l *Ledger) AddDeduction(ctx context.Context, d domain.Deduction) (*domain.Deduction, error) {
	d.Name = strings.TrimSpace(d.Name)
	if err := validateEntry(d.Name, "points", d.Points); err != nil {
		return nil, err
	}
	err := l.editCatalog(ctx, "Ledger.AddDeduction", observability.OpCatalog, func(next *domain.AppData) error {
		d.ID = l.ids.NewID()
		next.Deductions = appendCopy(next.Deductions, d)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// RemoveDeduction deletes the deduction with id, if present.
func (l *Ledger) RemoveDeduction(ctx context.Context, id string) error {
	return l.editCatalog(ctx, "Ledger.RemoveDeduction", observability.OpCatalog, func(next *domain.AppData) error {
		next.Deductions = removeByID(next.Deductions, id, func(d domain.Deduction) string { return d.ID })
		return nil
	})
}

// UpdateDeduction merges patch into the deduction with id.
func (l *Ledger) UpdateDeduction(ctx context.Context, id string, patch domain.DeductionPatch) (*domain.Deduction, error) {
	var updated domain.Deduction
	err := l.editCatalog(ctx, "Ledger.UpdateDeduction", observability.OpCatalog, func(next *domain.AppData) error {
		idx := slices.IndexFunc(next.Deductions, func(d domain.Deduction) bool { return d.ID == id })
		if idx < 0 {
			return &domain.ErrNotFound{Resource: "deduction", ID: id}
		}
		updated = next.Deductions[idx]
		applyString(&updated.Name, patch.Name)
		applyString(&updated.Emoji, patch.Emoji)
		applyInt(&updated.Points, patch.Points)
		if err := validateEntry(updated.Name, "points", updated.Points); err != nil {
			return err
		}
		next.Deductions = replaceAt(next.Deductions, idx, updated)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// UpdateProfile replaces the child's name, the parent PIN and the avatar.
// A nil avatar clears it.
func (l *Ledger) UpdateProfile(ctx context.Context, upd domain.ProfileUpdate) (*domain.Profile, error) {
	name := strings.TrimSpace(upd.ChildName)
	if name == "" {
		return nil, &domain.ErrValidation{Field: "childName", Message: "name is required"}
	}
	if !isPin(upd.ParentPin) {
		return nil, &domain.ErrValidation{Field: "parentPin", Message: "PIN must be exactly 4 digits"}
	}

	var profile domain.Profile
	err := l.editCatalog(ctx, "Ledger.UpdateProfile", observability.OpProfile, func(next *domain.AppData) error {
		next.ChildName = name
		next.ParentPin = upd.ParentPin
		next.Avatar = upd.Avatar
		profile = next.Settings().Profile
		return nil
	})
	if err != nil {
		return nil, err
	}
	profile.ParentPin = ""
	return &profile, nil
}

// editCatalog applies fn to a fresh copy of the aggregate and commits it. Settings
// persistence is asynchronous.
func (l *Ledger) editCatalog(ctx context.Context, spanName, op string, fn func(next *domain.AppData) error) error {
	_, span := ledgerTracer.Start(ctx, spanName)
	defer span.End()
	start := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	next := l.next()
	if err := fn(next); err != nil {
		l.metrics.RecordOperation(op, outcomeOf(err), time.Since(start))
		return err
	}
	l.commit(next)

	span.SetAttributes(attribute.String("ledger.op", op))
	l.metrics.RecordOperation(op, observability.OutcomeOK, time.Since(start))
	l.logger.Debug("catalog updated", zap.String("change", spanName))
	return nil
}

func validateEntry(name, valueField string, value int) error {
	if strings.TrimSpace(name) == "" {
		return &domain.ErrValidation{Field: "name", Message: "name is required"}
	}
	if value <= 0 {
		return &domain.ErrValidation{Field: valueField, Message: "must be a positive integer"}
	}
	return nil
}

func isPin(pin string) bool {
	if len(pin) != 4 {
		return false
	}
	for i := 0; i < len(pin); i++ {
		if pin[i] < '0' || pin[i] > '9' {
			return false
		}
	}
	return true
}

func applyString(dst *string, v *string) {
	if v != nil {
		*dst = strings.TrimSpace(*v)
	}
}

func applyInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func removeByID[T any](s []T, id string, idOf func(T) string) []T {
	return slices.DeleteFunc(slices.Clone(s), func(v T) bool { return idOf(v) == id })
}

func replaceAt[T any](s []T, i int, v T) []T {
	out := slices.Clone(s)
	out[i] = v
	return out
}
