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
// Pending-task workflow
// ============================================================

// RequestTask records the child's claim that habitID was done. No points move
// until a parent approves. Repeated claims create separate tasks.
func (l *Ledger) RequestTask(ctx context.Context, habitID string) (*domain.PendingTask, error) {
	_, span := ledgerTracer.Start(ctx, "Ledger.RequestTask")
	defer span.End()
	span.SetAttributes(attribute.String("habit.id", habitID))
	start := time.Now()

	task, err := l.requestTask(strings.TrimSpace(habitID))
	l.metrics.RecordOperation(observability.OpRequestTask, outcomeOf(err), time.Since(start))
	if err != nil {
		return nil, err
	}

	l.logger.Info("task requested",
		zap.String("task_id", task.ID),
		zap.String("habit_id", task.HabitID),
		zap.Int("points", task.Points),
	)
	return task, nil
}

func (l *Ledger) requestTask(habitID string) (*domain.PendingTask, error) {
	if habitID == "" {
		return nil, &domain.ErrValidation{Field: "habitId", Message: "habit id is required"}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	idx := slices.IndexFunc(l.data.Habits, func(h domain.Habit) bool { return h.ID == habitID })
	if idx < 0 {
		return nil, &domain.ErrNotFound{Resource: "habit", ID: habitID}
	}
	h := l.data.Habits[idx]

	task := domain.PendingTask{
		ID:        l.ids.NewID(),
		HabitID:   h.ID,
		HabitName: h.Name,
		Points:    h.Points,
		Emoji:     h.Emoji,
		Timestamp: l.timestamp(),
	}

	next := l.next()
	next.PendingTasks = appendCopy(next.PendingTasks, task)
	l.commit(next)
	return &task, nil
}

// ApproveTask credits the stored task's points. The earn transaction is written
// to the store before anything changes in memory; if that write fails the task
// stays pending and nothing is credited. Approving a task that no longer exists
// is a no-op.
func (l *Ledger) ApproveTask(ctx context.Context, taskID string) (*domain.TaskDecision, error) {
	ctx, span := ledgerTracer.Start(ctx, "Ledger.ApproveTask")
	defer span.End()
	span.SetAttributes(attribute.String("task.id", taskID))
	start := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	idx := slices.IndexFunc(l.data.PendingTasks, func(t domain.PendingTask) bool { return t.ID == taskID })
	if idx < 0 {
		l.metrics.RecordOperation(observability.OpApprove, observability.OutcomeNoop, time.Since(start))
		l.logger.Debug("approve: task already decided", zap.String("task_id", taskID))
		return &domain.TaskDecision{TaskID: taskID, Outcome: domain.OutcomeNoop, TotalPoints: l.data.TotalPoints}, nil
	}
	task := l.data.PendingTasks[idx]
	if task.Points <= 0 {
		err := &domain.ErrValidation{Field: "points", Message: "task carries no points; reject it instead"}
		l.metrics.RecordOperation(observability.OpApprove, observability.OutcomeInvalid, time.Since(start))
		return nil, err
	}

	tx := domain.Transaction{
		ID:          l.ids.NewID(),
		Type:        domain.TxEarn,
		Amount:      task.Points,
		Description: task.HabitName,
		Date:        l.timestamp(),
	}
	if err := l.appendDurably(ctx, observability.OpApprove, tx); err != nil {
		l.metrics.RecordOperation(observability.OpApprove, observability.OutcomePersistence, time.Since(start))
		return nil, err
	}

	next := l.next()
	next.TotalPoints += tx.Amount
	next.Transactions = domain.InsertNewestFirst(next.Transactions, tx)
	next.PendingTasks = withoutIndex(next.PendingTasks, idx)
	l.commit(next)

	l.metrics.RecordOperation(observability.OpApprove, observability.OutcomeOK, time.Since(start))
	l.logger.Info("task approved",
		zap.String("task_id", task.ID),
		zap.String("transaction_id", tx.ID),
		zap.Int("amount", tx.Amount),
		zap.Int("total_points", next.TotalPoints),
	)
	return &domain.TaskDecision{
		TaskID:      taskID,
		Outcome:     domain.OutcomeApproved,
		Transaction: &tx,
		TotalPoints: next.TotalPoints,
	}, nil
}

// RejectTask discards the task without moving points. The habit can be claimed
// again the same day. Rejecting an absent task is a no-op.
func (l *Ledger) RejectTask(ctx context.Context, taskID string) (*domain.TaskDecision, error) {
	_, span := ledgerTracer.Start(ctx, "Ledger.RejectTask")
	defer span.End()
	span.SetAttributes(attribute.String("task.id", taskID))
	start := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	idx := slices.IndexFunc(l.data.PendingTasks, func(t domain.PendingTask) bool { return t.ID == taskID })
	if idx < 0 {
		l.metrics.RecordOperation(observability.OpReject, observability.OutcomeNoop, time.Since(start))
		return &domain.TaskDecision{TaskID: taskID, Outcome: domain.OutcomeNoop, TotalPoints: l.data.TotalPoints}, nil
	}

	next := l.next()
	next.PendingTasks = withoutIndex(next.PendingTasks, idx)
	l.commit(next)

	l.metrics.RecordOperation(observability.OpReject, observability.OutcomeOK, time.Since(start))
	l.logger.Info("task rejected", zap.String("task_id", taskID))
	return &domain.TaskDecision{TaskID: taskID, Outcome: domain.OutcomeRejected, TotalPoints: next.TotalPoints}, nil
}
