package service

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/boddenberg/habit-hero-go/internal/domain"
	"github.com/boddenberg/habit-hero-go/internal/infra/observability"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Point movements
// ============================================================

// Spend redeems a reward from the catalog.
func (l *Ledger) Spend(ctx context.Context, rewardID string) (*domain.PointsResult, error) {
	ctx, span := ledgerTracer.Start(ctx, "Ledger.Spend")
	defer span.End()
	span.SetAttributes(attribute.String("reward.id", rewardID))
	start := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	res, err := l.spendLocked(ctx, rewardID)
	l.metrics.RecordOperation(observability.OpSpend, outcomeOf(err), time.Since(start))
	return res, err
}

func (l *Ledger) spendLocked(ctx context.Context, rewardID string) (*domain.PointsResult, error) {
	idx := slices.IndexFunc(l.data.Rewards, func(r domain.Reward) bool { return r.ID == rewardID })
	if idx < 0 {
		return nil, &domain.ErrNotFound{Resource: "reward", ID: rewardID}
	}
	r := l.data.Rewards[idx]
	return l.move(ctx, observability.OpSpend, domain.TxSpend, r.Cost, r.Name)
}

// QuickDeduct applies a configured penalty.
func (l *Ledger) QuickDeduct(ctx context.Context, deductionID string) (*domain.PointsResult, error) {
	ctx, span := ledgerTracer.Start(ctx, "Ledger.QuickDeduct")
	defer span.End()
	span.SetAttributes(attribute.String("deduction.id", deductionID))
	start := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	res, err := l.deductLocked(ctx, deductionID)
	l.metrics.RecordOperation(observability.OpDeduct, outcomeOf(err), time.Since(start))
	return res, err
}

func (l *Ledger) deductLocked(ctx context.Context, deductionID string) (*domain.PointsResult, error) {
	idx := slices.IndexFunc(l.data.Deductions, func(d domain.Deduction) bool { return d.ID == deductionID })
	if idx < 0 {
		return nil, &domain.ErrNotFound{Resource: "deduction", ID: deductionID}
	}
	d := l.data.Deductions[idx]
	return l.move(ctx, observability.OpDeduct, domain.TxSpend, d.Points, d.Name)
}

// ManualAdjust grants or removes points outside the catalogs. Credits are recorded
// as earn transactions and debits as spend transactions, each described with the
// manual label and the optional reason.
func (l *Ledger) ManualAdjust(ctx context.Context, req domain.ManualAdjustRequest) (*domain.PointsResult, error) {
	ctx, span := ledgerTracer.Start(ctx, "Ledger.ManualAdjust")
	defer span.End()
	span.SetAttributes(
		attribute.Int("adjust.amount", req.Amount),
		attribute.String("adjust.direction", string(req.Direction)),
	)
	start := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	res, err := l.adjustLocked(ctx, req)
	l.metrics.RecordOperation(observability.OpAdjust, outcomeOf(err), time.Since(start))
	return res, err
}

func (l *Ledger) adjustLocked(ctx context.Context, req domain.ManualAdjustRequest) (*domain.PointsResult, error) {
	if req.Amount <= 0 {
		return nil, &domain.ErrValidation{Field: "amount", Message: "amount must be a positive integer"}
	}

	var (
		txType domain.TransactionType
		label  string
	)
	switch req.Direction {
	case domain.DirectionCredit:
		txType, label = domain.TxEarn, domain.ManualCreditLabel
	case domain.DirectionDebit:
		txType, label = domain.TxSpend, domain.ManualDebitLabel
	default:
		return nil, &domain.ErrValidation{Field: "direction", Message: "direction must be credit or debit"}
	}

	desc := label
	if reason := strings.TrimSpace(req.Reason); reason != "" {
		desc = label + ": " + reason
	}
	return l.move(ctx, observability.OpAdjust, txType, req.Amount, desc)
}

// move records a single earn or spend and applies it. Debits are checked against
// the balance first; the transaction is durable before memory changes.
func (l *Ledger) move(ctx context.Context, op string, txType domain.TransactionType, amount int, desc string) (*domain.PointsResult, error) {
	if txType != domain.TxEarn && amount > l.data.TotalPoints {
		l.logger.Info("insufficient points",
			zap.String("op", op),
			zap.Int("available", l.data.TotalPoints),
			zap.Int("required", amount),
		)
		return nil, &domain.ErrInsufficientPoints{Available: l.data.TotalPoints, Required: amount}
	}
	if amount <= 0 {
		return nil, &domain.ErrValidation{Field: "amount", Message: "catalog entry has no point value"}
	}

	tx := domain.Transaction{
		ID:          l.ids.NewID(),
		Type:        txType,
		Amount:      amount,
		Description: desc,
		Date:        l.timestamp(),
	}
	if err := l.appendDurably(ctx, op, tx); err != nil {
		return nil, err
	}

	next := l.next()
	next.TotalPoints += domain.SignedAmount(tx)
	next.Transactions = domain.InsertNewestFirst(next.Transactions, tx)
	l.commit(next)

	l.logger.Info("points moved",
		zap.String("op", op),
		zap.String("transaction_id", tx.ID),
		zap.String("type", string(tx.Type)),
		zap.Int("amount", tx.Amount),
		zap.Int("total_points", next.TotalPoints),
	)
	return &domain.PointsResult{Transaction: tx, TotalPoints: next.TotalPoints}, nil
}

func isErr[T error](err error) bool {
	var target T
	return errors.As(err, &target)
}
