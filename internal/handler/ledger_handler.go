package handler

import (
	"net/http"

	"github.com/boddenberg/habit-hero-go/internal/domain"
	"github.com/boddenberg/habit-hero-go/internal/service"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Child screens
// ============================================================

func stateHandler(ledger *service.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, ledger.PublicState())
	}
}

func habitsTodayHandler(ledger *service.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/habits/today")
		defer span.End()
		writeJSON(w, http.StatusOK, ledger.HabitsToday(ctx))
	}
}

func completedHandler(ledger *service.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/completed")
		defer span.End()
		writeJSON(w, http.StatusOK, map[string][]string{"habitIds": ledger.CompletedToday(ctx)})
	}
}

func requestTaskHandler(ledger *service.Ledger, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/tasks")
		defer span.End()

		var req domain.RequestTaskRequest
		if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(attribute.String("habit.id", req.HabitID))

		task, err := ledger.RequestTask(ctx, req.HabitID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, task)
	}
}

func redeemHandler(ledger *service.Ledger, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/rewards/{id}/redeem")
		defer span.End()
		rewardID := chi.URLParam(r, "id")
		span.SetAttributes(attribute.String("reward.id", rewardID))

		res, err := ledger.Spend(ctx, rewardID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func listTransactionsHandler(ledger *service.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, pageSize := parsePagination(r)
		txs, total := ledger.Transactions(page, pageSize)
		writeJSON(w, http.StatusOK, domain.ListResponse[domain.Transaction]{
			Data:     txs,
			Total:    total,
			Page:     page,
			PageSize: pageSize,
			HasMore:  page*pageSize < total,
		})
	}
}

// ============================================================
// Parent decisions & points
// ============================================================

func approveTaskHandler(ledger *service.Ledger, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/tasks/{id}/approve")
		defer span.End()
		taskID := chi.URLParam(r, "id")
		span.SetAttributes(attribute.String("task.id", taskID))

		decision, err := ledger.ApproveTask(ctx, taskID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, decision)
	}
}

func rejectTaskHandler(ledger *service.Ledger, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/tasks/{id}/reject")
		defer span.End()
		taskID := chi.URLParam(r, "id")
		span.SetAttributes(attribute.String("task.id", taskID))

		decision, err := ledger.RejectTask(ctx, taskID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, decision)
	}
}

func applyDeductionHandler(ledger *service.Ledger, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/deductions/{id}/apply")
		defer span.End()
		deductionID := chi.URLParam(r, "id")
		span.SetAttributes(attribute.String("deduction.id", deductionID))

		res, err := ledger.QuickDeduct(ctx, deductionID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func adjustPointsHandler(ledger *service.Ledger, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/points/adjust")
		defer span.End()

		var req domain.ManualAdjustRequest
		if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(
			attribute.Int("adjust.amount", req.Amount),
			attribute.String("adjust.direction", string(req.Direction)),
		)

		res, err := ledger.ManualAdjust(ctx, req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}
