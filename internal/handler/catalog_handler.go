package handler

import (
	"context"
	"net/http"

	"github.com/boddenberg/habit-hero-go/internal/domain"
	"github.com/boddenberg/habit-hero-go/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ============================================================
// Catalog Handlers
// ============================================================

// createHandler decodes a T, passes it to add and answers 201 with the result.
func createHandler[T any](spanName string, add func(context.Context, T) (*T, error), logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), spanName)
		defer span.End()

		var item T
		if err := decodeJSON(w, r, maxBodyBytes, &item); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		created, err := add(ctx, item)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	}
}

// patchHandler decodes a patch P and applies it to the entry named by {id}.
func patchHandler[T, P any](spanName string, update func(context.Context, string, P) (*T, error), logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), spanName)
		defer span.End()

		var patch P
		if err := decodeJSON(w, r, maxBodyBytes, &patch); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		updated, err := update(ctx, chi.URLParam(r, "id"), patch)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	}
}

func deleteHandler(spanName string, remove func(context.Context, string) error, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), spanName)
		defer span.End()

		id := chi.URLParam(r, "id")
		if err := remove(ctx, id); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.SuccessResponse{Message: "removed", ID: id})
	}
}

func addHabitHandler(ledger *service.Ledger, logger *zap.Logger) http.HandlerFunc {
	return createHandler("POST /v1/habits", ledger.AddHabit, logger)
}

func updateHabitHandler(ledger *service.Ledger, logger *zap.Logger) http.HandlerFunc {
	return patchHandler("PATCH /v1/habits/{id}", ledger.UpdateHabit, logger)
}

func removeHabitHandler(ledger *service.Ledger, logger *zap.Logger) http.HandlerFunc {
	return deleteHandler("DELETE /v1/habits/{id}", ledger.RemoveHabit, logger)
}

func addRewardHandler(ledger *service.Ledger, logger *zap.Logger) http.HandlerFunc {
	return createHandler("POST /v1/rewards", ledger.AddReward, logger)
}

func updateRewardHandler(ledger *service.Ledger, logger *zap.Logger) http.HandlerFunc {
	return patchHandler("PATCH /v1/rewards/{id}", ledger.UpdateReward, logger)
}

func removeRewardHandler(ledger *service.Ledger, logger *zap.Logger) http.HandlerFunc {
	return deleteHandler("DELETE /v1/rewards/{id}", ledger.RemoveReward, logger)
}

func addDeductionHandler(ledger *service.Ledger, logger *zap.Logger) http.HandlerFunc {
	return createHandler("POST /v1/deductions", ledger.AddDeduction, logger)
}

func updateDeductionHandler(ledger *service.Ledger, logger *zap.Logger) http.HandlerFunc {
	return patchHandler("PATCH /v1/deductions/{id}", ledger.UpdateDeduction, logger)
}

func removeDeductionHandler(ledger *service.Ledger, logger *zap.Logger) http.HandlerFunc {
	return deleteHandler("DELETE /v1/deductions/{id}", ledger.RemoveDeduction, logger)
}

// ============================================================
// Profile
// ============================================================

func updateProfileHandler(ledger *service.Ledger, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PUT /v1/profile")
		defer span.End()

		var req domain.ProfileUpdate
		if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		profile, err := ledger.UpdateProfile(ctx, req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, profile)
	}
}
