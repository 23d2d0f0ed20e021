package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/boddenberg/habit-hero-go/internal/domain"
	"github.com/boddenberg/habit-hero-go/internal/service"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Export / import / bulk / reset
// ============================================================

func exportHandler(ledger *service.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/export")
		defer span.End()

		data := ledger.ExportSnapshot(ctx)
		name := fmt.Sprintf("habit-hero-%s.json", time.Now().Format(time.DateOnly))
		w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
		writeJSON(w, http.StatusOK, data)
	}
}

func importHandler(ledger *service.Ledger, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/import")
		defer span.End()

		raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImportBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, "snapshot too large")
				return
			}
			writeError(w, http.StatusBadRequest, "could not read body")
			return
		}
		span.SetAttributes(attribute.Int("import.bytes", len(raw)))

		if err := ledger.ImportJSON(ctx, raw); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		sub, _ := ParentSubject(ctx)
		logger.Info("audit: ledger replaced by import", zap.String("session", sub), zap.Int("bytes", len(raw)))
		writeJSON(w, http.StatusOK, domain.SuccessResponse{Message: "imported"})
	}
}

func bulkInsertHandler(ledger *service.Ledger, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/transactions/bulk")
		defer span.End()

		var txs []domain.Transaction
		if err := decodeJSON(w, r, maxImportBytes, &txs); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		res, err := ledger.BulkInsertTransactions(ctx, txs)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, res)
	}
}

func syntheticHandler(ledger *service.Ledger, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/transactions/synthetic")
		defer span.End()

		var req domain.SyntheticRequest
		if r.ContentLength != 0 {
			if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
				handleServiceError(w, err, logger)
				return
			}
		}
		res, err := ledger.GenerateSyntheticTransactions(ctx, req.Count)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, res)
	}
}

func resetHandler(ledger *service.Ledger, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/reset")
		defer span.End()

		var req domain.ResetRequest
		if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		sub, _ := ParentSubject(ctx)
		if err := ledger.ResetAll(ctx, req.Password); err != nil {
			logger.Warn("audit: reset refused", zap.String("session", sub), zap.Error(err))
			handleServiceError(w, err, logger)
			return
		}
		logger.Info("audit: ledger reset to defaults", zap.String("session", sub))
		writeJSON(w, http.StatusOK, domain.SuccessResponse{Message: "reset to defaults"})
	}
}
