package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5"

	"github.com/inaiurai/imagegen/internal/catalog"
	"github.com/inaiurai/imagegen/internal/models"
)

// CatalogHandler returns GET /api/v1/catalog: the static models, styles,
// colors and sizes with their credit costs.
func CatalogHandler(c *catalog.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, c)
	}
}

// LatestReport is satisfied by repository.ReportRepo.
type LatestReport interface {
	Latest(ctx context.Context) (*models.Report, error)
}

// LatestReportHandler serves GET /api/v1/reports/latest.
func LatestReportHandler(reports LatestReport, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep, err := reports.Latest(r.Context())
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no report generated yet"})
			return
		}
		if err != nil {
			logger.Error("latest report", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
			return
		}
		writeJSON(w, http.StatusOK, rep)
	}
}
