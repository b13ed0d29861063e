package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/inaiurai/imagegen/internal/ledger"
	"github.com/inaiurai/imagegen/internal/middleware"
	"github.com/inaiurai/imagegen/internal/models"
)

// Accounts is satisfied by repository.UserRepo.
type Accounts interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// Credits is satisfied by ledger.Service.
type Credits interface {
	Statement(ctx context.Context, userID uuid.UUID) (*ledger.Statement, error)
}

type Handler struct {
	accounts Accounts
	credits  Credits
	log      *slog.Logger
}

func NewHandler(accounts Accounts, credits Credits, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{accounts: accounts, credits: credits, log: log}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// GET /api/v1/account/me
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromCtx(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	u, err := h.accounts.GetByID(r.Context(), userID)
	if errors.Is(err, pgx.ErrNoRows) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "account not found"})
		return
	}
	if err != nil {
		h.log.Error("get account failed", "user_id", userID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":                     u.ID,
		"email":                  u.Email,
		"display_name":           u.DisplayName,
		"current_credits":        u.CurrentCredits,
		"total_images_generated": u.TotalImagesGenerated,
		"created_at":             u.CreatedAt,
	})
}

// GET /api/v1/credits
func (h *Handler) GetCredits(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromCtx(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	st, err := h.credits.Statement(r.Context(), userID)
	if errors.Is(err, ledger.ErrUserNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "account not found"})
		return
	}
	if err != nil {
		h.log.Error("credit statement failed", "user_id", userID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, st)
}
