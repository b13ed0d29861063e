package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/inaiurai/imagegen/internal/catalog"
	"github.com/inaiurai/imagegen/internal/generation"
	"github.com/inaiurai/imagegen/internal/ledger"
	"github.com/inaiurai/imagegen/internal/middleware"
	"github.com/inaiurai/imagegen/internal/models"
)

// GenerationService is the subset of generation.Service the handler needs.
type GenerationService interface {
	Create(ctx context.Context, in generation.CreateInput) (*models.GenerationRequest, error)
	Get(ctx context.Context, userID, id uuid.UUID) (*models.GenerationRequest, error)
	List(ctx context.Context, userID uuid.UUID) ([]*models.GenerationRequest, error)
}

// GenerationHandler serves /api/v1/generations endpoints.
type GenerationHandler struct {
	Service GenerationService
	Logger  *slog.Logger
}

// --- POST /api/v1/generations ---

type createGenerationRequest struct {
	Model  string `json:"model"`
	Style  string `json:"style"`
	Color  string `json:"color"`
	Size   string `json:"size"`
	Prompt string `json:"prompt"`
}

type createGenerationResponse struct {
	GenerationRequestID string `json:"generationRequestId"`
	Status              string `json:"status"`
	DeductedCredits     int    `json:"deductedCredits"`
	QueuePosition       *int   `json:"queuePosition"`
	DispatchPending     bool   `json:"dispatch_pending,omitempty"`
}

// CreateGeneration handles POST /api/v1/generations.
// Auth -> Schema (via middleware) -> Reserve + Persist -> Dispatch -> 202.
func (h *GenerationHandler) CreateGeneration(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromCtx(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	var req createGenerationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	gen, err := h.Service.Create(r.Context(), generation.CreateInput{
		UserID: userID,
		Model:  req.Model,
		Style:  req.Style,
		Color:  req.Color,
		Size:   req.Size,
		Prompt: req.Prompt,
	})
	switch {
	case err == nil:
	case errors.Is(err, generation.ErrDispatchFailure) && gen != nil:
		// Credits and record are durable; the reconcile sweep will dispatch it.
		writeJSON(w, http.StatusAccepted, createResponse(gen, true))
		return
	case errors.Is(err, ledger.ErrInsufficientCredits):
		writeJSON(w, http.StatusPaymentRequired, map[string]string{"error": "insufficient credits"})
		return
	case errors.Is(err, ledger.ErrUserNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "user not found"})
		return
	case errors.Is(err, catalog.ErrInvalidParameters):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	default:
		h.Logger.Error("create generation", "user_id", userID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusAccepted, createResponse(gen, false))
}

func createResponse(g *models.GenerationRequest, pending bool) createGenerationResponse {
	return createGenerationResponse{
		GenerationRequestID: g.ID.String(),
		Status:              g.Status,
		DeductedCredits:     g.CreditsDeducted,
		DispatchPending:     pending,
	}
}

// --- GET /api/v1/generations/{id} ---

type generationStatus struct {
	ID              string     `json:"id"`
	Status          string     `json:"status"`
	Progress        int        `json:"progress"`
	Model           string     `json:"model"`
	Style           string     `json:"style"`
	Color           string     `json:"color"`
	Size            string     `json:"size"`
	Prompt          string     `json:"prompt"`
	CreditsDeducted int        `json:"credits_deducted"`
	ImageURL        *string    `json:"image_url"`
	ErrorMessage    *string    `json:"error_message"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

func toStatus(g *models.GenerationRequest) generationStatus {
	return generationStatus{
		ID:              g.ID.String(),
		Status:          g.Status,
		Progress:        g.Progress,
		Model:           g.Model,
		Style:           g.Style,
		Color:           g.Color,
		Size:            g.Size,
		Prompt:          g.Prompt,
		CreditsDeducted: g.CreditsDeducted,
		ImageURL:        g.ImageURL,
		ErrorMessage:    g.ErrorMessage,
		CreatedAt:       g.CreatedAt,
		UpdatedAt:       g.UpdatedAt,
		CompletedAt:     g.CompletedAt,
	}
}

// GetGeneration handles GET /api/v1/generations/{id}.
func (h *GenerationHandler) GetGeneration(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromCtx(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid generation id"})
		return
	}
	gen, err := h.Service.Get(r.Context(), userID, id)
	if errors.Is(err, generation.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "generation request not found"})
		return
	}
	if err != nil {
		h.Logger.Error("get generation", "request_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, toStatus(gen))
}

// ListGenerations handles GET /api/v1/generations.
func (h *GenerationHandler) ListGenerations(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromCtx(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	list, err := h.Service.List(r.Context(), userID)
	if err != nil {
		h.Logger.Error("list generations", "user_id", userID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	out := make([]generationStatus, 0, len(list))
	for _, g := range list {
		out = append(out, toStatus(g))
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
