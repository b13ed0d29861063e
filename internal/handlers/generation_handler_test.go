package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/inaiurai/imagegen/internal/catalog"
	"github.com/inaiurai/imagegen/internal/generation"
	"github.com/inaiurai/imagegen/internal/ledger"
	"github.com/inaiurai/imagegen/internal/middleware"
	"github.com/inaiurai/imagegen/internal/models"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type mockGenerations struct {
	created   []generation.CreateInput
	createErr error
	byID      map[uuid.UUID]*models.GenerationRequest
}

func newMockGenerations() *mockGenerations {
	return &mockGenerations{byID: make(map[uuid.UUID]*models.GenerationRequest)}
}

func (m *mockGenerations) Create(_ context.Context, in generation.CreateInput) (*models.GenerationRequest, error) {
	m.created = append(m.created, in)
	if m.createErr != nil && !errors.Is(m.createErr, generation.ErrDispatchFailure) {
		return nil, m.createErr
	}
	g := &models.GenerationRequest{
		ID:              uuid.New(),
		UserID:          in.UserID,
		Model:           in.Model,
		Style:           in.Style,
		Color:           in.Color,
		Size:            in.Size,
		Status:          models.GenerationQueued,
		CreditsDeducted: 3,
	}
	m.byID[g.ID] = g
	return g, m.createErr
}

func (m *mockGenerations) Get(_ context.Context, userID, id uuid.UUID) (*models.GenerationRequest, error) {
	g, ok := m.byID[id]
	if !ok || g.UserID != userID {
		return nil, generation.ErrNotFound
	}
	return g, nil
}

func (m *mockGenerations) List(_ context.Context, userID uuid.UUID) ([]*models.GenerationRequest, error) {
	var out []*models.GenerationRequest
	for _, g := range m.byID {
		if g.UserID == userID {
			out = append(out, g)
		}
	}
	return out, nil
}

func newTestHandler() (*GenerationHandler, *mockGenerations) {
	svc := newMockGenerations()
	return &GenerationHandler{
		Service: svc,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, svc
}

const validBody = `{"model":"model_a","style":"anime","color":"vibrant","size":"1024x1024"}`

func postGeneration(h *GenerationHandler, userID uuid.UUID, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/generations", strings.NewReader(body))
	req = req.WithContext(middleware.WithUserID(req.Context(), userID))
	rec := httptest.NewRecorder()
	h.CreateGeneration(rec, req)
	return rec
}

// =====================================================================
// POST /api/v1/generations
// =====================================================================

func TestCreateGeneration_Accepted(t *testing.T) {
	h, svc := newTestHandler()
	userID := uuid.New()

	rec := postGeneration(h, userID, validBody)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["generationRequestId"] == "" || resp["status"] != models.GenerationQueued {
		t.Errorf("unexpected response %v", resp)
	}
	if resp["deductedCredits"] != float64(3) {
		t.Errorf("deductedCredits = %v, want 3", resp["deductedCredits"])
	}
	if v, ok := resp["queuePosition"]; !ok || v != nil {
		t.Errorf("queuePosition should be present and null, got %v", v)
	}
	if _, ok := resp["dispatch_pending"]; ok {
		t.Error("dispatch_pending should be omitted on a clean dispatch")
	}
	if len(svc.created) != 1 || svc.created[0].UserID != userID {
		t.Errorf("service called with %+v", svc.created)
	}
}

func TestCreateGeneration_DispatchPending(t *testing.T) {
	h, svc := newTestHandler()
	svc.createErr = fmt.Errorf("%w: broker down", generation.ErrDispatchFailure)

	rec := postGeneration(h, uuid.New(), validBody)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp createGenerationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.DispatchPending {
		t.Error("expected dispatch_pending=true")
	}
}

func TestCreateGeneration_ErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"insufficient credits", ledger.ErrInsufficientCredits, http.StatusPaymentRequired},
		{"unknown user", ledger.ErrUserNotFound, http.StatusNotFound},
		{"bad parameters", fmt.Errorf("%w: unknown style", catalog.ErrInvalidParameters), http.StatusUnprocessableEntity},
		{"storage", errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, svc := newTestHandler()
			svc.createErr = tc.err

			rec := postGeneration(h, uuid.New(), validBody)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestCreateGeneration_Unauthenticated(t *testing.T) {
	h, svc := newTestHandler()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/generations", strings.NewReader(validBody))
	rec := httptest.NewRecorder()

	h.CreateGeneration(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if len(svc.created) != 0 {
		t.Error("service must not be called without a user")
	}
}

func TestCreateGeneration_InvalidJSON(t *testing.T) {
	h, _ := newTestHandler()
	rec := postGeneration(h, uuid.New(), `{"model":`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

// =====================================================================
// GET /api/v1/generations/{id}
// =====================================================================

func getGeneration(h *GenerationHandler, userID uuid.UUID, id string) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/generations/{id}", h.GetGeneration)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/generations/"+id, nil)
	req = req.WithContext(middleware.WithUserID(req.Context(), userID))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestGetGeneration_Owner(t *testing.T) {
	h, svc := newTestHandler()
	userID := uuid.New()
	url := "https://model-a.example/generated/x"
	done := time.Now()
	g := &models.GenerationRequest{
		ID:          uuid.New(),
		UserID:      userID,
		Status:      models.GenerationCompleted,
		Progress:    models.ProgressDone,
		ImageURL:    &url,
		CompletedAt: &done,
	}
	svc.byID[g.ID] = g

	rec := getGeneration(h, userID, g.ID.String())
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var got generationStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Status != models.GenerationCompleted || got.Progress != 100 {
		t.Errorf("unexpected status %+v", got)
	}
	if got.ImageURL == nil || *got.ImageURL != url {
		t.Errorf("image_url = %v", got.ImageURL)
	}
	if strings.Contains(rec.Body.String(), "dispatch_error") {
		t.Error("dispatch_error is internal and must not be exposed")
	}
}

func TestGetGeneration_OtherUser(t *testing.T) {
	h, svc := newTestHandler()
	g := &models.GenerationRequest{ID: uuid.New(), UserID: uuid.New(), Status: models.GenerationQueued}
	svc.byID[g.ID] = g

	rec := getGeneration(h, uuid.New(), g.ID.String())
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestGetGeneration_BadID(t *testing.T) {
	h, _ := newTestHandler()
	rec := getGeneration(h, uuid.New(), "not-a-uuid")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestListGenerations_OnlyOwn(t *testing.T) {
	h, svc := newTestHandler()
	userID := uuid.New()
	for i := 0; i < 2; i++ {
		g := &models.GenerationRequest{ID: uuid.New(), UserID: userID, Status: models.GenerationQueued}
		svc.byID[g.ID] = g
	}
	other := &models.GenerationRequest{ID: uuid.New(), UserID: uuid.New()}
	svc.byID[other.ID] = other

	req := httptest.NewRequest(http.MethodGet, "/api/v1/generations", nil)
	req = req.WithContext(middleware.WithUserID(req.Context(), userID))
	rec := httptest.NewRecorder()
	h.ListGenerations(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got []generationStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(got))
	}
}

// =====================================================================
// GET /api/v1/catalog, /api/v1/reports/latest
// =====================================================================

func TestCatalogHandler(t *testing.T) {
	cat := catalog.Default()
	rec := httptest.NewRecorder()

	CatalogHandler(cat)(rec, httptest.NewRequest(http.MethodGet, "/api/v1/catalog", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got catalog.Catalog
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Models) != len(cat.Models) || len(got.Sizes) != len(cat.Sizes) {
		t.Errorf("catalog round trip lost entries: %+v", got)
	}
}

type stubLatest struct {
	rep *models.Report
	err error
}

func (s stubLatest) Latest(context.Context) (*models.Report, error) { return s.rep, s.err }

func TestLatestReportHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	rec := httptest.NewRecorder()
	LatestReportHandler(stubLatest{err: pgx.ErrNoRows}, logger)(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 with no report, got %d", rec.Code)
	}

	rep := &models.Report{ID: uuid.New(), SeverityLevel: models.SeverityHigh}
	rec = httptest.NewRecorder()
	LatestReportHandler(stubLatest{rep: rep}, logger)(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), rep.ID.String()) {
		t.Errorf("body missing report id: %s", rec.Body.String())
	}
}
