// Package generation owns the lifecycle of a generation request: pricing and
// reserving credits on creation, dispatching it to the queue, and driving it
// through queued -> processing -> completed|failed when a worker picks it up.
package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/inaiurai/imagegen/internal/catalog"
	"github.com/inaiurai/imagegen/internal/database"
	"github.com/inaiurai/imagegen/internal/models"
)

var (
	// ErrDispatchFailure means the request and its deduction were stored but
	// the job could not be enqueued. The request is picked up by the
	// reconcile sweep.
	ErrDispatchFailure = errors.New("generation request dispatch failed")
	ErrNotFound        = errors.New("generation request not found")
	// ErrInvalidTransition means a status change outside
	// queued -> processing -> {completed, failed} was attempted.
	ErrInvalidTransition = errors.New("invalid generation status transition")
)

const staleBatchSize = 100

// Requests is the generation request store.
type Requests interface {
	CreateTx(ctx context.Context, tx pgx.Tx, g *models.GenerationRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.GenerationRequest, error)
	ListByUserID(ctx context.Context, userID uuid.UUID) ([]*models.GenerationRequest, error)
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*models.GenerationRequest, error)
	SetDispatchError(ctx context.Context, id uuid.UUID, msg *string) error
	MarkProcessing(ctx context.Context, id uuid.UUID) (bool, error)
	UpdateProgress(ctx context.Context, id uuid.UUID, progress int) (bool, error)
	CompleteTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, imageURL string) (bool, error)
	FailTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, message string) (bool, error)
}

// Ledger is the subset of ledger.Service used by generation.
type Ledger interface {
	ReserveTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int, requestID uuid.UUID, description string) (*models.CreditTransaction, error)
	RefundTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int, requestID uuid.UUID, description string) (*models.CreditTransaction, error)
	RecordImageGeneratedTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID) error
}

// Dispatcher enqueues background work for a request.
type Dispatcher interface {
	Enqueue(ctx context.Context, requestID uuid.UUID) error
}

type CreateInput struct {
	UserID uuid.UUID
	Model  string
	Style  string
	Color  string
	Size   string
	Prompt string
}

type Service struct {
	DB         database.TxBeginner
	Ledger     Ledger
	Requests   Requests
	Catalog    *catalog.Catalog
	Dispatcher Dispatcher
	Now        func() time.Time
}

func NewService(db database.TxBeginner, l Ledger, requests Requests, cat *catalog.Catalog, d Dispatcher) *Service {
	return &Service{DB: db, Ledger: l, Requests: requests, Catalog: cat, Dispatcher: d, Now: time.Now}
}

// Create prices the request, reserves the credits and stores the request as
// queued in one transaction, then enqueues it. When only the enqueue fails
// the stored request is returned together with ErrDispatchFailure.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.GenerationRequest, error) {
	sel, size, err := s.Catalog.Resolve(catalog.Selection{Model: in.Model, Style: in.Style, Color: in.Color, Size: in.Size})
	if err != nil {
		return nil, err
	}

	req := &models.GenerationRequest{
		ID:              uuid.New(),
		UserID:          in.UserID,
		Model:           sel.Model,
		Style:           sel.Style,
		Color:           sel.Color,
		Size:            sel.Size,
		Prompt:          in.Prompt,
		Status:          models.GenerationQueued,
		CreditsDeducted: size.Credits,
	}
	desc := fmt.Sprintf("Image generation - %s %s %s", sel.Model, sel.Style, sel.Size)
	err = database.WithTx(ctx, s.DB, func(tx pgx.Tx) error {
		if _, err := s.Ledger.ReserveTx(ctx, tx, in.UserID, size.Credits, req.ID, desc); err != nil {
			return err
		}
		return s.Requests.CreateTx(ctx, tx, req)
	})
	if err != nil {
		return nil, err
	}
	slog.Info("generation request created", "request_id", req.ID, "user_id", in.UserID, "credits", size.Credits)

	// The reservation is committed; a client disconnect must not cut off the
	// enqueue or the record of its failure.
	postCommit := context.WithoutCancel(ctx)
	if err := s.Dispatcher.Enqueue(postCommit, req.ID); err != nil {
		msg := err.Error()
		slog.Error("generation dispatch failed", "request_id", req.ID, "error", err)
		if markErr := s.Requests.SetDispatchError(postCommit, req.ID, &msg); markErr != nil {
			slog.Error("record dispatch error", "request_id", req.ID, "error", markErr)
		}
		req.DispatchError = &msg
		return req, fmt.Errorf("%w: %v", ErrDispatchFailure, err)
	}
	return req, nil
}

// Get returns the request if it belongs to userID.
func (s *Service) Get(ctx context.Context, userID, id uuid.UUID) (*models.GenerationRequest, error) {
	req, err := s.Requests.GetByID(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if req.UserID != userID {
		return nil, ErrNotFound
	}
	return req, nil
}

func (s *Service) List(ctx context.Context, userID uuid.UUID) ([]*models.GenerationRequest, error) {
	return s.Requests.ListByUserID(ctx, userID)
}

// RedispatchStale re-enqueues open requests whose dispatch failed or that
// have not moved for olderThan. Duplicate jobs are dropped by the queue and
// the worker is idempotent, so a request that is still running is unharmed.
func (s *Service) RedispatchStale(ctx context.Context, olderThan time.Duration) (int, error) {
	stale, err := s.Requests.ListStale(ctx, s.Now().Add(-olderThan), staleBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list stale requests: %w", err)
	}
	var (
		n    int
		errs []error
	)
	for _, req := range stale {
		if err := s.Dispatcher.Enqueue(ctx, req.ID); err != nil {
			errs = append(errs, fmt.Errorf("redispatch %s: %w", req.ID, err))
			continue
		}
		if req.DispatchError != nil {
			if err := s.Requests.SetDispatchError(ctx, req.ID, nil); err != nil {
				errs = append(errs, fmt.Errorf("clear dispatch error %s: %w", req.ID, err))
			}
		}
		n++
	}
	if n > 0 {
		slog.Info("redispatched stale generation requests", "count", n)
	}
	return n, errors.Join(errs...)
}
