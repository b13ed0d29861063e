package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/inaiurai/imagegen/internal/database"
	"github.com/inaiurai/imagegen/internal/imagemodel"
	"github.com/inaiurai/imagegen/internal/models"
)

type ImageModel interface {
	Generate(ctx context.Context, req *models.GenerationRequest) (imageURL string, err error)
}

// Processor runs a request to a terminal state. Every transition is
// conditional on the current status, so concurrent or repeated deliveries of
// the same request leave exactly one outcome and at most one refund.
type Processor struct {
	DB       database.TxBeginner
	Ledger   Ledger
	Requests Requests
	Model    ImageModel
}

func NewProcessor(db database.TxBeginner, l Ledger, requests Requests, model ImageModel) *Processor {
	return &Processor{DB: db, Ledger: l, Requests: requests, Model: model}
}

// Handle processes one delivery. A returned error means the outcome is still
// open and the delivery should be retried.
func (p *Processor) Handle(ctx context.Context, id uuid.UUID) error {
	req, err := p.start(ctx, id)
	if err != nil || req == nil {
		return err
	}

	if _, err := p.Requests.UpdateProgress(ctx, id, models.ProgressRendering); err != nil {
		return fmt.Errorf("update progress: %w", err)
	}

	imageURL, err := p.Model.Generate(ctx, req)
	switch {
	case err == nil:
		return p.complete(ctx, req, imageURL)
	case errors.Is(err, imagemodel.ErrGenerationFailed):
		return p.fail(ctx, req, failureMessage(err))
	default:
		return fmt.Errorf("generate image: %w", err)
	}
}

// Abort forces an open request to failed and refunds it. Used once retries
// are exhausted.
func (p *Processor) Abort(ctx context.Context, id uuid.UUID, reason string) error {
	req, err := p.start(ctx, id)
	if err != nil || req == nil {
		return err
	}
	return p.fail(ctx, req, reason)
}

// start returns the request in processing, or nil if it is already terminal.
func (p *Processor) start(ctx context.Context, id uuid.UUID) (*models.GenerationRequest, error) {
	req, err := p.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Terminal() {
		return nil, nil
	}
	if req.Status != models.GenerationProcessing {
		if err := checkTransition(req, models.GenerationProcessing); err != nil {
			return nil, err
		}
		moved, err := p.Requests.MarkProcessing(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("mark processing: %w", err)
		}
		if !moved {
			if req, err = p.load(ctx, id); err != nil {
				return nil, err
			}
			if req.Terminal() {
				return nil, nil
			}
		}
		req.Status = models.GenerationProcessing
	}
	return req, nil
}

func (p *Processor) load(ctx context.Context, id uuid.UUID) (*models.GenerationRequest, error) {
	req, err := p.Requests.GetByID(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load request: %w", err)
	}
	return req, nil
}

func (p *Processor) complete(ctx context.Context, req *models.GenerationRequest, imageURL string) error {
	if err := checkTransition(req, models.GenerationCompleted); err != nil {
		return err
	}
	var won bool
	err := database.WithTx(ctx, p.DB, func(tx pgx.Tx) error {
		var err error
		if won, err = p.Requests.CompleteTx(ctx, tx, req.ID, imageURL); err != nil || !won {
			return err
		}
		return p.Ledger.RecordImageGeneratedTx(ctx, tx, req.UserID)
	})
	if err != nil {
		return fmt.Errorf("complete request: %w", err)
	}
	if won {
		slog.Info("generation completed", "request_id", req.ID, "user_id", req.UserID, "model", req.Model)
	}
	return nil
}

func (p *Processor) fail(ctx context.Context, req *models.GenerationRequest, message string) error {
	if err := checkTransition(req, models.GenerationFailed); err != nil {
		return err
	}
	var won bool
	err := database.WithTx(ctx, p.DB, func(tx pgx.Tx) error {
		var err error
		if won, err = p.Requests.FailTx(ctx, tx, req.ID, message); err != nil || !won {
			return err
		}
		_, err = p.Ledger.RefundTx(ctx, tx, req.UserID, req.CreditsDeducted, req.ID, "Refund for failed generation: "+message)
		return err
	})
	if err != nil {
		return fmt.Errorf("fail request: %w", err)
	}
	if won {
		slog.Warn("generation failed, credits refunded", "request_id", req.ID, "user_id", req.UserID, "credits", req.CreditsDeducted, "error", message)
	}
	return nil
}

// checkTransition rejects edges the state machine does not have before any
// conditional update is issued.
func checkTransition(req *models.GenerationRequest, to string) error {
	if !models.CanTransition(req.Status, to) {
		return fmt.Errorf("%w: request %s %s -> %s", ErrInvalidTransition, req.ID, req.Status, to)
	}
	return nil
}

func failureMessage(err error) string {
	var fe *imagemodel.FailureError
	if errors.As(err, &fe) {
		return fe.Message
	}
	return err.Error()
}
