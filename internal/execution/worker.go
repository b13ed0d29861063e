package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/inaiurai/imagegen/internal/generation"
)

const (
	generateMaxAttempts = 5
	generateTimeout     = 2 * time.Minute
)

type GenerateImageArgs struct {
	RequestID uuid.UUID `json:"request_id"`
}

func (GenerateImageArgs) Kind() string { return "generate_image" }

func (GenerateImageArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		MaxAttempts: generateMaxAttempts,
		UniqueOpts:  river.UniqueOpts{ByArgs: true},
	}
}

// Processor defines what the worker needs to drive a request to completion.
type Processor interface {
	Handle(ctx context.Context, requestID uuid.UUID) error
	Abort(ctx context.Context, requestID uuid.UUID, reason string) error
}

type GenerateImageWorker struct {
	river.WorkerDefaults[GenerateImageArgs]
	processor Processor
}

func NewGenerateImageWorker(p Processor) *GenerateImageWorker {
	return &GenerateImageWorker{processor: p}
}

func (w *GenerateImageWorker) Timeout(*river.Job[GenerateImageArgs]) time.Duration {
	return generateTimeout
}

func (w *GenerateImageWorker) Work(ctx context.Context, job *river.Job[GenerateImageArgs]) error {
	id := job.Args.RequestID
	err := w.processor.Handle(ctx, id)
	if err == nil {
		return nil
	}
	if errors.Is(err, generation.ErrNotFound) {
		slog.Warn("generate_image for unknown request", "request_id", id)
		return river.JobCancel(err)
	}
	if job.Attempt < job.MaxAttempts {
		slog.Warn("generate_image attempt failed", "request_id", id, "attempt", job.Attempt, "error", err)
		return err
	}

	// Last attempt: settle the request so the user is not left waiting
	// with credits held.
	slog.Error("generate_image retries exhausted", "request_id", id, "attempts", job.Attempt, "error", err)
	if abortErr := w.processor.Abort(ctx, id, "Generation failed after repeated errors"); abortErr != nil {
		return fmt.Errorf("%w; abort also failed: %v", err, abortErr)
	}
	return nil
}
