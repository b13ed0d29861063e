package execution

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
)

// InsertFunc enqueues a job. main provides it as a closure over
// river.Client.Insert once the client exists.
type InsertFunc func(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)

// Dispatcher enqueues generate_image jobs. Enqueueing the same request twice
// while a job for it is alive inserts nothing the second time.
type Dispatcher struct {
	insert InsertFunc
}

func NewDispatcher(insert InsertFunc) *Dispatcher {
	return &Dispatcher{insert: insert}
}

func (d *Dispatcher) Enqueue(ctx context.Context, requestID uuid.UUID) error {
	res, err := d.insert(ctx, GenerateImageArgs{RequestID: requestID}, nil)
	if err != nil {
		return fmt.Errorf("insert generate_image job: %w", err)
	}
	if res != nil && res.UniqueSkippedAsDuplicate {
		slog.Debug("generate_image job already queued", "request_id", requestID)
		return nil
	}
	slog.Info("generate_image job enqueued", "request_id", requestID)
	return nil
}
