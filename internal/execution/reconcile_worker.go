package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/riverqueue/river"
)

type ReconcileArgs struct{}

func (ReconcileArgs) Kind() string { return "reconcile_generations" }

func (ReconcileArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{MaxAttempts: 1}
}

type Reconciler interface {
	RedispatchStale(ctx context.Context, olderThan time.Duration) (int, error)
}

// ReconcileWorker re-enqueues requests whose dispatch failed or stalled.
type ReconcileWorker struct {
	river.WorkerDefaults[ReconcileArgs]
	reconciler Reconciler
	staleAfter time.Duration
}

func NewReconcileWorker(r Reconciler, staleAfter time.Duration) *ReconcileWorker {
	return &ReconcileWorker{reconciler: r, staleAfter: staleAfter}
}

func (w *ReconcileWorker) Work(ctx context.Context, _ *river.Job[ReconcileArgs]) error {
	if _, err := w.reconciler.RedispatchStale(ctx, w.staleAfter); err != nil {
		return fmt.Errorf("reconcile generations: %w", err)
	}
	return nil
}
