package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inaiurai/imagegen/internal/models"
)

const generationColumns = `id, user_id, model, style, color, size, prompt, status, credits_deducted, image_url, error_message, progress, dispatch_error, created_at, updated_at, completed_at`

type GenerationRepo struct {
	pool *pgxpool.Pool
}

func NewGenerationRepo(pool *pgxpool.Pool) *GenerationRepo {
	return &GenerationRepo{pool: pool}
}

func scanGeneration(row pgx.Row) (*models.GenerationRequest, error) {
	var g models.GenerationRequest
	err := row.Scan(&g.ID, &g.UserID, &g.Model, &g.Style, &g.Color, &g.Size, &g.Prompt, &g.Status, &g.CreditsDeducted,
		&g.ImageURL, &g.ErrorMessage, &g.Progress, &g.DispatchError, &g.CreatedAt, &g.UpdatedAt, &g.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func collectGenerations(rows pgx.Rows) ([]*models.GenerationRequest, error) {
	defer rows.Close()
	var list []*models.GenerationRequest
	for rows.Next() {
		g, err := scanGeneration(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, g)
	}
	return list, rows.Err()
}

// CreateTx inserts a queued request in the same transaction as its deduction.
func (r *GenerationRepo) CreateTx(ctx context.Context, tx pgx.Tx, g *models.GenerationRequest) error {
	return tx.QueryRow(ctx, `
		INSERT INTO generation_requests (id, user_id, model, style, color, size, prompt, status, credits_deducted, progress)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`, g.ID, g.UserID, g.Model, g.Style, g.Color, g.Size, g.Prompt, g.Status, g.CreditsDeducted, g.Progress).Scan(&g.CreatedAt, &g.UpdatedAt)
}

func (r *GenerationRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.GenerationRequest, error) {
	return scanGeneration(r.pool.QueryRow(ctx, `SELECT `+generationColumns+` FROM generation_requests WHERE id = $1`, id))
}

func (r *GenerationRepo) ListByUserID(ctx context.Context, userID uuid.UUID) ([]*models.GenerationRequest, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+generationColumns+` FROM generation_requests
		WHERE user_id = $1 ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	return collectGenerations(rows)
}

// ListCreatedBetween returns requests created in [from, to).
func (r *GenerationRepo) ListCreatedBetween(ctx context.Context, from, to time.Time) ([]*models.GenerationRequest, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+generationColumns+` FROM generation_requests
		WHERE created_at >= $1 AND created_at < $2 ORDER BY created_at
	`, from, to)
	if err != nil {
		return nil, err
	}
	return collectGenerations(rows)
}

// Failed dispatches sort first: a duplicate-skipped re-enqueue leaves
// updated_at untouched, so oldest-first alone could starve them.
const listStaleSQL = `
	SELECT ` + generationColumns + ` FROM generation_requests
	WHERE status IN ('queued', 'processing')
	  AND (dispatch_error IS NOT NULL OR updated_at < $1)
	ORDER BY dispatch_error IS NULL, updated_at
	LIMIT $2
`

// ListStale returns non-terminal requests that either failed dispatch or
// have not moved since cutoff.
func (r *GenerationRepo) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*models.GenerationRequest, error) {
	rows, err := r.pool.Query(ctx, listStaleSQL, cutoff, limit)
	if err != nil {
		return nil, err
	}
	return collectGenerations(rows)
}

// MarkProcessing moves a queued request to processing. Returns false if the
// request was not queued.
func (r *GenerationRepo) MarkProcessing(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE generation_requests
		SET status = 'processing', progress = GREATEST(progress, $2), updated_at = now()
		WHERE id = $1 AND status = 'queued'
	`, id, models.ProgressStarted)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateProgress never lowers progress.
func (r *GenerationRepo) UpdateProgress(ctx context.Context, id uuid.UUID, progress int) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE generation_requests
		SET progress = GREATEST(progress, $2), updated_at = now()
		WHERE id = $1 AND status = 'processing'
	`, id, progress)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// CompleteTx moves a processing request to completed.
func (r *GenerationRepo) CompleteTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, imageURL string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE generation_requests
		SET status = 'completed', image_url = $2, progress = $3, dispatch_error = NULL,
		    updated_at = now(), completed_at = now()
		WHERE id = $1 AND status = 'processing'
	`, id, imageURL, models.ProgressDone)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// FailTx moves a processing request to failed.
func (r *GenerationRepo) FailTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, message string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE generation_requests
		SET status = 'failed', error_message = $2, progress = 0, dispatch_error = NULL,
		    updated_at = now(), completed_at = now()
		WHERE id = $1 AND status = 'processing'
	`, id, message)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// SetDispatchError records (or clears, when msg is nil) a dispatch failure.
func (r *GenerationRepo) SetDispatchError(ctx context.Context, id uuid.UUID, msg *string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE generation_requests SET dispatch_error = $2, updated_at = now()
		WHERE id = $1 AND status IN ('queued', 'processing')
	`, id, msg)
	return err
}
