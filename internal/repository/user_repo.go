package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inaiurai/imagegen/internal/models"
)

const userColumns = `id, email, display_name, password_hash, current_credits, total_images_generated, created_at, updated_at`

type UserRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &u.PasswordHash, &u.CurrentCredits, &u.TotalImagesGenerated, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepo) Create(ctx context.Context, u *models.User) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO users (id, email, display_name, password_hash, current_credits)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING total_images_generated, created_at, updated_at
	`, u.ID, u.Email, u.DisplayName, u.PasswordHash, u.CurrentCredits).Scan(&u.TotalImagesGenerated, &u.CreatedAt, &u.UpdatedAt)
}

func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
}

// GetByIDForUpdate locks the user row for update. Call within a transaction.
func (r *UserRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.User, error) {
	return scanUser(tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id))
}

// DeductCredits atomically deducts amount if current_credits >= amount.
// Returns pgx.ErrNoRows when the condition does not hold.
func (r *UserRepo) DeductCredits(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int) (newBalance int, err error) {
	err = tx.QueryRow(ctx, `
		UPDATE users SET current_credits = current_credits - $1, updated_at = now()
		WHERE id = $2 AND current_credits >= $1
		RETURNING current_credits
	`, amount, id).Scan(&newBalance)
	return newBalance, err
}

// AddCredits adds amount to the user and returns the new balance.
func (r *UserRepo) AddCredits(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int) (newBalance int, err error) {
	err = tx.QueryRow(ctx, `
		UPDATE users SET current_credits = current_credits + $1, updated_at = now()
		WHERE id = $2
		RETURNING current_credits
	`, amount, id).Scan(&newBalance)
	return newBalance, err
}

func (r *UserRepo) IncrementImagesGenerated(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		UPDATE users SET total_images_generated = total_images_generated + 1, updated_at = now()
		WHERE id = $1
	`, id)
	return err
}

// ListCreatedBetween returns users registered in [from, to).
func (r *UserRepo) ListCreatedBetween(ctx context.Context, from, to time.Time) ([]*models.User, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, u)
	}
	return list, rows.Err()
}
