package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/inaiurai/imagegen/internal/models"
)

// UserRepo is the slice of the user repository the ledger mutates.
// DeductCredits must return pgx.ErrNoRows when the balance is too low.
type UserRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.User, error)
	DeductCredits(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int) (newBalance int, err error)
	AddCredits(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int) (newBalance int, err error)
	IncrementImagesGenerated(ctx context.Context, tx pgx.Tx, id uuid.UUID) error
}

// CreditRepo is the append-only credit history.
type CreditRepo interface {
	CreateTx(ctx context.Context, tx pgx.Tx, c *models.CreditTransaction) error
	FindByRequestTx(ctx context.Context, tx pgx.Tx, requestID uuid.UUID, txType string) (*models.CreditTransaction, error)
	ListByUserID(ctx context.Context, userID uuid.UUID) ([]*models.CreditTransaction, error)
	ListByUserIDTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID) ([]*models.CreditTransaction, error)
}
