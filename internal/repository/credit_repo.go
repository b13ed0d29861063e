package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inaiurai/imagegen/internal/models"
)

// Unique indexes that allow at most one refund and one deduction per request.
const (
	RefundOnceConstraint = "credit_transactions_refund_once"
	DeductOnceConstraint = "credit_transactions_deduct_once"
)

const creditColumns = `id, user_id, type, credits, generation_request_id, description, balance_after, created_at`

type CreditRepo struct {
	pool *pgxpool.Pool
}

func NewCreditRepo(pool *pgxpool.Pool) *CreditRepo {
	return &CreditRepo{pool: pool}
}

func scanCredit(row pgx.Row) (*models.CreditTransaction, error) {
	var c models.CreditTransaction
	err := row.Scan(&c.ID, &c.UserID, &c.Type, &c.Credits, &c.GenerationRequestID, &c.Description, &c.BalanceAfter, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateTx inserts a ledger entry inside the given transaction.
func (r *CreditRepo) CreateTx(ctx context.Context, tx pgx.Tx, c *models.CreditTransaction) error {
	return tx.QueryRow(ctx, `
		INSERT INTO credit_transactions (id, user_id, type, credits, generation_request_id, description, balance_after)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, c.ID, c.UserID, c.Type, c.Credits, c.GenerationRequestID, c.Description, c.BalanceAfter).Scan(&c.CreatedAt)
}

// FindByRequestTx returns the entry of the given type for a generation
// request, or pgx.ErrNoRows.
func (r *CreditRepo) FindByRequestTx(ctx context.Context, tx pgx.Tx, requestID uuid.UUID, txType string) (*models.CreditTransaction, error) {
	return scanCredit(tx.QueryRow(ctx, `
		SELECT `+creditColumns+` FROM credit_transactions
		WHERE generation_request_id = $1 AND type = $2
	`, requestID, txType))
}

const listByUserSQL = `
	SELECT ` + creditColumns + ` FROM credit_transactions
	WHERE user_id = $1 ORDER BY created_at DESC, id DESC
`

// ListByUserID returns a user's history, newest first.
func (r *CreditRepo) ListByUserID(ctx context.Context, userID uuid.UUID) ([]*models.CreditTransaction, error) {
	rows, err := r.pool.Query(ctx, listByUserSQL, userID)
	if err != nil {
		return nil, err
	}
	return collectCredits(rows)
}

// ListByUserIDTx is ListByUserID inside tx.
func (r *CreditRepo) ListByUserIDTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID) ([]*models.CreditTransaction, error) {
	rows, err := tx.Query(ctx, listByUserSQL, userID)
	if err != nil {
		return nil, err
	}
	return collectCredits(rows)
}

// ListBetween returns all entries created in [from, to).
func (r *CreditRepo) ListBetween(ctx context.Context, from, to time.Time) ([]*models.CreditTransaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+creditColumns+` FROM credit_transactions
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at
	`, from, to)
	if err != nil {
		return nil, err
	}
	return collectCredits(rows)
}

func collectCredits(rows pgx.Rows) ([]*models.CreditTransaction, error) {
	defer rows.Close()
	var list []*models.CreditTransaction
	for rows.Next() {
		c, err := scanCredit(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	return list, rows.Err()
}
