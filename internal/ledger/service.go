// Package ledger owns every mutation of a user's credit balance. Each
// mutation and its history entry are written in the same transaction.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/inaiurai/imagegen/internal/database"
	"github.com/inaiurai/imagegen/internal/models"
	"github.com/inaiurai/imagegen/internal/repository"
)

var (
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrUserNotFound        = errors.New("user not found")
	ErrInvalidAmount       = errors.New("credit amount must be positive")
)

type Service struct {
	DB      database.TxBeginner
	Users   UserRepo
	Credits CreditRepo
}

func NewService(db database.TxBeginner, users UserRepo, credits CreditRepo) *Service {
	return &Service{DB: db, Users: users, Credits: credits}
}

// Reserve deducts amount for a generation request in its own transaction.
func (s *Service) Reserve(ctx context.Context, userID uuid.UUID, amount int, requestID uuid.UUID, description string) (*models.CreditTransaction, error) {
	var entry *models.CreditTransaction
	err := database.WithTx(ctx, s.DB, func(tx pgx.Tx) error {
		var err error
		entry, err = s.ReserveTx(ctx, tx, userID, amount, requestID, description)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// ReserveTx locks the user row, checks the balance, deducts amount and
// appends a deduction entry. Nothing is written when it fails.
func (s *Service) ReserveTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int, requestID uuid.UUID, description string) (*models.CreditTransaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	user, err := s.lockUser(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if user.CurrentCredits < amount {
		return nil, ErrInsufficientCredits
	}
	newBalance, err := s.Users.DeductCredits(ctx, tx, userID, amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrInsufficientCredits
	}
	if err != nil {
		return nil, fmt.Errorf("deduct credits: %w", err)
	}
	entry := &models.CreditTransaction{
		ID:                  uuid.New(),
		UserID:              userID,
		Type:                models.CreditTxDeduction,
		Credits:             amount,
		GenerationRequestID: requestID,
		Description:         description,
		BalanceAfter:        &newBalance,
	}
	if err := s.Credits.CreateTx(ctx, tx, entry); err != nil {
		return nil, fmt.Errorf("record deduction: %w", err)
	}
	return entry, nil
}

// Refund credits amount back for a generation request in its own transaction.
func (s *Service) Refund(ctx context.Context, userID uuid.UUID, amount int, requestID uuid.UUID, description string) (*models.CreditTransaction, error) {
	var entry *models.CreditTransaction
	err := database.WithTx(ctx, s.DB, func(tx pgx.Tx) error {
		var err error
		entry, err = s.RefundTx(ctx, tx, userID, amount, requestID, description)
		return err
	})
	if database.IsUniqueViolation(err, repository.RefundOnceConstraint) {
		return s.priorRefund(ctx, requestID)
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *Service) priorRefund(ctx context.Context, requestID uuid.UUID) (*models.CreditTransaction, error) {
	var prior *models.CreditTransaction
	err := database.WithTx(ctx, s.DB, func(tx pgx.Tx) error {
		var err error
		prior, err = s.Credits.FindByRequestTx(ctx, tx, requestID, models.CreditTxRefund)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("reread refund: %w", err)
	}
	return prior, nil
}

// RefundTx is idempotent per requestID: a second call returns the first
// refund entry and leaves the balance untouched.
func (s *Service) RefundTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int, requestID uuid.UUID, description string) (*models.CreditTransaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if _, err := s.lockUser(ctx, tx, userID); err != nil {
		return nil, err
	}
	prior, err := s.Credits.FindByRequestTx(ctx, tx, requestID, models.CreditTxRefund)
	if err == nil {
		return prior, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("lookup refund: %w", err)
	}

	newBalance, err := s.Users.AddCredits(ctx, tx, userID, amount)
	if err != nil {
		return nil, fmt.Errorf("add credits: %w", err)
	}
	entry := &models.CreditTransaction{
		ID:                  uuid.New(),
		UserID:              userID,
		Type:                models.CreditTxRefund,
		Credits:             amount,
		GenerationRequestID: requestID,
		Description:         description,
		BalanceAfter:        &newBalance,
	}
	if err := s.Credits.CreateTx(ctx, tx, entry); err != nil {
		// A unique violation aborts tx; Refund rereads the winner in a fresh one.
		return nil, fmt.Errorf("record refund: %w", err)
	}
	return entry, nil
}

// RecordImageGeneratedTx bumps the user's completed image counter.
func (s *Service) RecordImageGeneratedTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID) error {
	if err := s.Users.IncrementImagesGenerated(ctx, tx, userID); err != nil {
		return fmt.Errorf("increment images generated: %w", err)
	}
	return nil
}

func (s *Service) Balance(ctx context.Context, userID uuid.UUID) (int, error) {
	user, err := s.Users.GetByID(ctx, userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrUserNotFound
	}
	if err != nil {
		return 0, err
	}
	return user.CurrentCredits, nil
}

// History returns the user's credit transactions, newest first.
func (s *Service) History(ctx context.Context, userID uuid.UUID) ([]*models.CreditTransaction, error) {
	if _, err := s.Balance(ctx, userID); err != nil {
		return nil, err
	}
	return s.Credits.ListByUserID(ctx, userID)
}

// Statement is a balance together with the history that produced it.
type Statement struct {
	Balance      int                         `json:"current_credits"`
	Transactions []*models.CreditTransaction `json:"transactions"`
}

// Statement reads the balance and history under the user's row lock, so no
// reserve or refund can commit between the two reads.
func (s *Service) Statement(ctx context.Context, userID uuid.UUID) (*Statement, error) {
	var st Statement
	err := database.WithTx(ctx, s.DB, func(tx pgx.Tx) error {
		user, err := s.lockUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		entries, err := s.Credits.ListByUserIDTx(ctx, tx, userID)
		if err != nil {
			return fmt.Errorf("list credit history: %w", err)
		}
		if entries == nil {
			entries = []*models.CreditTransaction{}
		}
		st = Statement{Balance: user.CurrentCredits, Transactions: entries}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *Service) lockUser(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.User, error) {
	user, err := s.Users.GetByIDForUpdate(ctx, tx, userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock user: %w", err)
	}
	return user, nil
}
