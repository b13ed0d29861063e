// Package ledgertest is an in-memory user and credit store that honours row
// locks, rollback and the per-request unique indexes, so ledger callers can
// be tested for concurrency without Postgres.
package ledgertest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/inaiurai/imagegen/internal/database/dbtest"
	"github.com/inaiurai/imagegen/internal/models"
	"github.com/inaiurai/imagegen/internal/repository"
)

// Tx journals undo actions and releases row locks when it ends.
type Tx struct {
	dbtest.NoopTx

	mu      sync.Mutex
	done    bool
	held    map[uuid.UUID]bool
	undo    []func()
	release []func()
}

func (t *Tx) Commit(context.Context) error   { t.finish(false); return nil }
func (t *Tx) Rollback(context.Context) error { t.finish(true); return nil }

// OnRollback registers f to run if the transaction rolls back.
func (t *Tx) OnRollback(f func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.undo = append(t.undo, f)
}

func (t *Tx) finish(rollback bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return
	}
	t.done = true
	if rollback {
		for i := len(t.undo) - 1; i >= 0; i-- {
			t.undo[i]()
		}
	}
	for _, r := range t.release {
		r()
	}
}

// OnRollback registers f on tx when it is a *Tx; otherwise it is a no-op.
func OnRollback(tx pgx.Tx, f func()) {
	if t, ok := tx.(*Tx); ok {
		t.OnRollback(f)
	}
}

type Store struct {
	mu      sync.Mutex
	users   map[uuid.UUID]*models.User
	locks   map[uuid.UUID]*sync.Mutex
	credits []*models.CreditTransaction

	begun int
}

func NewStore(users ...*models.User) *Store {
	s := &Store{users: map[uuid.UUID]*models.User{}, locks: map[uuid.UUID]*sync.Mutex{}}
	for _, u := range users {
		cp := *u
		s.users[u.ID] = &cp
		s.locks[u.ID] = &sync.Mutex{}
	}
	return s
}

// Begin satisfies database.TxBeginner.
func (s *Store) Begin(context.Context) (pgx.Tx, error) {
	s.mu.Lock()
	s.begun++
	s.mu.Unlock()
	return &Tx{held: map[uuid.UUID]bool{}}, nil
}

func (s *Store) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *u
	return &cp, nil
}

func (s *Store) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.User, error) {
	s.mu.Lock()
	lock, ok := s.locks[id]
	s.mu.Unlock()
	if !ok {
		return nil, pgx.ErrNoRows
	}
	if t, ok := tx.(*Tx); ok {
		t.mu.Lock()
		held := t.held[id]
		t.mu.Unlock()
		if !held {
			lock.Lock()
			t.mu.Lock()
			t.held[id] = true
			t.release = append(t.release, lock.Unlock)
			t.mu.Unlock()
		}
	}
	return s.GetByID(ctx, id)
}

func (s *Store) DeductCredits(_ context.Context, tx pgx.Tx, id uuid.UUID, amount int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok || u.CurrentCredits < amount {
		return 0, pgx.ErrNoRows
	}
	u.CurrentCredits -= amount
	OnRollback(tx, func() { s.adjust(id, amount) })
	return u.CurrentCredits, nil
}

func (s *Store) AddCredits(_ context.Context, tx pgx.Tx, id uuid.UUID, amount int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return 0, pgx.ErrNoRows
	}
	u.CurrentCredits += amount
	OnRollback(tx, func() { s.adjust(id, -amount) })
	return u.CurrentCredits, nil
}

func (s *Store) IncrementImagesGenerated(_ context.Context, tx pgx.Tx, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return pgx.ErrNoRows
	}
	u.TotalImagesGenerated++
	OnRollback(tx, func() {
		s.mu.Lock()
		s.users[id].TotalImagesGenerated--
		s.mu.Unlock()
	})
	return nil
}

func (s *Store) adjust(id uuid.UUID, delta int) {
	s.mu.Lock()
	s.users[id].CurrentCredits += delta
	s.mu.Unlock()
}

func (s *Store) CreateTx(_ context.Context, tx pgx.Tx, c *models.CreditTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.credits {
		if e.GenerationRequestID == c.GenerationRequestID && e.Type == c.Type {
			constraint := repository.DeductOnceConstraint
			if c.Type == models.CreditTxRefund {
				constraint = repository.RefundOnceConstraint
			}
			return &pgconn.PgError{Code: "23505", ConstraintName: constraint}
		}
	}
	c.CreatedAt = time.Now()
	cp := *c
	s.credits = append(s.credits, &cp)
	OnRollback(tx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, e := range s.credits {
			if e.ID == cp.ID {
				s.credits = append(s.credits[:i], s.credits[i+1:]...)
				return
			}
		}
	})
	return nil
}

func (s *Store) FindByRequestTx(_ context.Context, _ pgx.Tx, requestID uuid.UUID, txType string) (*models.CreditTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.credits {
		if e.GenerationRequestID == requestID && e.Type == txType {
			cp := *e
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

// ListByUserID returns newest first; insertion order breaks timestamp ties.
func (s *Store) ListByUserID(_ context.Context, userID uuid.UUID) ([]*models.CreditTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.CreditTransaction
	for i := len(s.credits) - 1; i >= 0; i-- {
		if s.credits[i].UserID == userID {
			cp := *s.credits[i]
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) ListByUserIDTx(ctx context.Context, _ pgx.Tx, userID uuid.UUID) ([]*models.CreditTransaction, error) {
	return s.ListByUserID(ctx, userID)
}

// Credits returns the user's current balance.
func (s *Store) Credits(id uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[id].CurrentCredits
}

// ImagesGenerated returns the user's completed image counter.
func (s *Store) ImagesGenerated(id uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[id].TotalImagesGenerated
}

// Transactions returns every committed or in-flight entry, oldest first.
func (s *Store) Transactions() []*models.CreditTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.CreditTransaction, len(s.credits))
	copy(out, s.credits)
	return out
}

// Begun counts opened transactions.
func (s *Store) Begun() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.begun
}
