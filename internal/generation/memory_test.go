package generation

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/inaiurai/imagegen/internal/ledger/ledgertest"
	"github.com/inaiurai/imagegen/internal/models"
)

// memRequests is an in-memory Requests that keeps every status a request
// passed through.
type memRequests struct {
	mu      sync.Mutex
	reqs    map[uuid.UUID]*models.GenerationRequest
	history map[uuid.UUID][]string
}

func newMemRequests() *memRequests {
	return &memRequests{reqs: map[uuid.UUID]*models.GenerationRequest{}, history: map[uuid.UUID][]string{}}
}

func (m *memRequests) CreateTx(_ context.Context, tx pgx.Tx, g *models.GenerationRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	g.CreatedAt, g.UpdatedAt = now, now
	cp := *g
	m.reqs[g.ID] = &cp
	m.history[g.ID] = []string{g.Status}
	ledgertest.OnRollback(tx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.reqs, g.ID)
		delete(m.history, g.ID)
	})
	return nil
}

func (m *memRequests) GetByID(_ context.Context, id uuid.UUID) (*models.GenerationRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.reqs[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *g
	return &cp, nil
}

func (m *memRequests) ListByUserID(_ context.Context, userID uuid.UUID) ([]*models.GenerationRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.GenerationRequest
	for _, g := range m.reqs {
		if g.UserID == userID {
			cp := *g
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memRequests) ListStale(_ context.Context, cutoff time.Time, limit int) ([]*models.GenerationRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.GenerationRequest
	for _, g := range m.reqs {
		if g.Terminal() {
			continue
		}
		if g.DispatchError != nil || g.UpdatedAt.Before(cutoff) {
			cp := *g
			out = append(out, &cp)
		}
	}
	// Same order as the SQL: failed dispatches first, then oldest.
	sort.Slice(out, func(i, j int) bool {
		fi, fj := out[i].DispatchError != nil, out[j].DispatchError != nil
		if fi != fj {
			return fi
		}
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SetDispatchError fails on a cancelled context, as a pgx write would.
func (m *memRequests) SetDispatchError(ctx context.Context, id uuid.UUID, msg *string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok := m.reqs[id]; ok && !g.Terminal() {
		g.DispatchError = msg
	}
	return nil
}

// transition applies fn when the request is in from, journaling an undo on tx.
func (m *memRequests) transition(tx pgx.Tx, id uuid.UUID, from, to string, fn func(g *models.GenerationRequest)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.reqs[id]
	if !ok || g.Status != from {
		return false
	}
	prev := *g
	fn(g)
	g.Status = to
	g.UpdatedAt = time.Now()
	m.history[id] = append(m.history[id], to)
	ledgertest.OnRollback(tx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		*m.reqs[id] = prev
		h := m.history[id]
		m.history[id] = h[:len(h)-1]
	})
	return true
}

func (m *memRequests) MarkProcessing(_ context.Context, id uuid.UUID) (bool, error) {
	return m.transition(nil, id, models.GenerationQueued, models.GenerationProcessing, func(g *models.GenerationRequest) {
		g.Progress = max(g.Progress, models.ProgressStarted)
	}), nil
}

func (m *memRequests) UpdateProgress(_ context.Context, id uuid.UUID, progress int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.reqs[id]
	if !ok || g.Status != models.GenerationProcessing {
		return false, nil
	}
	g.Progress = max(g.Progress, progress)
	return true, nil
}

func (m *memRequests) CompleteTx(_ context.Context, tx pgx.Tx, id uuid.UUID, imageURL string) (bool, error) {
	return m.transition(tx, id, models.GenerationProcessing, models.GenerationCompleted, func(g *models.GenerationRequest) {
		now := time.Now()
		g.ImageURL = &imageURL
		g.Progress = models.ProgressDone
		g.DispatchError = nil
		g.CompletedAt = &now
	}), nil
}

func (m *memRequests) FailTx(_ context.Context, tx pgx.Tx, id uuid.UUID, message string) (bool, error) {
	return m.transition(tx, id, models.GenerationProcessing, models.GenerationFailed, func(g *models.GenerationRequest) {
		now := time.Now()
		g.ErrorMessage = &message
		g.Progress = 0
		g.DispatchError = nil
		g.CompletedAt = &now
	}), nil
}

func (m *memRequests) statuses(id uuid.UUID) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.history[id]...)
}

func (m *memRequests) age(id uuid.UUID, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reqs[id].UpdatedAt = m.reqs[id].UpdatedAt.Add(-d)
}

type fakeDispatcher struct {
	mu      sync.Mutex
	calls   []uuid.UUID
	ctxErrs []error
	err     error
	// before runs ahead of each enqueue.
	before func()
}

func (d *fakeDispatcher) Enqueue(ctx context.Context, id uuid.UUID) error {
	if d.before != nil {
		d.before()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, id)
	d.ctxErrs = append(d.ctxErrs, ctx.Err())
	return d.err
}

func (d *fakeDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

// scriptedModel returns the same outcome on every call.
type scriptedModel struct {
	mu    sync.Mutex
	url   string
	err   error
	calls int
}

func (s *scriptedModel) Generate(context.Context, *models.GenerationRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.url, s.err
}

var errInfra = errors.New("connection reset")
