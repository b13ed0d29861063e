package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/inaiurai/imagegen/internal/models"
)

type RequestSource interface {
	ListCreatedBetween(ctx context.Context, from, to time.Time) ([]*models.GenerationRequest, error)
}

type CreditSource interface {
	ListBetween(ctx context.Context, from, to time.Time) ([]*models.CreditTransaction, error)
}

type UserSource interface {
	ListCreatedBetween(ctx context.Context, from, to time.Time) ([]*models.User, error)
}

// Store persists reports. Insert reports false if the week already exists.
type Store interface {
	Insert(ctx context.Context, rep *models.Report) (bool, error)
	GetByWeekStart(ctx context.Context, weekStart time.Time) (*models.Report, error)
	ListBefore(ctx context.Context, weekStart time.Time, limit int) ([]*models.Report, error)
}

// Archiver keeps an external copy of a finished report.
type Archiver interface {
	Archive(ctx context.Context, rep *models.Report) error
}

type Generator struct {
	Requests   RequestSource
	Credits    CreditSource
	Users      UserSource
	Reports    Store
	Thresholds Thresholds
	// Archive is optional.
	Archive Archiver
}

func NewGenerator(requests RequestSource, credits CreditSource, users UserSource, reports Store, th Thresholds, archive Archiver) *Generator {
	return &Generator{Requests: requests, Credits: credits, Users: users, Reports: reports, Thresholds: th, Archive: archive}
}

// Generate produces the report for the week ending at now's UTC midnight.
// A week is reported once; later calls return the stored report.
func (g *Generator) Generate(ctx context.Context, now time.Time) (*models.Report, error) {
	w := WindowEnding(now)

	existing, err := g.Reports.GetByWeekStart(ctx, w.Start)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("load report: %w", err)
	}

	requests, err := g.Requests.ListCreatedBetween(ctx, w.Start, w.End)
	if err != nil {
		return nil, fmt.Errorf("load requests: %w", err)
	}
	txs, err := g.Credits.ListBetween(ctx, w.Start, w.End)
	if err != nil {
		return nil, fmt.Errorf("load credit transactions: %w", err)
	}
	users, err := g.Users.ListCreatedBetween(ctx, w.Start, w.End)
	if err != nil {
		return nil, fmt.Errorf("load new users: %w", err)
	}
	prior, err := g.Reports.ListBefore(ctx, w.Start, g.Thresholds.BaselineWeeks)
	if err != nil {
		return nil, fmt.Errorf("load baseline reports: %w", err)
	}

	stats := Aggregate(w, requests, txs, users)
	history := make([]models.ReportStats, len(prior))
	for i, p := range prior {
		history[i] = p.Stats
	}
	anomalies := Detect(stats, history, g.Thresholds)
	score := Score(anomalies)

	rep := &models.Report{
		ID:              uuid.New(),
		WeekStart:       w.Start,
		WeekEnd:         w.End,
		Stats:           stats,
		Anomalies:       anomalies,
		AnomalyScore:    score,
		SeverityLevel:   SeverityLevel(score),
		BaselinePeriods: len(history),
	}
	inserted, err := g.Reports.Insert(ctx, rep)
	if err != nil {
		return nil, fmt.Errorf("store report: %w", err)
	}
	if !inserted {
		// Another run stored this week first.
		return g.Reports.GetByWeekStart(ctx, w.Start)
	}

	if g.Archive != nil {
		if err := g.Archive.Archive(ctx, rep); err != nil {
			slog.Warn("report archive failed", "week_start", rep.WeekStart, "error", err)
		}
	}
	return rep, nil
}
