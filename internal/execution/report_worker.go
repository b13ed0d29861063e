package execution

import (
	"context"
	"log/slog"
	"time"

	"github.com/riverqueue/river"

	"github.com/inaiurai/imagegen/internal/models"
)

type WeeklyReportArgs struct{}

func (WeeklyReportArgs) Kind() string { return "weekly_anomaly_report" }

func (WeeklyReportArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		MaxAttempts: 1,
		UniqueOpts:  river.UniqueOpts{ByPeriod: time.Hour},
	}
}

type ReportGenerator interface {
	Generate(ctx context.Context, now time.Time) (*models.Report, error)
}

// WeeklyReportWorker never retries: a failed week is logged and the next
// scheduled run proceeds normally.
type WeeklyReportWorker struct {
	river.WorkerDefaults[WeeklyReportArgs]
	generator ReportGenerator
}

func NewWeeklyReportWorker(g ReportGenerator) *WeeklyReportWorker {
	return &WeeklyReportWorker{generator: g}
}

func (w *WeeklyReportWorker) Work(ctx context.Context, job *river.Job[WeeklyReportArgs]) error {
	rep, err := w.generator.Generate(ctx, job.ScheduledAt)
	if err != nil {
		slog.Error("weekly anomaly report failed", "scheduled_at", job.ScheduledAt, "error", err)
		return river.JobCancel(err)
	}
	slog.Info("weekly anomaly report ready",
		"week_start", rep.WeekStart, "anomalies", len(rep.Anomalies),
		"score", rep.AnomalyScore, "severity", rep.SeverityLevel)
	return nil
}
