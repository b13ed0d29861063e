package execution

import (
	"time"

	"github.com/riverqueue/river"
)

// WeeklySchedule fires once a week at 00:00 UTC on Weekday.
type WeeklySchedule struct {
	Weekday time.Weekday
}

// Next returns the first matching midnight strictly after current.
func (s WeeklySchedule) Next(current time.Time) time.Time {
	t := current.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	offset := (int(s.Weekday) - int(day.Weekday()) + 7) % 7
	next := day.AddDate(0, 0, offset)
	if !next.After(t) {
		next = next.AddDate(0, 0, 7)
	}
	return next
}

// PeriodicJobs is the recurring work: the Monday report and the stale
// request sweep.
func PeriodicJobs(reconcileEvery time.Duration) []*river.PeriodicJob {
	return []*river.PeriodicJob{
		river.NewPeriodicJob(
			WeeklySchedule{Weekday: time.Monday},
			func() (river.JobArgs, *river.InsertOpts) { return WeeklyReportArgs{}, nil },
			nil,
		),
		river.NewPeriodicJob(
			river.PeriodicInterval(reconcileEvery),
			func() (river.JobArgs, *river.InsertOpts) { return ReconcileArgs{}, nil },
			&river.PeriodicJobOpts{RunOnStart: true},
		),
	}
}
