// Package report builds the weekly usage report: it aggregates a 7-day
// window of requests, credit movements and registrations, compares it with
// the preceding weeks and flags anomalies.
package report

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/inaiurai/imagegen/internal/models"
)

const dayLayout = "2006-01-02"

// Window is the half-open interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// WindowEnding returns the 7 days ending at now truncated to UTC midnight.
func WindowEnding(now time.Time) Window {
	t := now.UTC()
	end := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return Window{Start: end.AddDate(0, 0, -7), End: end}
}

func (w Window) contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Aggregate computes the window's statistics. Records outside w are ignored.
func Aggregate(w Window, requests []*models.GenerationRequest, txs []*models.CreditTransaction, newUsers []*models.User) models.ReportStats {
	stats := models.ReportStats{
		ModelStats:         map[string]models.ModelStats{},
		StyleBreakdown:     map[string]int{},
		SizeBreakdown:      map[string]int{},
		DailyRegistrations: map[string]int{},
		UserDailyCredits:   []models.UserDayCredits{},
	}

	active := map[uuid.UUID]bool{}
	for _, r := range requests {
		if !w.contains(r.CreatedAt) {
			continue
		}
		stats.TotalRequests++
		active[r.UserID] = true
		stats.StyleBreakdown[r.Style]++
		stats.SizeBreakdown[r.Size]++

		ms := stats.ModelStats[r.Model]
		ms.Total++
		switch r.Status {
		case models.GenerationCompleted:
			stats.CompletedRequests++
			ms.Completed++
		case models.GenerationFailed:
			stats.FailedRequests++
			ms.Failed++
		default:
			stats.PendingRequests++
		}
		stats.ModelStats[r.Model] = ms
	}
	for model, ms := range stats.ModelStats {
		ms.FailureRate = ratio(ms.Failed, ms.Total)
		stats.ModelStats[model] = ms
	}
	stats.ActiveUsers = len(active)
	stats.SuccessRate = ratio(stats.CompletedRequests, stats.TotalRequests)
	stats.FailureRate = ratio(stats.FailedRequests, stats.TotalRequests)
	stats.MostPopularStyle = mostPopular(stats.StyleBreakdown)
	stats.MostPopularSize = mostPopular(stats.SizeBreakdown)

	type userDay struct {
		user uuid.UUID
		day  string
	}
	perDay := map[userDay]int{}
	for _, tx := range txs {
		if !w.contains(tx.CreatedAt) {
			continue
		}
		switch tx.Type {
		case models.CreditTxDeduction:
			stats.CreditsDeducted += tx.Credits
		case models.CreditTxRefund:
			stats.CreditsRefunded += tx.Credits
		}
		perDay[userDay{tx.UserID, tx.CreatedAt.UTC().Format(dayLayout)}] -= tx.Signed()
	}
	stats.NetCreditsConsumed = stats.CreditsDeducted - stats.CreditsRefunded
	for k, credits := range perDay {
		if credits > 0 {
			stats.UserDailyCredits = append(stats.UserDailyCredits, models.UserDayCredits{UserID: k.user, Day: k.day, Credits: credits})
		}
	}
	sort.Slice(stats.UserDailyCredits, func(i, j int) bool {
		a, b := stats.UserDailyCredits[i], stats.UserDailyCredits[j]
		if a.Day != b.Day {
			return a.Day < b.Day
		}
		return a.UserID.String() < b.UserID.String()
	})

	for _, u := range newUsers {
		if !w.contains(u.CreatedAt) {
			continue
		}
		stats.NewUsers++
		stats.DailyRegistrations[u.CreatedAt.UTC().Format(dayLayout)]++
	}
	return stats
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

// mostPopular breaks ties by the smaller key.
func mostPopular(counts map[string]int) string {
	best, bestN := "", 0
	for k, n := range counts {
		if n > bestN || (n == bestN && k < best) {
			best, bestN = k, n
		}
	}
	return best
}
