package report

import (
	"fmt"
	"sort"

	"github.com/inaiurai/imagegen/internal/models"
)

// spikeHighRatio is the baseline multiple above which a spike is high severity.
const spikeHighRatio = 5.0

type Thresholds struct {
	RequestSpikeMultiplier    float64 `yaml:"request_spike_multiplier"`
	CreditSpikeMultiplier     float64 `yaml:"credit_spike_multiplier"`
	FailureRateThreshold      float64 `yaml:"failure_rate_threshold"`
	ModelFailureRateThreshold float64 `yaml:"model_failure_rate_threshold"`
	RefundRateThreshold       float64 `yaml:"refund_rate_threshold"`
	UserDailyCreditLimit      int     `yaml:"user_daily_credit_limit"`
	DailyRegistrationLimit    int     `yaml:"daily_registration_limit"`
	BaselineWeeks             int     `yaml:"baseline_weeks"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		RequestSpikeMultiplier:    2.5,
		CreditSpikeMultiplier:     3.0,
		FailureRateThreshold:      0.15,
		ModelFailureRateThreshold: 0.225,
		RefundRateThreshold:       0.30,
		UserDailyCreditLimit:      50,
		DailyRegistrationLimit:    5,
		BaselineWeeks:             4,
	}
}

func (t Thresholds) Validate() error {
	if t.RequestSpikeMultiplier <= 0 || t.CreditSpikeMultiplier <= 0 {
		return fmt.Errorf("thresholds: spike multipliers must be positive")
	}
	for name, r := range map[string]float64{
		"failure_rate_threshold":       t.FailureRateThreshold,
		"model_failure_rate_threshold": t.ModelFailureRateThreshold,
		"refund_rate_threshold":        t.RefundRateThreshold,
	} {
		if r < 0 || r > 1 {
			return fmt.Errorf("thresholds: %s must be within [0,1], got %v", name, r)
		}
	}
	if t.UserDailyCreditLimit < 0 || t.DailyRegistrationLimit < 0 {
		return fmt.Errorf("thresholds: limits must not be negative")
	}
	if t.BaselineWeeks < 1 {
		return fmt.Errorf("thresholds: baseline_weeks must be at least 1")
	}
	return nil
}

// Detect compares current with the baseline weeks in history. Spike checks
// need a baseline and are skipped without one; absolute checks always run.
func Detect(current models.ReportStats, history []models.ReportStats, th Thresholds) []models.Anomaly {
	anomalies := []models.Anomaly{}

	if len(history) > 0 {
		var reqSum, creditSum float64
		for _, h := range history {
			reqSum += float64(h.TotalRequests)
			creditSum += float64(h.NetCreditsConsumed)
		}
		n := float64(len(history))
		if a, ok := spike(models.AnomalyRequestSpike, "Total requests", float64(current.TotalRequests), reqSum/n, th.RequestSpikeMultiplier); ok {
			anomalies = append(anomalies, a)
		}
		if a, ok := spike(models.AnomalyCreditSpike, "Credit consumption", float64(current.NetCreditsConsumed), creditSum/n, th.CreditSpikeMultiplier); ok {
			anomalies = append(anomalies, a)
		}
	}

	if current.CreditsDeducted > 0 {
		rate := ratio(current.CreditsRefunded, current.CreditsDeducted)
		if rate > th.RefundRateThreshold {
			anomalies = append(anomalies, models.Anomaly{
				Type:         models.AnomalyRefundRate,
				Severity:     models.SeverityMedium,
				Description:  fmt.Sprintf("Refund rate of %.1f%% indicates potential system issues", rate*100),
				CurrentValue: rate,
				Threshold:    th.RefundRateThreshold,
			})
		}
	}

	if current.FailureRate > th.FailureRateThreshold {
		anomalies = append(anomalies, models.Anomaly{
			Type:     models.AnomalyFailureRate,
			Severity: models.SeverityHigh,
			Description: fmt.Sprintf("Failure rate of %.1f%% exceeds threshold of %.1f%% (%d of %d requests)",
				current.FailureRate*100, th.FailureRateThreshold*100, current.FailedRequests, current.TotalRequests),
			CurrentValue: current.FailureRate,
			Threshold:    th.FailureRateThreshold,
		})
	}

	modelNames := make([]string, 0, len(current.ModelStats))
	for m := range current.ModelStats {
		modelNames = append(modelNames, m)
	}
	sort.Strings(modelNames)
	for _, m := range modelNames {
		ms := current.ModelStats[m]
		if ms.FailureRate > th.ModelFailureRateThreshold {
			anomalies = append(anomalies, models.Anomaly{
				Type:         models.AnomalyModelFailureRate,
				Severity:     models.SeverityMedium,
				Description:  fmt.Sprintf("Model %s has high failure rate of %.1f%%", m, ms.FailureRate*100),
				CurrentValue: ms.FailureRate,
				Threshold:    th.ModelFailureRateThreshold,
				Model:        m,
			})
		}
	}

	for _, ud := range current.UserDailyCredits {
		if ud.Credits > th.UserDailyCreditLimit {
			user := ud.UserID
			anomalies = append(anomalies, models.Anomaly{
				Type:         models.AnomalyUserDailyCredits,
				Severity:     models.SeverityMedium,
				Description:  fmt.Sprintf("User %s consumed %d credits on %s (limit %d)", user, ud.Credits, ud.Day, th.UserDailyCreditLimit),
				CurrentValue: float64(ud.Credits),
				Threshold:    float64(th.UserDailyCreditLimit),
				UserID:       &user,
				Day:          ud.Day,
			})
		}
	}

	days := make([]string, 0, len(current.DailyRegistrations))
	for d := range current.DailyRegistrations {
		days = append(days, d)
	}
	sort.Strings(days)
	for _, d := range days {
		if n := current.DailyRegistrations[d]; n > th.DailyRegistrationLimit {
			anomalies = append(anomalies, models.Anomaly{
				Type:         models.AnomalyRegistrations,
				Severity:     models.SeverityLow,
				Description:  fmt.Sprintf("%d new registrations on %s (limit %d)", n, d, th.DailyRegistrationLimit),
				CurrentValue: float64(n),
				Threshold:    float64(th.DailyRegistrationLimit),
				Day:          d,
			})
		}
	}
	return anomalies
}

func spike(kind, label string, current, baseline, multiplier float64) (models.Anomaly, bool) {
	if baseline <= 0 || current < baseline*multiplier {
		return models.Anomaly{}, false
	}
	r := current / baseline
	severity := models.SeverityMedium
	if r > spikeHighRatio {
		severity = models.SeverityHigh
	}
	return models.Anomaly{
		Type:         kind,
		Severity:     severity,
		Description:  fmt.Sprintf("%s of %.0f is %.1fx the historical average of %.1f", label, current, r, baseline),
		CurrentValue: current,
		Baseline:     &baseline,
		Threshold:    baseline * multiplier,
	}, true
}

var severityWeights = map[string]float64{
	models.SeverityLow:    1,
	models.SeverityMedium: 2.5,
	models.SeverityHigh:   5,
}

// Score sums the severity weights of anomalies.
func Score(anomalies []models.Anomaly) float64 {
	var s float64
	for _, a := range anomalies {
		w, ok := severityWeights[a.Severity]
		if !ok {
			w = severityWeights[models.SeverityLow]
		}
		s += w
	}
	return s
}

func SeverityLevel(score float64) string {
	switch {
	case score >= 10:
		return models.SeverityCritical
	case score >= 5:
		return models.SeverityHigh
	case score >= 2:
		return models.SeverityMedium
	case score > 0:
		return models.SeverityLow
	default:
		return models.SeverityNormal
	}
}
