package models

import (
	"time"

	"github.com/google/uuid"
)

// Anomaly severities and report severity levels.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityNormal   = "normal"
	SeverityCritical = "critical"
)

// Anomaly kinds.
const (
	AnomalyRequestSpike     = "request_spike"
	AnomalyCreditSpike      = "credit_consumption_spike"
	AnomalyFailureRate      = "high_failure_rate"
	AnomalyModelFailureRate = "model_performance_degradation"
	AnomalyRefundRate       = "high_refund_rate"
	AnomalyUserDailyCredits = "user_daily_credit_spike"
	AnomalyRegistrations    = "registration_spike"
)

type ModelStats struct {
	Total       int     `json:"total_requests"`
	Completed   int     `json:"completed"`
	Failed      int     `json:"failed"`
	FailureRate float64 `json:"failure_rate"`
}

type UserDayCredits struct {
	UserID  uuid.UUID `json:"user_id"`
	Day     string    `json:"day"`
	Credits int       `json:"credits"`
}

// ReportStats is the aggregate of one reporting window. Rates are fractions in [0,1].
type ReportStats struct {
	TotalRequests      int                   `json:"total_requests"`
	CompletedRequests  int                   `json:"completed_requests"`
	FailedRequests     int                   `json:"failed_requests"`
	PendingRequests    int                   `json:"pending_requests"`
	SuccessRate        float64               `json:"success_rate"`
	FailureRate        float64               `json:"failure_rate"`
	CreditsDeducted    int                   `json:"total_credits_deducted"`
	CreditsRefunded    int                   `json:"total_credits_refunded"`
	NetCreditsConsumed int                   `json:"net_credits_consumed"`
	ActiveUsers        int                   `json:"active_users_count"`
	NewUsers           int                   `json:"new_users_count"`
	ModelStats         map[string]ModelStats `json:"model_performance"`
	StyleBreakdown     map[string]int        `json:"style_breakdown"`
	SizeBreakdown      map[string]int        `json:"size_breakdown"`
	DailyRegistrations map[string]int        `json:"daily_registrations"`
	UserDailyCredits   []UserDayCredits      `json:"user_daily_credits"`
	MostPopularStyle   string                `json:"most_popular_style"`
	MostPopularSize    string                `json:"most_popular_size"`
}

type Anomaly struct {
	Type         string     `json:"type"`
	Severity     string     `json:"severity"`
	Description  string     `json:"description"`
	CurrentValue float64    `json:"current_value"`
	Baseline     *float64   `json:"historical_average,omitempty"`
	Threshold    float64    `json:"threshold"`
	Model        string     `json:"model,omitempty"`
	UserID       *uuid.UUID `json:"user_id,omitempty"`
	Day          string     `json:"day,omitempty"`
}

// Report is written once per week_start and never updated.
type Report struct {
	ID              uuid.UUID   `json:"id"`
	WeekStart       time.Time   `json:"week_start"`
	WeekEnd         time.Time   `json:"week_end"`
	Stats           ReportStats `json:"stats"`
	Anomalies       []Anomaly   `json:"anomalies"`
	AnomalyScore    float64     `json:"anomaly_score"`
	SeverityLevel   string      `json:"severity_level"`
	BaselinePeriods int         `json:"baseline_periods"`
	CreatedAt       time.Time   `json:"created_at"`
}
