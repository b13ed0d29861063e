package models

import (
	"time"

	"github.com/google/uuid"
)

// Generation request statuses.
const (
	GenerationQueued     = "queued"
	GenerationProcessing = "processing"
	GenerationCompleted  = "completed"
	GenerationFailed     = "failed"
)

// Progress values pinned by the state machine.
const (
	ProgressStarted   = 10
	ProgressRendering = 50
	ProgressDone      = 100
)

type GenerationRequest struct {
	ID              uuid.UUID  `json:"id"`
	UserID          uuid.UUID  `json:"user_id"`
	Model           string     `json:"model"`
	Style           string     `json:"style"`
	Color           string     `json:"color"`
	Size            string     `json:"size"`
	Prompt          string     `json:"prompt"`
	Status          string     `json:"status"`
	CreditsDeducted int        `json:"credits_deducted"`
	ImageURL        *string    `json:"image_url,omitempty"`
	ErrorMessage    *string    `json:"error_message,omitempty"`
	Progress        int        `json:"progress"`
	DispatchError   *string    `json:"dispatch_error,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// IsTerminal reports whether no further transition is allowed from status.
func IsTerminal(status string) bool {
	return status == GenerationCompleted || status == GenerationFailed
}

// CanTransition encodes queued -> processing -> {completed, failed}.
func CanTransition(from, to string) bool {
	switch from {
	case GenerationQueued:
		return to == GenerationProcessing
	case GenerationProcessing:
		return to == GenerationCompleted || to == GenerationFailed
	default:
		return false
	}
}

// Terminal reports whether the request has reached completed or failed.
func (g *GenerationRequest) Terminal() bool { return IsTerminal(g.Status) }
