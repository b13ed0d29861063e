package models

import (
	"time"

	"github.com/google/uuid"
)

// User owns a credit balance. CurrentCredits and TotalImagesGenerated are only
// changed through the ledger.
type User struct {
	ID                   uuid.UUID `json:"id"`
	Email                string    `json:"email"`
	DisplayName          string    `json:"display_name"`
	PasswordHash         string    `json:"-"`
	CurrentCredits       int       `json:"current_credits"`
	TotalImagesGenerated int       `json:"total_images_generated"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}
