package models

import (
	"time"

	"github.com/google/uuid"
)

// Credit transaction types.
const (
	CreditTxDeduction = "deduction"
	CreditTxRefund    = "refund"
)

// CreditTransaction is an immutable entry in a user's credit history.
// Credits is always positive; Type gives the direction.
type CreditTransaction struct {
	ID                  uuid.UUID `json:"id"`
	UserID              uuid.UUID `json:"user_id"`
	Type                string    `json:"type"`
	Credits             int       `json:"credits"`
	GenerationRequestID uuid.UUID `json:"generation_request_id"`
	Description         string    `json:"description"`
	BalanceAfter        *int      `json:"balance_after,omitempty"`
	CreatedAt           time.Time `json:"timestamp"`
}

// Signed returns the balance delta this entry represents.
func (t *CreditTransaction) Signed() int {
	if t.Type == CreditTxDeduction {
		return -t.Credits
	}
	return t.Credits
}
