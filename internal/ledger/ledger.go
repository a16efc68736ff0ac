// Package ledger is the durable, append-only record of processed
// transactions, scoped per application and user. Records are immutable once
// appended; there is no update or delete.
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Record is the persisted snapshot of one processed transaction. CardMasked
// must already be masked by the caller; the ledger never sees a full PAN.
type Record struct {
	ID            string          `json:"id"`
	AppID         string          `json:"app_id"`
	UserID        string          `json:"user_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Protocol      string          `json:"protocol"`
	CardMasked    string          `json:"card_masked"`
	Status        string          `json:"status"`
	ResponseCode  string          `json:"response_code"`
	Message       string          `json:"message"`
	SettlementRef string          `json:"settlement_ref,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Ledger is the pluggable persistence sink. Append is best-effort from the
// pipeline's point of view: a failure is logged and counted, never allowed
// to block the authorization reply. Implementations must be safe for
// concurrent use.
type Ledger interface {
	Append(ctx context.Context, rec *Record) error
	// ListByUser returns the user's records, newest first.
	ListByUser(ctx context.Context, userID string, limit int) ([]*Record, error)
}

const defaultListLimit = 50

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return limit
}
