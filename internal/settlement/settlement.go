// Package settlement talks to the payout backend that moves funds once a
// transaction is authorized. Authorization and settlement are separate trust
// domains: a payout failure never revokes an approval, it only changes the
// response code reported for it.
package settlement

import (
	"context"

	"github.com/shopspring/decimal"
)

// Payout describes one settlement instruction.
type Payout struct {
	Amount decimal.Decimal
	// Asset is the settlement asset, e.g. USDT_TRC20.
	Asset string
	// Destination is the receiving wallet address.
	Destination string
	// IdempotencyKey is unique per pipeline execution so a backend retry
	// cannot double-pay.
	IdempotencyKey string
}

// Result is the backend's answer. Reference is the on-chain transaction
// hash, present only on success.
type Result struct {
	Succeeded bool
	Reference string
}

// Client initiates payouts. Implementations must be safe for concurrent use
// and must honor ctx deadlines; the pipeline treats both errors and
// unsuccessful results as settlement failure.
type Client interface {
	Initiate(ctx context.Context, p Payout) (Result, error)
}
