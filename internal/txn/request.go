package txn

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// DefaultUserID is the identity recorded for channels that carry no
// authenticated user, such as physical terminals.
const DefaultUserID = "virtual-terminal-1"

// Request is the canonical transaction record both channels normalize into.
// It is created fresh per incoming message and flows through exactly one
// pipeline execution.
type Request struct {
	Amount     decimal.Decimal
	Currency   string
	CardNumber string
	Protocol   string
	UserID     string
}

// ValidationError reports the first required field that is missing or
// unparseable, in the fixed order amount, currency, cardNumber, protocol.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid transaction request: %s %s", e.Field, e.Reason)
}
