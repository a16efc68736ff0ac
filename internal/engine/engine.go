package engine

import (
	"math/rand"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/example/crypto-gateway/internal/card"
	"github.com/example/crypto-gateway/internal/txn"
)

// Response codes form a closed set shared with the terminal protocol's
// field 39. The engine itself only ever emits CodeApproved or CodeDeclined;
// CodeSettlementFailed is applied by the pipeline after payout, and
// CodeMalformed by the channels before authorization.
const (
	CodeApproved         = "00"
	CodeSettlementFailed = "05"
	CodeDeclined         = "51"
	CodeMalformed        = "99"
)

// Outcome is the terminal authorization result for one request.
type Outcome struct {
	Approved      bool
	ResponseCode  string
	Message       string
	SettlementRef string
}

// RiskSource supplies the risk score consulted for requests that pass every
// static rule. Injected so authorization is deterministic under test.
type RiskSource interface {
	// Score returns a value in [0, 1).
	Score() float64
}

type lockedSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func (s *lockedSource) Score() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

// NewRiskSource returns a seeded, concurrency-safe risk source.
func NewRiskSource(seed int64) RiskSource {
	return &lockedSource{rng: rand.New(rand.NewSource(seed))}
}

// Policy is the injected authorization policy. The zero value approves
// nothing; set ApprovalRate to 1 to approve everything that passes the
// static rules.
type Policy struct {
	// ApprovalRate is the risk threshold in [0, 1]: a request is approved
	// when its risk score falls below it.
	ApprovalRate float64
	// MaxAmount declines transactions above the cap. Zero means no cap.
	MaxAmount decimal.Decimal
	// Currencies restricts accepted currency codes. Empty accepts all.
	Currencies []string
	// RequireValidPAN declines card numbers that fail the Luhn check.
	RequireValidPAN bool
}

// Engine applies the authorization policy. It performs no I/O and holds no
// mutable state; it is safe for concurrent use.
type Engine struct {
	policy Policy
	risk   RiskSource
}

func New(policy Policy, risk RiskSource) *Engine {
	return &Engine{policy: policy, risk: risk}
}

// Authorize produces exactly one outcome for the request. Every decline uses
// CodeDeclined; distinguishing detail goes in the message only.
func (e *Engine) Authorize(req txn.Request) Outcome {
	if e.policy.RequireValidPAN {
		if err := card.ValidatePAN(req.CardNumber); err != nil {
			return declined("Transaction declined: card number failed validation.")
		}
	}

	if len(e.policy.Currencies) > 0 && !contains(e.policy.Currencies, req.Currency) {
		return declined("Transaction declined: currency not accepted.")
	}

	if e.policy.MaxAmount.IsPositive() && req.Amount.GreaterThan(e.policy.MaxAmount) {
		return declined("Transaction declined: amount exceeds limit.")
	}

	if e.risk.Score() >= e.policy.ApprovalRate {
		return declined("Transaction declined by internal rules.")
	}

	return Outcome{
		Approved:     true,
		ResponseCode: CodeApproved,
		Message:      "Transaction approved.",
	}
}

func declined(msg string) Outcome {
	return Outcome{
		Approved:     false,
		ResponseCode: CodeDeclined,
		Message:      msg,
	}
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
