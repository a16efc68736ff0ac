package engine

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/crypto-gateway/internal/txn"
)

type fixedRisk struct{ score float64 }

func (f fixedRisk) Score() float64 { return f.score }

func request() txn.Request {
	return txn.Request{
		Amount:     decimal.RequireFromString("10.00"),
		Currency:   "USD",
		CardNumber: "4111111111111111",
		Protocol:   "VISA",
		UserID:     txn.DefaultUserID,
	}
}

func TestAuthorizeApproves(t *testing.T) {
	e := New(Policy{ApprovalRate: 1}, fixedRisk{0.99})

	out := e.Authorize(request())
	require.True(t, out.Approved)
	assert.Equal(t, CodeApproved, out.ResponseCode)
	assert.Empty(t, out.SettlementRef, "settlement reference is not the engine's to set")
}

func TestAuthorizeDeclinesByRisk(t *testing.T) {
	e := New(Policy{ApprovalRate: 0.5}, fixedRisk{0.7})

	out := e.Authorize(request())
	require.False(t, out.Approved)
	assert.Equal(t, CodeDeclined, out.ResponseCode)
}

func TestAuthorizeAmountCap(t *testing.T) {
	e := New(Policy{ApprovalRate: 1, MaxAmount: decimal.NewFromInt(5)}, fixedRisk{0})

	out := e.Authorize(request())
	require.False(t, out.Approved)
	assert.Equal(t, CodeDeclined, out.ResponseCode)

	// Zero cap means no cap.
	e = New(Policy{ApprovalRate: 1}, fixedRisk{0})
	assert.True(t, e.Authorize(request()).Approved)
}

func TestAuthorizeCurrencyPolicy(t *testing.T) {
	e := New(Policy{ApprovalRate: 1, Currencies: []string{"USD", "EUR"}}, fixedRisk{0})

	req := request()
	assert.True(t, e.Authorize(req).Approved)

	req.Currency = "GBP"
	out := e.Authorize(req)
	require.False(t, out.Approved)
	assert.Equal(t, CodeDeclined, out.ResponseCode)
}

func TestAuthorizePANPolicy(t *testing.T) {
	e := New(Policy{ApprovalRate: 1, RequireValidPAN: true}, fixedRisk{0})

	req := request()
	assert.True(t, e.Authorize(req).Approved)

	req.CardNumber = "4111111111111112"
	assert.False(t, e.Authorize(req).Approved)

	// Without the policy flag short card numbers pass through; presence
	// checks already happened in the normalizer.
	e = New(Policy{ApprovalRate: 1}, fixedRisk{0})
	req.CardNumber = "4111"
	assert.True(t, e.Authorize(req).Approved)
}

func TestAuthorizeDeterministicWithSeed(t *testing.T) {
	req := request()

	run := func() []bool {
		e := New(Policy{ApprovalRate: 0.5}, NewRiskSource(42))
		out := make([]bool, 20)
		for i := range out {
			out[i] = e.Authorize(req).Approved
		}
		return out
	}

	assert.Equal(t, run(), run())
}

func TestAuthorizeCodesFromClosedSet(t *testing.T) {
	sources := []RiskSource{fixedRisk{0}, fixedRisk{0.5}, fixedRisk{0.99}, NewRiskSource(1)}
	for _, src := range sources {
		e := New(Policy{ApprovalRate: 0.5, MaxAmount: decimal.NewFromInt(100)}, src)
		for i := 0; i < 50; i++ {
			out := e.Authorize(request())
			assert.Contains(t, []string{CodeApproved, CodeDeclined}, out.ResponseCode)
			assert.Equal(t, out.ResponseCode == CodeApproved, out.Approved)
		}
	}
}
