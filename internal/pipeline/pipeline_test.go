package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/crypto-gateway/internal/engine"
	"github.com/example/crypto-gateway/internal/iso8583"
	"github.com/example/crypto-gateway/internal/ledger"
	"github.com/example/crypto-gateway/internal/settlement"
	"github.com/example/crypto-gateway/pkg/audit"
)

type fixedRisk struct{ score float64 }

func (f fixedRisk) Score() float64 { return f.score }

type stubSettlement struct {
	mu    sync.Mutex
	calls int
	fail  bool
	keys  []string
}

func (s *stubSettlement) Initiate(ctx context.Context, p settlement.Payout) (settlement.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.keys = append(s.keys, p.IdempotencyKey)
	if s.fail {
		return settlement.Result{}, errors.New("payout backend unavailable")
	}
	return settlement.Result{Succeeded: true, Reference: "0x" + strings.Repeat("ab", 32)}, nil
}

type memoryLedger struct {
	mu      sync.Mutex
	fail    bool
	records []*ledger.Record
}

func (m *memoryLedger) Append(ctx context.Context, rec *ledger.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("database unavailable")
	}
	m.records = append(m.records, rec)
	return nil
}

func (m *memoryLedger) ListByUser(ctx context.Context, userID string, limit int) ([]*ledger.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*ledger.Record
	for i := len(m.records) - 1; i >= 0; i-- {
		if m.records[i].UserID == userID {
			out = append(out, m.records[i])
		}
	}
	return out, nil
}

type fixture struct {
	pipeline   *Pipeline
	settlement *stubSettlement
	ledger     *memoryLedger
	auditor    *audit.ChainLogger
}

func newFixture(t *testing.T, approve, settleOK bool) *fixture {
	t.Helper()

	rate := 0.0
	if approve {
		rate = 1.0
	}

	sc := &stubSettlement{fail: !settleOK}
	ml := &memoryLedger{}
	auditor := audit.NewChainLogger()

	p := New(Config{
		Engine:           engine.New(engine.Policy{ApprovalRate: rate}, fixedRisk{0.5}),
		Settlement:       sc,
		Ledger:           ml,
		Auditor:          auditor,
		AppID:            "test-app",
		SettlementAsset:  "USDT_TRC20",
		SettlementWallet: "TXYZabc123",
	})

	return &fixture{pipeline: p, settlement: sc, ledger: ml, auditor: auditor}
}

const goodJSON = `{"amount":10.00,"currency":"USD","cardNumber":"4111","protocol":"VISA"}`

func TestProcessJSONApprovedWithSettlement(t *testing.T) {
	f := newFixture(t, true, true)

	resp := f.pipeline.ProcessJSON(context.Background(), []byte(goodJSON), "")

	assert.Equal(t, "approved", resp.Status)
	assert.Equal(t, "00", resp.ResponseCode)
	require.NotNil(t, resp.BlockchainHash)
	assert.True(t, strings.HasPrefix(*resp.BlockchainHash, "0x"))

	require.Len(t, f.ledger.records, 1)
	rec := f.ledger.records[0]
	assert.Equal(t, "approved", rec.Status)
	assert.Equal(t, "00", rec.ResponseCode)
	assert.Equal(t, *resp.BlockchainHash, rec.SettlementRef)
	assert.Equal(t, "virtual-terminal-1", rec.UserID)
	assert.Equal(t, "****", rec.CardMasked, "short card numbers are fully masked")
}

func TestProcessJSONSettlementFailureDowngrades(t *testing.T) {
	f := newFixture(t, true, false)

	resp := f.pipeline.ProcessJSON(context.Background(), []byte(goodJSON), "")

	// Still approved: settlement failure never flips the authorization.
	assert.Equal(t, "approved", resp.Status)
	assert.Equal(t, "05", resp.ResponseCode)
	assert.NotEqual(t, "51", resp.ResponseCode)
	assert.Nil(t, resp.BlockchainHash)

	require.Len(t, f.ledger.records, 1)
	assert.Equal(t, "approved", f.ledger.records[0].Status)
	assert.Equal(t, "05", f.ledger.records[0].ResponseCode)
	assert.Equal(t, int64(1), f.pipeline.Metrics().Snapshot().SettlementFailures)
}

func TestProcessJSONDeclined(t *testing.T) {
	f := newFixture(t, false, true)

	resp := f.pipeline.ProcessJSON(context.Background(), []byte(goodJSON), "")

	assert.Equal(t, "declined", resp.Status)
	assert.Equal(t, "51", resp.ResponseCode)
	assert.Nil(t, resp.BlockchainHash)

	assert.Zero(t, f.settlement.calls, "declined transactions are never settled")
	require.Len(t, f.ledger.records, 1, "declined transactions are still recorded")
	assert.Equal(t, "51", f.ledger.records[0].ResponseCode)
}

func TestProcessJSONValidationFailure(t *testing.T) {
	f := newFixture(t, true, true)

	resp := f.pipeline.ProcessJSON(context.Background(), []byte(`{"amount":10.00,"currency":"USD","protocol":"VISA"}`), "")

	assert.Equal(t, "declined", resp.Status)
	assert.Equal(t, "99", resp.ResponseCode)
	assert.Contains(t, resp.Message, "cardNumber")
	assert.Nil(t, resp.BlockchainHash)

	assert.Zero(t, f.settlement.calls, "no settlement side effects before validation passes")
	assert.Empty(t, f.ledger.records, "no ledger side effects before validation passes")
}

func TestProcessJSONMalformedPayload(t *testing.T) {
	f := newFixture(t, true, true)

	resp := f.pipeline.ProcessJSON(context.Background(), []byte(`{not json`), "")
	assert.Equal(t, "declined", resp.Status)
	assert.Equal(t, "99", resp.ResponseCode)
}

func TestLedgerFailureDoesNotChangeReply(t *testing.T) {
	ok := newFixture(t, true, true)
	failing := newFixture(t, true, true)
	failing.ledger.fail = true

	okResp := ok.pipeline.ProcessJSON(context.Background(), []byte(goodJSON), "")
	failResp := failing.pipeline.ProcessJSON(context.Background(), []byte(goodJSON), "")

	assert.Equal(t, okResp.Status, failResp.Status)
	assert.Equal(t, okResp.ResponseCode, failResp.ResponseCode)
	assert.Equal(t, okResp.Message, failResp.Message)
	require.NotNil(t, failResp.BlockchainHash)

	snap := failing.pipeline.Metrics().Snapshot()
	assert.Equal(t, int64(1), snap.LedgerFailures, "audit gap must be observable")
	assert.Zero(t, ok.pipeline.Metrics().Snapshot().LedgerFailures)
}

func TestSettlementIdempotencyKeysUnique(t *testing.T) {
	f := newFixture(t, true, true)

	for i := 0; i < 3; i++ {
		f.pipeline.ProcessJSON(context.Background(), []byte(goodJSON), "")
	}

	require.Len(t, f.settlement.keys, 3)
	seen := map[string]bool{}
	for _, k := range f.settlement.keys {
		assert.NotEmpty(t, k)
		assert.False(t, seen[k], "idempotency keys must be unique per execution")
		seen[k] = true
	}
}

func TestProcessWireApproved(t *testing.T) {
	f := newFixture(t, true, true)

	reply := f.pipeline.ProcessWire(context.Background(),
		[]byte("MTI:0200|04:10.00,49:USD,02:4111111111111111,22:VISA,41:TERM-1"))

	msg := iso8583.Decode(reply)
	require.Equal(t, iso8583.MTIFinResponse, msg.MTI)

	code, ok := msg.Get(iso8583.FieldResponseCode)
	require.True(t, ok)
	assert.Equal(t, "00", code)

	ref, ok := msg.Get(iso8583.FieldRetrievalRef)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(ref, "0x"))

	require.Len(t, f.ledger.records, 1)
	assert.Equal(t, "TERM-1", f.ledger.records[0].UserID)
	assert.Equal(t, "411111******1111", f.ledger.records[0].CardMasked)
}

func TestProcessWireAuthRequestMTI(t *testing.T) {
	f := newFixture(t, false, true)

	reply := f.pipeline.ProcessWire(context.Background(),
		[]byte("MTI:0100|04:10.00,49:USD,02:4111111111111111,22:VISA"))

	msg := iso8583.Decode(reply)
	assert.Equal(t, iso8583.MTIAuthResponse, msg.MTI)
	code, _ := msg.Get(iso8583.FieldResponseCode)
	assert.Equal(t, "51", code)
}

func TestProcessWireDecodeFailure(t *testing.T) {
	f := newFixture(t, true, true)

	reply := f.pipeline.ProcessWire(context.Background(), []byte("not a frame"))

	msg := iso8583.Decode(reply)
	require.False(t, msg.IsError(), "the reply itself must be well formed")
	code, _ := msg.Get(iso8583.FieldResponseCode)
	assert.Equal(t, "99", code)

	assert.Zero(t, f.settlement.calls)
	assert.Empty(t, f.ledger.records)
	assert.Equal(t, int64(1), f.pipeline.Metrics().Snapshot().DecodeErrors)
}

func TestProcessWireValidationFailure(t *testing.T) {
	f := newFixture(t, true, true)

	// Missing amount and currency: short-circuits before authorization.
	reply := f.pipeline.ProcessWire(context.Background(), []byte("MTI:0200|02:4111111111111111,22:VISA"))

	msg := iso8583.Decode(reply)
	code, _ := msg.Get(iso8583.FieldResponseCode)
	assert.Equal(t, "99", code)
	assert.Empty(t, f.ledger.records)
}

func TestAuditTrailCoversProcessedTransactions(t *testing.T) {
	f := newFixture(t, true, true)

	f.pipeline.ProcessJSON(context.Background(), []byte(goodJSON), "")

	entries := f.auditor.Entries()
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Payload, "code=00")
	assert.NotContains(t, entries[0].Payload, "4111111111111111")
	assert.True(t, audit.VerifyChain(entries))
}

func TestAuditGapRecordedOnLedgerFailure(t *testing.T) {
	f := newFixture(t, true, true)
	f.ledger.fail = true

	f.pipeline.ProcessJSON(context.Background(), []byte(goodJSON), "")

	entries := f.auditor.Entries()
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Payload, "audit_gap")
}

func TestCancelledChannelContextStillSettlesAndRecords(t *testing.T) {
	f := newFixture(t, true, true)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // caller already disconnected

	resp := f.pipeline.ProcessJSON(ctx, []byte(goodJSON), "")

	assert.Equal(t, "approved", resp.Status)
	assert.Equal(t, 1, f.settlement.calls)
	require.Len(t, f.ledger.records, 1)
}
