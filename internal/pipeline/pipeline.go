// Package pipeline sequences one transaction through normalization,
// authorization, settlement, and the ledger, and encodes the reply for the
// channel that submitted it. Each Process call is self-contained; the
// pipeline keeps no per-request state.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/crypto-gateway/internal/card"
	"github.com/example/crypto-gateway/internal/engine"
	"github.com/example/crypto-gateway/internal/iso8583"
	"github.com/example/crypto-gateway/internal/ledger"
	"github.com/example/crypto-gateway/internal/settlement"
	"github.com/example/crypto-gateway/internal/txn"
	"github.com/example/crypto-gateway/pkg/audit"
)

const (
	defaultAppID   = "default-app-id"
	defaultTimeout = 5 * time.Second
)

// Auditor receives one tamper-evident entry per processed transaction plus
// an entry per detected audit gap.
type Auditor interface {
	Append(payload string) *audit.LogEntry
}

// Config wires the pipeline's collaborators. Engine, Settlement, and Ledger
// are required; the rest default sensibly.
type Config struct {
	Engine     *engine.Engine
	Settlement settlement.Client
	Ledger     ledger.Ledger
	Auditor    Auditor
	Logger     *slog.Logger

	AppID            string
	SettlementAsset  string
	SettlementWallet string

	// SettlementTimeout and LedgerTimeout bound the external calls so no
	// request can hang the pipeline.
	SettlementTimeout time.Duration
	LedgerTimeout     time.Duration
}

type Pipeline struct {
	cfg     Config
	metrics Metrics
}

func New(cfg Config) *Pipeline {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.AppID == "" {
		cfg.AppID = defaultAppID
	}
	if cfg.SettlementTimeout <= 0 {
		cfg.SettlementTimeout = defaultTimeout
	}
	if cfg.LedgerTimeout <= 0 {
		cfg.LedgerTimeout = defaultTimeout
	}
	return &Pipeline{cfg: cfg}
}

// Metrics exposes the pipeline's counters.
func (p *Pipeline) Metrics() *Metrics {
	return &p.metrics
}

// Response is the web channel's reply shape. BlockchainHash is null unless
// settlement succeeded.
type Response struct {
	Status         string  `json:"status"`
	ResponseCode   string  `json:"response_code"`
	Message        string  `json:"message"`
	BlockchainHash *string `json:"blockchain_hash"`
}

// ProcessJSON runs one web-channel payload through the pipeline.
// fallbackUserID supplies the channel's authenticated identity for payloads
// that carry none.
func (p *Pipeline) ProcessJSON(ctx context.Context, raw []byte, fallbackUserID string) Response {
	req, err := txn.FromJSON(raw, fallbackUserID)
	if err != nil {
		p.metrics.ValidationErrors.Add(1)
		return Response{
			Status:       "declined",
			ResponseCode: engine.CodeMalformed,
			Message:      p.rejectMessage(err),
		}
	}

	out := p.execute(ctx, req)

	resp := Response{
		Status:       statusOf(out),
		ResponseCode: out.ResponseCode,
		Message:      out.Message,
	}
	if out.SettlementRef != "" {
		ref := out.SettlementRef
		resp.BlockchainHash = &ref
	}
	return resp
}

// ProcessWire runs one terminal frame through the pipeline and returns the
// encoded reply frame. It never returns an error: malformed input becomes a
// code-99 reply.
func (p *Pipeline) ProcessWire(ctx context.Context, raw []byte) []byte {
	msg := iso8583.Decode(raw)
	if msg.IsError() {
		p.metrics.DecodeErrors.Add(1)
		p.cfg.Logger.Warn("failed to decode terminal frame",
			"frame", card.MaskText(string(raw)),
		)
		return wireReply(iso8583.MTIFinResponse, engine.CodeMalformed, "")
	}

	req, err := txn.FromWire(msg)
	if err != nil {
		p.metrics.ValidationErrors.Add(1)
		p.cfg.Logger.Warn("terminal frame failed validation", "error", err)
		return wireReply(replyMTI(msg.MTI), engine.CodeMalformed, "")
	}

	out := p.execute(ctx, req)
	return wireReply(replyMTI(msg.MTI), out.ResponseCode, out.SettlementRef)
}

// execute is the shared decision-and-settlement state machine. Once a
// request reaches it, the request always ends in a terminal outcome:
// approved, declined, or approved-with-settlement-failure.
func (p *Pipeline) execute(ctx context.Context, req txn.Request) engine.Outcome {
	p.metrics.Processed.Add(1)

	out := p.cfg.Engine.Authorize(req)

	if out.Approved {
		out = p.settle(ctx, req, out)
		p.metrics.Approved.Add(1)
	} else {
		p.metrics.Declined.Add(1)
	}

	p.record(ctx, req, out)
	return out
}

// settle invokes the payout backend. A failure downgrades the response code
// to approved-but-settlement-failed; it never flips the approval itself.
func (p *Pipeline) settle(ctx context.Context, req txn.Request, out engine.Outcome) engine.Outcome {
	// Detached from the channel context: a disconnecting caller must not
	// abort a payout already under way.
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.SettlementTimeout)
	defer cancel()

	payout := settlement.Payout{
		Amount:         req.Amount,
		Asset:          p.cfg.SettlementAsset,
		Destination:    p.cfg.SettlementWallet,
		IdempotencyKey: uuid.NewString(),
	}

	res, err := p.cfg.Settlement.Initiate(sctx, payout)
	if err != nil || !res.Succeeded {
		p.metrics.SettlementFailures.Add(1)
		p.cfg.Logger.Error("payout failed for approved transaction",
			"user_id", req.UserID,
			"asset", payout.Asset,
			"error", err,
		)
		out.ResponseCode = engine.CodeSettlementFailed
		out.Message = "Transaction approved, but payout failed."
		out.SettlementRef = ""
		return out
	}

	out.SettlementRef = res.Reference
	out.Message = "Transaction approved and payout initiated."
	return out
}

// record appends the masked outcome to the ledger. Persistence failure is
// logged and counted but never blocks the reply; the audit entry marks the
// gap so it stays detectable.
func (p *Pipeline) record(ctx context.Context, req txn.Request, out engine.Outcome) {
	rec := &ledger.Record{
		ID:            uuid.NewString(),
		AppID:         p.cfg.AppID,
		UserID:        req.UserID,
		Amount:        req.Amount,
		Currency:      req.Currency,
		Protocol:      req.Protocol,
		CardMasked:    card.Mask(req.CardNumber),
		Status:        statusOf(out),
		ResponseCode:  out.ResponseCode,
		Message:       out.Message,
		SettlementRef: out.SettlementRef,
		CreatedAt:     time.Now().UTC(),
	}

	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.LedgerTimeout)
	defer cancel()

	if err := p.cfg.Ledger.Append(lctx, rec); err != nil {
		p.metrics.LedgerFailures.Add(1)
		p.cfg.Logger.Error("ledger append failed, authorization result stands",
			"user_id", rec.UserID,
			"response_code", rec.ResponseCode,
			"error", err,
		)
		if p.cfg.Auditor != nil {
			p.cfg.Auditor.Append(fmt.Sprintf("audit_gap user=%s code=%s card=%s", rec.UserID, rec.ResponseCode, rec.CardMasked))
		}
		return
	}

	if p.cfg.Auditor != nil {
		p.cfg.Auditor.Append(fmt.Sprintf("txn id=%s user=%s card=%s amount=%s %s code=%s",
			rec.ID, rec.UserID, rec.CardMasked, rec.Amount, rec.Currency, rec.ResponseCode))
	}
}

func (p *Pipeline) rejectMessage(err error) string {
	var verr *txn.ValidationError
	if errors.As(err, &verr) {
		return fmt.Sprintf("Missing transaction data: %s %s.", verr.Field, verr.Reason)
	}
	return "Malformed transaction payload."
}

func statusOf(out engine.Outcome) string {
	if out.Approved {
		return "approved"
	}
	return "declined"
}

func replyMTI(requestMTI string) string {
	switch requestMTI {
	case iso8583.MTIAuthRequest:
		return iso8583.MTIAuthResponse
	default:
		return iso8583.MTIFinResponse
	}
}

func wireReply(mti, code, ref string) []byte {
	fields := []iso8583.Field{{Code: iso8583.FieldResponseCode, Value: code}}
	if ref != "" {
		fields = append(fields, iso8583.Field{Code: iso8583.FieldRetrievalRef, Value: ref})
	}
	raw, err := iso8583.Encode(mti, fields)
	if err != nil {
		// Codes and payout hashes contain no reserved characters, so this
		// is unreachable short of a reference from a misbehaving backend.
		raw, _ = iso8583.Encode(mti, []iso8583.Field{{Code: iso8583.FieldResponseCode, Value: code}})
	}
	return raw
}
