package txn

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/shopspring/decimal"

	"github.com/example/crypto-gateway/internal/iso8583"
)

var cardDigits = regexp.MustCompile(`^[\d \-]+$`)

// FromWire maps a decoded terminal frame onto the canonical request. The
// terminal ID field, when present, identifies the submitting terminal;
// otherwise the request is attributed to DefaultUserID.
func FromWire(msg iso8583.Message) (Request, error) {
	amount, _ := msg.Get(iso8583.FieldAmount)
	currency, _ := msg.Get(iso8583.FieldCurrency)
	pan, _ := msg.Get(iso8583.FieldPAN)
	scheme, _ := msg.Get(iso8583.FieldScheme)

	userID, ok := msg.Get(iso8583.FieldTerminalID)
	if !ok || userID == "" {
		userID = DefaultUserID
	}

	return build(amount, currency, pan, scheme, userID)
}

type jsonRequest struct {
	// Amount stays raw so an unparseable value surfaces as a field-level
	// validation error instead of a payload-level JSON error.
	Amount     json.RawMessage `json:"amount"`
	Currency   string          `json:"currency"`
	CardNumber string          `json:"cardNumber"`
	Protocol   string          `json:"protocol"`
	UserID     string          `json:"userId"`
}

// FromJSON maps a web-channel payload onto the canonical request.
// fallbackUserID, when non-empty, supplies the authenticated identity for
// payloads that do not name one themselves.
func FromJSON(raw []byte, fallbackUserID string) (Request, error) {
	var body jsonRequest
	if err := json.Unmarshal(raw, &body); err != nil {
		return Request{}, fmt.Errorf("malformed JSON payload: %w", err)
	}

	amount := ""
	if raw := bytes.TrimSpace(body.Amount); len(raw) > 0 && string(raw) != "null" {
		// Accept both JSON numbers and quoted decimal strings.
		if raw[0] == '"' {
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return Request{}, &ValidationError{Field: "amount", Reason: "is not a decimal number"}
			}
			amount = s
		} else {
			amount = string(raw)
		}
		if amount == "" {
			return Request{}, &ValidationError{Field: "amount", Reason: "is required"}
		}
	}

	userID := body.UserID
	if userID == "" {
		userID = fallbackUserID
	}
	if userID == "" {
		userID = DefaultUserID
	}

	return build(amount, body.Currency, body.CardNumber, body.Protocol, userID)
}

// build applies presence and coercion checks in the canonical field order.
// Business rules (limits, scheme policy, Luhn) belong to the decision
// engine, not here.
func build(amount, currency, pan, protocol, userID string) (Request, error) {
	if amount == "" {
		return Request{}, &ValidationError{Field: "amount", Reason: "is required"}
	}
	dec, err := decimal.NewFromString(amount)
	if err != nil {
		return Request{}, &ValidationError{Field: "amount", Reason: "is not a decimal number"}
	}
	if !dec.IsPositive() {
		return Request{}, &ValidationError{Field: "amount", Reason: "must be positive"}
	}

	if currency == "" {
		return Request{}, &ValidationError{Field: "currency", Reason: "is required"}
	}

	if pan == "" {
		return Request{}, &ValidationError{Field: "cardNumber", Reason: "is required"}
	}
	if !cardDigits.MatchString(pan) {
		return Request{}, &ValidationError{Field: "cardNumber", Reason: "must contain only digits"}
	}

	if protocol == "" {
		return Request{}, &ValidationError{Field: "protocol", Reason: "is required"}
	}

	return Request{
		Amount:     dec,
		Currency:   currency,
		CardNumber: pan,
		Protocol:   protocol,
		UserID:     userID,
	}, nil
}
