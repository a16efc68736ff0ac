package iso8583

import (
	"bytes"
	"errors"
	"strings"
)

// Wire grammar: "MTI:" <type> "|" <code> ":" <value> ("," <code> ":" <value>)*
const (
	mtiPrefix        = "MTI"
	segmentDelimiter = "|"
	fieldDelimiter   = ","
	codeDelimiter    = ":"
)

// ErrReservedDelimiter is returned by Encode when a field code or value
// contains a character the grammar reserves. Refusing the message keeps a
// round-trip guarantee; truncating would silently corrupt it.
var ErrReservedDelimiter = errors.New("iso8583: field contains reserved delimiter")

var errorMessage = Message{MTI: MTIError}

// Decode parses a raw frame into a Message. It is total: any structural
// violation yields a Message tagged MTIError instead of an error or a
// partially populated message.
func Decode(raw []byte) Message {
	s := string(bytes.TrimRight(raw, "\r\n"))

	segments := strings.Split(s, segmentDelimiter)
	if len(segments) != 2 {
		return errorMessage
	}

	tag, mti, ok := strings.Cut(segments[0], codeDelimiter)
	if !ok || tag != mtiPrefix || mti == "" {
		return errorMessage
	}

	msg := Message{MTI: mti}
	if segments[1] == "" {
		return msg
	}

	for _, elem := range strings.Split(segments[1], fieldDelimiter) {
		// Values may legally contain colons (e.g. nested references);
		// only the first one separates code from value.
		code, value, ok := strings.Cut(elem, codeDelimiter)
		if !ok || code == "" {
			return errorMessage
		}
		msg.Fields = append(msg.Fields, Field{Code: code, Value: value})
	}

	return msg
}

// Encode builds the raw frame for a message type and ordered field list.
// An empty field list encodes to the type segment followed by an empty data
// segment, which Decode accepts back as an empty message.
func Encode(mti string, fields []Field) ([]byte, error) {
	if mti == "" || containsReserved(mti, true) {
		return nil, ErrReservedDelimiter
	}

	var b strings.Builder
	b.WriteString(mtiPrefix)
	b.WriteString(codeDelimiter)
	b.WriteString(mti)
	b.WriteString(segmentDelimiter)

	for i, f := range fields {
		if f.Code == "" || containsReserved(f.Code, true) || containsReserved(f.Value, false) {
			return nil, ErrReservedDelimiter
		}
		if i > 0 {
			b.WriteString(fieldDelimiter)
		}
		b.WriteString(f.Code)
		b.WriteString(codeDelimiter)
		b.WriteString(f.Value)
	}

	return []byte(b.String()), nil
}

// Encode serializes the message itself.
func (m Message) Encode() ([]byte, error) {
	return Encode(m.MTI, m.Fields)
}

func containsReserved(s string, isCode bool) bool {
	if strings.Contains(s, segmentDelimiter) || strings.Contains(s, fieldDelimiter) {
		return true
	}
	// A colon inside a code would shift the code/value split on decode.
	return isCode && strings.Contains(s, codeDelimiter)
}
