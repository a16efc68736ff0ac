package iso8583

// Message type identifiers used by the terminal protocol.
const (
	MTIAuthRequest  = "0100"
	MTIAuthResponse = "0110"
	MTIFinRequest   = "0200"
	MTIFinResponse  = "0210"

	// MTIError tags any frame the codec could not decode.
	MTIError = "ERROR"
)

// Data element codes carried in the field segment.
const (
	FieldPAN          = "02"
	FieldAmount       = "04"
	FieldScheme       = "22"
	FieldRetrievalRef = "37"
	FieldResponseCode = "39"
	FieldTerminalID   = "41"
	FieldCurrency     = "49"
)

// Field is a single code:value pair. Fields keep their wire order so
// encoding is deterministic.
type Field struct {
	Code  string
	Value string
}

// Message is a decoded terminal protocol frame.
type Message struct {
	MTI    string
	Fields []Field
}

// Get returns the value of the first field with the given code.
func (m Message) Get(code string) (string, bool) {
	for _, f := range m.Fields {
		if f.Code == code {
			return f.Value, true
		}
	}
	return "", false
}

// IsError reports whether the message is the codec's decode-failure marker.
func (m Message) IsError() bool {
	return m.MTI == MTIError
}
