package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

var (
	ErrInvalidUTF8     = errors.New("payload is not valid UTF-8")
	ErrNotStructured   = errors.New("payload is not structured")
	ErrUnsupportedType = errors.New("unsupported payload value")
)

// Payload is a decoded frame payload: always the text, plus the fields when the
// text parsed as a JSON object
type Payload struct {
	Text   string
	Fields map[string]any
}

// IsStructured reports whether the payload decoded as a JSON object
func (p Payload) IsStructured() bool {
	return p.Fields != nil
}

// Decode unmarshals a structured payload into v
func (p Payload) Decode(v any) error {
	if !p.IsStructured() {
		return ErrNotStructured
	}
	return json.Unmarshal([]byte(p.Text), v)
}

// MarshalPayload converts a value to payload bytes.
// Strings and byte slices are sent as-is, anything else as JSON.
func MarshalPayload(v any) ([]byte, error) {
	switch data := v.(type) {
	case nil:
		return nil, fmt.Errorf("%w: nil", ErrUnsupportedType)
	case string:
		return []byte(data), nil
	case []byte:
		return data, nil
	case interface{ Encode() ([]byte, error) }:
		return data.Encode()
	default:
		return marshalJSON(v)
	}
}

// ParsePayload decodes payload bytes. Text that is not a JSON object is returned as
// plain text, which is not an error.
func ParsePayload(b []byte) (Payload, error) {
	if !utf8.Valid(b) {
		return Payload{}, ErrInvalidUTF8
	}

	p := Payload{Text: string(b)}

	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return p, nil
	}

	var fields map[string]any
	if err := json.Unmarshal(trimmed, &fields); err == nil && fields != nil {
		p.Fields = fields
	}
	return p, nil
}

// marshalJSON encodes v without HTML escaping so non-ASCII and markup survive verbatim
func marshalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
