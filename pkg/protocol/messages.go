package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMissingField = errors.New("required field missing")
)

// ProtocolMessage is implemented by every typed payload
type ProtocolMessage interface {
	Encode() ([]byte, error)
	Decode(payload []byte) error
}

// LoginRequestMessage (0x01) - nickname as plain text
type LoginRequestMessage struct {
	Nickname string
}

func (m *LoginRequestMessage) Encode() ([]byte, error) {
	return []byte(m.Nickname), nil
}

func (m *LoginRequestMessage) Decode(payload []byte) error {
	p, err := ParsePayload(payload)
	if err != nil {
		return err
	}
	m.Nickname = p.Text
	return nil
}

// LoginResponseMessage (0x02) - login result
type LoginResponseMessage struct {
	Success   bool    `json:"success"`
	Message   string  `json:"message"`
	Timestamp float64 `json:"timestamp"`
}

func (m *LoginResponseMessage) Encode() ([]byte, error) {
	return marshalJSON(m)
}

func (m *LoginResponseMessage) Decode(payload []byte) error {
	return decodeStructured(payload, m)
}

// ChatRequestMessage (0x03, client → server) - raw chat text
type ChatRequestMessage struct {
	Text string
}

func (m *ChatRequestMessage) Encode() ([]byte, error) {
	return []byte(m.Text), nil
}

// Decode keeps the raw text even when it happens to parse as JSON
func (m *ChatRequestMessage) Decode(payload []byte) error {
	p, err := ParsePayload(payload)
	if err != nil {
		return err
	}
	m.Text = p.Text
	return nil
}

// ChatBroadcastMessage (0x03, server → client) - chat line fanned out to everyone
type ChatBroadcastMessage struct {
	Nickname  string  `json:"nickname"`
	Message   string  `json:"message"`
	Timestamp float64 `json:"timestamp"`
}

func (m *ChatBroadcastMessage) Encode() ([]byte, error) {
	return marshalJSON(m)
}

func (m *ChatBroadcastMessage) Decode(payload []byte) error {
	if err := decodeStructured(payload, m); err != nil {
		return err
	}
	if m.Nickname == "" {
		return fmt.Errorf("%w: nickname", ErrMissingField)
	}
	return nil
}

// PresenceMessage (0x04 USER_JOIN, 0x05 USER_LEAVE)
type PresenceMessage struct {
	Nickname  string  `json:"nickname"`
	Message   string  `json:"message"`
	Timestamp float64 `json:"timestamp"`
}

func (m *PresenceMessage) Encode() ([]byte, error) {
	return marshalJSON(m)
}

func (m *PresenceMessage) Decode(payload []byte) error {
	return decodeStructured(payload, m)
}

// UserListMessage (0x06) - current nicknames
type UserListMessage struct {
	Users []string `json:"users"`
	Count int      `json:"count"`
}

func (m *UserListMessage) Encode() ([]byte, error) {
	if m.Users == nil {
		// Always send a list, never null
		return marshalJSON(&UserListMessage{Users: []string{}, Count: m.Count})
	}
	return marshalJSON(m)
}

func (m *UserListMessage) Decode(payload []byte) error {
	m.Count = -1
	if err := decodeStructured(payload, m); err != nil {
		return err
	}
	if m.Count < 0 {
		m.Count = len(m.Users)
	}
	return nil
}

// PingMessage (0x07) and PongMessage (0x08)
type PingMessage struct {
	Timestamp float64 `json:"timestamp"`
}

func (m *PingMessage) Encode() ([]byte, error) {
	return marshalJSON(m)
}

func (m *PingMessage) Decode(payload []byte) error {
	return decodeStructured(payload, m)
}

type PongMessage struct {
	Timestamp float64 `json:"timestamp"`
}

func (m *PongMessage) Encode() ([]byte, error) {
	return marshalJSON(m)
}

func (m *PongMessage) Decode(payload []byte) error {
	return decodeStructured(payload, m)
}

// ErrorMessage (0x09)
type ErrorMessage struct {
	ErrorCode    int     `json:"error_code"`
	ErrorMessage string  `json:"error_message"`
	Timestamp    float64 `json:"timestamp"`
}

func (m *ErrorMessage) Encode() ([]byte, error) {
	return marshalJSON(m)
}

// Decode accepts a structured error or falls back to using the text as the message
func (m *ErrorMessage) Decode(payload []byte) error {
	p, err := ParsePayload(payload)
	if err != nil {
		return err
	}
	if !p.IsStructured() {
		m.ErrorMessage = strings.TrimSpace(p.Text)
		return nil
	}
	return p.Decode(m)
}

// Error implements the error interface so a received ERROR can be returned as-is
func (m *ErrorMessage) Error() string {
	return fmt.Sprintf("error %d: %s", m.ErrorCode, m.ErrorMessage)
}

// NewFrame encodes a typed message into a frame
func NewFrame(msgType uint8, msg ProtocolMessage) (*Frame, error) {
	payload, err := msg.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", TypeName(msgType), err)
	}
	return &Frame{Type: msgType, Payload: payload}, nil
}

func decodeStructured(payload []byte, v any) error {
	p, err := ParsePayload(payload)
	if err != nil {
		return err
	}
	if err := p.Decode(v); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return fmt.Errorf("field %q: %w", typeErr.Field, err)
		}
		return err
	}
	return nil
}
