package protocol

import (
	"fmt"
	"math"
	"time"
)

// Message type constants
const (
	TypeLoginRequest  = 0x01
	TypeLoginResponse = 0x02
	TypeChatMessage   = 0x03
	TypeUserJoin      = 0x04
	TypeUserLeave     = 0x05
	TypeUserList      = 0x06
	TypePing          = 0x07
	TypePong          = 0x08
	TypeError         = 0x09
)

// Error codes
const (
	ErrCodeBadRequest     = 400
	ErrCodeUnauthorized   = 401
	ErrCodeNicknameExists = 409
	ErrCodeServerError    = 500
)

// TypeName returns the protocol name of a message type
func TypeName(msgType uint8) string {
	switch msgType {
	case TypeLoginRequest:
		return "LOGIN_REQUEST"
	case TypeLoginResponse:
		return "LOGIN_RESPONSE"
	case TypeChatMessage:
		return "CHAT_MESSAGE"
	case TypeUserJoin:
		return "USER_JOIN"
	case TypeUserLeave:
		return "USER_LEAVE"
	case TypeUserList:
		return "USER_LIST"
	case TypePing:
		return "PING"
	case TypePong:
		return "PONG"
	case TypeError:
		return "ERROR"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02X)", msgType)
	}
}

// Timestamp converts t to fractional seconds since the Unix epoch, the wire format for timestamps
func Timestamp(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// Now returns the current wire timestamp
func Now() float64 {
	return Timestamp(time.Now())
}

// TimeFromTimestamp converts a wire timestamp back to a time.Time
func TimeFromTimestamp(ts float64) time.Time {
	if ts <= 0 || math.IsNaN(ts) || math.IsInf(ts, 0) {
		return time.Time{}
	}
	sec, frac := math.Modf(ts)
	return time.Unix(int64(sec), int64(frac*float64(time.Second)))
}
