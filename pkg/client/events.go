package client

import (
	"fmt"
	"strings"
	"time"
)

// DefaultTimeFormat is the clock layout used when rendering events
const DefaultTimeFormat = "15:04:05"

// EventKind identifies what an Event reports
type EventKind int

const (
	EventLogin EventKind = iota
	EventChat
	EventJoin
	EventLeave
	EventUserList
	EventPong
	EventError
	EventNotice
	EventDisconnected
)

func (k EventKind) String() string {
	switch k {
	case EventLogin:
		return "login"
	case EventChat:
		return "chat"
	case EventJoin:
		return "join"
	case EventLeave:
		return "leave"
	case EventUserList:
		return "user_list"
	case EventPong:
		return "pong"
	case EventError:
		return "error"
	case EventNotice:
		return "notice"
	case EventDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is one line of chat activity delivered to the UI.
// Own is set on the local echo of a chat message this client sent.
type Event struct {
	Kind     EventKind
	Time     time.Time
	Nickname string
	Text     string
	Users    []string
	Code     int
	Latency  time.Duration
	Own      bool
}

// String renders the event with the default clock layout
func (e Event) String() string {
	return e.Format(DefaultTimeFormat)
}

// Format renders the event as a single display line
func (e Event) Format(layout string) string {
	if layout == "" {
		layout = DefaultTimeFormat
	}
	ts := "[" + e.Time.Format(layout) + "]"

	switch e.Kind {
	case EventLogin:
		return fmt.Sprintf("%s %s", ts, e.Text)
	case EventChat:
		if e.Nickname == "" {
			return fmt.Sprintf("%s %s", ts, e.Text)
		}
		return fmt.Sprintf("%s %s: %s", ts, e.Nickname, e.Text)
	case EventJoin:
		return fmt.Sprintf("%s >>> %s <<<", ts, e.Text)
	case EventLeave:
		return fmt.Sprintf("%s <<< %s >>>", ts, e.Text)
	case EventUserList:
		noun := "users"
		if len(e.Users) == 1 {
			noun = "user"
		}
		return fmt.Sprintf("[INFO] %d %s in chat room: %s", len(e.Users), noun, strings.Join(e.Users, ", "))
	case EventPong:
		return fmt.Sprintf("[INFO] Pong from server (%s)", e.Latency.Round(time.Millisecond))
	case EventError:
		return fmt.Sprintf("%s ERROR %d: %s", ts, e.Code, e.Text)
	case EventDisconnected:
		if e.Text == "" {
			return "[CLIENT] Disconnected from server"
		}
		return "[CLIENT] Disconnected from server: " + e.Text
	default:
		return "[CLIENT] " + e.Text
	}
}

// Mentions reports whether the event is someone else's chat naming nick
func (e Event) Mentions(nick string) bool {
	if e.Kind != EventChat || e.Own || nick == "" {
		return false
	}
	return strings.Contains(strings.ToLower(e.Text), strings.ToLower(nick))
}
