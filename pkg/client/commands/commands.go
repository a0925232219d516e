// ABOUTME: Slash commands shared by the TUI and the line-mode client
// ABOUTME: Parses an input line and runs it against a logged-in client
package commands

import (
	"fmt"
	"strings"

	"github.com/fior4neee/Message-Broadcasting/pkg/client"
)

// Action IDs
const (
	ActionNone    = ""
	ActionChat    = "chat"
	ActionQuit    = "quit"
	ActionPing    = "ping"
	ActionUsers   = "users"
	ActionHelp    = "help"
	ActionInvalid = "invalid"
)

// CommandDefinition describes one slash command
type CommandDefinition struct {
	Names    []string
	ActionID string
	HelpText string
}

// SharedCommands lists the commands in help order
var SharedCommands = []CommandDefinition{
	{Names: []string{"/quit", "/exit", "/q"}, ActionID: ActionQuit, HelpText: "Leave the chat"},
	{Names: []string{"/ping"}, ActionID: ActionPing, HelpText: "Test the connection"},
	{Names: []string{"/users", "/list"}, ActionID: ActionUsers, HelpText: "Show who is online"},
	{Names: []string{"/help"}, ActionID: ActionHelp, HelpText: "Show this help"},
}

// Input is a parsed line
type Input struct {
	ActionID string
	Command  string // lowercased command word, empty for chat
	Text     string // chat text, untrimmed
}

// Parse classifies a line typed by the user. Anything not starting with "/" is chat.
func Parse(line string) Input {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return Input{ActionID: ActionNone}
	}
	if !strings.HasPrefix(trimmed, "/") {
		return Input{ActionID: ActionChat, Text: line}
	}

	cmd := strings.ToLower(strings.Fields(trimmed)[0])
	for _, def := range SharedCommands {
		for _, name := range def.Names {
			if cmd == name {
				return Input{ActionID: def.ActionID, Command: cmd}
			}
		}
	}
	return Input{ActionID: ActionInvalid, Command: cmd}
}

// HelpLines renders the command list
func HelpLines() []string {
	lines := []string{"=== COMMANDS ==="}
	for _, def := range SharedCommands {
		lines = append(lines, fmt.Sprintf("%s - %s", strings.Join(def.Names, ", "), def.HelpText))
	}
	return append(lines, "================")
}

// Executor is the part of *client.Client that commands drive
type Executor interface {
	SendChat(text string) (client.Event, error)
	Ping() error
	Users() []string
}

// Execute runs in and returns the lines to show, rendering timestamps with layout.
// quit is set when the user asked to leave.
func Execute(ex Executor, in Input, layout string) (lines []string, quit bool) {
	switch in.ActionID {
	case ActionNone:
		return nil, false

	case ActionQuit:
		return nil, true

	case ActionChat:
		ev, err := ex.SendChat(in.Text)
		if err != nil {
			return []string{fmt.Sprintf("[ERROR] Could not send message: %v", err)}, false
		}
		return []string{ev.Format(layout)}, false

	case ActionPing:
		if err := ex.Ping(); err != nil {
			return []string{fmt.Sprintf("[ERROR] Could not send ping: %v", err)}, false
		}
		return []string{"[INFO] Ping sent"}, false

	case ActionUsers:
		users := ex.Users()
		if len(users) == 0 {
			return []string{"[INFO] No user list received yet"}, false
		}
		return []string{fmt.Sprintf("[INFO] Users online (%d): %s", len(users), strings.Join(users, ", "))}, false

	case ActionHelp:
		return HelpLines(), false

	default:
		return []string{fmt.Sprintf("[INFO] Invalid command: %s. Type /help for a list of commands", in.Command)}, false
	}
}
