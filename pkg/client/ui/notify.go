package ui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fior4neee/Message-Broadcasting/pkg/client"
	"github.com/gen2brain/beeep"
)

const maxNotificationLength = 100

// Notifier raises a desktop notification
type Notifier func(title, body string) error

// DesktopNotifier sends notifications through the OS notification service
func DesktopNotifier(title, body string) error {
	return beeep.Notify(title, body, "")
}

// notifyMention sends a notification for a chat line that names us. Best-effort:
// failures only reach the debug log.
func (m Model) notifyMention(ev client.Event) tea.Cmd {
	if m.notifier == nil {
		return nil
	}
	notifier := m.notifier
	logger := m.logger

	title := "Chat"
	body := fmt.Sprintf("%s: %s", ev.Nickname, truncate(ev.Text, maxNotificationLength))

	return func() tea.Msg {
		if err := notifier(title, body); err != nil && logger != nil {
			logger.Printf("Failed to send desktop notification: %v", err)
		}
		return nil
	}
}

// truncate shortens s to at most n runes, ending in "..." when cut
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-3]) + "..."
}
