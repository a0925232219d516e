package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/76creates/stickers/flexbox"
	"github.com/charmbracelet/lipgloss"
)

// View renders the header, message pane, input box and footer using flexbox
func (m Model) View() string {
	if !m.ready {
		return "Starting..."
	}

	layout := flexbox.New(m.width, m.height)

	headerRow := layout.NewRow().AddCells(
		flexbox.NewCell(1, 1).SetContent(m.renderHeader()),
	)
	messageRow := layout.NewRow().AddCells(
		flexbox.NewCell(1, max(m.height-chromeHeight, 1)).
			SetStyle(MessagePaneStyle).
			SetContent(m.viewport.View()),
	)
	inputRow := layout.NewRow().AddCells(
		flexbox.NewCell(1, 3).SetContent(
			InputFocusedStyle.Width(max(m.width-2, 1)).Render(m.input.View()),
		),
	)
	footerRow := layout.NewRow().AddCells(
		flexbox.NewCell(1, 1).SetContent(m.renderFooter()),
	)

	layout.AddRows([]*flexbox.Row{headerRow, messageRow, inputRow, footerRow})
	return layout.Render()
}

func (m Model) renderHeader() string {
	title := HeaderStyle.Render(fmt.Sprintf("Chat - %s", m.client.Nickname()))

	var status string
	if m.disconnected {
		status = ErrorStyle.Render("disconnected")
		if m.statusText != "" {
			status += MutedTextStyle.Render(" (" + m.statusText + ")")
		}
	} else {
		parts := []string{m.client.Addr(), fmt.Sprintf("%d online", m.userCount)}
		if rtt := m.client.Latency(); rtt > 0 {
			parts = append(parts, rtt.Round(time.Millisecond).String())
		}
		status = StatusStyle.Render(strings.Join(parts, " | "))
	}

	gap := m.width - lipgloss.Width(title) - lipgloss.Width(status)
	if gap < 1 {
		gap = 1
	}
	return title + strings.Repeat(" ", gap) + status
}

func (m Model) renderFooter() string {
	return FooterStyle.Render(strings.Join([]string{
		RenderShortcut("Enter", "Send"),
		RenderShortcut("PgUp/PgDn", "Scroll"),
		RenderShortcut("/help", "Commands"),
		RenderShortcut("Ctrl+C", "Quit"),
	}, "  "))
}

func (m Model) renderHistory() string {
	if len(m.history) == 0 {
		return MutedTextStyle.Render("  (no messages yet)")
	}

	own := m.client.Nickname()
	lines := make([]string, len(m.history))
	for i, e := range m.history {
		switch {
		case e.mention:
			lines[i] = MentionStyle.Render(e.text)
		case own != "" && strings.Contains(e.text, "] "+own+": "):
			lines[i] = MessageOwnAuthorStyle.Render(e.text)
		default:
			lines[i] = styleLine(e.text)
		}
	}
	return strings.Join(lines, "\n")
}
