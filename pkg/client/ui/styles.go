package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	PrimaryColor = lipgloss.Color("39")  // Blue
	SuccessColor = lipgloss.Color("42")  // Green
	ErrorColor   = lipgloss.Color("196") // Red
	WarningColor = lipgloss.Color("214") // Orange
	MutedColor   = lipgloss.Color("243") // Gray
	BorderColor  = lipgloss.Color("238") // Dark gray

	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(PrimaryColor).
			Padding(0, 1)

	StatusStyle = lipgloss.NewStyle().
			Foreground(MutedColor).
			Padding(0, 1)

	FooterStyle = lipgloss.NewStyle().
			Foreground(MutedColor).
			Padding(0, 1)

	ShortcutKeyStyle = lipgloss.NewStyle().
				Foreground(PrimaryColor).
				Bold(true)

	ShortcutDescStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("252"))

	MessagePaneStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(BorderColor)

	MessageOwnAuthorStyle = lipgloss.NewStyle().
				Foreground(SuccessColor).
				Bold(true)

	PresenceStyle = lipgloss.NewStyle().
			Foreground(MutedColor).
			Italic(true)

	InfoStyle = lipgloss.NewStyle().
			Foreground(PrimaryColor)

	MentionStyle = lipgloss.NewStyle().
			Foreground(WarningColor).
			Bold(true)

	InputFocusedStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(PrimaryColor).
				Padding(0, 1)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(ErrorColor).
			Bold(true)

	MutedTextStyle = lipgloss.NewStyle().
			Foreground(MutedColor)
)

// RenderShortcut renders a keyboard shortcut
func RenderShortcut(key, desc string) string {
	return ShortcutKeyStyle.Render("["+key+"]") + " " + ShortcutDescStyle.Render(desc)
}

// styleLine picks a style for a finished display line by its prefix
func styleLine(line string) string {
	switch {
	case strings.HasPrefix(line, "[ERROR]"), strings.Contains(line, "] ERROR "):
		return ErrorStyle.Render(line)
	case strings.HasPrefix(line, "[INFO]"), strings.HasPrefix(line, "==="),
		strings.HasPrefix(line, "/"):
		return InfoStyle.Render(line)
	case strings.HasPrefix(line, "[CLIENT]"):
		return MutedTextStyle.Render(line)
	case strings.Contains(line, "] >>> "), strings.Contains(line, "] <<< "):
		return PresenceStyle.Render(line)
	default:
		return line
	}
}
