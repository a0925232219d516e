package ui

import (
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/fior4neee/Message-Broadcasting/pkg/client"
	"github.com/fior4neee/Message-Broadcasting/pkg/client/commands"
)

// Fixed rows around the message pane: header, input box (3) and footer
const chromeHeight = 5

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		// Pane border takes two columns and two rows
		vpWidth := max(msg.Width-2, 1)
		vpHeight := max(msg.Height-chromeHeight-2, 1)
		if !m.ready {
			m.viewport = viewport.New(vpWidth, vpHeight)
			m.ready = true
		} else {
			m.viewport.Width = vpWidth
			m.viewport.Height = vpHeight
		}
		m.input.Width = max(msg.Width-8, 10)
		m.viewport.SetContent(m.renderHistory())
		m.viewport.GotoBottom()
		return m, nil

	case EventMsg:
		return m.handleEvent(msg.Event)

	case EventsClosedMsg:
		if !m.disconnected {
			m.disconnected = true
			m.appendLines("[CLIENT] Disconnected from server")
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleEvent(ev client.Event) (tea.Model, tea.Cmd) {
	cmds := []tea.Cmd{listenForEvents(m.client.Events())}

	switch ev.Kind {
	case client.EventUserList:
		m.userCount = len(ev.Users)
	case client.EventDisconnected:
		m.disconnected = true
		m.statusText = ev.Text
	}

	m.appendEvent(ev)
	if ev.Mentions(m.client.Nickname()) {
		if cmd := m.notifyMention(ev); cmd != nil {
			cmds = append(cmds, cmd)
		}
	}
	return m, tea.Batch(cmds...)
}

// handleKeyPress handles keyboard input
func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc":
		return m, tea.Quit

	case "enter":
		line := m.input.Value()
		m.input.Reset()
		if m.disconnected {
			if commands.Parse(line).ActionID == commands.ActionQuit {
				return m, tea.Quit
			}
			m.appendLines("[CLIENT] Not connected. Type /quit to leave")
			return m, nil
		}
		lines, quit := commands.Execute(m.client, commands.Parse(line), m.timeFormat)
		if quit {
			return m, tea.Quit
		}
		m.appendLines(lines...)
		if m.ready {
			m.viewport.GotoBottom()
		}
		return m, nil

	case "pgup", "pgdown", "up", "down":
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}
