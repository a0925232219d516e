package ui

import (
	"log"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/fior4neee/Message-Broadcasting/pkg/client"
	"github.com/fior4neee/Message-Broadcasting/pkg/client/commands"
)

// maxHistory caps the lines kept in the message pane
const maxHistory = 1000

// ChatClient is what the model needs from a logged-in *client.Client
type ChatClient interface {
	commands.Executor
	Events() <-chan client.Event
	Nickname() string
	Addr() string
	Latency() time.Duration
}

// Options configures the TUI
type Options struct {
	TimeFormat string
	Notifier   Notifier // nil disables mention notifications
	Logger     *log.Logger
}

type entry struct {
	text    string
	mention bool
}

// Model represents the application state
type Model struct {
	client     ChatClient
	timeFormat string
	notifier   Notifier
	logger     *log.Logger

	width    int
	height   int
	ready    bool
	viewport viewport.Model
	input    textinput.Model

	history      []entry
	userCount    int
	disconnected bool
	statusText   string
}

// EventMsg carries one client event into Update
type EventMsg struct {
	Event client.Event
}

// EventsClosedMsg means the client's event stream ended
type EventsClosedMsg struct{}

// NewModel creates a new application model for a logged-in client
func NewModel(c ChatClient, opts Options) Model {
	input := textinput.New()
	input.Placeholder = "Type a message or /help"
	input.Prompt = "> "
	input.CharLimit = 4096
	input.Focus()

	timeFormat := opts.TimeFormat
	if timeFormat == "" {
		timeFormat = client.DefaultTimeFormat
	}

	m := Model{
		client:     c,
		timeFormat: timeFormat,
		notifier:   opts.Notifier,
		logger:     opts.Logger,
		input:      input,
		userCount:  len(c.Users()),
	}
	m.appendLines("[CLIENT] Connected to " + c.Addr() + ". Type /help for commands")
	return m
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		listenForEvents(m.client.Events()),
		textinput.Blink,
	)
}

// listenForEvents waits for the next client event
func listenForEvents(events <-chan client.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return EventsClosedMsg{}
		}
		return EventMsg{Event: ev}
	}
}

// Lines returns the plain text of the message pane
func (m Model) Lines() []string {
	out := make([]string, len(m.history))
	for i, e := range m.history {
		out[i] = e.text
	}
	return out
}

// Disconnected reports whether the connection has ended
func (m Model) Disconnected() bool {
	return m.disconnected
}

func (m *Model) appendLines(lines ...string) {
	for _, line := range lines {
		m.history = append(m.history, entry{text: line})
	}
	m.trimAndRefresh()
}

func (m *Model) appendEvent(ev client.Event) {
	m.history = append(m.history, entry{
		text:    ev.Format(m.timeFormat),
		mention: ev.Mentions(m.client.Nickname()),
	})
	m.trimAndRefresh()
}

func (m *Model) trimAndRefresh() {
	if over := len(m.history) - maxHistory; over > 0 {
		m.history = append([]entry(nil), m.history[over:]...)
	}
	if !m.ready {
		return
	}
	follow := m.viewport.AtBottom()
	m.viewport.SetContent(m.renderHistory())
	if follow {
		m.viewport.GotoBottom()
	}
}
