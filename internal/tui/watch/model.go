package watch

import (
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/deskhook/internal/events"
)

const (
	healthInterval    = 5 * time.Second
	reconnectInterval = 3 * time.Second
)

// Model is the BubbleTea model for the watch TUI.
type Model struct {
	apiURL string
	token  string
	client *http.Client
	now    func() time.Time

	width  int
	height int

	health   HealthState
	tally    *Tally
	eventLog []events.Event
	lastID   int64

	ticker  Ticker
	spinner Spinner

	theme         Theme
	keys          keyMap
	help          help.Model
	selectedLabel int

	hubEvents chan events.Event

	lastError string
}

// New creates a watch model for the API at apiURL. token needs events:ro.
func New(apiURL, token string) *Model {
	return &Model{
		apiURL: apiURL,
		token:  token,
		// No timeout: the SSE stream is long-lived.
		client:    &http.Client{},
		now:       time.Now,
		tally:     newTally(),
		eventLog:  make([]events.Event, 0),
		hubEvents: make(chan events.Event, 100),
		ticker:    NewTicker(),
		theme:     NewDefaultTheme(),
		keys:      defaultKeyMap(),
		help:      help.New(),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToEvents(m.client, m.apiURL, m.token, m.lastID, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		fetchHealth(m.client, m.apiURL),
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Up):
			if m.selectedLabel > 0 {
				m.selectedLabel--
			}
		case key.Matches(msg, m.keys.Down):
			if m.selectedLabel < len(m.tally.Labels)-1 {
				m.selectedLabel++
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width

	case tickMsg:
		m.ticker.Tick()
		m.spinner.Decay(m.now())
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case eventMsg:
		e := events.Event(msg)
		if e.ID > m.lastID {
			m.lastID = e.ID
		}

		m.eventLog = append([]events.Event{e}, m.eventLog...)
		if len(m.eventLog) > eventLogLimit {
			m.eventLog = m.eventLog[:eventLogLimit]
		}
		m.spinner.OnEvent(m.now())
		m.tally.Apply(e)

		m.health.Connected = true
		m.lastError = ""

		return m, receiveNextEvent(m.hubEvents)

	case healthMsg:
		m.health.Status = msg.Status
		m.health.UptimeSeconds = msg.UptimeSeconds
		m.health.Storage = msg.Storage
		m.health.Connected = true
		m.health.LastCheck = m.now()

		return m, pollHealthLater()

	case healthPollMsg:
		return m, fetchHealth(m.client, m.apiURL)

	case sseDisconnectedMsg:
		m.health.Connected = false
		if msg.err != nil {
			m.lastError = fmt.Sprintf("event stream: %v (reconnecting)", msg.err)
		} else {
			m.lastError = "event stream disconnected, reconnecting..."
		}
		// The pending receiveNextEvent keeps reading the same channel and
		// picks up events from the new subscription.
		return m, tea.Tick(reconnectInterval, func(time.Time) tea.Msg { return reconnectMsg{} })

	case reconnectMsg:
		return m, subscribeToEvents(m.client, m.apiURL, m.token, m.lastID, m.hubEvents)

	case errMsg:
		m.lastError = msg.Error()
		return m, pollHealthLater()
	}

	return m, nil
}

func pollHealthLater() tea.Cmd {
	return tea.Tick(healthInterval, func(time.Time) tea.Msg { return healthPollMsg{} })
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to deskhook..."
	}

	now := m.now()
	header := renderHeader(m.health, m.tally.Totals, m.ticker, m.spinner, m.theme, m.width, now)
	labels := renderLabels(m.tally, m.selectedLabel, m.theme, m.width, now)

	streamRows := 10
	if m.height > 0 {
		used := lipgloss.Height(header) + lipgloss.Height(labels) + 6
		streamRows = min(eventLogLimit, max(3, m.height-used))
	}
	eventStream := renderEventStream(m.eventLog, streamRows, m.theme, m.width)

	parts := []string{header, labels, eventStream}
	if m.lastError != "" {
		parts = append(parts, m.theme.StatusFailed.Render(fmt.Sprintf(" ⚠ %s", m.lastError)))
	}
	parts = append(parts, " "+m.help.View(m.keys))

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}
