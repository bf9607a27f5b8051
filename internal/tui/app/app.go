// Package app is the root Bubble Tea model of the relay monitor.
package app

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/drivecam/relay/internal/client"
	"github.com/drivecam/relay/internal/frame"
	"github.com/drivecam/relay/internal/tui/theme"
	"github.com/drivecam/relay/internal/tui/views/channels"
	"github.com/drivecam/relay/internal/tui/views/debug"
	"github.com/drivecam/relay/internal/tui/views/statusbar"
)

const statusInterval = 2 * time.Second

type statusTickMsg struct{}

// Model is the root Bubble Tea model.
type Model struct {
	ws     *client.Client
	http   *client.HTTPClient
	ctx    context.Context
	cancel context.CancelFunc

	keys   KeyMap
	width  int
	height int

	statusBar statusbar.Model
	channels  channels.Model
	log       debug.Model
	showLog   bool

	connected bool
	// pending maps outstanding request ids to the channel asked for.
	pending map[uint32]frame.Channel
	now     func() time.Time
}

// New creates the root model. http may be nil, in which case the status
// report is never polled.
func New(ws *client.Client, http *client.HTTPClient) Model {
	ctx, cancel := context.WithCancel(context.Background())
	url := ""
	if ws != nil {
		url = ws.URL()
	}
	return Model{
		ws:        ws,
		http:      http,
		ctx:       ctx,
		cancel:    cancel,
		keys:      DefaultKeyMap(),
		statusBar: statusbar.New(url),
		channels:  channels.New(),
		log:       debug.New(),
		pending:   make(map[uint32]frame.Channel),
		now:       time.Now,
	}
}

// Init starts the websocket connection and the status poll.
func (m Model) Init() tea.Cmd {
	var cmds []tea.Cmd
	if m.ws != nil {
		cmds = append(cmds, m.ws.Listen(m.ctx))
	}
	if m.http != nil {
		cmds = append(cmds, m.http.FetchStatus(m.ctx))
	}
	return tea.Batch(cmds...)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.statusBar.Width = msg.Width
		m.channels.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case client.ConnectedMsg:
		m.connected = true
		m.statusBar.Connected = true
		m.log.Addf(debug.KindWS, "connected to %s", msg.URL)
		return m, m.ws.ReadLoop()

	case client.DisconnectedMsg:
		m.connected = false
		m.statusBar.Connected = false
		clear(m.pending)
		if m.ctx.Err() != nil {
			return m, nil
		}
		m.log.Addf(debug.KindErr, "disconnected: %v", msg.Err)
		return m, m.ws.Listen(m.ctx)

	case client.FrameMsg:
		m.channels.Record(msg.Channel, len(msg.Data), msg.At)
		m.log.Addf(debug.KindWS, "%s frame %d bytes", msg.Channel, len(msg.Data))
		return m, m.ws.ReadLoop()

	case client.DrowsyMsg:
		m.channels.SetDrowsy(msg.Result)
		m.log.Addf(debug.KindDrowsy, "%s p=%.2f", msg.Result.Result, msg.Result.Probability)
		return m, m.ws.ReadLoop()

	case client.AckMsg:
		ch, ok := m.pending[msg.ID]
		delete(m.pending, msg.ID)
		kind := debug.KindAck
		if !msg.Ack.OK() {
			kind = debug.KindErr
		}
		if ok {
			m.log.Addf(kind, "%s #%d %s: %s", ch, msg.ID, msg.Ack.Status, msg.Ack.Message)
		} else {
			m.log.Addf(kind, "#%d %s: %s", msg.ID, msg.Ack.Status, msg.Ack.Message)
		}
		return m, m.ws.ReadLoop()

	case client.StatusMsg:
		m.statusBar.Err = msg.Err
		if msg.Err != nil {
			m.log.Addf(debug.KindHTTP, "status: %v", msg.Err)
		} else {
			m.statusBar.Report = msg.Report
			m.channels.SetReport(msg.Report)
		}
		return m, tea.Tick(statusInterval, func(time.Time) tea.Msg { return statusTickMsg{} })

	case statusTickMsg:
		if m.http == nil || m.ctx.Err() != nil {
			return m, nil
		}
		return m, m.http.FetchStatus(m.ctx)
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.cancel()
		if m.ws != nil {
			m.ws.Close()
		}
		return m, tea.Quit

	case key.Matches(msg, m.keys.Front):
		m.request(frame.Front)
		return m, nil

	case key.Matches(msg, m.keys.Driver):
		m.request(frame.Driver)
		return m, nil

	case key.Matches(msg, m.keys.Log):
		m.showLog = !m.showLog
		return m, nil

	case m.showLog && key.Matches(msg, m.keys.Up):
		m.log.ScrollUp(1)
		return m, nil

	case m.showLog && key.Matches(msg, m.keys.Down):
		m.log.ScrollDown(1)
		return m, nil
	}

	return m, nil
}

// request asks the hub for ch's latest frame. The frame and its ack come
// back through ReadLoop.
func (m *Model) request(ch frame.Channel) {
	if m.ws == nil {
		m.log.Addf(debug.KindErr, "request %s: no connection", ch)
		return
	}
	id, err := m.ws.Request(ch)
	if err != nil {
		m.log.Addf(debug.KindErr, "request %s: %v", ch, err)
		return
	}
	m.pending[id] = ch
	m.log.Addf(debug.KindWS, "requested %s #%d", ch, id)
}

// View renders the full TUI.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	sections := []string{m.statusBar.View()}
	if !m.connected {
		sections = append(sections, m.renderDisconnected())
	}
	sections = append(sections, m.channels.View(m.now()))
	if m.showLog {
		sections = append(sections, m.log.View(m.width, m.height/2))
	}
	sections = append(sections, theme.StyleDimmed.Render("  "+m.keys.Help()))

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderDisconnected() string {
	title := lipgloss.NewStyle().Bold(true).Foreground(theme.ColorDanger).Render("DISCONNECTED")
	hint := theme.StyleDimmed.Render("Reconnecting to " + m.statusBar.URL + "...")
	return lipgloss.NewStyle().Padding(0, 2).Render(title + "  " + hint)
}
