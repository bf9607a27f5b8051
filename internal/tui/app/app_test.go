package app

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/drivecam/relay/internal/client"
	"github.com/drivecam/relay/internal/frame"
	"github.com/drivecam/relay/internal/status"
	"github.com/drivecam/relay/internal/tui/views/debug"
	"github.com/drivecam/relay/internal/wire"
)

func keyMsg(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	mm, ok := next.(Model)
	if !ok {
		t.Fatalf("Update returned %T, want app.Model", next)
	}
	return mm, cmd
}

func lastEntry(t *testing.T, m Model) debug.Entry {
	t.Helper()
	if len(m.log.Entries) == 0 {
		t.Fatal("event log is empty")
	}
	return m.log.Entries[len(m.log.Entries)-1]
}

func sized(m Model) Model {
	m.width = 120
	m.height = 40
	m.statusBar.Width = 120
	m.channels.Width = 120
	return m
}

func TestDisconnectedBanner(t *testing.T) {
	m := sized(New(client.New("ws://127.0.0.1:4001/ws"), nil))

	v := m.View()
	if !strings.Contains(v, "DISCONNECTED") {
		t.Error("view should contain 'DISCONNECTED' before the first connection")
	}
	if !strings.Contains(v, "Reconnecting") {
		t.Error("view should contain 'Reconnecting'")
	}

	m, cmd := update(t, m, client.ConnectedMsg{URL: "ws://127.0.0.1:4001/ws"})
	if cmd == nil {
		t.Error("ConnectedMsg should start the read loop")
	}
	if strings.Contains(m.View(), "DISCONNECTED") {
		t.Error("banner should go away once connected")
	}

	m, cmd = update(t, m, client.DisconnectedMsg{Err: errors.New("eof")})
	if cmd == nil {
		t.Error("DisconnectedMsg should schedule a reconnect")
	}
	if m.connected || lastEntry(t, m).Kind != debug.KindErr {
		t.Errorf("after disconnect: connected=%v last=%+v", m.connected, lastEntry(t, m))
	}
}

func TestInitialisingView(t *testing.T) {
	m := New(nil, nil)
	if m.View() != "Initializing..." {
		t.Errorf("View() before the first resize = %q", m.View())
	}
}

func TestFrameAndDrowsyMessages(t *testing.T) {
	m := sized(New(client.New("ws://hub/ws"), nil))
	m, _ = update(t, m, client.ConnectedMsg{})

	at := time.Now()
	m, cmd := update(t, m, client.FrameMsg{Channel: frame.Driver, Data: []byte{1, 2, 3}, At: at})
	if cmd == nil {
		t.Error("FrameMsg should re-issue the read loop")
	}
	s := m.channels.Stats[frame.Driver]
	if s.Frames != 1 || s.LastSize != 3 {
		t.Errorf("driver stats = %+v", s)
	}

	m, _ = update(t, m, client.DrowsyMsg{Result: frame.DetectionResult{Result: frame.ClassDrowsy, Probability: 0.97}})
	if m.channels.Drowsy == nil || m.channels.Drowsy.Result != frame.ClassDrowsy {
		t.Errorf("drowsy = %+v", m.channels.Drowsy)
	}
	if e := lastEntry(t, m); e.Kind != debug.KindDrowsy {
		t.Errorf("last entry = %+v", e)
	}
}

func TestRequestWithoutConnectionLogsError(t *testing.T) {
	m := New(client.New("ws://127.0.0.1:1/ws"), nil)

	for _, r := range []rune{'f', 'd'} {
		var cmd tea.Cmd
		m, cmd = update(t, m, keyMsg(r))
		if cmd != nil {
			t.Errorf("key %q returned a command", r)
		}
		e := lastEntry(t, m)
		if e.Kind != debug.KindErr || !strings.Contains(e.Message, "not connected") {
			t.Errorf("key %q: last entry = %+v", r, e)
		}
	}
	if len(m.pending) != 0 {
		t.Errorf("failed requests should not be pending: %v", m.pending)
	}
}

func TestAckMatchesPendingRequest(t *testing.T) {
	m := New(client.New("ws://hub/ws"), nil)
	m.pending[7] = frame.Driver

	m, _ = update(t, m, client.AckMsg{ID: 7, Ack: wire.Ack{Status: wire.AckError, Message: "No driver camera image available"}})
	e := lastEntry(t, m)
	if e.Kind != debug.KindErr || !strings.Contains(e.Message, "drivercam #7") {
		t.Errorf("last entry = %+v", e)
	}
	if _, ok := m.pending[7]; ok {
		t.Error("ack should clear the pending request")
	}

	m, _ = update(t, m, client.AckMsg{ID: 9, Ack: wire.Ack{Status: wire.AckSuccess, Message: "Driver camera image received"}})
	if e := lastEntry(t, m); e.Kind != debug.KindAck || !strings.HasPrefix(e.Message, "#9") {
		t.Errorf("unmatched ack entry = %+v", e)
	}
}

func TestStatusMessage(t *testing.T) {
	m := New(nil, client.NewHTTPClient("http://127.0.0.1:1"))

	rep := &status.Report{Sessions: 2}
	m, cmd := update(t, m, client.StatusMsg{Report: rep})
	if m.statusBar.Report != rep {
		t.Error("status bar should hold the report")
	}
	if cmd == nil {
		t.Error("StatusMsg should schedule the next poll")
	}

	m, _ = update(t, m, client.StatusMsg{Err: errors.New("refused")})
	if m.statusBar.Err == nil || m.statusBar.Report != rep {
		t.Errorf("error should be shown while keeping the last report: %+v", m.statusBar)
	}

	if _, cmd := update(t, m, statusTickMsg{}); cmd == nil {
		t.Error("tick should fetch the status")
	}
}

func TestLogToggleAndScroll(t *testing.T) {
	m := sized(New(nil, nil))
	for i := 0; i < 10; i++ {
		m.log.Add(debug.KindWS, "msg")
	}

	m, _ = update(t, m, keyMsg('k'))
	if m.log.Offset != 0 {
		t.Error("scroll keys should be ignored while the log is hidden")
	}

	m, _ = update(t, m, keyMsg('l'))
	if !m.showLog || !strings.Contains(m.View(), "EVENT LOG") {
		t.Fatal("l should show the event log")
	}
	m, _ = update(t, m, keyMsg('k'))
	m, _ = update(t, m, keyMsg('k'))
	m, _ = update(t, m, keyMsg('j'))
	if m.log.Offset != 1 {
		t.Errorf("offset = %d, want 1", m.log.Offset)
	}

	m, _ = update(t, m, keyMsg('l'))
	if m.showLog {
		t.Error("l should hide the event log again")
	}
}

func TestQuit(t *testing.T) {
	m := New(client.New("ws://hub/ws"), nil)
	m, cmd := update(t, m, keyMsg('q'))
	if cmd == nil {
		t.Fatal("q should return a command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q should quit")
	}
	if m.ctx.Err() == nil {
		t.Error("quitting should cancel the model context")
	}

	// A disconnect after quitting must not reconnect.
	if _, cmd := update(t, m, client.DisconnectedMsg{}); cmd != nil {
		t.Error("no reconnect after quit")
	}
}
