package client

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/justin4957/nexus/internal/buffer"
	"github.com/justin4957/nexus/internal/wire"
)

// lateEventGrace is how long an event referencing an unknown channel
// is held, pending that channel's ChannelCreated, before being
// discarded with a warning (§4.6).
const lateEventGrace = 250 * time.Millisecond

// notificationLifetime is how long an ephemeral notification stays on
// screen before expiring (§4.6 "notification queue ... with expiry").
const notificationLifetime = 4 * time.Second

// channelEntry mirrors one server-side channel's visible state,
// ordered as the server announced it (§4.6 "ordered list of channels
// (mirrored from server)").
type channelEntry struct {
	name      string
	command   string
	exited    bool
	exitCode  int
	createdAt time.Time
}

type notification struct {
	text   string
	expiry time.Time
}

// pendingEvent is a server event that arrived for a channel the
// client hasn't seen ChannelCreated for yet.
type pendingEvent struct {
	event      Event
	receivedAt time.Time
}

// Model is the Client Event Engine's mutable application state (§4.6).
// It is the sole mutator of client state; View reads an immutable
// snapshot of it. Grounded on the value-receiver Model/Update/View
// shape in bureau-foundation-bureau/lib/ticketui/model.go.
type Model struct {
	conn       *Conn
	socketPath string
	batches    <-chan []Event
	keys       keyMap

	channels []channelEntry
	active   string

	buffers    map[string]*buffer.Ring
	assemblers map[string]*buffer.Assembler
	subscribed map[string]bool
	wildcard   bool

	editor string
	cursor int
	history []string

	notifications []notification
	pending       []pendingEvent

	width, height int

	quitting           bool
	fatalErr           error
	reconnectAttempted bool
}

// NewModel builds the initial client state around an already
// connected session. socketPath is retained so a lost connection can
// be redialed for the single reconnect attempt §7 mandates.
func NewModel(conn *Conn, socketPath string) Model {
	return Model{
		conn:       conn,
		socketPath: socketPath,
		batches:    newEventBatcher(conn.Events()).out,
		keys:       defaultKeyMap(),
		buffers:    make(map[string]*buffer.Ring),
		assemblers: make(map[string]*buffer.Assembler),
		subscribed: make(map[string]bool),
	}
}

// --- bubbletea messages ---

type serverBatchMsg struct{ events []Event }
type connClosedMsg struct{}
type reconnectResultMsg struct {
	conn *Conn
	err  error
}
type notificationSweepMsg struct{}
type pendingSweepMsg struct{}
type requestResultMsg struct {
	label string
	errResp *wire.Err
	err     error
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		listenBatch(m.batches),
		tickNotificationSweep(),
		tickPendingSweep(),
		fetchChannelListCmd(m.conn),
	)
}

func listenBatch(batches <-chan []Event) tea.Cmd {
	return func() tea.Msg {
		batch, ok := <-batches
		if !ok {
			return connClosedMsg{}
		}
		return serverBatchMsg{events: batch}
	}
}

func tickNotificationSweep() tea.Cmd {
	return tea.Tick(notificationLifetime, func(time.Time) tea.Msg { return notificationSweepMsg{} })
}

func tickPendingSweep() tea.Cmd {
	return tea.Tick(lateEventGrace, func(time.Time) tea.Msg { return pendingSweepMsg{} })
}

// reconnectCmd redials socketPath once, reusing the last known terminal
// size (§7: "only loss of the server connection after one reconnect
// attempt ends the session").
func reconnectCmd(socketPath string, rows, cols uint16) tea.Cmd {
	return func() tea.Msg {
		conn, err := Dial(socketPath, rows, cols)
		return reconnectResultMsg{conn: conn, err: err}
	}
}

// Update implements tea.Model (§4.6: "The loop is the sole mutator of
// client state").
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, m.sendResizeAll(uint16(msg.Height), uint16(msg.Width))

	case tea.KeyMsg:
		return m.handleKey(msg)

	case serverBatchMsg:
		for _, ev := range msg.events {
			m.handleServerEvent(ev)
		}
		return m, listenBatch(m.batches)

	case connClosedMsg:
		if m.reconnectAttempted {
			m.fatalErr = fmt.Errorf("lost connection to server")
			m.quitting = true
			return m, tea.Quit
		}
		m.reconnectAttempted = true
		m.notify("lost connection to server, reconnecting...")
		return m, reconnectCmd(m.socketPath, uint16(m.height), uint16(m.width))

	case reconnectResultMsg:
		if msg.err != nil {
			m.fatalErr = fmt.Errorf("reconnect failed: %w", msg.err)
			m.quitting = true
			return m, tea.Quit
		}
		m.conn = msg.conn
		m.batches = newEventBatcher(msg.conn.Events()).out
		m.notify("reconnected")
		return m, tea.Batch(listenBatch(m.batches), fetchChannelListCmd(m.conn))

	case notificationSweepMsg:
		m.sweepNotifications()
		return m, tickNotificationSweep()

	case pendingSweepMsg:
		m.sweepPending()
		return m, tickPendingSweep()

	case requestResultMsg:
		if msg.err != nil {
			m.notify(fmt.Sprintf("%s: %v", msg.label, msg.err))
		} else if msg.errResp != nil {
			m.notify(fmt.Sprintf("%s: %s: %s", msg.label, msg.errResp.Kind, msg.errResp.Message))
		}
		return m, nil

	case listResultMsg:
		if msg.err != nil {
			m.notify(fmt.Sprintf("list: %v", msg.err))
			return m, nil
		}
		m.applyChannelList(msg.channels)
		return m, nil

	case statusResultMsg:
		if msg.err != nil {
			m.notify(fmt.Sprintf("status: %v", msg.err))
			return m, nil
		}
		for _, d := range msg.channels {
			m.notify(fmt.Sprintf("%s: %s pid=%d command=%q", d.Name, d.State, d.Pid, d.Command))
		}
		return m, nil
	}

	return m, nil
}

func (m *Model) notify(text string) {
	m.notifications = append(m.notifications, notification{text: text, expiry: time.Now().Add(notificationLifetime)})
}

func (m *Model) sweepNotifications() {
	now := time.Now()
	kept := m.notifications[:0]
	for _, n := range m.notifications {
		if n.expiry.After(now) {
			kept = append(kept, n)
		}
	}
	m.notifications = kept
}

func (m *Model) sweepPending() {
	cutoff := time.Now().Add(-lateEventGrace)
	kept := m.pending[:0]
	for _, p := range m.pending {
		if p.receivedAt.Before(cutoff) {
			m.notify(fmt.Sprintf("discarding stale event for unknown channel %q", eventChannelName(p.event)))
			continue
		}
		kept = append(kept, p)
	}
	m.pending = kept
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.ForceQuit):
		m.quitting = true
		return m, tea.Quit
	case key.Matches(msg, m.keys.NextChannel):
		m.cycleActive(1)
		return m, nil
	case key.Matches(msg, m.keys.PrevChannel):
		m.cycleActive(-1)
		return m, nil
	}

	switch msg.Type {
	case tea.KeyEnter:
		return m.submitLine()
	case tea.KeyBackspace:
		if m.cursor > 0 {
			m.editor = m.editor[:m.cursor-1] + m.editor[m.cursor:]
			m.cursor--
		}
		return m, nil
	case tea.KeyLeft:
		if m.cursor > 0 {
			m.cursor--
		}
		return m, nil
	case tea.KeyRight:
		if m.cursor < len(m.editor) {
			m.cursor++
		}
		return m, nil
	case tea.KeyRunes:
		s := string(msg.Runes)
		m.editor = m.editor[:m.cursor] + s + m.editor[m.cursor:]
		m.cursor += len(s)
		return m, nil
	case tea.KeySpace:
		m.editor = m.editor[:m.cursor] + " " + m.editor[m.cursor:]
		m.cursor++
		return m, nil
	}

	return m, nil
}

// cycleActive rotates the active channel in creation order (§4.6).
// Exited-but-not-removed channels participate in the cycle.
func (m *Model) cycleActive(direction int) {
	if len(m.channels) == 0 {
		return
	}
	idx := -1
	for i, c := range m.channels {
		if c.name == m.active {
			idx = i
			break
		}
	}
	next := (idx + direction + len(m.channels)) % len(m.channels)
	m.active = m.channels[next].name
	if buf, ok := m.buffers[m.active]; ok {
		buf.ClearUnread()
	}
}

// FatalErr returns the error that ended the session, if the loop quit
// because the server connection was lost rather than a voluntary
// :quit/:exit or Ctrl-C.
func (m Model) FatalErr() error { return m.fatalErr }

func viewportStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
}
