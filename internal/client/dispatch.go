package client

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/justin4957/nexus/internal/buffer"
	"github.com/justin4957/nexus/internal/wire"
)

type listResultMsg struct {
	channels []wire.ChannelInfo
	err      error
}

type statusResultMsg struct {
	channels []wire.ChannelDetail
	err      error
}

// fireRequestCmd sends a request whose only client-visible outcome is
// success-or-notify-on-error (CreateChannel, KillChannel, Subscribe,
// Unsubscribe, Resize). body must already carry corr.
func fireRequestCmd(conn *Conn, label string, kind wire.Kind, body any, corr uint64) tea.Cmd {
	return func() tea.Msg {
		if err := conn.Send(kind, body); err != nil {
			return requestResultMsg{label: label, err: err}
		}
		_, errResp, err := conn.Await(corr, 5*time.Second)
		return requestResultMsg{label: label, errResp: errResp, err: err}
	}
}

func fetchChannelListCmd(conn *Conn) tea.Cmd {
	return func() tea.Msg {
		corr := conn.NextCorr()
		if err := conn.Send(wire.KindListChannels, wire.ListChannels{Corr: corr}); err != nil {
			return listResultMsg{err: err}
		}
		ok, errResp, err := conn.Await(corr, 5*time.Second)
		if err != nil {
			return listResultMsg{err: err}
		}
		if errResp != nil {
			return listResultMsg{err: fmt.Errorf("%s: %s", errResp.Kind, errResp.Message)}
		}
		var list wire.ChannelList
		if err := wire.Unmarshal(ok.Payload, &list); err != nil {
			return listResultMsg{err: err}
		}
		return listResultMsg{channels: list.Channels}
	}
}

func fetchChannelStatusCmd(conn *Conn, name string) tea.Cmd {
	return func() tea.Msg {
		corr := conn.NextCorr()
		if err := conn.Send(wire.KindChannelStatus, wire.ChannelStatus{Corr: corr, Name: name}); err != nil {
			return statusResultMsg{err: err}
		}
		ok, errResp, err := conn.Await(corr, 5*time.Second)
		if err != nil {
			return statusResultMsg{err: err}
		}
		if errResp != nil {
			return statusResultMsg{err: fmt.Errorf("%s: %s", errResp.Kind, errResp.Message)}
		}
		var detail wire.ChannelStatusList
		if err := wire.Unmarshal(ok.Payload, &detail); err != nil {
			return statusResultMsg{err: err}
		}
		return statusResultMsg{channels: detail.Channels}
	}
}

// submitLine parses and dispatches the current editor contents, then
// clears the editor (§4.6 Input parsing).
func (m Model) submitLine() (tea.Model, tea.Cmd) {
	line := m.editor
	m.editor = ""
	m.cursor = 0
	if line == "" {
		return m, nil
	}
	m.history = append(m.history, line)

	parsed := parseInputLine(line)
	switch parsed.kind {
	case inputControl:
		return m.dispatchControl(parsed)
	case inputSwitch:
		m.active = parsed.channel
		if buf, ok := m.buffers[m.active]; ok {
			buf.ClearUnread()
		}
		return m, nil
	case inputRoute:
		return m.sendStdin(parsed.channel, parsed.text)
	case inputStdin:
		if m.active == "" {
			m.notify("no active channel")
			return m, nil
		}
		return m.sendStdin(m.active, parsed.text)
	}
	return m, nil
}

func (m Model) sendStdin(name, text string) (tea.Model, tea.Cmd) {
	corr := m.conn.NextCorr()
	body := wire.WriteInput{Corr: corr, Name: name, Bytes: []byte(text + "\n")}
	return m, fireRequestCmd(m.conn, fmt.Sprintf("write to %s", name), wire.KindWriteInput, body, corr)
}

func (m Model) dispatchControl(p parsedInput) (tea.Model, tea.Cmd) {
	switch p.command {
	case "new":
		if len(p.args) == 0 {
			m.notify(":new requires a channel name")
			return m, nil
		}
		name, argv := p.args[0], p.args[1:]
		corr := m.conn.NextCorr()
		body := wire.CreateChannel{Corr: corr, Name: name, Argv: argv, Rows: uint16(m.height), Cols: uint16(m.width)}
		return m, fireRequestCmd(m.conn, fmt.Sprintf("create %s", name), wire.KindCreateChannel, body, corr)

	case "kill":
		if len(p.args) == 0 {
			m.notify(":kill requires a channel name")
			return m, nil
		}
		name := p.args[0]
		corr := m.conn.NextCorr()
		body := wire.KillChannel{Corr: corr, Name: name}
		return m, fireRequestCmd(m.conn, fmt.Sprintf("kill %s", name), wire.KindKillChannel, body, corr)

	case "list":
		return m, fetchChannelListCmd(m.conn)

	case "status":
		name := ""
		if len(p.args) > 0 {
			name = p.args[0]
		}
		return m, fetchChannelStatusCmd(m.conn, name)

	case "sub":
		wildcard := len(p.args) == 1 && p.args[0] == "*"
		if wildcard {
			m.wildcard = true
		} else {
			for _, n := range p.args {
				m.subscribed[n] = true
			}
		}
		corr := m.conn.NextCorr()
		body := wire.Subscribe{Corr: corr, Wildcard: wildcard}
		if !wildcard {
			body.Names = p.args
		}
		return m, fireRequestCmd(m.conn, "subscribe", wire.KindSubscribe, body, corr)

	case "unsub":
		wildcard := len(p.args) == 1 && p.args[0] == "*"
		if wildcard {
			m.wildcard = false
			m.subscribed = make(map[string]bool)
		} else {
			for _, n := range p.args {
				delete(m.subscribed, n)
			}
		}
		corr := m.conn.NextCorr()
		body := wire.Unsubscribe{Corr: corr, Wildcard: wildcard}
		if !wildcard {
			body.Names = p.args
		}
		return m, fireRequestCmd(m.conn, "unsubscribe", wire.KindUnsubscribe, body, corr)

	case "subs":
		if m.wildcard {
			m.notify("subscribed: * (all channels)")
		} else {
			names := make([]string, 0, len(m.subscribed))
			for n := range m.subscribed {
				names = append(names, n)
			}
			m.notify("subscribed: " + strings.Join(names, ", "))
		}
		return m, nil

	case "clear":
		if buf, ok := m.buffers[m.active]; ok {
			buf.Clear()
		}
		return m, nil

	case "quit", "exit":
		m.quitting = true
		return m, tea.Quit

	default:
		m.notify("unknown command: " + p.command)
		return m, nil
	}
}

func (m Model) sendResizeAll(rows, cols uint16) tea.Cmd {
	corr := m.conn.NextCorr()
	body := wire.Resize{Corr: corr, Rows: rows, Cols: cols}
	return fireRequestCmd(m.conn, "resize", wire.KindResize, body, corr)
}

// handleServerEvent applies one demultiplexed server event to local
// state (§4.6 "Server event handling").
func (m *Model) handleServerEvent(ev Event) {
	switch {
	case ev.ChannelCreated != nil:
		name := ev.ChannelCreated.Name
		m.channels = append(m.channels, channelEntry{name: name, command: ev.ChannelCreated.Command, createdAt: time.Now()})
		m.buffers[name] = buffer.New(buffer.DefaultCapacity)
		m.assemblers[name] = &buffer.Assembler{}
		if m.active == "" {
			m.active = name
		}
		m.flushPendingFor(name)

	case ev.Output != nil:
		m.applyOutput(ev.Output.Name, ev.Output.Bytes)

	case ev.ChannelExited != nil:
		name := ev.ChannelExited.Name
		found := false
		for i := range m.channels {
			if m.channels[i].name == name {
				m.channels[i].exited = true
				m.channels[i].exitCode = ev.ChannelExited.Code
				found = true
				break
			}
		}
		if !found {
			m.bufferPending(ev)
			return
		}
		if asm, ok := m.assemblers[name]; ok {
			if line, ok := asm.Flush(); ok {
				m.buffers[name].Append(line)
			}
		}
		m.notify(fmt.Sprintf("channel %q exited (code %d)", name, ev.ChannelExited.Code))

	case ev.DropNotice != nil:
		if buf, ok := m.buffers[ev.DropNotice.Name]; ok {
			buf.Append(fmt.Sprintf("[... %d bytes dropped ...]", ev.DropNotice.BytesDropped))
		} else {
			m.bufferPending(ev)
		}
	}
}

// applyChannelList seeds local state from a ListChannels response,
// used at startup to populate channels that existed before this
// session attached (ChannelCreated events only cover channels created
// afterward).
func (m *Model) applyChannelList(infos []wire.ChannelInfo) {
	known := make(map[string]bool, len(m.channels))
	for _, c := range m.channels {
		known[c.name] = true
	}
	for _, info := range infos {
		if known[info.Name] {
			continue
		}
		m.channels = append(m.channels, channelEntry{
			name:      info.Name,
			command:   info.Command,
			exited:    info.State == "exited",
			createdAt: time.Unix(info.CreatedAt, 0),
		})
		m.buffers[info.Name] = buffer.New(buffer.DefaultCapacity)
		m.assemblers[info.Name] = &buffer.Assembler{}
		if m.active == "" {
			m.active = info.Name
		}
	}
}

func (m *Model) applyOutput(name string, data []byte) {
	asm, ok := m.assemblers[name]
	if !ok {
		m.bufferPending(Event{Output: &wire.Output{Name: name, Bytes: data}})
		return
	}
	buf := m.buffers[name]
	for _, line := range asm.Feed(data) {
		buf.Append(line)
	}
	if name != m.active {
		buf.MarkUnread()
	}
}

func (m *Model) bufferPending(ev Event) {
	m.pending = append(m.pending, pendingEvent{event: ev, receivedAt: time.Now()})
}

func eventChannelName(ev Event) string {
	switch {
	case ev.Output != nil:
		return ev.Output.Name
	case ev.ChannelExited != nil:
		return ev.ChannelExited.Name
	case ev.DropNotice != nil:
		return ev.DropNotice.Name
	case ev.ChannelCreated != nil:
		return ev.ChannelCreated.Name
	}
	return ""
}

// flushPendingFor replays any events buffered for name now that its
// ChannelCreated has arrived (§4.6 "buffered for up to 250 ms pending
// a ChannelCreated").
func (m *Model) flushPendingFor(name string) {
	var rest []pendingEvent
	var toApply []Event
	for _, p := range m.pending {
		if eventChannelName(p.event) == name {
			toApply = append(toApply, p.event)
		} else {
			rest = append(rest, p)
		}
	}
	m.pending = rest
	for _, ev := range toApply {
		m.handleServerEvent(ev)
	}
}
