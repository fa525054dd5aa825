package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/justin4957/nexus/internal/buffer"
	"github.com/justin4957/nexus/internal/wire"
)

func newTestModel() Model {
	return Model{
		keys:       defaultKeyMap(),
		buffers:    make(map[string]*buffer.Ring),
		assemblers: make(map[string]*buffer.Assembler),
		subscribed: make(map[string]bool),
		height:     24,
		width:      80,
	}
}

func TestHandleServerEventChannelCreatedThenOutput(t *testing.T) {
	m := newTestModel()
	m.handleServerEvent(Event{ChannelCreated: &wire.ChannelCreated{Name: "shell", Command: "/bin/sh"}})
	require.Equal(t, "shell", m.active)
	require.Len(t, m.channels, 1)

	m.handleServerEvent(Event{Output: &wire.Output{Name: "shell", Bytes: []byte("hello\n")}})
	require.Equal(t, []string{"hello"}, m.buffers["shell"].Lines())
}

func TestHandleServerEventBuffersUnknownChannelThenFlushes(t *testing.T) {
	m := newTestModel()

	// Output for "shell" arrives before its ChannelCreated.
	m.handleServerEvent(Event{Output: &wire.Output{Name: "shell", Bytes: []byte("early\n")}})
	require.Len(t, m.pending, 1)
	require.NotContains(t, m.buffers, "shell")

	m.handleServerEvent(Event{ChannelCreated: &wire.ChannelCreated{Name: "shell", Command: "/bin/sh"}})
	require.Empty(t, m.pending)
	require.Equal(t, []string{"early"}, m.buffers["shell"].Lines())
}

func TestSweepPendingDiscardsStaleEntries(t *testing.T) {
	m := newTestModel()
	m.pending = []pendingEvent{
		{event: Event{Output: &wire.Output{Name: "ghost"}}, receivedAt: time.Now().Add(-time.Second)},
	}
	m.sweepPending()
	require.Empty(t, m.pending)
	require.Len(t, m.notifications, 1)
}

func TestHandleServerEventChannelExitedMarksEntry(t *testing.T) {
	m := newTestModel()
	m.handleServerEvent(Event{ChannelCreated: &wire.ChannelCreated{Name: "shell"}})
	m.handleServerEvent(Event{ChannelExited: &wire.ChannelExited{Name: "shell", Code: 7}})
	require.True(t, m.channels[0].exited)
	require.Equal(t, 7, m.channels[0].exitCode)
	require.Len(t, m.notifications, 1)
}

func TestDispatchControlClearEmptiesActiveBuffer(t *testing.T) {
	m := newTestModel()
	m.active = "shell"
	m.buffers["shell"] = buffer.New(10)
	m.buffers["shell"].Append("leftover")

	next, cmd := m.dispatchControl(parsedInput{kind: inputControl, command: "clear"})
	require.Nil(t, cmd)
	nm := next.(Model)
	require.Empty(t, nm.buffers["shell"].Lines())
}

func TestDispatchControlQuitReturnsQuitCmd(t *testing.T) {
	m := newTestModel()
	next, cmd := m.dispatchControl(parsedInput{kind: inputControl, command: "quit"})
	require.NotNil(t, cmd)
	nm := next.(Model)
	require.True(t, nm.quitting)
}

func TestDispatchControlSubsReportsWildcard(t *testing.T) {
	m := newTestModel()
	m.wildcard = true
	next, cmd := m.dispatchControl(parsedInput{kind: inputControl, command: "subs"})
	require.Nil(t, cmd)
	nm := next.(Model)
	require.Len(t, nm.notifications, 1)
}

func TestApplyChannelListSeedsUnknownChannelsOnly(t *testing.T) {
	m := newTestModel()
	m.channels = append(m.channels, channelEntry{name: "known"})
	m.buffers["known"] = buffer.New(10)

	m.applyChannelList([]wire.ChannelInfo{
		{Name: "known", State: "running"},
		{Name: "fresh", State: "exited"},
	})

	require.Len(t, m.channels, 2)
	require.Contains(t, m.buffers, "fresh")
	var fresh channelEntry
	for _, c := range m.channels {
		if c.name == "fresh" {
			fresh = c
		}
	}
	require.True(t, fresh.exited)
}
