package buffer

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRingDropsOldestBeyondCapacity(t *testing.T) {
	r := New(3)
	for i := 0; i < 5; i++ {
		r.Append(strconv.Itoa(i))
	}
	require.Equal(t, []string{"2", "3", "4"}, r.Lines())
}

func TestRingClearResetsScroll(t *testing.T) {
	r := New(10)
	r.Append("a")
	r.SetScroll(5)
	r.Clear()
	require.Empty(t, r.Lines())
	require.Equal(t, 0, r.Scroll())
}

func TestRingUnreadFlag(t *testing.T) {
	r := New(10)
	require.False(t, r.Unread())
	r.MarkUnread()
	require.True(t, r.Unread())
	r.ClearUnread()
	require.False(t, r.Unread())
}

func TestRingScrollClampsNegative(t *testing.T) {
	r := New(10)
	r.SetScroll(-5)
	require.Equal(t, 0, r.Scroll())
}

func TestAssemblerSplitsAcrossFeeds(t *testing.T) {
	var a Assembler
	lines := a.Feed([]byte("hello wor"))
	require.Empty(t, lines)
	lines = a.Feed([]byte("ld\nsecond li"))
	require.Equal(t, []string{"hello world"}, lines)
	lines = a.Feed([]byte("ne\n"))
	require.Equal(t, []string{"second line"}, lines)
}

func TestAssemblerMultipleLinesOneChunk(t *testing.T) {
	var a Assembler
	lines := a.Feed([]byte("1\n2\n3\n"))
	require.Equal(t, []string{"1", "2", "3"}, lines)
}

func TestAssemblerFlushEmitsPartialLine(t *testing.T) {
	var a Assembler
	a.Feed([]byte("no newline yet"))
	line, ok := a.Flush()
	require.True(t, ok)
	require.Equal(t, "no newline yet", line)

	_, ok = a.Flush()
	require.False(t, ok)
}
