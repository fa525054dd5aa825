package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/justin4957/nexus/internal/wire"
)

func TestEventBatcherCoalescesBurst(t *testing.T) {
	src := make(chan Event, 8)
	b := newEventBatcher(src)

	src <- Event{Output: &wire.Output{Name: "a", Bytes: []byte("1")}}
	src <- Event{Output: &wire.Output{Name: "a", Bytes: []byte("2")}}
	src <- Event{Output: &wire.Output{Name: "a", Bytes: []byte("3")}}

	select {
	case batch := <-b.out:
		require.Len(t, batch, 3)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for coalesced batch")
	}
}

func TestEventBatcherClosesOutOnSourceClose(t *testing.T) {
	src := make(chan Event)
	b := newEventBatcher(src)
	close(src)

	select {
	case _, ok := <-b.out:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for batcher to close")
	}
}

func TestEventBatcherSeparatesDistinctBursts(t *testing.T) {
	src := make(chan Event, 8)
	b := newEventBatcher(src)

	src <- Event{Output: &wire.Output{Name: "a", Bytes: []byte("1")}}
	first := <-b.out
	require.Len(t, first, 1)

	src <- Event{Output: &wire.Output{Name: "a", Bytes: []byte("2")}}
	second := <-b.out
	require.Len(t, second, 1)
}
