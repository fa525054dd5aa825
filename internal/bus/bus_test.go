package bus

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublishFanOutOrder(t *testing.T) {
	b := New()
	a := NewSubscriber()
	c := NewSubscriber()
	b.Register(a)
	b.Register(c)
	b.Subscribe(a, nil, true)
	b.Subscribe(c, nil, true)

	b.Publish("t", 0, []byte("1\n"))
	b.Publish("t", 1, []byte("2\n"))
	b.Publish("t", 2, []byte("3\n"))

	for _, sub := range []*Subscriber{a, c} {
		chunks, dropped := sub.Drain()
		require.Nil(t, dropped)
		require.Len(t, chunks, 3)
		var got bytes.Buffer
		for _, ch := range chunks {
			got.Write(ch.Bytes)
		}
		require.Equal(t, "1\n2\n3\n", got.String())
	}
}

func TestZeroByteChunkNotEmitted(t *testing.T) {
	b := New()
	sub := NewSubscriber()
	b.Register(sub)
	b.Subscribe(sub, nil, true)

	b.Publish("t", 0, nil)
	b.Publish("t", 0, []byte{})

	chunks, _ := sub.Drain()
	require.Empty(t, chunks)
}

func TestSubscribeWildcardStarThenUnsubscribeStarEmptiesSet(t *testing.T) {
	b := New()
	sub := NewSubscriber()
	b.Register(sub)

	b.Subscribe(sub, []string{"a"}, false)
	b.Subscribe(sub, nil, true)
	b.Unsubscribe(sub, nil, true)

	names, wildcard := b.Subscriptions(sub)
	require.False(t, wildcard)
	require.Empty(t, names)
}

func TestExplicitSubscriptionOnly(t *testing.T) {
	b := New()
	sub := NewSubscriber()
	b.Register(sub)
	b.Subscribe(sub, []string{"a"}, false)

	b.Publish("a", 0, []byte("yes\n"))
	b.Publish("b", 0, []byte("no\n"))

	chunks, _ := sub.Drain()
	require.Len(t, chunks, 1)
	require.Equal(t, "a", chunks[0].Channel)
}

func TestBackpressureDropsOldestAndCountsBytes(t *testing.T) {
	b := New()
	sub := NewSubscriber()
	b.Register(sub)
	b.Subscribe(sub, nil, true)

	// Push enough 64 KiB chunks to exceed the 4 MiB / 1024-chunk cap.
	chunk := bytes.Repeat([]byte{'x'}, 64*1024)
	const total = 80 // 80 * 64KiB = 5 MiB > 4 MiB cap
	for i := 0; i < total; i++ {
		b.Publish("loud", uint64(i), chunk)
	}

	chunks, dropped := sub.Drain()
	require.NotEmpty(t, dropped)
	require.Greater(t, dropped["loud"], uint64(0))
	require.LessOrEqual(t, len(chunks), maxSubscriberChunks)

	var totalBytes int
	for _, c := range chunks {
		totalBytes += len(c.Bytes)
	}
	require.LessOrEqual(t, totalBytes, maxSubscriberBytes)
}

func TestUnregisterDropsSubscription(t *testing.T) {
	b := New()
	sub := NewSubscriber()
	b.Register(sub)
	b.Subscribe(sub, nil, true)
	b.Unregister(sub)

	// Publishing after unregister must not panic and must not deliver.
	b.Publish("t", 0, []byte("x\n"))
	chunks, _ := sub.Drain()
	require.Empty(t, chunks)
}

func TestPruneChannelRemovesExplicitName(t *testing.T) {
	b := New()
	sub := NewSubscriber()
	b.Register(sub)
	b.Subscribe(sub, []string{"x"}, false)
	b.PruneChannel("x")

	b.Publish("x", 0, []byte("gone\n"))
	chunks, _ := sub.Drain()
	require.Empty(t, chunks)
}
